package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/apk-analysis/protection-scan-go/internal/domain"
)

// ReportRepository 防护分析报告 Repository
type ReportRepository interface {
	Create(ctx context.Context, report *domain.TaskProtectionReport) error
	Update(ctx context.Context, report *domain.TaskProtectionReport) error
	Upsert(ctx context.Context, report *domain.TaskProtectionReport) error
	FindByID(ctx context.Context, id uint) (*domain.TaskProtectionReport, error)
	FindByTaskID(ctx context.Context, taskID string) (*domain.TaskProtectionReport, error)
	Delete(ctx context.Context, taskID string) error
}

// reportRepo 防护分析报告 Repository 实现
type reportRepo struct {
	db *gorm.DB
}

// NewReportRepository 创建防护分析报告 Repository
func NewReportRepository(db *gorm.DB) ReportRepository {
	return &reportRepo{db: db}
}

// Create 创建防护分析报告
func (r *reportRepo) Create(ctx context.Context, report *domain.TaskProtectionReport) error {
	return r.db.WithContext(ctx).Create(report).Error
}

// Update 更新防护分析报告
func (r *reportRepo) Update(ctx context.Context, report *domain.TaskProtectionReport) error {
	return r.db.WithContext(ctx).Save(report).Error
}

// Upsert 插入或更新防护分析报告（使用 ON DUPLICATE KEY UPDATE）
func (r *reportRepo) Upsert(ctx context.Context, report *domain.TaskProtectionReport) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "task_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"package_name", "app_name", "file_size", "md5", "sha256",
				"finding_count", "group_count", "class_count",
				"max_confidence", "sophistication", "overall_tier", "frameworks",
				"packer", "packer_confidence",
				"findings_json", "grouped_json", "scores_json",
				"decompile_duration_ms", "analysis_duration_ms", "analyzed_at",
			}),
		}).
		Create(report).Error
}

// FindByID 根据 ID 查询防护分析报告
func (r *reportRepo) FindByID(ctx context.Context, id uint) (*domain.TaskProtectionReport, error) {
	var report domain.TaskProtectionReport
	err := r.db.WithContext(ctx).First(&report, id).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// FindByTaskID 根据任务 ID 查询防护分析报告
func (r *reportRepo) FindByTaskID(ctx context.Context, taskID string) (*domain.TaskProtectionReport, error) {
	var report domain.TaskProtectionReport
	err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&report).Error
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// Delete 删除防护分析报告
func (r *reportRepo) Delete(ctx context.Context, taskID string) error {
	return r.db.WithContext(ctx).Where("task_id = ?", taskID).Delete(&domain.TaskProtectionReport{}).Error
}
