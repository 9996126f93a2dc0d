package repository

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-analysis/protection-scan-go/internal/domain"
)

type TaskRepository interface {
	Create(ctx context.Context, task *domain.Task) error
	Update(ctx context.Context, task *domain.Task) error
	FindByID(ctx context.Context, id string) (*domain.Task, error)
	List(ctx context.Context, limit int) ([]*domain.Task, error)
	ListWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Task, int64, error)
	ListWithStatusFilter(ctx context.Context, page int, pageSize int, statusFilter string, search string) ([]*domain.Task, int64, error)
	ListQueuedTasks(ctx context.Context) ([]*domain.Task, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error
	UpdateProgress(ctx context.Context, id string, step string, percent int) error
	UpdateAppName(ctx context.Context, id string, appName string) error
	ShouldStop(ctx context.Context, id string) (bool, error)
	MarkShouldStop(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	// 更新任务失败信息（包含失败类型）
	UpdateFailure(ctx context.Context, id string, failureType domain.FailureType, errorMessage string) error
	// 重试相关方法
	IncrementRetryCount(ctx context.Context, id string) (int, error)
	ResetForRetry(ctx context.Context, id string) error
	// 检查是否存在最近创建的同名 APK 任务（防止重复创建）
	HasRecentTaskForAPK(ctx context.Context, apkName string, withinSeconds int) (bool, error)
	// 获取各状态任务数量统计（使用数据库聚合查询）
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)
}

type taskRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

func NewTaskRepository(db *gorm.DB, logger *logrus.Logger) TaskRepository {
	return &taskRepo{
		db:     db,
		logger: logger,
	}
}

func (r *taskRepo) Create(ctx context.Context, task *domain.Task) error {
	task.CreatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepo) Update(ctx context.Context, task *domain.Task) error {
	// 禁止级联更新关联表,只更新主表 apk_tasks 的字段。
	// app_name 用 UpdateAppName 原子方法单独维护
	err := r.db.WithContext(ctx).
		Model(task).
		Select("apk_name", "package_name", "status", "should_stop", "error_message",
			"started_at", "completed_at", "current_step", "progress_percent").
		Updates(task).Error

	if err != nil {
		r.logger.WithError(err).WithField("task_id", task.ID).Error("Task update failed")
	}

	return err
}

func (r *taskRepo) FindByID(ctx context.Context, id string) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Preload("Report").
		First(&task, "id = ?", id).Error

	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepo) List(ctx context.Context, limit int) ([]*domain.Task, error) {
	var tasks []*domain.Task
	// 列表查询只加载报告的轻量级统计字段
	err := r.db.WithContext(ctx).
		Preload("Report", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "task_id", "status", "finding_count", "group_count",
				"max_confidence", "overall_tier", "frameworks")
		}).
		Order("created_at DESC").
		Limit(limit).
		Find(&tasks).Error

	return tasks, err
}

func (r *taskRepo) ListWithPagination(ctx context.Context, page int, pageSize int) ([]*domain.Task, int64, error) {
	return r.ListWithStatusFilter(ctx, page, pageSize, "", "")
}

func (r *taskRepo) ListWithStatusFilter(ctx context.Context, page int, pageSize int, statusFilter string, search string) ([]*domain.Task, int64, error) {
	var tasks []*domain.Task
	var total int64

	query := r.db.WithContext(ctx).Model(&domain.Task{})
	if statusFilter != "" {
		query = query.Where("status = ?", statusFilter)
	}
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("apk_name LIKE ? OR app_name LIKE ? OR package_name LIKE ?", like, like, like)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize

	err := query.
		Preload("Report", func(db *gorm.DB) *gorm.DB {
			return db.Select("id", "task_id", "status", "finding_count", "group_count",
				"max_confidence", "overall_tier", "frameworks")
		}).
		Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&tasks).Error

	return tasks, total, err
}

func (r *taskRepo) ListQueuedTasks(ctx context.Context) ([]*domain.Task, error) {
	var tasks []*domain.Task
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.TaskStatusQueued).
		Order("created_at ASC").
		Find(&tasks).Error
	return tasks, err
}

func (r *taskRepo) Delete(ctx context.Context, id string) error {
	// 使用事务和原生 SQL 删除，处理外键约束
	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return tx.Error
	}

	result := tx.Exec("DELETE FROM task_protection_reports WHERE task_id = ?", id)
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}

	result = tx.Exec("DELETE FROM apk_tasks WHERE id = ?", id)
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}

	r.logger.WithFields(logrus.Fields{
		"task_id": id,
		"deleted": result.RowsAffected,
	}).Info("Task deleted")

	return tx.Commit().Error
}

func (r *taskRepo) UpdateStatus(ctx context.Context, id string, status domain.TaskStatus) error {
	updates := map[string]interface{}{"status": status}

	switch status {
	case domain.TaskStatusDecompiling:
		now := time.Now().UTC()
		updates["started_at"] = &now
	case domain.TaskStatusCompleted, domain.TaskStatusFailed, domain.TaskStatusCancelled:
		now := time.Now().UTC()
		updates["completed_at"] = &now
	}

	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *taskRepo) UpdateProgress(ctx context.Context, id string, step string, percent int) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_step":     step,
			"progress_percent": percent,
		}).Error
}

// UpdateAppName 原子更新 app_name，避免被并发操作覆盖
func (r *taskRepo) UpdateAppName(ctx context.Context, id string, appName string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Update("app_name", appName).Error
}

func (r *taskRepo) ShouldStop(ctx context.Context, id string) (bool, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Select("should_stop").
		First(&task, "id = ?", id).Error
	if err != nil {
		return false, err
	}
	return task.ShouldStop, nil
}

func (r *taskRepo) MarkShouldStop(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Update("should_stop", true).Error
}

func (r *taskRepo) MarkCompleted(ctx context.Context, id string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           domain.TaskStatusCompleted,
			"completed_at":     &now,
			"current_step":     "完成",
			"progress_percent": 100,
		}).Error
}

func (r *taskRepo) UpdateFailure(ctx context.Context, id string, failureType domain.FailureType, errorMessage string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        domain.TaskStatusFailed,
			"failure_type":  failureType,
			"error_message": errorMessage,
			"completed_at":  &now,
		}).Error
}

func (r *taskRepo) IncrementRetryCount(ctx context.Context, id string) (int, error) {
	err := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Update("retry_count", gorm.Expr("retry_count + 1")).Error
	if err != nil {
		return 0, err
	}

	var task domain.Task
	if err := r.db.WithContext(ctx).Select("retry_count").First(&task, "id = ?", id).Error; err != nil {
		return 0, err
	}
	return task.RetryCount, nil
}

func (r *taskRepo) ResetForRetry(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":           domain.TaskStatusQueued,
			"should_stop":      false,
			"failure_type":     domain.FailureTypeNone,
			"error_message":    "",
			"current_step":     "",
			"progress_percent": 0,
			"started_at":       nil,
			"completed_at":     nil,
		}).Error
}

func (r *taskRepo) HasRecentTaskForAPK(ctx context.Context, apkName string, withinSeconds int) (bool, error) {
	var count int64
	cutoff := time.Now().UTC().Add(-time.Duration(withinSeconds) * time.Second)

	err := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("apk_name = ? AND created_at > ?", apkName, cutoff).
		Count(&count).Error

	return count > 0, err
}

func (r *taskRepo) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}

	var rows []statusCount
	err := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Select("status, COUNT(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int64, len(rows))
	var total int64
	for _, row := range rows {
		counts[row.Status] = row.Count
		total += row.Count
	}
	return counts, total, nil
}
