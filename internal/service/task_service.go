package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/domain"
	"github.com/apk-analysis/protection-scan-go/internal/report"
	"github.com/apk-analysis/protection-scan-go/internal/repository"
	"github.com/apk-analysis/protection-scan-go/internal/scoring"
)

// TaskService 任务服务接口
type TaskService interface {
	// 创建任务
	CreateTask(ctx context.Context, apkName string) (*domain.Task, error)

	// 获取任务
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// 获取任务列表
	ListTasks(ctx context.Context, limit int) ([]*domain.Task, error)

	// 获取任务列表（分页、状态过滤、搜索）
	ListTasksWithFilter(ctx context.Context, page int, pageSize int, statusFilter string, search string) ([]*domain.Task, int64, error)

	// 删除任务
	DeleteTask(ctx context.Context, taskID string) error

	// 停止任务
	StopTask(ctx context.Context, taskID string) error

	// 更新任务状态
	UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus) error

	// 更新任务进度
	UpdateTaskProgress(ctx context.Context, taskID string, step string, percent int) error

	// 获取任务状态统计（使用数据库聚合查询）
	GetStatusCounts(ctx context.Context) (map[string]int64, int64, error)

	// 获取防护发现（反序列化自报告 JSON）
	GetFindings(ctx context.Context, taskID string) ([]*report.FinalFinding, error)

	// 获取聚合后的发现
	GetGroupedFindings(ctx context.Context, taskID string) (map[string]*report.GroupedFinding, error)

	// 获取多级评分
	GetScores(ctx context.Context, taskID string) (*scoring.MultiLevelScore, error)
}

type taskService struct {
	taskRepo   repository.TaskRepository
	reportRepo repository.ReportRepository
	logger     *logrus.Logger
}

// NewTaskService 创建任务服务实例
func NewTaskService(taskRepo repository.TaskRepository, reportRepo repository.ReportRepository, logger *logrus.Logger) TaskService {
	return &taskService{
		taskRepo:   taskRepo,
		reportRepo: reportRepo,
		logger:     logger,
	}
}

func (s *taskService) CreateTask(ctx context.Context, apkName string) (*domain.Task, error) {
	// 防重复：大文件复制时文件监控器会触发多次事件
	hasRecent, err := s.taskRepo.HasRecentTaskForAPK(ctx, apkName, 60) // 60秒时间窗口
	if err != nil {
		s.logger.WithError(err).WithField("apk_name", apkName).Warn("Failed to check recent task, continuing anyway")
	} else if hasRecent {
		s.logger.WithField("apk_name", apkName).Warn("Duplicate task creation blocked: recent task exists for same APK")
		return nil, fmt.Errorf("任务已存在：最近60秒内已为该APK创建任务")
	}

	task := &domain.Task{
		ID:              uuid.New().String(),
		APKName:         apkName,
		Status:          domain.TaskStatusQueued,
		CreatedAt:       time.Now().UTC(),
		ProgressPercent: 0,
		CurrentStep:     "任务已创建",
		ShouldStop:      false,
	}

	if err := s.taskRepo.Create(ctx, task); err != nil {
		s.logger.WithError(err).Error("Failed to create task")
		return nil, fmt.Errorf("创建任务失败: %w", err)
	}

	s.logger.WithField("task_id", task.ID).Info("Task created successfully")
	return task, nil
}

func (s *taskService) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.taskRepo.FindByID(ctx, taskID)
	if err != nil {
		s.logger.WithError(err).WithField("task_id", taskID).Error("Failed to get task")
		return nil, fmt.Errorf("获取任务失败: %w", err)
	}
	return task, nil
}

func (s *taskService) ListTasks(ctx context.Context, limit int) ([]*domain.Task, error) {
	tasks, err := s.taskRepo.List(ctx, limit)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list tasks")
		return nil, fmt.Errorf("获取任务列表失败: %w", err)
	}
	return tasks, nil
}

func (s *taskService) ListTasksWithFilter(ctx context.Context, page int, pageSize int, statusFilter string, search string) ([]*domain.Task, int64, error) {
	tasks, total, err := s.taskRepo.ListWithStatusFilter(ctx, page, pageSize, statusFilter, search)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list tasks")
		return nil, 0, fmt.Errorf("获取任务列表失败: %w", err)
	}
	return tasks, total, nil
}

func (s *taskService) DeleteTask(ctx context.Context, taskID string) error {
	if err := s.taskRepo.Delete(ctx, taskID); err != nil {
		s.logger.WithError(err).WithField("task_id", taskID).Error("Failed to delete task")
		return fmt.Errorf("删除任务失败: %w", err)
	}

	s.logger.WithField("task_id", taskID).Info("Task deleted successfully")
	return nil
}

func (s *taskService) StopTask(ctx context.Context, taskID string) error {
	if err := s.taskRepo.MarkShouldStop(ctx, taskID); err != nil {
		s.logger.WithError(err).WithField("task_id", taskID).Error("Failed to stop task")
		return fmt.Errorf("停止任务失败: %w", err)
	}

	s.logger.WithField("task_id", taskID).Info("Task marked for stopping")
	return nil
}

func (s *taskService) UpdateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus) error {
	if err := s.taskRepo.UpdateStatus(ctx, taskID, status); err != nil {
		s.logger.WithError(err).
			WithField("task_id", taskID).
			WithField("status", status).
			Error("Failed to update task status")
		return fmt.Errorf("更新任务状态失败: %w", err)
	}
	return nil
}

func (s *taskService) UpdateTaskProgress(ctx context.Context, taskID string, step string, percent int) error {
	if err := s.taskRepo.UpdateProgress(ctx, taskID, step, percent); err != nil {
		s.logger.WithError(err).
			WithField("task_id", taskID).
			WithField("step", step).
			WithField("percent", percent).
			Error("Failed to update task progress")
		return fmt.Errorf("更新任务进度失败: %w", err)
	}
	return nil
}

func (s *taskService) GetStatusCounts(ctx context.Context) (map[string]int64, int64, error) {
	return s.taskRepo.GetStatusCounts(ctx)
}

func (s *taskService) GetFindings(ctx context.Context, taskID string) ([]*report.FinalFinding, error) {
	rpt, err := s.reportRepo.FindByTaskID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("获取报告失败: %w", err)
	}

	var findings []*report.FinalFinding
	if rpt.FindingsJSON != "" {
		if err := json.Unmarshal([]byte(rpt.FindingsJSON), &findings); err != nil {
			return nil, fmt.Errorf("解析发现数据失败: %w", err)
		}
	}
	return findings, nil
}

func (s *taskService) GetGroupedFindings(ctx context.Context, taskID string) (map[string]*report.GroupedFinding, error) {
	rpt, err := s.reportRepo.FindByTaskID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("获取报告失败: %w", err)
	}

	grouped := make(map[string]*report.GroupedFinding)
	if rpt.GroupedJSON != "" {
		if err := json.Unmarshal([]byte(rpt.GroupedJSON), &grouped); err != nil {
			return nil, fmt.Errorf("解析聚合数据失败: %w", err)
		}
	}
	return grouped, nil
}

func (s *taskService) GetScores(ctx context.Context, taskID string) (*scoring.MultiLevelScore, error) {
	rpt, err := s.reportRepo.FindByTaskID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("获取报告失败: %w", err)
	}

	var scores scoring.MultiLevelScore
	if rpt.ScoresJSON != "" {
		if err := json.Unmarshal([]byte(rpt.ScoresJSON), &scores); err != nil {
			return nil, fmt.Errorf("解析评分数据失败: %w", err)
		}
	}
	return &scores, nil
}
