package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/domain"
	"github.com/apk-analysis/protection-scan-go/internal/service"
)

// TaskHandler 任务 API 处理器
type TaskHandler struct {
	taskService service.TaskService
	logger      *logrus.Logger
}

func NewTaskHandler(taskService service.TaskService, logger *logrus.Logger) *TaskHandler {
	return &TaskHandler{
		taskService: taskService,
		logger:      logger,
	}
}

// ListTasks 任务列表（分页、状态过滤、搜索）
// GET /api/tasks?page=1&page_size=20&status=queued&search=foo
func (h *TaskHandler) ListTasks(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	statusFilter := c.Query("status")
	search := c.Query("search")

	tasks, total, err := h.taskService.ListTasksWithFilter(c.Request.Context(), page, pageSize, statusFilter, search)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取任务列表失败"})
		return
	}

	responses := make([]map[string]interface{}, 0, len(tasks))
	for _, task := range tasks {
		responses = append(responses, h.taskToResponse(task))
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":     responses,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetTask 任务详情
// GET /api/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	taskID := c.Param("id")

	task, err := h.taskService.GetTask(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}

	c.JSON(http.StatusOK, h.taskToResponse(task))
}

// DeleteTask 删除任务
// DELETE /api/tasks/:id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := h.taskService.DeleteTask(c.Request.Context(), taskID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "删除任务失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "任务已删除"})
}

// StopTask 停止任务
// POST /api/tasks/:id/stop
func (h *TaskHandler) StopTask(c *gin.Context) {
	taskID := c.Param("id")

	if err := h.taskService.StopTask(c.Request.Context(), taskID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "停止任务失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "任务停止信号已发送"})
}

// GetFindings 防护发现列表
// GET /api/tasks/:id/findings
func (h *TaskHandler) GetFindings(c *gin.Context) {
	taskID := c.Param("id")

	findings, err := h.taskService.GetFindings(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "报告不存在或尚未生成"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":  taskID,
		"count":    len(findings),
		"findings": findings,
	})
}

// GetGroupedFindings 聚合后的防护发现
// GET /api/tasks/:id/findings/grouped
func (h *TaskHandler) GetGroupedFindings(c *gin.Context) {
	taskID := c.Param("id")

	grouped, err := h.taskService.GetGroupedFindings(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "报告不存在或尚未生成"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"count":   len(grouped),
		"grouped": grouped,
	})
}

// GetScores 多级评分
// GET /api/tasks/:id/scores
func (h *TaskHandler) GetScores(c *gin.Context) {
	taskID := c.Param("id")

	scores, err := h.taskService.GetScores(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "报告不存在或尚未生成"})
		return
	}

	c.JSON(http.StatusOK, scores)
}

// GetSystemStats 系统状态统计
// GET /api/stats
func (h *TaskHandler) GetSystemStats(c *gin.Context) {
	counts, total, err := h.taskService.GetStatusCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取统计信息失败"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"counts": counts,
	})
}

// taskToResponse 组装任务响应，附带报告摘要
func (h *TaskHandler) taskToResponse(task *domain.Task) map[string]interface{} {
	resp := map[string]interface{}{
		"id":               task.ID,
		"apk_name":         task.APKName,
		"app_name":         task.AppName,
		"package_name":     task.PackageName,
		"status":           task.Status,
		"current_step":     task.CurrentStep,
		"progress_percent": task.ProgressPercent,
		"retry_count":      task.RetryCount,
		"created_at":       task.CreatedAt,
		"started_at":       task.StartedAt,
		"completed_at":     task.CompletedAt,
	}

	if task.FailureType != domain.FailureTypeNone {
		resp["failure_type"] = task.FailureType
		resp["failure_display"] = task.FailureType.GetDisplayName()
		resp["failure_severity"] = task.FailureType.GetSeverity()
		resp["error_message"] = task.ErrorMessage
	}

	if task.Report != nil {
		resp["report"] = map[string]interface{}{
			"status":         task.Report.Status,
			"finding_count":  task.Report.FindingCount,
			"group_count":    task.Report.GroupCount,
			"max_confidence": task.Report.MaxConfidence,
			"overall_tier":   task.Report.OverallTier,
			"frameworks":     task.Report.Frameworks,
			"packer":         task.Report.Packer,
		}
	}

	return resp
}
