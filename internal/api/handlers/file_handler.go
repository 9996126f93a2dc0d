package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/service"
)

// maxUploadSize APK 上传大小上限
const maxUploadSize = int64(500 * 1024 * 1024) // 500MB

// FileHandler 文件处理器
type FileHandler struct {
	taskService service.TaskService
	logger      *logrus.Logger
	resultsPath string // 结果目录路径
	inboundPath string // APK 投递目录路径（文件监控器监听此目录）
}

// NewFileHandler 创建文件处理器实例
func NewFileHandler(taskService service.TaskService, logger *logrus.Logger, resultsPath string, inboundPath string) *FileHandler {
	return &FileHandler{
		taskService: taskService,
		logger:      logger,
		resultsPath: resultsPath,
		inboundPath: inboundPath,
	}
}

// UploadAPK 上传单个 APK。
// 文件落盘到投递目录后由文件监控器创建任务
// POST /api/upload
func (h *FileHandler) UploadAPK(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.logger.WithError(err).Error("Failed to get uploaded file")
		c.JSON(http.StatusBadRequest, gin.H{"error": "获取上传文件失败"})
		return
	}

	filename := filepath.Base(file.Filename)
	if !strings.HasSuffix(strings.ToLower(filename), ".apk") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "只支持 APK 文件格式"})
		return
	}

	if file.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("文件大小超过限制 (最大 %dMB)", maxUploadSize/(1024*1024)),
		})
		return
	}

	if err := os.MkdirAll(h.inboundPath, 0755); err != nil {
		h.logger.WithError(err).Error("Failed to create inbound directory")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建上传目录失败"})
		return
	}

	destPath := filepath.Join(h.inboundPath, filename)
	if _, err := os.Stat(destPath); err == nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":    "文件已存在",
			"filename": filename,
		})
		return
	}

	if err := c.SaveUploadedFile(file, destPath); err != nil {
		h.logger.WithError(err).Error("Failed to save uploaded file")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "保存上传文件失败"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"filename": filename,
		"size":     file.Size,
	}).Info("APK uploaded")

	c.JSON(http.StatusOK, gin.H{
		"message":  "上传成功，任务将自动创建",
		"filename": filename,
	})
}

// UploadAPKBatch 批量上传 APK
// POST /api/upload/batch
func (h *FileHandler) UploadAPKBatch(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		h.logger.WithError(err).Error("Failed to parse multipart form")
		c.JSON(http.StatusBadRequest, gin.H{"error": "解析上传表单失败"})
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请选择要上传的 APK 文件"})
		return
	}

	if err := os.MkdirAll(h.inboundPath, 0755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建上传目录失败"})
		return
	}

	var uploaded, skipped []string
	for _, file := range files {
		filename := filepath.Base(file.Filename)
		if !strings.HasSuffix(strings.ToLower(filename), ".apk") || file.Size > maxUploadSize {
			skipped = append(skipped, filename)
			continue
		}

		destPath := filepath.Join(h.inboundPath, filename)
		if _, err := os.Stat(destPath); err == nil {
			skipped = append(skipped, filename)
			continue
		}

		if err := c.SaveUploadedFile(file, destPath); err != nil {
			h.logger.WithError(err).WithField("filename", filename).Error("Failed to save uploaded file")
			skipped = append(skipped, filename)
			continue
		}
		uploaded = append(uploaded, filename)
	}

	c.JSON(http.StatusOK, gin.H{
		"uploaded": uploaded,
		"skipped":  skipped,
	})
}

// DownloadReport 下载任务的完整结果文件
// GET /api/tasks/:id/report/download
func (h *FileHandler) DownloadReport(c *gin.Context) {
	taskID := c.Param("id")

	if _, err := h.taskService.GetTask(c.Request.Context(), taskID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "任务不存在"})
		return
	}

	filePath := filepath.Join(h.resultsPath, taskID, "report.json")
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "结果文件不存在"})
		return
	}

	c.FileAttachment(filePath, taskID+"_report.json")
}
