package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-analysis/protection-scan-go/internal/api/handlers"
	"github.com/apk-analysis/protection-scan-go/internal/config"
	"github.com/apk-analysis/protection-scan-go/internal/middleware"
	"github.com/apk-analysis/protection-scan-go/internal/repository"
	"github.com/apk-analysis/protection-scan-go/internal/service"
)

func SetupRouter(cfg *config.Config, logger *logrus.Logger, db *gorm.DB, memMonitor *middleware.MemoryMonitor, promMetrics *middleware.PrometheusMetrics, progressHandler *handlers.ProgressHandler) *gin.Engine {
	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 全局中间件
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	// Prometheus 监控中间件
	if promMetrics != nil {
		r.Use(promMetrics.HTTPMiddleware())
	}

	// 初始化依赖
	taskRepo := repository.NewTaskRepository(db, logger)
	reportRepo := repository.NewReportRepository(db)
	taskService := service.NewTaskService(taskRepo, reportRepo, logger)

	// 初始化处理器
	taskHandler := handlers.NewTaskHandler(taskService, logger)
	fileHandler := handlers.NewFileHandler(taskService, logger, cfg.ResultDir, cfg.APKDir)
	// progressHandler 已在 main.go 中创建并传入，worker 直接向它广播进度

	// 任务进度 WebSocket
	r.GET("/ws/progress/:task_id", progressHandler.HandleWebSocket)

	// 内存监控端点
	r.GET("/metrics", memMonitor.MetricsEndpoint())
	r.POST("/debug/gc", middleware.ForceGC())

	// Prometheus 指标端点
	if promMetrics != nil {
		r.GET("/metrics/prometheus", promMetrics.Handler())
	}

	// API v1
	v1 := r.Group("/api")
	{
		// 健康检查
		v1.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{
				"status":  "ok",
				"version": "1.0.0",
			})
		})

		// 系统统计
		v1.GET("/stats", taskHandler.GetSystemStats)

		// 任务管理
		v1.GET("/tasks", taskHandler.ListTasks)
		v1.GET("/tasks/:id", taskHandler.GetTask)
		v1.DELETE("/tasks/:id", taskHandler.DeleteTask)
		v1.POST("/tasks/:id/stop", taskHandler.StopTask)

		// 扫描结果
		v1.GET("/tasks/:id/findings", taskHandler.GetFindings)
		v1.GET("/tasks/:id/findings/grouped", taskHandler.GetGroupedFindings)
		v1.GET("/tasks/:id/scores", taskHandler.GetScores)
		v1.GET("/tasks/:id/report/download", fileHandler.DownloadReport)

		// 文件服务
		v1.POST("/upload", fileHandler.UploadAPK)            // 单个 APK 上传
		v1.POST("/upload/batch", fileHandler.UploadAPKBatch) // 批量 APK 上传
	}

	return r
}

// LoggerMiddleware 日志中间件
func LoggerMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		latency := time.Since(startTime)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		path := c.Request.URL.Path

		logger.WithFields(logrus.Fields{
			"status":  statusCode,
			"method":  method,
			"path":    path,
			"latency": latency.Milliseconds(),
		}).Info("HTTP Request")
	}
}

// CORSMiddleware CORS 中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
