package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/apk-analysis/protection-scan-go/internal/api"
	"github.com/apk-analysis/protection-scan-go/internal/api/handlers"
	"github.com/apk-analysis/protection-scan-go/internal/config"
	"github.com/apk-analysis/protection-scan-go/internal/middleware"
	"github.com/apk-analysis/protection-scan-go/internal/queue"
	"github.com/apk-analysis/protection-scan-go/internal/repository"
	"github.com/apk-analysis/protection-scan-go/internal/service"
	"github.com/apk-analysis/protection-scan-go/internal/sinks"
	"github.com/apk-analysis/protection-scan-go/internal/utils"
	"github.com/apk-analysis/protection-scan-go/internal/watcher"
	"github.com/apk-analysis/protection-scan-go/internal/worker"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// 1. 打印版本信息
	fmt.Printf("APK Protection Scan Platform\n")
	fmt.Printf("Version: %s\n", Version)
	fmt.Printf("Build Time: %s\n", BuildTime)
	fmt.Printf("Git Commit: %s\n\n", GitCommit)

	// 2. 加载配置
	configPath := "./configs/config.yaml"
	if len(os.Args) > 1 && os.Args[1] == "--config" && len(os.Args) > 2 {
		configPath = os.Args[2]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 3. 初始化日志
	logger := config.InitLogger(&cfg.Log)
	logger.Infof("Starting APK Protection Scan Platform %s", Version)
	logger.Infof("Config loaded from: %s", configPath)

	// 4. 初始化数据库
	db, err := repository.InitDB(&cfg.Database, logger)
	if err != nil {
		logger.Fatalf("Failed to init database: %v", err)
	}
	logger.Info("Database connected successfully")

	// 优化数据库连接池
	if err := utils.OptimizeDBPool(db); err != nil {
		logger.WithError(err).Warn("Failed to optimize DB pool")
	}

	// 清理因服务重启而中断的任务
	if err := cleanupStuckTasks(db, logger); err != nil {
		logger.WithError(err).Warn("Failed to cleanup stuck tasks")
	}

	// 5. 加载 sink 知识库。
	// 知识库损坏时任何扫描结果都不可信，直接退出
	registry, err := sinks.NewRegistry(cfg.Engine.SinkCatalogPath, cfg.Engine.IndicatorsPath, logger)
	if err != nil {
		logger.Fatalf("Failed to load sink catalog: %v", err)
	}
	logger.WithField("sink_count", len(registry.AllSinks())).Info("Sink catalog loaded")

	// 6. 初始化 RabbitMQ
	// 使用 NewRabbitMQWithPrefetch，prefetch count = worker concurrency，以支持并行消费
	mqConfig := &queue.RabbitMQConfig{
		Host:     cfg.RabbitMQ.Host,
		Port:     cfg.RabbitMQ.Port,
		User:     cfg.RabbitMQ.User,
		Password: cfg.RabbitMQ.Password,
		VHost:    cfg.RabbitMQ.VHost,
	}
	workerCount := cfg.Worker.Concurrency
	if workerCount <= 0 {
		workerCount = 1
	}
	mq, err := queue.NewRabbitMQWithPrefetch(mqConfig, cfg.RabbitMQ.Queue, workerCount, logger)
	if err != nil {
		logger.Fatalf("Failed to init RabbitMQ: %v", err)
	}
	defer mq.Close()
	logger.WithField("prefetch_count", workerCount).Info("RabbitMQ connected successfully")

	// 7. 初始化 Repositories 和 Services
	taskRepo := repository.NewTaskRepository(db, logger)
	reportRepo := repository.NewReportRepository(db)
	taskService := service.NewTaskService(taskRepo, reportRepo, logger)

	// 8. 初始化进度广播器（WebSocket 实时推送）
	progressHandler := handlers.NewProgressHandler(logger)
	progressHandler.Start()
	logger.Info("Progress broadcaster started")

	// 9. 初始化核心编排器
	os.MkdirAll(cfg.ResultDir, 0755)
	orchestrator := worker.NewOrchestrator(cfg, taskRepo, reportRepo, registry, logger)
	orchestrator.SetProgressBroadcaster(progressHandler)
	logger.Info("Orchestrator initialized")

	// 10. 初始化 Worker Pool
	workerPool := worker.NewPool(workerCount, cfg.Worker.QueueSize, orchestrator, logger)
	workerPool.Start(context.Background())
	defer workerPool.Stop()
	logger.Infof("Worker pool started with %d workers", workerCount)

	// 11. 启动内存监控
	memMonitor := middleware.NewMemoryMonitor(logger, 30*time.Second)
	memMonitor.Start()
	defer memMonitor.Stop()
	logger.Info("Memory monitor started")

	// 12. 初始化 Prometheus 指标
	promMetrics := middleware.NewPrometheusMetrics(logger, "protection_scan")
	promMetrics.UpdateSinkCatalogSize(len(registry.AllSinks()))

	// 启动 Prometheus 指标更新协程
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			stats := memMonitor.GetStats()
			promMetrics.UpdateMemoryStats(stats)

			sqlDB, err := db.DB()
			if err != nil {
				continue
			}
			dbStats := sqlDB.Stats()
			promMetrics.UpdateDBStats(dbStats.OpenConnections, dbStats.Idle, dbStats.InUse)

			promMetrics.UpdateWorkerPoolStats(workerCount, 0, workerPool.GetQueueSize())
		}
	}()

	// 13. 初始化消息队列 Producer
	producer := queue.NewProducer(mq, logger)

	// 13.1 重新发布排队中的任务（服务重启后以数据库为准重建队列）
	if err := republishQueuedTasks(db, mq, producer, cfg.APKDir, logger); err != nil {
		logger.WithError(err).Warn("Failed to republish queued tasks")
	}

	// 14. 启动任务消费者 (从 RabbitMQ 读取任务并提交到 Worker Pool)
	consumer := queue.NewConsumer(mq, createTaskHandler(workerPool, producer, logger), workerCount, logger)
	if err := consumer.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start consumer: %v", err)
	}
	defer consumer.Stop()
	logger.Infof("Task consumer started with %d workers", workerCount)

	// 15. 启动 APK 目录监控
	apkWatcher, err := watcher.NewAPKWatcher(cfg.APKDir, createAPKHandler(taskService, producer, logger), logger)
	if err != nil {
		logger.Fatalf("Failed to create APK watcher: %v", err)
	}
	defer apkWatcher.Stop()

	if err := apkWatcher.Start(context.Background()); err != nil {
		logger.Fatalf("Failed to start APK watcher: %v", err)
	}
	logger.Infof("APK watcher started for directory: %s", cfg.APKDir)

	// 16. 设置 HTTP Server
	router := api.SetupRouter(cfg, logger, db, memMonitor, promMetrics, progressHandler)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Minute, // 支持大文件上传
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 17. 启动 HTTP Server
	go func() {
		logger.Infof("HTTP server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	// 18. 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down gracefully...")

	// 19. 优雅关闭 (30秒超时)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("HTTP server shutdown error: %v", err)
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("Server stopped")
}

// createTaskHandler 创建任务处理器 (从 RabbitMQ 消息提交到 Worker Pool)。
// producer 用于在任务需要重试时重新发布消息
func createTaskHandler(workerPool *worker.Pool, producer *queue.Producer, logger *logrus.Logger) queue.TaskHandler {
	return func(ctx context.Context, msg *queue.TaskMessage) error {
		logger.WithFields(logrus.Fields{
			"task_id":  msg.TaskID,
			"apk_name": msg.APKName,
			"apk_path": msg.APKPath,
		}).Info("Received task from RabbitMQ, submitting to worker pool")

		task := &worker.Task{
			ID:      msg.TaskID,
			APKPath: msg.APKPath,
		}

		if err := workerPool.SubmitAndWait(ctx, task); err != nil {
			// 检查是否为可重试错误
			if retryErr, ok := worker.IsRetryableError(err); ok {
				logger.WithFields(logrus.Fields{
					"task_id":     retryErr.TaskID,
					"retry_count": retryErr.RetryCount,
					"max_retry":   retryErr.MaxRetry,
				}).Warn("Task failed, republishing to RabbitMQ for retry...")

				if pubErr := producer.PublishRetry(ctx, msg); pubErr != nil {
					logger.WithError(pubErr).WithField("task_id", retryErr.TaskID).Error("Failed to republish task for retry")
					return pubErr
				}
				logger.WithField("task_id", retryErr.TaskID).Info("Task republished to RabbitMQ for retry")
				return nil // 重试已安排，不返回错误
			}

			logger.WithError(err).Error("Task execution failed")
			return err
		}

		logger.WithField("task_id", msg.TaskID).Info("Task completed successfully")
		return nil
	}
}

// createAPKHandler 创建 APK 落盘处理器
func createAPKHandler(taskService service.TaskService, producer *queue.Producer, logger *logrus.Logger) watcher.APKHandler {
	return func(ctx context.Context, apkPath string) error {
		fileName := filepath.Base(apkPath)
		logger.WithFields(logrus.Fields{
			"file_path": apkPath,
			"file_name": fileName,
		}).Info("New APK file detected")

		// 1. 创建任务
		task, err := taskService.CreateTask(ctx, fileName)
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}

		// 2. 发布到消息队列
		msg := &queue.TaskMessage{
			TaskID:  task.ID,
			APKName: fileName,
			APKPath: apkPath,
		}

		if err := producer.PublishTask(ctx, msg); err != nil {
			return fmt.Errorf("failed to publish task: %w", err)
		}

		logger.WithFields(logrus.Fields{
			"task_id":  task.ID,
			"apk_name": fileName,
		}).Info("Task created and published to queue")

		return nil
	}
}

// cleanupStuckTasks 清理因服务重启而中断的任务。
// 处于执行中状态的任务标记为 failed，queued 状态的任务仍在队列中不需要清理
func cleanupStuckTasks(db *gorm.DB, logger *logrus.Logger) error {
	logger.Info("Checking for stuck tasks from previous service run...")

	stuckStatuses := []string{"decompiling", "scanning", "classifying", "reporting"}

	var stuckTasks []struct {
		ID     string
		Status string
	}

	err := db.Table("apk_tasks").
		Select("id", "status").
		Where("status IN ?", stuckStatuses).
		Find(&stuckTasks).Error

	if err != nil {
		return fmt.Errorf("failed to query stuck tasks: %w", err)
	}

	if len(stuckTasks) == 0 {
		logger.Info("No stuck tasks found (queued tasks will continue)")
		return nil
	}

	logger.Infof("Found %d stuck tasks, marking as failed...", len(stuckTasks))

	now := time.Now().UTC()
	result := db.Table("apk_tasks").
		Where("status IN ?", stuckStatuses).
		Updates(map[string]interface{}{
			"status":        "failed",
			"error_message": "服务重启，任务中断",
			"completed_at":  now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update stuck tasks: %w", result.Error)
	}

	logger.WithField("count", result.RowsAffected).Warn("Marked stuck tasks as failed due to service restart (queued tasks preserved)")

	return nil
}

// republishQueuedTasks 重新发布排队中的任务到 RabbitMQ。
// 服务重启后以数据库为唯一真实数据源重建队列：
// 先清空队列中的残留消息，再按创建时间重新投递 queued 任务
func republishQueuedTasks(db *gorm.DB, mq *queue.RabbitMQ, producer *queue.Producer, apkDir string, logger *logrus.Logger) error {
	logger.Info("Rebuilding RabbitMQ queue from database (single source of truth)...")

	purgedCount, err := mq.PurgeQueue()
	if err != nil {
		logger.WithError(err).Warn("Failed to purge queue, continuing with republish...")
	} else if purgedCount > 0 {
		logger.WithField("purged_count", purgedCount).Info("Cleared stale messages from queue")
	}

	var queuedTasks []struct {
		ID      string
		APKName string
	}

	err = db.Table("apk_tasks").
		Select("id", "apk_name").
		Where("status = ?", "queued").
		Order("created_at ASC"). // 先进先出
		Find(&queuedTasks).Error

	if err != nil {
		return fmt.Errorf("failed to query queued tasks: %w", err)
	}

	if len(queuedTasks) == 0 {
		logger.Info("No queued tasks found, queue is empty and clean")
		return nil
	}

	logger.Infof("Found %d queued tasks in database, republishing to RabbitMQ...", len(queuedTasks))

	successCount := 0
	for _, task := range queuedTasks {
		msg := &queue.TaskMessage{
			TaskID:  task.ID,
			APKName: task.APKName,
			APKPath: filepath.Join(apkDir, task.APKName),
		}

		if err := producer.PublishTask(context.Background(), msg); err != nil {
			logger.WithError(err).WithField("task_id", task.ID).Error("Failed to republish task")
			continue
		}

		successCount++
	}

	logger.WithFields(logrus.Fields{
		"total":   len(queuedTasks),
		"success": successCount,
		"failed":  len(queuedTasks) - successCount,
	}).Info("Queued tasks republished to RabbitMQ")

	return nil
}
