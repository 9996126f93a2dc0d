package worker

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/analyzer"
	"github.com/apk-analysis/protection-scan-go/internal/config"
	"github.com/apk-analysis/protection-scan-go/internal/decompiler"
	"github.com/apk-analysis/protection-scan-go/internal/domain"
	"github.com/apk-analysis/protection-scan-go/internal/native"
	"github.com/apk-analysis/protection-scan-go/internal/packer"
	"github.com/apk-analysis/protection-scan-go/internal/report"
	"github.com/apk-analysis/protection-scan-go/internal/repository"
	"github.com/apk-analysis/protection-scan-go/internal/scoring"
	"github.com/apk-analysis/protection-scan-go/internal/sinks"
	"github.com/apk-analysis/protection-scan-go/internal/utils"
)

// ProgressBroadcaster 任务进度广播接口（WebSocket 推送）
type ProgressBroadcaster interface {
	BroadcastProgress(taskID string, status string, step string, percent int)
}

// Orchestrator 核心编排器。
// 负责单个任务的完整生命周期：反编译 -> 扫描分析 -> 评分 -> 报告入库
type Orchestrator struct {
	cfg         *config.Config
	taskRepo    repository.TaskRepository
	reportRepo  repository.ReportRepository
	registry    *sinks.Registry
	decomp      *decompiler.Decompiler
	packerDet   *packer.Detector
	logger      *logrus.Logger
	broadcaster ProgressBroadcaster
}

// NewOrchestrator 创建编排器
func NewOrchestrator(
	cfg *config.Config,
	taskRepo repository.TaskRepository,
	reportRepo repository.ReportRepository,
	registry *sinks.Registry,
	logger *logrus.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		taskRepo:   taskRepo,
		reportRepo: reportRepo,
		registry:   registry,
		decomp:     decompiler.NewDecompiler(logger, cfg.Engine.ApktoolPath),
		packerDet:  packer.NewDetector(logger),
		logger:     logger,
	}
}

// SetProgressBroadcaster 设置进度广播器（用于实时推送到前端）
func (o *Orchestrator) SetProgressBroadcaster(b ProgressBroadcaster) {
	o.broadcaster = b
}

// ExecuteTask 执行完整任务
func (o *Orchestrator) ExecuteTask(ctx context.Context, taskID, apkPath string) error {
	startTime := time.Now()

	o.logger.WithFields(logrus.Fields{
		"task_id":  taskID,
		"apk_path": apkPath,
	}).Info("Starting protection analysis task")

	// 任务开始前检查停止标记
	if stop, err := o.taskRepo.ShouldStop(ctx, taskID); err == nil && stop {
		o.updateTaskStatus(ctx, taskID, domain.TaskStatusCancelled, "已取消", 0)
		return nil
	}

	// 阶段 1: 反编译
	o.updateTaskStatus(ctx, taskID, domain.TaskStatusDecompiling, "apktool 反编译", 10)

	// 加壳检测基于原始 ZIP，不需要等反编译
	packerInfo := o.packerDet.Detect(ctx, apkPath)

	decompileStart := time.Now()
	classes, sourceMap, workDir, err := o.decomp.Decompile(ctx, apkPath)
	if err != nil {
		return o.failTask(ctx, taskID, fmt.Errorf("decompile failed: %w", err))
	}
	decompileDuration := time.Since(decompileStart)

	if !o.cfg.Engine.KeepWorkDir {
		defer os.RemoveAll(workDir)
	}

	// 反编译树中的 stub 类可以佐证加壳判断
	classNames := make([]string, 0, len(classes))
	for _, cls := range classes {
		classNames = append(classNames, cls.Name)
	}
	packerInfo = o.packerDet.RefineWithClasses(packerInfo, classNames)

	// 阶段 2: 静态扫描与模式识别
	o.updateTaskStatus(ctx, taskID, domain.TaskStatusScanning, "防护机制扫描", 40)

	analysisStart := time.Now()
	engine := analyzer.New(o.registry, o.logger)
	engine.ExcludeLibraries = o.cfg.Engine.ExcludeLibraries
	engine.UseLegacyDecisionRule = o.cfg.Engine.LegacyBranchRule

	findings, grouped := engine.Analyze(classes, sourceMap, filepath.Join(workDir, "lib"))
	analysisDuration := time.Since(analysisStart)

	// 阶段 3: 多级评分
	o.updateTaskStatus(ctx, taskID, domain.TaskStatusClassifying, "置信度评分", 70)

	apkName := filepath.Base(apkPath)
	scores := analyzer.AggregateScores(strings.TrimSuffix(apkName, ".apk"), findings)

	// 阶段 4: 报告生成与入库
	o.updateTaskStatus(ctx, taskID, domain.TaskStatusReporting, "报告生成", 85)

	if err := o.persistReport(ctx, taskID, apkPath, workDir, findings, grouped, scores, packerInfo,
		decompileDuration, analysisDuration); err != nil {
		return o.failTask(ctx, taskID, fmt.Errorf("report persistence failed: %w", err))
	}

	if err := o.writeResultFile(taskID, findings, grouped, scores, packerInfo); err != nil {
		// 结果文件写失败不影响任务完成，数据库中已有完整数据
		o.logger.WithError(err).WithField("task_id", taskID).Warn("Failed to write result file")
	}

	if err := o.taskRepo.MarkCompleted(ctx, taskID); err != nil {
		return err
	}
	o.broadcast(taskID, string(domain.TaskStatusCompleted), "完成", 100)

	o.logger.WithFields(logrus.Fields{
		"task_id":  taskID,
		"findings": len(findings),
		"groups":   len(grouped),
		"duration": time.Since(startTime).Seconds(),
	}).Info("Task completed successfully")

	return nil
}

// persistReport 组装并保存防护分析报告
func (o *Orchestrator) persistReport(
	ctx context.Context,
	taskID, apkPath, workDir string,
	findings []*report.FinalFinding,
	grouped map[string]*report.GroupedFinding,
	scores *scoring.MultiLevelScore,
	packerInfo *packer.PackerInfo,
	decompileDuration, analysisDuration time.Duration,
) error {
	size, md5Sum, sha256Sum := fileDigest(apkPath)
	now := time.Now().UTC()

	rpt := &domain.TaskProtectionReport{
		TaskID:              taskID,
		Status:              domain.ReportStatusCompleted,
		AppName:             scores.App.AppName,
		FileSize:            size,
		MD5:                 md5Sum,
		SHA256:              sha256Sum,
		FindingCount:        len(findings),
		GroupCount:          len(grouped),
		ClassCount:          len(scores.ClassScores),
		MaxConfidence:       scores.App.MaxConfidence,
		Sophistication:      scores.App.SophisticationScore,
		OverallTier:         scores.App.OverallTier,
		Frameworks:          strings.Join(detectedFrameworks(workDir), ","),
		Packer:              packerInfo.PackerName,
		PackerConfidence:    packerInfo.Confidence,
		FindingsJSON:        jsonString(findings),
		GroupedJSON:         jsonString(grouped),
		ScoresJSON:          jsonString(scores),
		DecompileDurationMs: int(decompileDuration.Milliseconds()),
		AnalysisDurationMs:  int(analysisDuration.Milliseconds()),
		AnalyzedAt:          &now,
		CreatedAt:           now,
	}

	return o.reportRepo.Upsert(ctx, rpt)
}

// writeResultFile 将完整结果写入结果目录，便于外部工具消费。
// 除完整 report.json 外再写一份 findings.jsonl，下游可以流式逐条处理
func (o *Orchestrator) writeResultFile(
	taskID string,
	findings []*report.FinalFinding,
	grouped map[string]*report.GroupedFinding,
	scores *scoring.MultiLevelScore,
	packerInfo *packer.PackerInfo,
) error {
	if o.cfg.ResultDir == "" {
		return nil
	}

	taskDir := filepath.Join(o.cfg.ResultDir, taskID)
	if err := os.MkdirAll(taskDir, 0755); err != nil {
		return err
	}

	result := map[string]interface{}{
		"task_id":  taskID,
		"packer":   packerInfo,
		"findings": findings,
		"grouped":  grouped,
		"scores":   scores,
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(taskDir, "report.json"), data, 0644); err != nil {
		return err
	}

	writer, err := utils.NewStreamJSONLWriter(filepath.Join(taskDir, "findings.jsonl"))
	if err != nil {
		return err
	}
	defer writer.Close()

	for _, finding := range findings {
		if err := writer.WriteLine(finding); err != nil {
			return err
		}
	}
	return nil
}

// detectedFrameworks 从解包目录的 lib/ 识别跨平台框架
func detectedFrameworks(workDir string) []string {
	libDir := filepath.Join(workDir, "lib")

	var libNames []string
	filepath.WalkDir(libDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, ".so") {
			libNames = append(libNames, filepath.Base(path))
		}
		return nil
	})

	return native.IdentifyFrameworks(libNames)
}

func (o *Orchestrator) updateTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus, step string, progress int) {
	if err := o.taskRepo.UpdateStatus(ctx, taskID, status); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Error("Failed to update task status")
	}
	if err := o.taskRepo.UpdateProgress(ctx, taskID, step, progress); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Error("Failed to update task progress")
	}
	o.broadcast(taskID, string(status), step, progress)
}

func (o *Orchestrator) broadcast(taskID, status, step string, percent int) {
	if o.broadcaster != nil {
		o.broadcaster.BroadcastProgress(taskID, status, step, percent)
	}
}

// RetryableError 可重试错误（用于通知 worker pool 需要重试）
type RetryableError struct {
	TaskID     string
	RetryCount int
	MaxRetry   int
	Cause      error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("task %s failed (retry %d/%d): %v", e.TaskID, e.RetryCount, e.MaxRetry, e.Cause)
}

func (e *RetryableError) Unwrap() error {
	return e.Cause
}

// IsRetryableError 检查错误是否为可重试错误
func IsRetryableError(err error) (*RetryableError, bool) {
	for err != nil {
		if re, ok := err.(*RetryableError); ok {
			return re, true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = unwrapper.Unwrap()
	}
	return nil, false
}

// failTask 标记任务失败，按失败类型决定是否重置为可重试
func (o *Orchestrator) failTask(ctx context.Context, taskID string, cause error) error {
	failureType := o.detectFailureType(cause)

	if err := o.taskRepo.UpdateFailure(ctx, taskID, failureType, cause.Error()); err != nil {
		o.logger.WithError(err).WithField("task_id", taskID).Error("Failed to record task failure")
	}
	o.broadcast(taskID, string(domain.TaskStatusFailed), failureType.GetDisplayName(), 0)

	if !failureType.CanRetry() {
		return cause
	}

	count, err := o.taskRepo.IncrementRetryCount(ctx, taskID)
	if err != nil {
		return cause
	}
	if count > failureType.GetMaxRetryCount() {
		o.logger.WithFields(logrus.Fields{
			"task_id":     taskID,
			"retry_count": count,
		}).Warn("Retry budget exhausted, task stays failed")
		return cause
	}

	if err := o.taskRepo.ResetForRetry(ctx, taskID); err != nil {
		return cause
	}

	return &RetryableError{
		TaskID:     taskID,
		RetryCount: count,
		MaxRetry:   failureType.GetMaxRetryCount(),
		Cause:      cause,
	}
}

// detectFailureType 根据错误信息检测失败类型
func (o *Orchestrator) detectFailureType(err error) domain.FailureType {
	msg := strings.ToLower(err.Error())

	switch {
	case containsAny(msg, "apktool", "decompile"):
		return domain.FailureTypeDecompileFailed
	case containsAny(msg, "catalog", "indicators"):
		return domain.FailureTypeCatalogError
	case containsAny(msg, "context deadline exceeded", "timeout"):
		return domain.FailureTypeTimeout
	case containsAny(msg, "analysis", "report"):
		return domain.FailureTypeAnalysisError
	default:
		return domain.FailureTypeUnknown
	}
}

// containsAny 检查字符串是否包含任意一个子串（不区分大小写）
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// fileDigest 计算 APK 的大小与摘要，失败时返回零值
func fileDigest(path string) (int64, string, string) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", ""
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, "", ""
	}

	md5Hash := md5.New()
	sha256Hash := sha256.New()
	if _, err := io.Copy(io.MultiWriter(md5Hash, sha256Hash), f); err != nil {
		return info.Size(), "", ""
	}

	return info.Size(),
		fmt.Sprintf("%x", md5Hash.Sum(nil)),
		fmt.Sprintf("%x", sha256Hash.Sum(nil))
}

func jsonString(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
