package domain

import (
	"time"
)

type TaskStatus string

const (
	TaskStatusQueued       TaskStatus = "queued"
	TaskStatusDecompiling  TaskStatus = "decompiling"
	TaskStatusScanning     TaskStatus = "scanning"
	TaskStatusClassifying  TaskStatus = "classifying"
	TaskStatusReporting    TaskStatus = "reporting"
	TaskStatusCompleted    TaskStatus = "completed"
	TaskStatusFailed       TaskStatus = "failed"
	TaskStatusCancelled    TaskStatus = "cancelled"
)

// FailureType 失败类型
type FailureType string

const (
	FailureTypeNone            FailureType = ""                 // 无失败（成功或进行中）
	FailureTypeDecompileFailed FailureType = "decompile_failed" // apktool 反编译失败（警告-APK问题）
	FailureTypeCatalogError    FailureType = "catalog_error"    // sink 知识库加载失败（异常-配置问题）
	FailureTypeAnalysisError   FailureType = "analysis_error"   // 分析过程错误（异常-程序问题）
	FailureTypeTimeout         FailureType = "timeout"          // 任务执行超时（警告）
	FailureTypeUnknown         FailureType = "unknown"          // 未知错误（异常）
)

// FailureSeverity 失败严重程度
type FailureSeverity string

const (
	FailureSeverityNormal  FailureSeverity = "normal"  // 正常（资源限制，可重试）
	FailureSeverityWarning FailureSeverity = "warning" // 警告（需要关注）
	FailureSeverityError   FailureSeverity = "error"   // 错误（需要排查）
)

// GetSeverity 获取失败类型对应的严重程度
func (ft FailureType) GetSeverity() FailureSeverity {
	switch ft {
	case FailureTypeNone:
		return FailureSeverityNormal
	case FailureTypeDecompileFailed, FailureTypeTimeout:
		return FailureSeverityWarning // APK或超时问题，需关注
	case FailureTypeCatalogError, FailureTypeAnalysisError, FailureTypeUnknown:
		return FailureSeverityError // 系统问题，需排查
	default:
		return FailureSeverityError
	}
}

// GetDisplayName 获取失败类型的中文显示名称
func (ft FailureType) GetDisplayName() string {
	switch ft {
	case FailureTypeNone:
		return ""
	case FailureTypeDecompileFailed:
		return "反编译失败"
	case FailureTypeCatalogError:
		return "知识库错误"
	case FailureTypeAnalysisError:
		return "分析错误"
	case FailureTypeTimeout:
		return "执行超时"
	case FailureTypeUnknown:
		return "未知错误"
	default:
		return "未知错误"
	}
}

// GetMaxRetryCount 获取失败类型对应的最大重试次数
// 返回 0 表示不重试
func (ft FailureType) GetMaxRetryCount() int {
	switch ft {
	case FailureTypeNone:
		return 0 // 成功不需要重试
	case FailureTypeCatalogError:
		return 0 // 配置问题，修复前重试无意义
	case FailureTypeTimeout:
		return 3 // 环境问题，可重试3次
	case FailureTypeDecompileFailed, FailureTypeAnalysisError, FailureTypeUnknown:
		return 1 // APK问题或未知错误，重试1次
	default:
		return 1
	}
}

// CanRetry 检查失败类型是否可以重试
func (ft FailureType) CanRetry() bool {
	return ft.GetMaxRetryCount() > 0
}

// Task 主任务表
type Task struct {
	ID              string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	APKName         string      `gorm:"type:varchar(255);not null" json:"apk_name"`
	AppName         string      `gorm:"type:varchar(255)" json:"app_name,omitempty"`
	PackageName     string      `gorm:"type:varchar(255)" json:"package_name,omitempty"`
	Status          TaskStatus  `gorm:"type:varchar(20);not null;default:'queued'" json:"status"`
	ShouldStop      bool        `gorm:"default:false" json:"should_stop"`
	FailureType     FailureType `gorm:"type:varchar(30);default:''" json:"failure_type,omitempty"`
	ErrorMessage    string      `gorm:"type:text" json:"error_message,omitempty"`
	RetryCount      int         `gorm:"type:tinyint;default:0" json:"retry_count"`
	CreatedAt       time.Time   `gorm:"not null" json:"created_at"`
	StartedAt       *time.Time  `json:"started_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	CurrentStep     string      `gorm:"type:varchar(255)" json:"current_step,omitempty"`
	ProgressPercent int         `gorm:"type:tinyint;default:0" json:"progress_percent"`

	// 关联 (使用指针避免循环依赖)
	Report *TaskProtectionReport `gorm:"foreignKey:TaskID;references:ID" json:"report,omitempty"`
}

func (Task) TableName() string {
	return "apk_tasks"
}
