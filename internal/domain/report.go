package domain

import "time"

// ReportStatus 防护分析报告状态
type ReportStatus string

const (
	ReportStatusQueued    ReportStatus = "queued"
	ReportStatusAnalyzing ReportStatus = "analyzing"
	ReportStatusCompleted ReportStatus = "completed"
	ReportStatusFailed    ReportStatus = "failed"
)

// TaskProtectionReport 防护机制分析报告表
type TaskProtectionReport struct {
	ID     uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	TaskID string `gorm:"type:varchar(36);uniqueIndex:uk_task_id;not null" json:"task_id"`

	// 状态
	Status ReportStatus `gorm:"type:varchar(30);default:'queued'" json:"status"`

	// 基础信息（冗余存储，方便查询）
	PackageName string `gorm:"type:varchar(255);index:idx_package_name" json:"package_name,omitempty"`
	AppName     string `gorm:"type:varchar(255)" json:"app_name,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	MD5         string `gorm:"type:varchar(32)" json:"md5,omitempty"`
	SHA256      string `gorm:"type:varchar(64)" json:"sha256,omitempty"`

	// 发现统计
	FindingCount   int     `gorm:"default:0" json:"finding_count"`
	GroupCount     int     `gorm:"default:0" json:"group_count"`
	ClassCount     int     `gorm:"default:0" json:"class_count"`
	MaxConfidence  float64 `gorm:"type:decimal(4,3);default:0" json:"max_confidence"`
	Sophistication float64 `gorm:"type:decimal(4,3);default:0" json:"sophistication"`
	OverallTier    string  `gorm:"type:varchar(20)" json:"overall_tier,omitempty"`

	// 识别到的跨平台框架（逗号分隔）
	Frameworks string `gorm:"type:varchar(255)" json:"frameworks,omitempty"`

	// 商业加固壳检测结果
	Packer           string  `gorm:"type:varchar(64)" json:"packer,omitempty"`
	PackerConfidence float64 `gorm:"type:decimal(4,3);default:0" json:"packer_confidence,omitempty"`

	// 完整 JSON 数据
	FindingsJSON string `gorm:"type:mediumtext" json:"findings_json,omitempty"`
	GroupedJSON  string `gorm:"type:mediumtext" json:"grouped_json,omitempty"`
	ScoresJSON   string `gorm:"type:mediumtext" json:"scores_json,omitempty"`

	// 性能指标
	DecompileDurationMs int `gorm:"type:int" json:"decompile_duration_ms,omitempty"`
	AnalysisDurationMs  int `gorm:"type:int" json:"analysis_duration_ms,omitempty"`

	// 时间戳
	AnalyzedAt *time.Time `json:"analyzed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null" json:"created_at"`
}

func (TaskProtectionReport) TableName() string {
	return "task_protection_reports"
}
