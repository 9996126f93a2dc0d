package patterns

import "github.com/apk-analysis/protection-scan-go/internal/sinks"

// Context 分类上下文，由 Native 扫描阶段填充
type Context struct {
	Frameworks []string
}

// HasFramework 框架是否在检测结果中
func (c *Context) HasFramework(name string) bool {
	if c == nil {
		return false
	}
	for _, fw := range c.Frameworks {
		if fw == name {
			return true
		}
	}
	return false
}

// Candidate 保护机制候选。
// 每个 Hit 至多产生一个候选（首个匹配的 matcher 获胜）
type Candidate struct {
	PatternType string `json:"pattern_type"`

	ClassName  string `json:"class_name,omitempty"`
	MethodName string `json:"method_name,omitempty"`
	LineNumber int    `json:"line_number,omitempty"`
	Layer      string `json:"layer"`
	Library    string `json:"library,omitempty"`
	Offset     string `json:"offset,omitempty"`

	Evidence   string `json:"evidence"`
	ImpactHint string `json:"impact_hint"`

	// Hit 原始命中，评分引擎据此计算加权置信度
	Hit *sinks.Hit `json:"-"`

	// ConfidenceLevel 审计 matcher 给出的显式置信度，
	// HasExplicitConfidence 为 true 时跳过加权公式直接采用
	ConfidenceLevel       float64 `json:"confidence_level,omitempty"`
	HasExplicitConfidence bool    `json:"-"`
}

// LocationKey 候选的位置指纹，与底层命中一致
func (c *Candidate) LocationKey() string {
	return c.Hit.LocationKey()
}

// newCandidate 从命中构造候选，位置字段逐一拷贝
func newCandidate(patternType string, hit *sinks.Hit, evidence, impact string) *Candidate {
	return &Candidate{
		PatternType: patternType,
		ClassName:   hit.ClassName,
		MethodName:  hit.MethodName,
		LineNumber:  hit.LineNumber,
		Layer:       hit.Layer,
		Library:     hit.Library,
		Offset:      hit.Offset,
		Evidence:    evidence,
		ImpactHint:  impact,
		Hit:         hit,
	}
}
