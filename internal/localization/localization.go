package localization

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/patterns"
	"github.com/apk-analysis/protection-scan-go/internal/scoring"
)

// Location 规范化后的精确坐标
type Location struct {
	Class         string `json:"class,omitempty"`
	Method        string `json:"method,omitempty"`
	FullSignature string `json:"full_signature,omitempty"`
	Line          int    `json:"line,omitempty"`
	Layer         string `json:"layer"`
	SourcePath    string `json:"source_path,omitempty"`
	Library       string `json:"library,omitempty"`
	NativeOffset  string `json:"native_offset,omitempty"`
}

// LocalizedProtection 定位与评分后的保护机制
type LocalizedProtection struct {
	PatternType string            `json:"pattern_type"`
	ImpactHint  string            `json:"impact_hint"`
	Location    Location          `json:"location"`
	Evidence    string            `json:"evidence"`
	Confidence  float64           `json:"confidence_score"`
	Breakdown   scoring.Breakdown `json:"confidence_breakdown"`

	// Candidate 原始候选，切片引擎据此访问底层命中
	Candidate *patterns.Candidate `json:"-"`
}

// Pipeline 定位管道：规范化签名、推导源文件路径、重算评分明细。
// 单个候选失败仅丢弃该候选
type Pipeline struct {
	logger *logrus.Logger
}

// NewPipeline 创建定位管道
func NewPipeline(logger *logrus.Logger) *Pipeline {
	return &Pipeline{logger: logger}
}

// Process 逐个定位候选，失败的候选从结果集中剔除
func (p *Pipeline) Process(candidates []*patterns.Candidate) []*LocalizedProtection {
	results := make([]*LocalizedProtection, 0, len(candidates))

	for _, c := range candidates {
		lp, err := p.localize(c)
		if err != nil {
			p.logger.WithError(err).WithField("pattern", c.PatternType).Warn("Candidate localization failed, dropped")
			continue
		}
		results = append(results, lp)
	}

	p.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"localized":  len(results),
	}).Info("Localization completed")

	return results
}

func (p *Pipeline) localize(c *patterns.Candidate) (lp *LocalizedProtection, err error) {
	defer func() {
		if r := recover(); r != nil {
			lp = nil
			err = fmt.Errorf("localization panic: %v", r)
		}
	}()

	method := normalizeMethod(c.MethodName)
	location := Location{
		Class:  c.ClassName,
		Method: method,
		Line:   c.LineNumber,
		Layer:  c.Layer,
	}

	if c.Hit.IsNative() {
		location.Library = c.Library
		location.NativeOffset = c.Offset
		location.FullSignature = c.Library + "@" + c.Offset
	} else {
		location.FullSignature = c.ClassName + "->" + method
		location.SourcePath = sourcePath(c.ClassName)
	}

	breakdown := scoring.BreakdownFor(c)
	return &LocalizedProtection{
		PatternType: c.PatternType,
		ImpactHint:  c.ImpactHint,
		Location:    location,
		Evidence:    c.Evidence,
		Confidence:  breakdown.ConfidenceScore,
		Breakdown:   breakdown,
		Candidate:   c,
	}, nil
}

// normalizeMethod 去掉方法签名中的参数列表与类型描述符后缀。
// "exists()Z" 与 "check(Ljava/lang/String;)Z" 都归一为裸方法名
func normalizeMethod(method string) string {
	if i := strings.Index(method, "("); i >= 0 {
		method = method[:i]
	}
	return strings.TrimSpace(method)
}

// sourcePath 由点分类名推导 smali 源文件相对路径
func sourcePath(className string) string {
	if className == "" {
		return ""
	}
	return strings.ReplaceAll(className, ".", "/") + ".smali"
}
