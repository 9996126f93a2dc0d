package patterns

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

// Matcher 保护模式匹配策略。
// 不匹配时返回 nil，匹配失败通过 panic 由引擎捕获
type Matcher interface {
	Name() string
	Match(hit *sinks.Hit, ctx *Context) *Candidate
}

// Engine 保护模式分类引擎。
// matcher 按"最具体优先"的固定顺序排列：
// SSL pinning → 三个深度审计 → 通用反调试 → 通用环境检测 → Native 兜底。
// 每个位置指纹在一次分析中至多产生一个候选
type Engine struct {
	matchers []Matcher
	logger   *logrus.Logger
}

// NewEngine 创建分类引擎，matcher 顺序固定
func NewEngine(registry *sinks.Registry, logger *logrus.Logger) *Engine {
	filter := newUtilityFilter(registry.Indicators().UtilityIgnore)

	return &Engine{
		matchers: []Matcher{
			&sslPinningMatcher{},
			&rootDetectionAudit{indicators: &registry.Indicators().Root, filter: filter},
			&emulatorDetectionAudit{indicators: &registry.Indicators().Emulator, filter: filter},
			&selfProtectionAudit{indicators: &registry.Indicators().AntiAnalysis, filter: filter},
			&antiDebugMatcher{},
			&environmentMatcher{registry: registry},
			&nativeFallbackMatcher{},
		},
		logger: logger,
	}
}

// Analyze 将原始命中转换为保护候选。
// 已处理位置集合在每次调用内新建，并发或重复分析互不干扰
func (e *Engine) Analyze(hits []*sinks.Hit, ctx *Context) []*Candidate {
	var candidates []*Candidate
	processed := make(map[string]bool, len(hits))

	for _, hit := range hits {
		key := hit.LocationKey()
		if processed[key] {
			continue
		}

		for _, matcher := range e.matchers {
			candidate, err := e.tryMatch(matcher, hit, ctx)
			if err != nil {
				e.logger.WithError(err).WithFields(logrus.Fields{
					"matcher":  matcher.Name(),
					"location": key,
				}).Warn("Pattern matcher failed, hit skipped for this matcher")
				continue
			}
			if candidate != nil {
				candidates = append(candidates, candidate)
				processed[key] = true
				break
			}
		}
	}

	e.logger.WithFields(logrus.Fields{
		"hits":       len(hits),
		"candidates": len(candidates),
	}).Info("Pattern classification completed")

	return candidates
}

// tryMatch 单个 matcher 的受保护执行，panic 不中断整体分析
func (e *Engine) tryMatch(m Matcher, hit *sinks.Hit, ctx *Context) (candidate *Candidate, err error) {
	defer func() {
		if r := recover(); r != nil {
			candidate = nil
			err = fmt.Errorf("matcher panic: %v", r)
		}
	}()
	return m.Match(hit, ctx), nil
}
