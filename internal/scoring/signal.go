package scoring

import (
	"math"

	"github.com/apk-analysis/protection-scan-go/internal/patterns"
	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

// 信号级加权公式的权重，总和 1.0
const (
	weightAPI        = 0.40 // API/sink 命中
	weightString     = 0.20 // 字符串佐证
	weightLogic      = 0.15 // 位于决策逻辑内
	weightNative     = 0.10 // Native 层
	weightContext    = 0.05 // 语义上下文强度（连续值缩放）
	weightRedundancy = 0.10 // api/string/logic/native 中至少 3 项同时成立
)

// Factors 信号级评分的各项因子
type Factors struct {
	APIMatch        bool    `json:"api_match"`
	StringIndicator bool    `json:"string_indicator"`
	ControlFlow     bool    `json:"control_flow"`
	NativeLayer     bool    `json:"native_layer"`
	ContextStrength float64 `json:"context_strength"`
	MultipleChecks  bool    `json:"multiple_checks"`
}

// Count api/string/logic/native 中成立的因子数
func (f Factors) Count() int {
	n := 0
	for _, b := range []bool{f.APIMatch, f.StringIndicator, f.ControlFlow, f.NativeLayer} {
		if b {
			n++
		}
	}
	return n
}

// Breakdown 评分明细，随候选写入报告
type Breakdown struct {
	ConfidenceScore float64 `json:"confidence_score"`
	Factors
	FactorsFound int `json:"factors_found"`
}

// ScoreHit 信号级加权评分，返回分数与因子分解，结果保留两位小数
func ScoreHit(hit *sinks.Hit) (float64, Factors) {
	var factors Factors
	score := 0.0

	if hit.Sink != nil {
		factors.APIMatch = true
		score += weightAPI
	}
	if hit.HasStringMatch {
		factors.StringIndicator = true
		score += weightString
	}
	if hit.Conditional {
		factors.ControlFlow = true
		score += weightLogic
	}
	if hit.IsNative() {
		factors.NativeLayer = true
		score += weightNative
	}
	if hit.ContextStrength > 0 {
		factors.ContextStrength = math.Min(hit.ContextStrength, 1.0)
		score += weightContext * factors.ContextStrength
	}
	if factors.Count() >= 3 {
		factors.MultipleChecks = true
		score += weightRedundancy
	}

	return round2(math.Min(score, 1.0)), factors
}

// ScoreCandidate 候选评分。
// 审计 matcher 给出的显式置信度直接采用，否则走加权公式
func ScoreCandidate(c *patterns.Candidate) (float64, Factors) {
	score, factors := ScoreHit(c.Hit)
	if c.HasExplicitConfidence {
		return round2(math.Min(c.ConfidenceLevel, 1.0)), factors
	}
	return score, factors
}

// BreakdownFor 生成候选的评分明细
func BreakdownFor(c *patterns.Candidate) Breakdown {
	score, factors := ScoreCandidate(c)
	return Breakdown{
		ConfidenceScore: score,
		Factors:         factors,
		FactorsFound:    factors.Count(),
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
