package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/protection-scan-go/internal/patterns"
	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

// TestScoreHit_Weights 信号级加权公式
func TestScoreHit_Weights(t *testing.T) {
	def := &sinks.Definition{Name: "java.io.File.exists", Risk: "Environment Verification"}

	// 仅 API 命中
	score, factors := ScoreHit(&sinks.Hit{Sink: def, Layer: sinks.LayerManaged})
	assert.Equal(t, 0.4, score)
	assert.True(t, factors.APIMatch)
	assert.Equal(t, 1, factors.Count())

	// API + 字符串
	score, _ = ScoreHit(&sinks.Hit{Sink: def, HasStringMatch: true, Layer: sinks.LayerManaged})
	assert.Equal(t, 0.6, score)

	// API + 字符串 + 决策逻辑：三项因子触发冗余加成
	score, factors = ScoreHit(&sinks.Hit{Sink: def, HasStringMatch: true, Conditional: true, Layer: sinks.LayerManaged})
	assert.InDelta(t, 0.85, score, 1e-9)
	assert.True(t, factors.MultipleChecks)

	// 全因子 + 上下文强度，封顶 1.0
	score, _ = ScoreHit(&sinks.Hit{
		Sink:            def,
		HasStringMatch:  true,
		Conditional:     true,
		Layer:           sinks.LayerNative,
		Library:         "libfoo.so",
		ContextStrength: 1.0,
	})
	assert.Equal(t, 1.0, score)
}

// TestScoreHit_Bounds 任意组合下分数都在 [0,1]
func TestScoreHit_Bounds(t *testing.T) {
	def := &sinks.Definition{Name: "x"}
	for _, hit := range []*sinks.Hit{
		{},
		{Sink: def},
		{Sink: def, HasStringMatch: true, Conditional: true, Layer: sinks.LayerNative, Library: "a.so", ContextStrength: 5.0},
	} {
		score, _ := ScoreHit(hit)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
	}
}

// TestScoreCandidate_ExplicitOverride 审计置信度直接覆盖加权公式
func TestScoreCandidate_ExplicitOverride(t *testing.T) {
	hit := &sinks.Hit{
		Sink:  &sinks.Definition{Name: "java.io.File.exists"},
		Layer: sinks.LayerManaged,
	}
	c := &patterns.Candidate{Hit: hit, ConfidenceLevel: 0.75, HasExplicitConfidence: true}

	score, _ := ScoreCandidate(c)
	assert.Equal(t, 0.75, score)

	c.HasExplicitConfidence = false
	score, _ = ScoreCandidate(c)
	assert.Equal(t, 0.4, score)
}

// TestScoreMethod 方法级公式与复杂度分级
func TestScoreMethod(t *testing.T) {
	// 单信号 = simple：0.4*0.75 + 0.3*0.75 + 0.3*0.2 = 0.585 → 0.59
	ms := ScoreMethod("com.app.A", "isRooted", []float64{0.75})
	assert.Equal(t, SophisticationSimple, ms.Sophistication)
	assert.InDelta(t, 0.585, ms.MethodConfidence, 0.006)

	// 3 信号且 max ≥ 0.7 = moderate
	ms = ScoreMethod("com.app.A", "check", []float64{0.6, 0.7, 0.75})
	assert.Equal(t, SophisticationModerate, ms.Sophistication)

	// 5 信号且 max ≥ 0.8 = advanced
	ms = ScoreMethod("com.app.A", "deepCheck", []float64{0.5, 0.6, 0.7, 0.8, 0.85})
	assert.Equal(t, SophisticationAdvanced, ms.Sophistication)

	// 超过 5 个信号 = sophisticated
	ms = ScoreMethod("com.app.A", "fortress", []float64{0.9, 0.9, 0.9, 0.9, 0.9, 0.9})
	assert.Equal(t, SophisticationSophisticated, ms.Sophistication)

	// 无信号
	ms = ScoreMethod("com.app.A", "empty", nil)
	assert.Equal(t, SophisticationNone, ms.Sophistication)
	assert.Equal(t, 0.0, ms.MethodConfidence)
}

// TestScoreClass 类级公式与覆盖率
func TestScoreClass(t *testing.T) {
	methods := []MethodScore{
		{MethodName: "a", MethodConfidence: 0.8, Sophistication: SophisticationModerate},
		{MethodName: "b", MethodConfidence: 0.6, Sophistication: SophisticationSimple},
		{MethodName: "c", MethodConfidence: 0.0, Sophistication: SophisticationNone},
	}

	cs := ScoreClass("com.app.Guard", methods)
	assert.Equal(t, 3, cs.NumMethods)
	assert.Equal(t, 2, cs.NumProtectionMethods)
	assert.InDelta(t, 0.67, cs.ProtectionCoverage, 0.01)
	// 等级均值 (2+1)/2 = 1.5 → moderate
	assert.Equal(t, SophisticationModerate, cs.Sophistication)
	// 0.5*0.7 + 0.3*0.6667 + 0.2*0.5 = 0.65
	assert.InDelta(t, 0.65, cs.ClassConfidence, 0.011)

	empty := ScoreClass("com.app.Empty", nil)
	assert.Equal(t, 0.0, empty.ClassConfidence)
}

// TestScoreApp 应用级广度/深度与等级划分
func TestScoreApp(t *testing.T) {
	findings := []AppFinding{
		{ProtectionType: "Root Detection (High Confidence)", ClassName: "com.app.A", MethodName: "m1", Confidence: 0.95},
		{ProtectionType: "SSL Pinning", ClassName: "com.app.A", MethodName: "m2", Confidence: 0.85},
		{ProtectionType: "Anti-Debugging", ClassName: "com.app.B", MethodName: "m3", Confidence: 0.9},
		{ProtectionType: "Emulator Detection (Hard Evidence)", ClassName: "com.app.B", MethodName: "m4", Confidence: 0.95},
	}

	app := ScoreApp("com.app", findings)
	assert.Equal(t, 4, app.TotalFindings)
	assert.Equal(t, 4, app.DefenseBreadth)
	assert.Equal(t, 2, app.MultiLayerProtections)
	assert.Equal(t, 2.0, app.DefenseDepth)
	assert.Equal(t, 0.95, app.MaxConfidence)
	assert.Equal(t, 4, app.ConfidenceDistribution["high"])
	// 0.4*0.9125 + 0.3*0.8 + 0.3*0.6667 ≈ 0.81 → Very High
	assert.Equal(t, "Very High", app.OverallTier)

	empty := ScoreApp("com.empty", nil)
	assert.Equal(t, "Low", empty.OverallTier)
}

// TestAggregate 多级聚合的确定性输出
func TestAggregate(t *testing.T) {
	findings := []AppFinding{
		{ProtectionType: "Root Detection (High Confidence)", ClassName: "com.app.B", MethodName: "check", Confidence: 0.75},
		{ProtectionType: "Anti-Debugging", ClassName: "com.app.A", MethodName: "guard", Confidence: 0.9},
		{ProtectionType: "Root Detection (High Confidence)", ClassName: "com.app.B", MethodName: "check", Confidence: 0.95},
	}

	result := Aggregate("com.app", findings)
	require.Len(t, result.ClassScores, 2)
	require.Len(t, result.MethodScores, 2)

	// 按类名排序
	assert.Equal(t, "com.app.A", result.ClassScores[0].ClassName)
	assert.Equal(t, "com.app.B", result.ClassScores[1].ClassName)
	assert.Equal(t, 2, result.MethodScores[1].NumSignals)
	assert.Equal(t, 3, result.App.TotalFindings)
}
