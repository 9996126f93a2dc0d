package analyzer

import (
	"sort"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/protection-scan-go/internal/decompiler"
	"github.com/apk-analysis/protection-scan-go/internal/report"
	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

func newTestAnalyzer(t *testing.T) *Analyzer {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registry, err := sinks.NewRegistry("", "", logger)
	require.NoError(t, err)

	return New(registry, logger)
}

func rootCheckClass(name string) *decompiler.DecompiledClass {
	return &decompiler.DecompiledClass{
		Name: name,
		Methods: []decompiler.DecompiledMethod{
			{
				Name:      "isRooted",
				Signature: "isRooted()Z",
				CodeLines: []string{
					`    const-string v0, "/system/bin/su"`,
					`    new-instance v1, Ljava/io/File;`,
					`    invoke-direct {v1, v0}, Ljava/io/File;-><init>(Ljava/lang/String;)V`,
					`    invoke-virtual {v1}, Ljava/io/File;->exists()Z`,
					`    move-result v2`,
					`    if-eqz v2, :cond_0`,
					`    const/4 v3, 0x1`,
					`    return v3`,
					`    :cond_0`,
					`    const/4 v3, 0x0`,
					`    return v3`,
				},
			},
		},
	}
}

func sourceLines(cls *decompiler.DecompiledClass) []string {
	lines := []string{".class public L" + strings.ReplaceAll(cls.Name, ".", "/") + ";"}
	for _, m := range cls.Methods {
		sig := m.Signature
		if sig == "" {
			sig = m.Name
		}
		lines = append(lines, ".method public "+sig)
		lines = append(lines, m.CodeLines...)
		lines = append(lines, ".end method")
	}
	return lines
}

// TestAnalyze_EndToEnd 完整流水线：root 检测类产出分组后的最终发现
func TestAnalyze_EndToEnd(t *testing.T) {
	a := newTestAnalyzer(t)
	cls := rootCheckClass("com.example.RootCheck")
	sourceMap := map[string][]string{cls.Name: sourceLines(cls)}

	findings, grouped := a.Analyze([]*decompiler.DecompiledClass{cls}, sourceMap, "")
	require.NotEmpty(t, findings)
	require.NotEmpty(t, grouped)

	var rootFinding *report.FinalFinding
	for _, f := range findings {
		if f.ProtectionType == "Root Detection (High Confidence)" {
			rootFinding = f
		}
	}
	require.NotNil(t, rootFinding)

	assert.Equal(t, "com.example.RootCheck", rootFinding.Location.Class)
	assert.Equal(t, "isRooted", rootFinding.Location.Method)
	assert.Equal(t, sinks.LayerManaged, rootFinding.Taxonomy.Layer)
	assert.InDelta(t, 0.75, rootFinding.ConfidenceScore, 1e-9)

	// 证据切片包含 sink 标注
	joined := strings.Join(rootFinding.EvidenceSnippet, "\n")
	assert.Contains(t, joined, "[*]")
}

// TestAnalyze_LegacyDecisionRule 决策判定规则开关贯穿到方法扫描。
// 方法体没有分支但在 ±5 行内 return：新规则视为决策逻辑（审计给出
// 高置信度 root 发现），旧版 ±3 行 if- 规则不命中（退化为通用环境检测）
func TestAnalyze_LegacyDecisionRule(t *testing.T) {
	cls := &decompiler.DecompiledClass{
		Name: "com.example.EnvCheck",
		Methods: []decompiler.DecompiledMethod{
			{
				Name:      "verifyEnvironment",
				Signature: "verifyEnvironment()V",
				CodeLines: []string{
					`    const-string v0, "/system/bin/su"`,
					`    invoke-virtual {v1, v0}, Ljava/io/File;->exists()Z`,
					`    nop`,
					`    nop`,
					`    nop`,
					`    nop`,
					`    return-void`,
				},
			},
		},
	}
	sourceMap := map[string][]string{cls.Name: sourceLines(cls)}

	hasHighConfidenceRoot := func(findings []*report.FinalFinding) bool {
		for _, f := range findings {
			if f.ProtectionType == "Root Detection (High Confidence)" {
				return true
			}
		}
		return false
	}

	a := newTestAnalyzer(t)
	findings, _ := a.Analyze([]*decompiler.DecompiledClass{cls}, sourceMap, "")
	assert.True(t, hasHighConfidenceRoot(findings))

	legacy := newTestAnalyzer(t)
	legacy.UseLegacyDecisionRule = true
	legacyFindings, _ := legacy.Analyze([]*decompiler.DecompiledClass{cls}, sourceMap, "")
	assert.False(t, hasHighConfidenceRoot(legacyFindings))
}

// TestAnalyze_MissingSource 源码缺失的候选得到占位切片而非被丢弃
func TestAnalyze_MissingSource(t *testing.T) {
	a := newTestAnalyzer(t)
	cls := rootCheckClass("com.example.NoSource")

	findings, _ := a.Analyze([]*decompiler.DecompiledClass{cls}, map[string][]string{}, "")
	require.NotEmpty(t, findings)

	joined := strings.Join(findings[0].EvidenceSnippet, "\n")
	assert.Contains(t, joined, "Source code not available")
}

// TestAnalyze_Deterministic 并发扫描后结果顺序与分组键确定
func TestAnalyze_Deterministic(t *testing.T) {
	classes := []*decompiler.DecompiledClass{
		rootCheckClass("com.example.Zeta"),
		rootCheckClass("com.example.Alpha"),
		rootCheckClass("com.example.Mid"),
	}
	sourceMap := make(map[string][]string)
	for _, c := range classes {
		sourceMap[c.Name] = sourceLines(c)
	}

	groupKeys := func() []string {
		a := newTestAnalyzer(t)
		_, grouped := a.Analyze(classes, sourceMap, "")
		keys := make([]string, 0, len(grouped))
		for k := range grouped {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	}

	first := groupKeys()
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, groupKeys())
	}
}

// TestAnalyze_EmptyInput 空输入得到空结果而非 nil 恐慌
func TestAnalyze_EmptyInput(t *testing.T) {
	a := newTestAnalyzer(t)

	findings, grouped := a.Analyze(nil, nil, "")
	assert.NotNil(t, findings)
	assert.NotNil(t, grouped)
	assert.Empty(t, findings)
	assert.Empty(t, grouped)
}

// TestAnalyze_ExcludeLibraries 库代码发现被剔除
func TestAnalyze_ExcludeLibraries(t *testing.T) {
	a := newTestAnalyzer(t)
	a.ExcludeLibraries = true

	app := rootCheckClass("com.example.RootCheck")
	lib := rootCheckClass("okhttp3.internal.Platform")
	sourceMap := map[string][]string{
		app.Name: sourceLines(app),
		lib.Name: sourceLines(lib),
	}

	findings, _ := a.Analyze([]*decompiler.DecompiledClass{app, lib}, sourceMap, "")
	for _, f := range findings {
		assert.NotEqual(t, "library", f.Origin)
	}
}

// TestAggregateScores 最终发现聚合为多级评分
func TestAggregateScores(t *testing.T) {
	a := newTestAnalyzer(t)
	cls := rootCheckClass("com.example.RootCheck")
	sourceMap := map[string][]string{cls.Name: sourceLines(cls)}

	findings, _ := a.Analyze([]*decompiler.DecompiledClass{cls}, sourceMap, "")
	require.NotEmpty(t, findings)

	score := AggregateScores("com.example.app", findings)
	require.NotNil(t, score)
	assert.NotEmpty(t, score.MethodScores)
	assert.NotEmpty(t, score.ClassScores)
	assert.Equal(t, "com.example.app", score.App.AppName)
}

// TestSortHits 混合托管与原生命中时排序稳定
func TestSortHits(t *testing.T) {
	hits := []*sinks.Hit{
		{Library: "libnative.so", Offset: "0x20"},
		{ClassName: "com.b.B", MethodName: "m", LineNumber: 3},
		{ClassName: "com.a.A", MethodName: "z", LineNumber: 9},
		{ClassName: "com.a.A", MethodName: "a", LineNumber: 1},
		{Library: "libnative.so", Offset: "0x10"},
	}
	sortHits(hits)

	assert.Equal(t, "", hits[0].ClassName)
	assert.Equal(t, "0x10", hits[0].Offset)
	assert.Equal(t, "com.a.A", hits[2].ClassName)
	assert.Equal(t, "a", hits[2].MethodName)
	assert.Equal(t, "com.b.B", hits[4].ClassName)
}
