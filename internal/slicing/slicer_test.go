package slicing

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/protection-scan-go/internal/localization"
	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

func newTestSlicer() *Slicer {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewSlicer(logger)
}

func managedProtection(class, method string, line int) *localization.LocalizedProtection {
	return &localization.LocalizedProtection{
		PatternType: "Root Detection (High Confidence)",
		ImpactHint:  "Detects device root status with high confidence decision logic",
		Location: localization.Location{
			Class:  class,
			Method: method,
			Line:   line,
			Layer:  sinks.LayerManaged,
		},
		Confidence: 0.75,
	}
}

// TestProcess_SinkAndDecisionPoint sink 行与决策点行使用不同标记
func TestProcess_SinkAndDecisionPoint(t *testing.T) {
	s := newTestSlicer()

	source := []string{
		`const-string v0, "/system/bin/su"`,
		`invoke-static {v0}, Ljava/io/File;->exists()Z`,
		`move-result v0`,
		`if-eqz v0, :cond_0`,
	}

	slice, err := s.Process(managedProtection("com.app.RootCheck", "isRooted", 2), source)
	require.NoError(t, err)

	var sinkLine, decisionLine string
	for _, line := range slice.CodeSnippet {
		if strings.Contains(line, "[*]") {
			sinkLine = line
		}
		if strings.Contains(line, "[!]") {
			decisionLine = line
		}
	}

	assert.Contains(t, sinkLine, "invoke-static")
	assert.Contains(t, sinkLine, "L0002")
	assert.Contains(t, decisionLine, "if-eqz")
	assert.Contains(t, decisionLine, "L0004")
	assert.Len(t, slice.HighlightedLines, 2)
	assert.Equal(t, "Environment Integrity Check: Privileged binary and root-manager verification", slice.SemanticLabel)
}

// TestProcess_SinkRelocation 上报行落在元数据上时向下重定位到可执行指令
func TestProcess_SinkRelocation(t *testing.T) {
	s := newTestSlicer()

	source := []string{
		".method public isRooted()Z",
		".locals 2",
		"",
		"# comment line",
		`const-string v0, "/system/xbin/su"`,
		`invoke-static {v0}, Ljava/io/File;->exists()Z`,
		"return v0",
		".end method",
	}

	slice, err := s.Process(managedProtection("com.app.RootCheck", "isRooted", 1), source)
	require.NoError(t, err)

	var sinkLine string
	for _, line := range slice.CodeSnippet {
		if strings.Contains(line, "[*]") {
			sinkLine = line
		}
	}
	assert.Contains(t, sinkLine, "const-string")
}

// TestProcess_NoDecisionPoint 无决策点时仅高亮 sink
func TestProcess_NoDecisionPoint(t *testing.T) {
	s := newTestSlicer()

	source := []string{
		`const-string v0, "/system/bin/su"`,
		"nop",
		"nop",
	}

	slice, err := s.Process(managedProtection("com.app.A", "load", 1), source)
	require.NoError(t, err)
	assert.Len(t, slice.HighlightedLines, 1)
}

// TestProcess_DuplicateFiltered 同一类+方法的重复证据降噪为占位行
func TestProcess_DuplicateFiltered(t *testing.T) {
	s := newTestSlicer()

	source := []string{
		`const-string v0, "/system/bin/su"`,
		`invoke-static {v0}, Ljava/io/File;->exists()Z`,
		`move-result v0`,
		`if-eqz v0, :cond_0`,
	}

	first, err := s.Process(managedProtection("com.app.RootCheck", "isRooted", 2), source)
	require.NoError(t, err)
	assert.NotEmpty(t, first.HighlightedLines)

	second, err := s.Process(managedProtection("com.app.RootCheck", "isRooted", 2), source)
	require.NoError(t, err)
	require.Len(t, second.CodeSnippet, 1)
	assert.Contains(t, second.CodeSnippet[0], "Duplicate evidence filtered")
	assert.Empty(t, second.HighlightedLines)

	// 新实例（新一次分析运行）的指纹缓存是干净的
	fresh, err := newTestSlicer().Process(managedProtection("com.app.RootCheck", "isRooted", 2), source)
	require.NoError(t, err)
	assert.NotEmpty(t, fresh.HighlightedLines)
}

// TestProcess_NativeWindow Native 切片以偏移为中心的固定窗口
func TestProcess_NativeWindow(t *testing.T) {
	s := newTestSlicer()

	lines := make([]string, 20)
	for i := range lines {
		lines[i] = "instruction"
	}
	lines[10] = "svc #0x1a"

	lp := &localization.LocalizedProtection{
		PatternType: "Anti-Debugging",
		Location: localization.Location{
			Layer:        sinks.LayerNative,
			Library:      "libguard.so",
			NativeOffset: "0xa",
		},
		Confidence: 0.65,
	}

	slice, err := s.Process(lp, lines)
	require.NoError(t, err)
	require.Len(t, slice.CodeSnippet, 11)
	require.Len(t, slice.HighlightedLines, 1)
	assert.Contains(t, slice.CodeSnippet[slice.HighlightedLines[0]], "svc #0x1a")
}

// TestProcess_NoSource 无源码时输出占位行
func TestProcess_NoSource(t *testing.T) {
	s := newTestSlicer()

	slice, err := s.Process(managedProtection("com.app.Missing", "check", 3), nil)
	require.NoError(t, err)
	require.Len(t, slice.CodeSnippet, 1)
	assert.Contains(t, slice.CodeSnippet[0], "not available")
	assert.Empty(t, slice.HighlightedLines)
}

// TestLabel 未知模式类型使用默认标签
func TestLabel(t *testing.T) {
	assert.Equal(t, defaultSemanticLabel, Label("Unknown Pattern"))
	assert.NotEqual(t, defaultSemanticLabel, Label("SSL Pinning"))
}
