package scanner

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/protection-scan-go/internal/decompiler"
	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

func newTestScanner(t *testing.T) *Scanner {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	registry, err := sinks.NewRegistry("", "", logger)
	require.NoError(t, err)
	return NewScanner(registry, logger)
}

// TestScanMethod_RootFileCheck 经典 root 检测形态：
// 字面量装载 su 路径后调用 File.exists 并走分支
func TestScanMethod_RootFileCheck(t *testing.T) {
	s := newTestScanner(t)

	lines := []string{
		`const-string v0, "/system/bin/su"`,
		`invoke-virtual {v1, v0}, Ljava/io/File;->exists()Z`,
		`move-result v2`,
		`if-eqz v2, :cond_0`,
	}

	hits := s.ScanMethod("com.example.RootCheck", "isRooted", lines)
	require.NotEmpty(t, hits)

	var apiHit *sinks.Hit
	for _, h := range hits {
		if !h.HasStringMatch {
			apiHit = h
		}
	}
	require.NotNil(t, apiHit)
	assert.Equal(t, 2, apiHit.LineNumber)
	assert.Contains(t, apiHit.Arguments, "/system/bin/su")
	assert.True(t, apiHit.Conditional)
	assert.False(t, apiHit.Obfuscated)
	assert.Equal(t, sinks.LayerManaged, apiHit.Layer)
}

// TestScanMethod_StringIndicator const-string 字面量独立命中
func TestScanMethod_StringIndicator(t *testing.T) {
	s := newTestScanner(t)

	lines := []string{
		`const-string v0, "/system/xbin/su"`,
	}

	hits := s.ScanMethod("com.example.A", "check", lines)
	require.Len(t, hits, 1)
	assert.True(t, hits[0].HasStringMatch)
	assert.Equal(t, "Root Detection", hits[0].Sink.Risk)
	assert.Equal(t, []string{"/system/xbin/su"}, hits[0].Arguments)
}

// TestScanMethod_DualUseFiltered 双重用途 sink 缺少可疑参数时不产生命中
func TestScanMethod_DualUseFiltered(t *testing.T) {
	s := newTestScanner(t)

	lines := []string{
		`const-string v0, "/sdcard/cache/avatar.png"`,
		`invoke-virtual {v1, v0}, Ljava/io/File;->exists()Z`,
		`move-result v2`,
	}

	hits := s.ScanMethod("com.example.Cache", "hasAvatar", lines)
	assert.Empty(t, hits)
}

// TestScanMethod_ObfuscatedName 短方法名标记为混淆
func TestScanMethod_ObfuscatedName(t *testing.T) {
	s := newTestScanner(t)

	lines := []string{
		`invoke-static {}, Landroid/os/Debug;->isDebuggerConnected()Z`,
		`move-result v0`,
	}

	hits := s.ScanMethod("com.example.a", "a", lines)
	require.Len(t, hits, 1)
	assert.True(t, hits[0].Obfuscated)
}

// TestScanMethod_ObfuscatedNameFromParsedSmali 从 smali 解析到扫描的混淆标记链路：
// 解析器给出的裸方法名 "a" 必须触发混淆判定，带描述符的 "a()Z" 不会
func TestScanMethod_ObfuscatedNameFromParsedSmali(t *testing.T) {
	s := newTestScanner(t)

	cls := decompiler.ParseSmali([]string{
		".class public La/b/c;",
		".method public a()Z",
		"    invoke-static {}, Landroid/os/Debug;->isDebuggerConnected()Z",
		"    move-result v0",
		"    return v0",
		".end method",
	})
	require.NotNil(t, cls)
	require.Len(t, cls.Methods, 1)

	hits := s.ScanMethod(cls.Name, cls.Methods[0].Name, cls.Methods[0].CodeLines)
	require.Len(t, hits, 1)
	assert.True(t, hits[0].Obfuscated)
}

// TestExtractInvoke smali 调用解析
func TestExtractInvoke(t *testing.T) {
	api, regs := extractInvoke(`invoke-virtual {v1, v0}, Ljava/io/File;->exists()Z`)
	assert.Equal(t, "java.io.File.exists", api)
	assert.Equal(t, []string{"v1", "v0"}, regs)

	api, regs = extractInvoke(`invoke-static {}, Landroid/os/Debug;->isDebuggerConnected()Z`)
	assert.Equal(t, "android.os.Debug.isDebuggerConnected", api)
	assert.Empty(t, regs)
}

// TestResolveArguments_WindowLimit 回溯窗口之外的字面量不参与解析
func TestResolveArguments_WindowLimit(t *testing.T) {
	lines := make([]string, 0, 20)
	lines = append(lines, `const-string v0, "/system/bin/su"`)
	for i := 0; i < 16; i++ {
		lines = append(lines, "nop")
	}
	lines = append(lines, `invoke-virtual {v1, v0}, Ljava/io/File;->exists()Z`)

	args := resolveArguments(lines, len(lines)-1, []string{"v1", "v0"})
	assert.Empty(t, args)
}

// TestResolveArguments_MostRecent 每个寄存器只取最近一次装载
func TestResolveArguments_MostRecent(t *testing.T) {
	lines := []string{
		`const-string v0, "/sbin/su"`,
		`const-string v0, "/system/xbin/su"`,
		`invoke-virtual {v1, v0}, Ljava/io/File;->exists()Z`,
	}

	args := resolveArguments(lines, 2, []string{"v0"})
	assert.Equal(t, []string{"/system/xbin/su"}, args)
}

// TestInDecisionLogic 决策逻辑判定规则
func TestInDecisionLogic(t *testing.T) {
	s := newTestScanner(t)

	// 后续 move-result 形态
	consumed := []string{
		`invoke-static {}, Landroid/os/Debug;->isDebuggerConnected()Z`,
		`move-result v0`,
	}
	assert.True(t, s.inDecisionLogic(consumed, 0))

	// 结果被完全丢弃、周围无分支
	discarded := []string{
		"nop", "nop", "nop", "nop", "nop", "nop",
		`invoke-static {}, Landroid/os/Debug;->isDebuggerConnected()Z`,
		"nop", "nop", "nop", "nop", "nop", "nop",
	}
	assert.False(t, s.inDecisionLogic(discarded, 6))

	// ±5 行内出现 throw
	throwing := []string{
		`invoke-static {}, Landroid/os/Debug;->isDebuggerConnected()Z`,
		"nop", "nop", "nop",
		"throw v0",
	}
	assert.True(t, s.inDecisionLogic(throwing, 0))
}

// TestLegacyBranchContext 旧版 ±3 行分支判定（非默认路径）
func TestLegacyBranchContext(t *testing.T) {
	lines := []string{
		`invoke-static {}, Landroid/os/Debug;->isDebuggerConnected()Z`,
		`move-result v0`,
		"nop",
		"nop",
		"if-eqz v0, :cond_0",
	}

	// 新规则因 move-result 命中，旧规则因 if- 超出 ±3 行而不命中
	assert.False(t, legacyBranchContext(lines, 0))
	assert.True(t, legacyBranchContext(lines, 2))

	s := newTestScanner(t)
	s.UseLegacyDecisionRule = true
	assert.False(t, s.inDecisionLogic(lines, 0))
}
