package patterns

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

func newTestEngine(t *testing.T) *Engine {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	registry, err := sinks.NewRegistry("", "", logger)
	require.NoError(t, err)
	return NewEngine(registry, logger)
}

func fileExistsHit(method string, args []string, conditional bool) *sinks.Hit {
	return &sinks.Hit{
		Sink: &sinks.Definition{
			Name:  "java.io.File.exists",
			Risk:  "Environment Verification",
			Layer: sinks.LayerManaged,
		},
		ClassName:   "com.example.SecurityCheck",
		MethodName:  method,
		LineNumber:  42,
		Arguments:   args,
		Conditional: conditional,
		Layer:       sinks.LayerManaged,
	}
}

// TestAnalyze_RootAuditFileCheck 决策逻辑内的 su 文件检查
// 给出 0.7 基准加 0.05 条件加成
func TestAnalyze_RootAuditFileCheck(t *testing.T) {
	e := newTestEngine(t)

	hits := []*sinks.Hit{fileExistsHit("isDeviceRooted", []string{"/system/bin/su"}, true)}
	candidates := e.Analyze(hits, &Context{})

	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, "Root Detection (High Confidence)", c.PatternType)
	assert.True(t, c.HasExplicitConfidence)
	assert.InDelta(t, 0.75, c.ConfidenceLevel, 1e-9)
}

// TestAnalyze_RootAuditFileCheckNotConditional 决策逻辑外的文件检查
// 不满足审计标准，落入通用环境检测匹配
func TestAnalyze_RootAuditFileCheckNotConditional(t *testing.T) {
	e := newTestEngine(t)

	hits := []*sinks.Hit{fileExistsHit("copyAssets", []string{"/system/bin/su"}, false)}
	candidates := e.Analyze(hits, &Context{})

	require.Len(t, candidates, 1)
	c := candidates[0]
	assert.Equal(t, "Root / Emulator Detection", c.PatternType)
	assert.False(t, c.HasExplicitConfidence)
}

// TestAnalyze_RootAuditPackageCheck root 管理包检查 0.9 + 条件加成
func TestAnalyze_RootAuditPackageCheck(t *testing.T) {
	e := newTestEngine(t)

	hit := &sinks.Hit{
		Sink:        &sinks.Definition{Name: "android.content.pm.PackageManager.getPackageInfo", Risk: "Root Detection", Layer: sinks.LayerManaged},
		ClassName:   "com.example.RootCheck",
		MethodName:  "hasMagisk",
		LineNumber:  10,
		Arguments:   []string{"com.topjohnwu.magisk"},
		Conditional: true,
		Layer:       sinks.LayerManaged,
	}

	candidates := e.Analyze([]*sinks.Hit{hit}, &Context{})
	require.Len(t, candidates, 1)
	assert.InDelta(t, 0.95, candidates[0].ConfidenceLevel, 1e-9)
}

// TestAnalyze_RootAuditExecCheck su 命令执行 0.9，词边界匹配
func TestAnalyze_RootAuditExecCheck(t *testing.T) {
	e := newTestEngine(t)

	hit := &sinks.Hit{
		Sink:       &sinks.Definition{Name: "java.lang.Runtime.exec", Risk: "Root Detection", Layer: sinks.LayerManaged},
		ClassName:  "com.example.RootCheck",
		MethodName: "runWhichSu",
		LineNumber: 5,
		Arguments:  []string{"which su"},
		Layer:      sinks.LayerManaged,
	}

	candidates := e.Analyze([]*sinks.Hit{hit}, &Context{})
	require.Len(t, candidates, 1)
	assert.Equal(t, 0.9, candidates[0].ConfidenceLevel)
	assert.Contains(t, candidates[0].Evidence, "Root execution check")
}

// TestAnalyze_RootAuditProcessBuilderCheck ProcessBuilder 方式执行 su
// 与 Runtime.exec 同级，给出 0.9 执行链置信度
func TestAnalyze_RootAuditProcessBuilderCheck(t *testing.T) {
	e := newTestEngine(t)

	hit := &sinks.Hit{
		Sink:       &sinks.Definition{Name: "java.lang.ProcessBuilder.start", Risk: "Root Detection", Layer: sinks.LayerManaged},
		ClassName:  "com.example.RootCheck",
		MethodName: "spawnSu",
		LineNumber: 8,
		Arguments:  []string{"su"},
		Layer:      sinks.LayerManaged,
	}

	candidates := e.Analyze([]*sinks.Hit{hit}, &Context{})
	require.Len(t, candidates, 1)
	assert.Equal(t, "Root Detection (High Confidence)", candidates[0].PatternType)
	assert.Equal(t, 0.9, candidates[0].ConfidenceLevel)
	assert.Contains(t, candidates[0].Evidence, "Root execution check")
}

// TestAnalyze_UtilityMethodNeverAudited 工具方法不进入任何审计 matcher
func TestAnalyze_UtilityMethodNeverAudited(t *testing.T) {
	e := newTestEngine(t)

	hits := []*sinks.Hit{fileExistsHit("toHexString", []string{"/system/bin/su"}, true)}
	candidates := e.Analyze(hits, &Context{})

	for _, c := range candidates {
		assert.False(t, c.HasExplicitConfidence)
		assert.NotEqual(t, "Root Detection (High Confidence)", c.PatternType)
	}
}

// TestAnalyze_GetterMethodFiltered getter 命名启发式作用于裸方法名，
// 解析器去掉描述符后该过滤器必须生效
func TestAnalyze_GetterMethodFiltered(t *testing.T) {
	e := newTestEngine(t)

	hits := []*sinks.Hit{fileExistsHit("getDeviceInfo", []string{"/system/bin/su"}, true)}
	candidates := e.Analyze(hits, &Context{})

	for _, c := range candidates {
		assert.False(t, c.HasExplicitConfidence)
		assert.NotEqual(t, "Root Detection (High Confidence)", c.PatternType)
	}
}

// TestAnalyze_EmulatorTelephony 运营商名 "Android" 给出铁证级 0.95
func TestAnalyze_EmulatorTelephony(t *testing.T) {
	e := newTestEngine(t)

	hit := &sinks.Hit{
		Sink:       &sinks.Definition{Name: "android.telephony.TelephonyManager.getNetworkOperatorName", Risk: "Emulator Detection", Layer: sinks.LayerManaged},
		ClassName:  "com.example.EmuCheck",
		MethodName: "isEmulator",
		LineNumber: 7,
		Arguments:  []string{"Android"},
		Layer:      sinks.LayerManaged,
	}

	candidates := e.Analyze([]*sinks.Hit{hit}, &Context{})
	require.Len(t, candidates, 1)
	assert.Equal(t, "Emulator Detection (Hard Evidence)", candidates[0].PatternType)
	assert.Equal(t, 0.95, candidates[0].ConfidenceLevel)
}

// TestAnalyze_EmulatorHardwareString goldfish 硬件标识 0.8 + 条件加成
func TestAnalyze_EmulatorHardwareString(t *testing.T) {
	e := newTestEngine(t)

	hit := &sinks.Hit{
		Sink:        &sinks.Definition{Name: "android.os.Build.HARDWARE", Risk: "Emulator Detection", Layer: sinks.LayerManaged},
		ClassName:   "com.example.EmuCheck",
		MethodName:  "checkHardware",
		LineNumber:  9,
		Arguments:   []string{"goldfish"},
		Conditional: true,
		Layer:       sinks.LayerManaged,
	}

	candidates := e.Analyze([]*sinks.Hit{hit}, &Context{})
	require.Len(t, candidates, 1)
	assert.InDelta(t, 0.85, candidates[0].ConfidenceLevel, 1e-9)
}

// TestAnalyze_SelfProtectionDebugger 调试器状态 API 0.85 + 条件加成
func TestAnalyze_SelfProtectionDebugger(t *testing.T) {
	e := newTestEngine(t)

	hit := &sinks.Hit{
		Sink:        &sinks.Definition{Name: "android.os.Debug.isDebuggerConnected", Risk: "Anti-Debugging", Layer: sinks.LayerManaged},
		ClassName:   "com.example.Guard",
		MethodName:  "ensureNoDebugger",
		LineNumber:  3,
		Conditional: true,
		Layer:       sinks.LayerManaged,
	}

	candidates := e.Analyze([]*sinks.Hit{hit}, &Context{})
	require.Len(t, candidates, 1)
	assert.Equal(t, "Self-Protection & Anti-Analysis (Active Defense)", candidates[0].PatternType)
	assert.InDelta(t, 0.9, candidates[0].ConfidenceLevel, 1e-9)
}

// TestAnalyze_SSLPinningFrameworkUpgrade Flutter 上下文升级为框架级标签
func TestAnalyze_SSLPinningFrameworkUpgrade(t *testing.T) {
	e := newTestEngine(t)

	hit := &sinks.Hit{
		Sink:       &sinks.Definition{Name: "okhttp3.CertificatePinner", Risk: "Secure Communication", Layer: sinks.LayerManaged},
		ClassName:  "com.example.Net",
		MethodName: "buildClient",
		LineNumber: 21,
		Layer:      sinks.LayerManaged,
	}

	candidates := e.Analyze([]*sinks.Hit{hit}, &Context{})
	require.Len(t, candidates, 1)
	assert.Equal(t, "SSL Pinning", candidates[0].PatternType)

	candidates = e.Analyze([]*sinks.Hit{hit}, &Context{Frameworks: []string{"Flutter"}})
	require.Len(t, candidates, 1)
	assert.Equal(t, "Advanced SSL Pinning (Framework-level)", candidates[0].PatternType)
}

// TestAnalyze_NativeFallback 加壳二进制命中保留为兜底候选
func TestAnalyze_NativeFallback(t *testing.T) {
	e := newTestEngine(t)

	hit := &sinks.Hit{
		Sink:        &sinks.Definition{Name: "packed_native_binary", Risk: "Anti-Analysis", Layer: sinks.LayerNative},
		Library:     "libpacked.so",
		Offset:      "0x0",
		Evidence:    "High Entropy: 7.85",
		Layer:       sinks.LayerNative,
		Conditional: true,
	}

	candidates := e.Analyze([]*sinks.Hit{hit}, &Context{})
	require.Len(t, candidates, 1)
	assert.Equal(t, "Packed Native Binary", candidates[0].PatternType)
	assert.Equal(t, "libpacked.so", candidates[0].Library)
}

// TestAnalyze_DedupOrderIndependent 相同位置只产生一个候选，
// 且结果集合与输入顺序无关
func TestAnalyze_DedupOrderIndependent(t *testing.T) {
	e := newTestEngine(t)

	a := fileExistsHit("isDeviceRooted", []string{"/system/bin/su"}, true)
	b := fileExistsHit("isDeviceRooted", []string{"/system/bin/su"}, true)
	debug := &sinks.Hit{
		Sink:       &sinks.Definition{Name: "android.os.Debug.isDebuggerConnected", Risk: "Anti-Debugging", Layer: sinks.LayerManaged},
		ClassName:  "com.example.Guard",
		MethodName: "ensureNoDebugger",
		LineNumber: 3,
		Layer:      sinks.LayerManaged,
	}

	forward := e.Analyze([]*sinks.Hit{a, b, debug}, &Context{})
	reverse := e.Analyze([]*sinks.Hit{debug, b, a}, &Context{})

	assert.Len(t, forward, 2)
	assert.Len(t, reverse, 2)

	keys := func(cs []*Candidate) map[string]bool {
		out := make(map[string]bool)
		for _, c := range cs {
			out[c.LocationKey()+"|"+c.PatternType] = true
		}
		return out
	}
	assert.Equal(t, keys(forward), keys(reverse))
}

// TestAnalyze_MatcherFailureDoesNotAbort Sink 缺失导致的 panic
// 只丢弃该命中，不影响其余命中
func TestAnalyze_MatcherFailureDoesNotAbort(t *testing.T) {
	e := newTestEngine(t)

	broken := &sinks.Hit{
		ClassName:  "com.example.Broken",
		MethodName: "oops",
		LineNumber: 1,
		Layer:      sinks.LayerManaged,
	}
	valid := fileExistsHit("isDeviceRooted", []string{"/system/bin/su"}, true)

	candidates := e.Analyze([]*sinks.Hit{broken, valid}, &Context{})
	require.Len(t, candidates, 1)
	assert.Equal(t, "Root Detection (High Confidence)", candidates[0].PatternType)
}
