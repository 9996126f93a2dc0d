package patterns

import (
	"fmt"
	"strings"

	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

// 自我保护审计的置信度分级
const (
	selfProtectConfidenceHigh   = 0.85 // 直接的调试器状态 API 或插桩框架检测
	selfProtectConfidenceStrong = 0.75 // 签名校验或 StackTrace 巡检
)

var hashAlgorithmMarkers = []string{"MessageDigest", "SHA1", "SHA256", "SHA-1", "SHA-256"}

var signatureMethodMarkers = []string{"verifySig", "checkSignature", "compareHash", "validateCert"}

// selfProtectionAudit 自我保护与反分析深度审计。
// 优先级链：反调试 → 反插桩（Frida/Xposed） → 签名完整性校验
type selfProtectionAudit struct {
	indicators *sinks.AntiAnalysis
	filter     *utilityFilter
}

func (m *selfProtectionAudit) Name() string { return "self_protection_audit" }

func (m *selfProtectionAudit) Match(hit *sinks.Hit, ctx *Context) *Candidate {
	switch hit.Sink.Risk {
	case "Anti-Debugging", "Anti-Debugging Logic", "Anti-Analysis":
	default:
		return nil
	}

	if m.filter.isUtility(hit.MethodName) {
		return nil
	}

	confidence, evidence := m.evaluate(hit)
	if confidence == 0 {
		return nil
	}

	c := newCandidate("Self-Protection & Anti-Analysis (Active Defense)", hit, evidence,
		"Active defense mechanism against debugging, instrumentation, or modification")
	c.ConfidenceLevel = confidence
	c.HasExplicitConfidence = true
	return c
}

func (m *selfProtectionAudit) evaluate(hit *sinks.Hit) (float64, string) {
	sinkName := hit.Sink.Name
	sinkLower := strings.ToLower(sinkName)

	// 反调试：isDebuggerConnected、FLAG_DEBUGGABLE、TracerPid
	for _, api := range m.indicators.AntiDebugging {
		if strings.Contains(sinkLower, strings.ToLower(api)) {
			confidence := conditionalBonus(selfProtectConfidenceHigh, hit.Conditional)
			switch {
			case strings.Contains(api, "isDebuggerConnected"):
				return confidence, fmt.Sprintf("Anti-debugging: Direct debugger connection check via %s", api)
			case strings.Contains(api, "FLAG_DEBUGGABLE") || strings.Contains(strings.ToLower(api), "debuggable"):
				return confidence, fmt.Sprintf("Anti-debugging: Debuggable flag verification via %s", api)
			default:
				return confidence, fmt.Sprintf("Anti-debugging: Debug mode detection via %s", api)
			}
		}
	}
	for _, arg := range hit.Arguments {
		argLower := strings.ToLower(arg)
		for _, api := range m.indicators.AntiDebugging {
			if strings.Contains(argLower, strings.ToLower(api)) {
				return conditionalBonus(selfProtectConfidenceHigh, hit.Conditional),
					fmt.Sprintf("Anti-debugging: %s detected in decision logic", api)
			}
		}
	}

	// 反插桩：Frida/Xposed/LD_PRELOAD 的符号或字面量
	for _, framework := range m.indicators.AntiInstrumentation {
		fwLower := strings.ToLower(framework)
		if strings.Contains(sinkLower, fwLower) {
			confidence := conditionalBonus(selfProtectConfidenceHigh, hit.Conditional)
			switch {
			case strings.Contains(fwLower, "frida"):
				return confidence, "Anti-instrumentation: Frida/GumJS detection mechanism"
			case strings.Contains(fwLower, "xposed"):
				return confidence, "Anti-instrumentation: Xposed framework detection"
			case framework == "LD_PRELOAD":
				return confidence, "Anti-instrumentation: LD_PRELOAD hook detection"
			default:
				return confidence, fmt.Sprintf("Anti-instrumentation: %s detection mechanism", framework)
			}
		}
		for _, arg := range hit.Arguments {
			if strings.Contains(strings.ToLower(arg), fwLower) {
				return conditionalBonus(selfProtectConfidenceHigh, hit.Conditional),
					fmt.Sprintf("Anti-instrumentation: String literal '%s' indicates %s detection", framework, framework)
			}
		}
	}

	// StackTrace 巡检查找插桩框架
	if strings.Contains(sinkName, "StackTrace") {
		for _, arg := range hit.Arguments {
			argLower := strings.ToLower(arg)
			if strings.Contains(argLower, "xposed") || strings.Contains(argLower, "frida") {
				return selfProtectConfidenceStrong,
					"Anti-instrumentation: StackTrace inspection for framework detection"
			}
		}
	}

	// 签名校验：getPackageInfo + GET_SIGNATURES
	if strings.Contains(sinkName, "getPackageInfo") || strings.Contains(sinkName, "PackageManager") {
		for _, arg := range hit.Arguments {
			if strings.Contains(arg, "SIGNATURES") {
				return conditionalBonus(selfProtectConfidenceStrong, hit.Conditional),
					"Signature verification: Package signature retrieval for integrity check"
			}
		}
	}

	// 哈希算法比对（SHA1/SHA256 证书指纹）
	for _, arg := range hit.Arguments {
		for _, marker := range hashAlgorithmMarkers {
			if strings.Contains(arg, marker) {
				return conditionalBonus(selfProtectConfidenceStrong, hit.Conditional),
					fmt.Sprintf("Signature verification: Hash algorithm '%s' for certificate validation", marker)
			}
		}
	}

	// 方法名形态的签名校验
	for _, method := range signatureMethodMarkers {
		if strings.Contains(sinkLower, strings.ToLower(method)) {
			return conditionalBonus(selfProtectConfidenceStrong, hit.Conditional),
				fmt.Sprintf("Signature verification: Certificate/signature validation via %s", method)
		}
	}

	return 0, ""
}
