package patterns

import (
	"fmt"
	"strings"

	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

// sslPinningMatcher SSL/证书绑定匹配。
// 检测到跨平台框架或 Native 层命中时升级为框架级标签
type sslPinningMatcher struct{}

func (m *sslPinningMatcher) Name() string { return "ssl_pinning" }

func (m *sslPinningMatcher) Match(hit *sinks.Hit, ctx *Context) *Candidate {
	risk := hit.Sink.Risk
	if risk != "Secure Communication" && !strings.Contains(risk, "SSL Pinning") {
		return nil
	}

	patternType := "SSL Pinning"
	impact := "Blocks traffic interception"
	if ctx.HasFramework("Flutter") || hit.IsNative() {
		patternType = "Advanced SSL Pinning (Framework-level)"
		impact = "Blocks traffic interception (BoringSSL/Flutter/Native)"
	}

	evidence := fmt.Sprintf("Secure channel enforcement via %s", hit.Sink.Name)
	return newCandidate(patternType, hit, evidence, impact)
}

// antiDebugMatcher 通用反调试匹配，接收审计链未消费的调试检测命中
type antiDebugMatcher struct{}

func (m *antiDebugMatcher) Name() string { return "anti_debug" }

func (m *antiDebugMatcher) Match(hit *sinks.Hit, ctx *Context) *Candidate {
	switch hit.Sink.Risk {
	case "Anti-Debugging", "Anti-Debugging Logic", "Debugger Status Check":
	default:
		return nil
	}

	evidence := fmt.Sprintf("Debugger detection check: %s", hit.Sink.Name)
	return newCandidate("Anti-Debugging", hit, evidence, "Blocks dynamic instrumentation / Debugging")
}

// environmentMatcher 通用 Root/模拟器检测匹配。
// 要求参数中出现已知指示器，避免把普通文件操作误报为环境检测
type environmentMatcher struct {
	registry *sinks.Registry
}

func (m *environmentMatcher) Name() string { return "environment" }

func (m *environmentMatcher) Match(hit *sinks.Hit, ctx *Context) *Candidate {
	switch hit.Sink.Risk {
	case "Environment Verification", "Root Detection", "Emulator Detection", "Native Root Verification":
	default:
		return nil
	}

	hasIndicator := false
	for _, arg := range hit.Arguments {
		if containsAny(arg, m.registry.Indicators().Root.All()) ||
			containsAny(arg, m.registry.Indicators().Emulator.All()) {
			hasIndicator = true
			break
		}
	}
	if !hasIndicator {
		return nil
	}

	evidence := fmt.Sprintf("Matched indicators in: %s", strings.Join(hit.Arguments, ", "))
	return newCandidate("Root / Emulator Detection", hit, evidence, "Detects environment manipulation (Root/Emulator)")
}

// nativeFallbackMatcher Native 层兜底。
// 把未被前序 matcher 消费的 Native 命中（加壳、内存自检、
// Frida 字符串等）保留为通用反分析候选
type nativeFallbackMatcher struct{}

func (m *nativeFallbackMatcher) Name() string { return "native_fallback" }

func (m *nativeFallbackMatcher) Match(hit *sinks.Hit, ctx *Context) *Candidate {
	if !hit.IsNative() {
		return nil
	}

	patternType := "Native Anti-Analysis"
	impact := "Native-layer defense against analysis tooling"
	if hit.Sink.Name == "packed_native_binary" {
		patternType = "Packed Native Binary"
		impact = "Hinders static analysis of native code"
	}

	evidence := hit.Evidence
	if evidence == "" {
		evidence = fmt.Sprintf("Native indicator: %s", hit.Sink.Name)
	}
	return newCandidate(patternType, hit, evidence, impact)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
