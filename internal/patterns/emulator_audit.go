package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

// 模拟器检测审计的置信度分级
const (
	emulatorConfidenceHard   = 0.95 // 电信运营商名 "Android"，铁证
	emulatorConfidenceStrong = 0.8  // 特定硬件标识（goldfish、ranchu）或构建属性
	emulatorConfidenceMedium = 0.65 // 内核属性、传感器数量启发式
)

var sensorCheckRe = regexp.MustCompile(`(?i)(sensor.*count|size.*<\s*[0-3]|getSensorList)`)

// emulatorDetectionAudit 模拟器检测深度审计。
// 优先级链：电信运营商 → 硬件字符串 → 构建属性 → 内核属性 → 传感器数量
type emulatorDetectionAudit struct {
	indicators *sinks.EmulatorIndicators
	filter     *utilityFilter
}

func (m *emulatorDetectionAudit) Name() string { return "emulator_detection_audit" }

func (m *emulatorDetectionAudit) Match(hit *sinks.Hit, ctx *Context) *Candidate {
	switch hit.Sink.Risk {
	case "Emulator Detection", "Environment Verification":
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

	c := newCandidate("Emulator Detection (Hard Evidence)", hit, evidence,
		"Detects emulator/virtualized environment using hardware properties")
	c.ConfidenceLevel = confidence
	c.HasExplicitConfidence = true
	return c
}

func (m *emulatorDetectionAudit) evaluate(hit *sinks.Hit) (float64, string) {
	sinkName := hit.Sink.Name

	// 电信运营商检查：getNetworkOperatorName 返回 "Android" 只可能是模拟器
	if strings.Contains(sinkName, "getNetworkOperator") {
		for _, arg := range hit.Arguments {
			for _, ind := range m.indicators.Telephony {
				if strings.Contains(strings.ToLower(arg), strings.ToLower(ind)) {
					return emulatorConfidenceHard,
						fmt.Sprintf("Emulator telephony check: NetworkOperator='%s' is definitive emulator indicator", ind)
				}
			}
		}
	}
	for _, arg := range hit.Arguments {
		for _, ind := range m.indicators.Telephony {
			if strings.EqualFold(arg, ind) {
				return emulatorConfidenceHard,
					fmt.Sprintf("Emulator telephony check: Operator name '%s' detected", ind)
			}
		}
	}

	// 硬件字符串检查（goldfish、ranchu、vbox86）
	if strings.Contains(sinkName, "HARDWARE") || strings.Contains(sinkName, "getProperty") ||
		strings.Contains(strings.ToLower(sinkName), "build") {
		for _, arg := range hit.Arguments {
			for _, hw := range m.indicators.HardwareStrings {
				if strings.Contains(strings.ToLower(arg), strings.ToLower(hw)) {
					return conditionalBonus(emulatorConfidenceStrong, hit.Conditional),
						fmt.Sprintf("Emulator hardware check: '%s' is known emulator hardware identifier", hw)
				}
			}
		}
	}

	// 构建属性检查（FINGERPRINT/MODEL/DEVICE 含 generic 类标记）
	props := m.indicators.BuildProperties
	for _, arg := range hit.Arguments {
		argLower := strings.ToLower(arg)
		for _, ind := range props.Fingerprint {
			if strings.Contains(argLower, strings.ToLower(ind)) {
				return conditionalBonus(emulatorConfidenceStrong, hit.Conditional),
					fmt.Sprintf("Emulator build property: FINGERPRINT contains '%s'", ind)
			}
		}
		for _, ind := range props.Model {
			if strings.Contains(argLower, strings.ToLower(ind)) {
				return conditionalBonus(emulatorConfidenceStrong, hit.Conditional),
					fmt.Sprintf("Emulator build property: MODEL contains '%s'", ind)
			}
		}
		for _, ind := range props.Device {
			if strings.Contains(argLower, strings.ToLower(ind)) {
				return conditionalBonus(emulatorConfidenceStrong, hit.Conditional),
					fmt.Sprintf("Emulator build property: DEVICE contains '%s'", ind)
			}
		}
	}

	// 内核属性检查（ro.kernel.qemu 等）
	for _, arg := range hit.Arguments {
		argLower := strings.ToLower(arg)
		for _, prop := range m.indicators.Properties {
			if strings.Contains(argLower, strings.ToLower(prop)) {
				return conditionalBonus(emulatorConfidenceMedium, hit.Conditional),
					fmt.Sprintf("Emulator kernel property: '%s' indicates virtual environment", prop)
			}
		}
	}

	// 传感器数量启发式：模拟器通常只有 0-2 个传感器
	if strings.Contains(strings.ToLower(sinkName), "sensor") {
		for _, arg := range hit.Arguments {
			if sensorCheckRe.MatchString(arg) {
				return conditionalBonus(emulatorConfidenceMedium, hit.Conditional),
					"Emulator sensor check: Limited sensor count detected (typical of emulator)"
			}
		}
	}

	return 0, ""
}
