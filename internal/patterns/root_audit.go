package patterns

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

// Root 检测审计的置信度分级
const (
	rootConfidenceHigh   = 0.9 // 明确的 root 管理包或 su 命令执行
	rootConfidenceMedium = 0.7 // 决策逻辑内的文件存在性检查、mount 检查
)

var mountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`mount.*-o.*rw`),
	regexp.MustCompile(`mount.*system`),
	regexp.MustCompile(`ro\.secure`),
}

// rootDetectionAudit Root 检测深度审计。
// 只认最终决策逻辑：按"包管理器检查 → 命令执行 → 文件存在性 →
// mount/只读文件系统"的优先级链给出显式置信度，首个命中即返回
type rootDetectionAudit struct {
	indicators *sinks.RootIndicators
	filter     *utilityFilter
}

func (m *rootDetectionAudit) Name() string { return "root_detection_audit" }

func (m *rootDetectionAudit) Match(hit *sinks.Hit, ctx *Context) *Candidate {
	switch hit.Sink.Risk {
	case "Root Detection", "Environment Verification":
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

	c := newCandidate("Root Detection (High Confidence)", hit, evidence,
		"Detects device root status with high confidence decision logic")
	c.ConfidenceLevel = confidence
	c.HasExplicitConfidence = true
	return c
}

func (m *rootDetectionAudit) evaluate(hit *sinks.Hit) (float64, string) {
	// 包管理器 root 应用检查
	for _, arg := range hit.Arguments {
		for _, pkg := range m.indicators.PackageChecks {
			if strings.Contains(strings.ToLower(arg), strings.ToLower(pkg)) {
				return conditionalBonus(rootConfidenceHigh, hit.Conditional),
					fmt.Sprintf("Root app package check: %s detected in %s", pkg, hit.Sink.Name)
			}
		}
	}

	// su / which su / id 命令执行
	sinkLower := strings.ToLower(hit.Sink.Name)
	if strings.Contains(sinkLower, "exec") || strings.Contains(sinkLower, "processbuilder") ||
		strings.Contains(hit.Sink.Name, "Runtime") {
		for _, arg := range hit.Arguments {
			argLower := strings.ToLower(arg)
			for _, cmd := range m.indicators.ExecutionCommands {
				cmdLower := strings.ToLower(cmd)
				// 精确匹配或词边界匹配，避免 "sugar" 之类误命中
				if argLower == cmdLower || strings.Contains(" "+argLower, " "+cmdLower) {
					return conditionalBonus(rootConfidenceHigh, hit.Conditional),
						fmt.Sprintf("Root execution check: '%s' command via %s", cmd, hit.Sink.Name)
				}
			}
		}
	}

	// su 二进制文件存在性检查，仅在决策逻辑内才算数
	if hit.Conditional {
		for _, arg := range hit.Arguments {
			for _, path := range m.indicators.FileExistenceChecks {
				if strings.Contains(strings.ToLower(arg), strings.ToLower(path)) {
					return conditionalBonus(rootConfidenceMedium, true),
						fmt.Sprintf("Root file check: %s in decision logic", path)
				}
			}
		}
	}

	// mount / 只读文件系统重挂载检查
	for _, arg := range hit.Arguments {
		argLower := strings.ToLower(arg)
		for _, re := range mountPatterns {
			if re.MatchString(argLower) {
				return conditionalBonus(rootConfidenceMedium, hit.Conditional),
					fmt.Sprintf("Mount/RO-FS check: %s detected in %s", arg, hit.Sink.Name)
			}
		}
	}

	return 0, ""
}

// conditionalBonus 决策逻辑内的命中加 0.05，封顶 1.0
func conditionalBonus(base float64, conditional bool) float64 {
	if !conditional {
		return base
	}
	if base+0.05 > 1.0 {
		return 1.0
	}
	return base + 0.05
}
