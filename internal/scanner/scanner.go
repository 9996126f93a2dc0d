package scanner

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

const (
	// argScanLimit 向上回溯解析寄存器字面量的最大行数
	argScanLimit = 15
	// contextWindow 命中上下文快照的半径
	contextWindow = 2
	// decisionWindow 决策逻辑判定的扫描半径
	decisionWindow = 5
	// resultWindow 命中之后查找结果消费指令的行数
	resultWindow = 3
	// legacyBranchWindow 旧版判定规则的扫描半径（仅兼容保留）
	legacyBranchWindow = 3
	// obfuscatedNameLen 方法名长度不超过该值视为被混淆
	obfuscatedNameLen = 2
)

var (
	registerListRe = regexp.MustCompile(`\{([^}]*)\}`)
	invokeTargetRe = regexp.MustCompile(`(L[^;]+;)->([^(]+)`)
	stringValueRe  = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
)

// Scanner 字节码扫描器。
// 逐行遍历方法指令序列，对 invoke 调用与 const-string 字面量
// 查询知识库并生成 SinkHit
type Scanner struct {
	registry *sinks.Registry
	logger   *logrus.Logger

	// UseLegacyDecisionRule 启用旧版 "±3 行内出现分支" 判定规则。
	// 仅用于与历史结果对比，默认关闭
	UseLegacyDecisionRule bool
}

// NewScanner 创建字节码扫描器
func NewScanner(registry *sinks.Registry, logger *logrus.Logger) *Scanner {
	return &Scanner{
		registry: registry,
		logger:   logger,
	}
}

// ScanMethod 扫描单个方法的指令序列，返回全部命中。
// 行号为 1 起始，与反编译器输出保持一致
func (s *Scanner) ScanMethod(className, methodName string, lines []string) []*sinks.Hit {
	var hits []*sinks.Hit
	obfuscated := len(methodName) <= obfuscatedNameLen

	for idx, line := range lines {
		switch {
		case strings.Contains(line, "invoke-"):
			apiCall, registers := extractInvoke(line)
			sink := s.registry.MatchSink(apiCall)
			if sink == nil {
				continue
			}

			args := resolveArguments(lines, idx, registers)
			if !s.registry.IsSecurityRelevant(sink, args) {
				continue
			}

			hits = append(hits, &sinks.Hit{
				Sink:           sink,
				ClassName:      className,
				MethodName:     methodName,
				LineNumber:     idx + 1,
				Arguments:      args,
				Conditional:    s.inDecisionLogic(lines, idx),
				Obfuscated:     obfuscated,
				ContextSnippet: snippet(lines, idx),
				Layer:          sinks.LayerManaged,
			})

		case strings.Contains(line, "const-string"):
			literal := extractStringLiteral(line)
			sink := s.registry.MatchStringIndicator(literal)
			if sink == nil {
				continue
			}

			hits = append(hits, &sinks.Hit{
				Sink:           sink,
				ClassName:      className,
				MethodName:     methodName,
				LineNumber:     idx + 1,
				Arguments:      []string{literal},
				Conditional:    s.inDecisionLogic(lines, idx),
				Obfuscated:     obfuscated,
				ContextSnippet: []string{strings.TrimSpace(line)},
				Layer:          sinks.LayerManaged,
				HasStringMatch: true,
			})
		}
	}

	return hits
}

// extractInvoke 提取调用目标与寄存器列表。
// Smali 形如 invoke-static {v0}, Ljava/io/File;->exists()Z，
// 目标被还原为点分全限定名 java.io.File.exists
func extractInvoke(line string) (string, []string) {
	var registers []string
	if m := registerListRe.FindStringSubmatch(line); m != nil {
		for _, r := range strings.Split(m[1], ",") {
			if r = strings.TrimSpace(r); r != "" {
				registers = append(registers, r)
			}
		}
	}

	m := invokeTargetRe.FindStringSubmatch(line)
	if m == nil {
		return "", registers
	}
	classPart := strings.ReplaceAll(strings.TrimSuffix(strings.TrimPrefix(m[1], "L"), ";"), "/", ".")
	return classPart + "." + strings.TrimSpace(m[2]), registers
}

// resolveArguments 向上回溯解析每个寄存器最近一次的字面量装载。
// 每个寄存器只取第一个匹配，不跨方法边界（行序列本身即方法体）
func resolveArguments(lines []string, idx int, registers []string) []string {
	var args []string
	resolved := make(map[string]bool, len(registers))

	lo := idx - argScanLimit
	if lo < 0 {
		lo = 0
	}
	for i := idx - 1; i >= lo; i-- {
		for _, reg := range registers {
			if resolved[reg] {
				continue
			}
			if strings.Contains(lines[i], "const-string "+reg+",") ||
				strings.Contains(lines[i], "const-string/jumbo "+reg+",") {
				if lit := extractStringLiteral(lines[i]); lit != "" {
					args = append(args, lit)
				}
				resolved[reg] = true
			}
		}
	}
	return args
}

// extractStringLiteral 提取行内第一个双引号字符串
func extractStringLiteral(line string) string {
	if m := stringValueRe.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return ""
}

func snippet(lines []string, idx int) []string {
	lo := idx - contextWindow
	if lo < 0 {
		lo = 0
	}
	hi := idx + contextWindow + 1
	if hi > len(lines) {
		hi = len(lines)
	}
	out := make([]string, 0, hi-lo)
	for _, l := range lines[lo:hi] {
		out = append(out, strings.TrimSpace(l))
	}
	return out
}

// inDecisionLogic 判定命中是否位于真实的决策逻辑中，
// 区别于工具函数里的顺带调用。
// 规则：±5 行内出现比较/分支/throw/return 或布尔常量装载，
// 或命中后 3 行内出现 move-result/move/字段写入
func (s *Scanner) inDecisionLogic(lines []string, idx int) bool {
	if s.UseLegacyDecisionRule {
		return legacyBranchContext(lines, idx)
	}

	lo := idx - decisionWindow
	if lo < 0 {
		lo = 0
	}
	hi := idx + decisionWindow + 1
	if hi > len(lines) {
		hi = len(lines)
	}

	for i := lo; i < hi; i++ {
		l := lines[i]
		if strings.Contains(l, "if-") ||
			strings.Contains(l, "cmp") ||
			strings.Contains(l, "packed-switch") ||
			strings.Contains(l, "sparse-switch") ||
			strings.Contains(l, "throw") ||
			strings.Contains(l, "return") {
			return true
		}
		// 布尔结果形态的常量装载（const/4 vX, 0x0 / 0x1）
		if strings.Contains(l, "const/4") &&
			(strings.Contains(l, ", 0x0") || strings.Contains(l, ", 0x1")) {
			return true
		}
	}

	resHi := idx + resultWindow + 1
	if resHi > len(lines) {
		resHi = len(lines)
	}
	for i := idx + 1; i < resHi; i++ {
		l := lines[i]
		if strings.Contains(l, "move-result") ||
			strings.Contains(l, "move ") ||
			strings.Contains(l, "sput") ||
			strings.Contains(l, "iput") {
			return true
		}
	}

	return false
}

// legacyBranchContext 旧版判定：±3 行内出现任意 if- 分支。
// 已被 inDecisionLogic 取代，仅供结果对比
func legacyBranchContext(lines []string, idx int) bool {
	lo := idx - legacyBranchWindow
	if lo < 0 {
		lo = 0
	}
	hi := idx + legacyBranchWindow + 1
	if hi > len(lines) {
		hi = len(lines)
	}
	for i := lo; i < hi; i++ {
		if strings.Contains(lines[i], "if-") {
			return true
		}
	}
	return false
}
