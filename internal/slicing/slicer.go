package slicing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/localization"
	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

const (
	// sinkScanLimit 从上报行向下寻找真实 sink 指令的行数上限
	sinkScanLimit = 15
	// decisionScanLimit 从 sink 向下寻找决策点的行数上限
	decisionScanLimit = 30
	// secondInvokeCutoff 距 sink 超过该行数且已见第二个 invoke 时提前放弃
	secondInvokeCutoff = 15
	// contextWindow 快照上下文窗口
	contextWindow = 8
	// nativeWindow Native 反汇编快照半径
	nativeWindow = 5
	// fingerprintLen 证据指纹取渲染内容的前缀长度
	fingerprintLen = 200
)

// executableOpcodes 视为"真实执行"的 smali 指令前缀
var executableOpcodes = []string{
	"invoke-", "const-string", "if-", "check-cast",
	"new-instance", "sget", "iget", "return", "throw",
}

// decisionInstructions 决策点指令，检测结果的消费端
var decisionInstructions = []string{
	"if-eqz", "if-nez", "if-eq", "if-ne", "if-lt", "if-gt", "if-le", "if-ge",
	"sparse-switch", "packed-switch",
	"return", "throw",
}

// Slice 渲染后的证据切片
type Slice struct {
	PatternType      string                `json:"pattern_type"`
	ImpactHint       string                `json:"impact_hint"`
	Location         localization.Location `json:"location"`
	CodeSnippet      []string              `json:"code_snippet"`
	HighlightedLines []int                 `json:"highlighted_lines"`
	SemanticLabel    string                `json:"semantic_label"`
	Confidence       float64               `json:"confidence_score"`

	// Protection 底层定位结果，报告层据此推断防护策略
	Protection *localization.LocalizedProtection `json:"-"`
}

// Slicer 证据切片引擎。
// 指纹缓存随实例生命周期，每次分析运行新建一个 Slicer，
// 重复或并发分析互不串扰
type Slicer struct {
	logger       *logrus.Logger
	fingerprints map[string]bool
}

// NewSlicer 创建切片引擎（每次分析一个实例）
func NewSlicer(logger *logrus.Logger) *Slicer {
	return &Slicer{
		logger:       logger,
		fingerprints: make(map[string]bool),
	}
}

// Process 为单个定位结果生成证据切片。
// source 为托管类的完整原始行序列或 Native 反汇编行；
// 失败时返回错误，调用方丢弃该候选
func (s *Slicer) Process(lp *localization.LocalizedProtection, source []string) (slice *Slice, err error) {
	defer func() {
		if r := recover(); r != nil {
			slice = nil
			err = fmt.Errorf("slicing panic: %v", r)
		}
	}()

	var snippet []string
	var highlights []int

	switch {
	case len(source) == 0:
		snippet = []string{"// Source code not available for this component"}
	case lp.Location.Layer == sinks.LayerNative:
		snippet, highlights = s.sliceNative(source, lp.Location.NativeOffset)
	default:
		snippet, highlights = s.sliceManaged(source, lp.Location.Line)
	}

	// 同一类+方法内指纹重复的证据降噪为占位行
	key := lp.Location.Class + "|" + lp.Location.Method + "|" + fingerprint(snippet)
	if s.fingerprints[key] {
		snippet = []string{"// Duplicate evidence filtered (identical logic already reported in this method)"}
		highlights = nil
	} else {
		s.fingerprints[key] = true
	}

	return &Slice{
		PatternType:      lp.PatternType,
		ImpactHint:       lp.ImpactHint,
		Location:         lp.Location,
		CodeSnippet:      snippet,
		HighlightedLines: highlights,
		SemanticLabel:    Label(lp.PatternType),
		Confidence:       lp.Confidence,
		Protection:       lp,
	}, nil
}

// sliceManaged 托管层切片：定位 sink，向下找决策点，
// sink 用 [*] 标注、决策点用 [!] 标注
func (s *Slicer) sliceManaged(lines []string, lineNumber int) ([]string, []int) {
	rawIdx := lineNumber - 1
	if rawIdx < 0 {
		rawIdx = 0
	}
	sinkIdx := findSink(lines, rawIdx)
	decisionIdx := findDecisionPoint(lines, sinkIdx)

	start := sinkIdx - contextWindow
	if start < 0 {
		start = 0
	}
	end := sinkIdx + contextWindow + 1
	if decisionIdx >= 0 {
		end = decisionIdx + contextWindow + 1
	}
	if end > len(lines) {
		end = len(lines)
	}

	var snippet []string
	var highlights []int

	for i := start; i < end; i++ {
		content := strings.TrimRight(lines[i], " \t")
		prefix := "    "

		switch {
		case i == sinkIdx:
			prefix = "[*] "
			if trimmed := strings.TrimSpace(content); trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				highlights = append(highlights, i-start)
			}
		case decisionIdx >= 0 && i == decisionIdx:
			prefix = "[!] "
			if trimmed := strings.TrimSpace(content); trimmed != "" && !strings.HasPrefix(trimmed, "#") {
				highlights = append(highlights, i-start)
			}
		}

		snippet = append(snippet, fmt.Sprintf("L%04d %s %s", i+1, prefix, content))
	}
	return snippet, highlights
}

// findSink 从上报行向下找第一条可执行指令。
// 反编译行号与指令行常有漂移，容忍前导元数据与注释；
// 全程未见可执行指令时退回第一个非注释行
func findSink(lines []string, rawIdx int) int {
	fallbackIdx := -1

	limit := rawIdx + sinkScanLimit
	if limit > len(lines) {
		limit = len(lines)
	}
	for i := rawIdx; i < limit; i++ {
		content := strings.TrimSpace(lines[i])
		if content == "" || strings.HasPrefix(content, "#") {
			continue
		}
		if strings.HasPrefix(content, ".") {
			if fallbackIdx < 0 && !containsOpcode(content) &&
				(strings.Contains(content, "=") || strings.Contains(content, ":") || len(content) > 20) {
				fallbackIdx = i
			}
			continue
		}
		if strings.Contains(content, "const-string") || strings.Contains(content, "invoke-") {
			return i
		}
		if fallbackIdx < 0 {
			fallbackIdx = i
		}
	}

	if fallbackIdx >= 0 {
		return fallbackIdx
	}
	return rawIdx
}

// findDecisionPoint 从 sink 向下扫描消费检测结果的决策指令。
// 追踪 sink 之后的第一个 invoke；出现第二个 invoke 且已远离 sink
// 超过 15 行时放弃（大概率已进入无关逻辑）。未找到返回 -1
func findDecisionPoint(lines []string, sinkIdx int) int {
	firstInvokeSeen := false

	limit := sinkIdx + decisionScanLimit
	if limit > len(lines) {
		limit = len(lines)
	}
	for i := sinkIdx + 1; i < limit; i++ {
		content := strings.TrimSpace(lines[i])
		if content == "" || strings.HasPrefix(content, "#") || strings.HasPrefix(content, ".") {
			continue
		}

		for _, op := range decisionInstructions {
			if strings.Contains(content, op) {
				return i
			}
		}

		if strings.Contains(content, "invoke-") {
			if !firstInvokeSeen {
				firstInvokeSeen = true
			} else if i > sinkIdx+secondInvokeCutoff {
				break
			}
		}
	}
	return -1
}

// sliceNative Native 层切片：以字节偏移为中心取固定窗口，
// 每行加合成十六进制地址，不做决策点搜索
func (s *Slicer) sliceNative(lines []string, offsetHex string) ([]string, []int) {
	offset := parseHexOffset(offsetHex)
	if offset >= len(lines) {
		offset = len(lines) - 1
	}
	if offset < 0 {
		offset = 0
	}

	start := offset - nativeWindow
	if start < 0 {
		start = 0
	}
	end := offset + nativeWindow + 1
	if end > len(lines) {
		end = len(lines)
	}

	var snippet []string
	for i := start; i < end; i++ {
		snippet = append(snippet, fmt.Sprintf("0x%08x: %s", i, strings.TrimSpace(lines[i])))
	}
	return snippet, []int{offset - start}
}

func parseHexOffset(offsetHex string) int {
	v, err := strconv.ParseInt(strings.TrimPrefix(offsetHex, "0x"), 16, 64)
	if err != nil {
		return 0
	}
	return int(v)
}

func containsOpcode(content string) bool {
	for _, op := range executableOpcodes {
		if strings.Contains(content, op) {
			return true
		}
	}
	return false
}

// fingerprint 渲染内容的前 200 字符，作为同方法内的去重指纹
func fingerprint(snippet []string) string {
	joined := strings.Join(snippet, "\n")
	if len(joined) > fingerprintLen {
		return joined[:fingerprintLen]
	}
	return joined
}
