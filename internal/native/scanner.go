package native

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

// entropyThreshold 超过该熵值的 .so 视为加壳或加密
const entropyThreshold = 7.2

// stringIndicatorConfidence 字符串兜底命中的基础置信度
const stringIndicatorConfidence = 0.6

// nativeStringIndicators 字符串兜底指示器。
// 有序切片保证多次扫描的输出顺序一致
var nativeStringIndicators = []struct {
	Indicator string
	Risk      string
}{
	{"/proc/self/maps", "Memory-based Anti-Instrumentation"},
	{"SSL_set_custom_verify", "BoringSSL / Flutter SSL Pinning"},
	{"frida", "Frida Instrumentation Detection"},
	{"ptrace", "Anti-Debugging Logic"},
	{"TracerPid", "Debugger Status Check"},
	{"/system/bin/su", "Native Root Verification"},
}

var svcOperandRe = regexp.MustCompile(`(?:#|svc\s+)(0x[0-9a-fA-F]+|[0-9]+)`)

// BinaryScanner Native 二进制扫描器。
// 对每个 .so 执行三轮检查：熵分析、符号与字符串搜索、svc 指令解码
type BinaryScanner struct {
	registry *sinks.Registry
	logger   *logrus.Logger
}

// NewBinaryScanner 创建 Native 二进制扫描器
func NewBinaryScanner(registry *sinks.Registry, logger *logrus.Logger) *BinaryScanner {
	return &BinaryScanner{
		registry: registry,
		logger:   logger,
	}
}

// ScanDirectory 递归扫描目录下全部 .so 文件。
// 返回全部命中与发现的库文件名（用于框架识别）。
// 单个文件失败仅跳过，不中断整体扫描
func (s *BinaryScanner) ScanDirectory(dir string) ([]*sinks.Hit, []string) {
	var hits []*sinks.Hit
	var libNames []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(path, ".so") {
			return nil
		}

		libNames = append(libNames, filepath.Base(path))
		fileHits, scanErr := s.ScanBinary(path)
		if scanErr != nil {
			s.logger.WithError(scanErr).WithField("library", filepath.Base(path)).Warn("Skipping native binary")
			return nil
		}
		hits = append(hits, fileHits...)
		return nil
	})
	if err != nil {
		s.logger.WithError(err).WithField("dir", dir).Warn("Native directory walk failed")
	}

	return hits, libNames
}

// ScanBinary 扫描单个 .so 文件
func (s *BinaryScanner) ScanBinary(path string) ([]*sinks.Hit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	libName := filepath.Base(path)
	var hits []*sinks.Hit

	// 第一轮：熵分析，识别加壳/加密的二进制
	if entropy := CalculateEntropy(data); entropy > entropyThreshold {
		hits = append(hits, &sinks.Hit{
			Sink: &sinks.Definition{
				Name:  "packed_native_binary",
				Layer: sinks.LayerNative,
				Risk:  "Anti-Analysis",
			},
			Library:        libName,
			Offset:         "0x0",
			Evidence:       fmt.Sprintf("High Entropy: %.2f", entropy),
			Layer:          sinks.LayerNative,
			Conditional:    true,
			Arguments:      []string{libName},
			ContextSnippet: []string{fmt.Sprintf("Shannon entropy %.2f exceeds packing threshold", entropy)},
		})
	}

	// 第二轮：知识库符号搜索
	for _, sink := range s.registry.NativeSymbols() {
		offset := bytes.Index(data, []byte(sink.Name))
		if offset < 0 {
			continue
		}
		hits = append(hits, s.newHit(sink, libName, offset, sink.Name, true))
	}

	// 字符串兜底：同一偏移已被符号命中时让位
	for _, ind := range nativeStringIndicators {
		offset := bytes.Index(data, []byte(ind.Indicator))
		if offset < 0 {
			continue
		}
		offsetHex := "0x" + strconv.FormatInt(int64(offset), 16)
		if hitAtOffset(hits, offsetHex) {
			continue
		}
		synthetic := &sinks.Definition{
			Name:       ind.Indicator,
			Risk:       ind.Risk,
			Layer:      sinks.LayerNative,
			Confidence: stringIndicatorConfidence,
		}
		hits = append(hits, s.newHit(synthetic, libName, offset, ind.Indicator, false))
	}

	// 第三轮：反汇编并解码 svc 指令的 syscall 号
	hits = append(hits, s.scanSyscalls(DisassembleText(path), libName)...)

	return hits, nil
}

func hitAtOffset(hits []*sinks.Hit, offsetHex string) bool {
	for _, h := range hits {
		if h.Offset == offsetHex {
			return true
		}
	}
	return false
}

func (s *BinaryScanner) newHit(sink *sinks.Definition, libName string, offset int, evidence string, isSymbol bool) *sinks.Hit {
	offsetHex := "0x" + strconv.FormatInt(int64(offset), 16)
	return &sinks.Hit{
		Sink:           sink,
		Library:        libName,
		Offset:         offsetHex,
		Evidence:       evidence,
		Layer:          sinks.LayerNative,
		IsSymbol:       isSymbol,
		IsStringBased:  !isSymbol,
		Arguments:      []string{libName, evidence},
		ContextSnippet: []string{fmt.Sprintf("Binary Offset %s: %s", offsetHex, evidence)},
		// Native 安全检查几乎总是条件化的
		Conditional: true,
	}
}

// scanSyscalls 在反汇编行中查找 svc 指令并解码操作数
func (s *BinaryScanner) scanSyscalls(lines []string, libName string) []*sinks.Hit {
	var hits []*sinks.Hit

	for idx, line := range lines {
		lower := strings.ToLower(line)
		if !strings.Contains(lower, "svc") {
			continue
		}
		m := svcOperandRe.FindStringSubmatch(lower)
		if m == nil {
			continue
		}

		var syscallID int64
		var err error
		if strings.HasPrefix(m[1], "0x") {
			syscallID, err = strconv.ParseInt(m[1][2:], 16, 64)
		} else {
			syscallID, err = strconv.ParseInt(m[1], 10, 64)
		}
		if err != nil {
			continue
		}

		sink := s.registry.MatchNativeSyscall(int(syscallID))
		if sink == nil {
			continue
		}

		hits = append(hits, &sinks.Hit{
			Sink:           sink,
			Library:        libName,
			Offset:         "0x" + strconv.FormatInt(int64(idx), 16),
			Evidence:       strings.TrimSpace(line),
			Layer:          sinks.LayerNative,
			IsSyscall:      true,
			Arguments:      []string{fmt.Sprintf("Syscall ID: %d", syscallID)},
			ContextSnippet: []string{strings.TrimSpace(line)},
			Conditional:    true,
		})
	}
	return hits
}
