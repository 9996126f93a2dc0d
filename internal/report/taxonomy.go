package report

import (
	"strings"

	"github.com/apk-analysis/protection-scan-go/internal/slicing"
)

// inferStrategy 防护策略推断。
// 优先依据底层 sink 元数据（syscall 符号），再降级到证据文本特征
func inferStrategy(slice *slicing.Slice) string {
	if p := slice.Protection; p != nil && p.Candidate != nil && p.Candidate.Hit != nil {
		if sink := p.Candidate.Hit.Sink; sink != nil && sink.SyscallID != nil {
			return "Syscall / API-based"
		}
	}

	code := strings.Join(slice.CodeSnippet, " ")
	switch {
	case strings.Contains(code, "/proc/self/maps"):
		return "Memory-based"
	case strings.Contains(code, "/system"):
		return "File / Path-based"
	case strings.Contains(code, "CertificatePinner") || strings.Contains(code, "SSLContext"):
		return "API-based"
	case strings.Contains(strings.ToLower(code), "checksum"):
		return "Checksum-based"
	default:
		return "Control-flow-based"
	}
}

// mapTaxonomy 把证据切片映射为 4 维分类
func mapTaxonomy(slice *slicing.Slice) Taxonomy {
	return Taxonomy{
		Purpose:  slice.PatternType,
		Layer:    slice.Location.Layer,
		Strategy: inferStrategy(slice),
		Impact:   slice.ImpactHint,
	}
}
