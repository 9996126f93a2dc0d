package report

import (
	"strings"

	"github.com/apk-analysis/protection-scan-go/internal/slicing"
)

// thirdPartyLibraryPrefixes 常见第三方库的包前缀。
// 命中这些前缀的发现标记为库代码，降低对应用自身防护评估的干扰
var thirdPartyLibraryPrefixes = []string{
	"okhttp3",
	"retrofit2",
	"com.squareup",
	"com.google.gson",
	"com.fasterxml.jackson",
	"org.json",
	"com.bumptech.glide",
	"com.nostra13.universalimageloader",
	"io.reactivex",
	"rx.android",
	"com.google.firebase",
	"com.google.android.gms",
	"androidx",
	"android.support",
	"android.arch",
	"org.apache",
	"com.google.guava",
	"junit",
	"org.junit",
	"org.mockito",
	"org.hamcrest",
}

// IsLibraryCode 类是否属于已知第三方库
func IsLibraryCode(className string) bool {
	for _, prefix := range thirdPartyLibraryPrefixes {
		if strings.HasPrefix(className, prefix) {
			return true
		}
	}
	return false
}

// Build 把证据切片转换为最终发现列表，并标记归属
func Build(slices []*slicing.Slice) []*FinalFinding {
	findings := make([]*FinalFinding, 0, len(slices))

	for _, s := range slices {
		f := &FinalFinding{
			ProtectionType:  s.PatternType,
			Taxonomy:        mapTaxonomy(s),
			Location:        s.Location,
			SemanticLabel:   s.SemanticLabel,
			ConfidenceScore: s.Confidence,
			EvidenceSnippet: s.CodeSnippet,
			Origin:          "application",
		}
		if IsLibraryCode(s.Location.Class) {
			f.Origin = "library"
			f.OriginNote = "Third-party library - may not reflect app's own protections"
		}
		findings = append(findings, f)
	}
	return findings
}

// FilterLibraryFindings 可选地剔除第三方库的发现
func FilterLibraryFindings(findings []*FinalFinding, excludeLibraries bool) []*FinalFinding {
	if !excludeLibraries {
		return findings
	}
	out := make([]*FinalFinding, 0, len(findings))
	for _, f := range findings {
		if f.Origin != "library" {
			out = append(out, f)
		}
	}
	return out
}
