package report

import "github.com/apk-analysis/protection-scan-go/internal/localization"

// Taxonomy 4 维分类：目的、层级、策略、影响
type Taxonomy struct {
	Purpose  string `json:"purpose"`
	Layer    string `json:"layer"`
	Strategy string `json:"strategy"`
	Impact   string `json:"impact"`
}

// FinalFinding 报告中的单条最终发现
type FinalFinding struct {
	ProtectionType  string                `json:"protection_type"`
	Taxonomy        Taxonomy              `json:"taxonomy"`
	Location        localization.Location `json:"location"`
	SemanticLabel   string                `json:"semantic_label"`
	ConfidenceScore float64               `json:"confidence_score"`
	EvidenceSnippet []string              `json:"evidence_snippet"`

	// Origin 发现归属：应用自身代码或第三方库
	Origin     string `json:"origin"`
	OriginNote string `json:"origin_note,omitempty"`
}

// GroupedFinding 按（类型、语义标签、策略）聚合后的发现
type GroupedFinding struct {
	ProtectionType         string                  `json:"protection_type"`
	SemanticLabel          string                  `json:"semantic_label"`
	Taxonomy               Taxonomy                `json:"taxonomy"`
	MaxScore               float64                 `json:"max_score"`
	Locations              []localization.Location `json:"locations"`
	RepresentativeEvidence []string                `json:"representative_evidence,omitempty"`
}
