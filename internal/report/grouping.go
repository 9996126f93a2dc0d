package report

// GroupKey 聚合键：类型|语义标签|策略
func GroupKey(f *FinalFinding) string {
	return f.ProtectionType + "|" + f.SemanticLabel + "|" + f.Taxonomy.Strategy
}

// Group 按（类型、语义标签、策略）聚合发现。
// 每组保留所有不同位置与观察到的最高置信度
func Group(findings []*FinalFinding) map[string]*GroupedFinding {
	grouped := make(map[string]*GroupedFinding)

	for _, f := range findings {
		key := GroupKey(f)

		g, ok := grouped[key]
		if !ok {
			g = &GroupedFinding{
				ProtectionType:         f.ProtectionType,
				SemanticLabel:          f.SemanticLabel,
				Taxonomy:               f.Taxonomy,
				MaxScore:               f.ConfidenceScore,
				RepresentativeEvidence: f.EvidenceSnippet,
			}
			grouped[key] = g
		}

		if !hasLocation(g, f.Location.FullSignature, f.Location.Line) {
			g.Locations = append(g.Locations, f.Location)
		}
		if f.ConfidenceScore > g.MaxScore {
			g.MaxScore = f.ConfidenceScore
		}
	}
	return grouped
}

func hasLocation(g *GroupedFinding, fullSignature string, line int) bool {
	for _, loc := range g.Locations {
		if loc.FullSignature == fullSignature && loc.Line == line {
			return true
		}
	}
	return false
}
