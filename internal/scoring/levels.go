package scoring

import "math"

// 复杂度等级
const (
	SophisticationNone          = "none"
	SophisticationSimple        = "simple"
	SophisticationModerate      = "moderate"
	SophisticationAdvanced      = "advanced"
	SophisticationSophisticated = "sophisticated"
)

// MethodScore 方法级聚合分
type MethodScore struct {
	ClassName           string  `json:"class_name"`
	MethodName          string  `json:"method_name"`
	NumSignals          int     `json:"num_signals"`
	AvgSignalConfidence float64 `json:"avg_signal_confidence"`
	MaxSignalConfidence float64 `json:"max_signal_confidence"`
	MethodConfidence    float64 `json:"method_confidence"`
	Sophistication      string  `json:"sophistication_level"`
}

// ClassScore 类级聚合分
type ClassScore struct {
	ClassName            string  `json:"class_name"`
	NumMethods           int     `json:"num_methods"`
	NumProtectionMethods int     `json:"num_protection_methods"`
	AvgMethodConfidence  float64 `json:"avg_method_confidence"`
	ClassConfidence      float64 `json:"class_confidence"`
	ProtectionCoverage   float64 `json:"protection_coverage"`
	Sophistication       string  `json:"sophistication_level"`
}

// AppScore 应用级安全态势
type AppScore struct {
	AppName                string         `json:"app_name"`
	TotalFindings          int            `json:"total_findings"`
	AvgConfidence          float64        `json:"avg_confidence"`
	MaxConfidence          float64        `json:"max_confidence"`
	ProtectionTypes        map[string]int `json:"protection_types"`
	ConfidenceDistribution map[string]int `json:"confidence_distribution"`
	SophisticationScore    float64        `json:"sophistication_score"`
	MultiLayerProtections  int            `json:"multi_layer_protections"`
	DefenseBreadth         int            `json:"defense_breadth"`
	DefenseDepth           float64        `json:"defense_depth"`
	OverallTier            string         `json:"overall_tier"`
}

var sophisticationRank = map[string]float64{
	SophisticationSimple:        1,
	SophisticationModerate:      2,
	SophisticationAdvanced:      3,
	SophisticationSophisticated: 4,
}

var methodSophisticationBonus = map[string]float64{
	SophisticationSimple:        0.2,
	SophisticationModerate:      0.5,
	SophisticationAdvanced:      0.75,
	SophisticationSophisticated: 1.0,
}

var classSophisticationBonus = map[string]float64{
	SophisticationSimple:        0.2,
	SophisticationModerate:      0.5,
	SophisticationAdvanced:      0.8,
	SophisticationSophisticated: 1.0,
}

// ScoreMethod 方法级评分：0.4·avg + 0.3·max + 0.3·复杂度加成
func ScoreMethod(className, methodName string, confidences []float64) MethodScore {
	if len(confidences) == 0 {
		return MethodScore{
			ClassName:      className,
			MethodName:     methodName,
			Sophistication: SophisticationNone,
		}
	}

	sum, max := 0.0, 0.0
	for _, c := range confidences {
		sum += c
		if c > max {
			max = c
		}
	}
	n := len(confidences)
	avg := sum / float64(n)

	var sophistication string
	switch {
	case n == 1:
		sophistication = SophisticationSimple
	case n <= 3 && max >= 0.7:
		sophistication = SophisticationModerate
	case n <= 5 && max >= 0.8:
		sophistication = SophisticationAdvanced
	default:
		sophistication = SophisticationSophisticated
	}

	return MethodScore{
		ClassName:           className,
		MethodName:          methodName,
		NumSignals:          n,
		AvgSignalConfidence: round2(avg),
		MaxSignalConfidence: max,
		MethodConfidence:    round2(avg*0.4 + max*0.3 + methodSophisticationBonus[sophistication]*0.3),
		Sophistication:      sophistication,
	}
}

// ScoreClass 类级评分：0.5·avg + 0.3·覆盖率 + 0.2·复杂度加成
func ScoreClass(className string, methods []MethodScore) ClassScore {
	if len(methods) == 0 {
		return ClassScore{ClassName: className, Sophistication: SophisticationNone}
	}

	var protection []MethodScore
	for _, m := range methods {
		if m.MethodConfidence > 0 {
			protection = append(protection, m)
		}
	}

	avg := 0.0
	if len(protection) > 0 {
		sum := 0.0
		for _, m := range protection {
			sum += m.MethodConfidence
		}
		avg = sum / float64(len(protection))
	}

	coverage := float64(len(protection)) / float64(len(methods))

	// 复杂度取保护方法等级（1-4）的均值分桶
	avgRank := 0.0
	if len(protection) > 0 {
		sum := 0.0
		for _, m := range protection {
			sum += sophisticationRank[m.Sophistication]
		}
		avgRank = sum / float64(len(protection))
	}

	var sophistication string
	switch {
	case avgRank >= 3:
		sophistication = SophisticationSophisticated
	case avgRank >= 2.5:
		sophistication = SophisticationAdvanced
	case avgRank >= 1.5:
		sophistication = SophisticationModerate
	default:
		sophistication = SophisticationSimple
	}

	return ClassScore{
		ClassName:            className,
		NumMethods:           len(methods),
		NumProtectionMethods: len(protection),
		AvgMethodConfidence:  round2(avg),
		ClassConfidence:      round2(avg*0.5 + coverage*0.3 + classSophisticationBonus[sophistication]*0.2),
		ProtectionCoverage:   round2(coverage),
		Sophistication:       sophistication,
	}
}

// AppFinding 聚合评分的最小输入视图
type AppFinding struct {
	ProtectionType string
	ClassName      string
	MethodName     string
	Confidence     float64
}

// ScoreApp 应用级评分：
// 复杂度 = 0.4·均值置信度 + 0.3·min(广度/5,1) + 0.3·min(深度/3,1)
func ScoreApp(appName string, findings []AppFinding) AppScore {
	if len(findings) == 0 {
		return AppScore{
			AppName:                appName,
			ProtectionTypes:        map[string]int{},
			ConfidenceDistribution: map[string]int{},
			OverallTier:            "Low",
		}
	}

	sum, max := 0.0, 0.0
	types := make(map[string]int)
	distribution := map[string]int{"high": 0, "medium": 0, "low": 0}
	classes := make(map[string]bool)

	for _, f := range findings {
		sum += f.Confidence
		if f.Confidence > max {
			max = f.Confidence
		}
		types[f.ProtectionType]++
		classes[f.ClassName] = true

		switch {
		case f.Confidence >= 0.8:
			distribution["high"]++
		case f.Confidence >= 0.6:
			distribution["medium"]++
		default:
			distribution["low"]++
		}
	}

	avg := sum / float64(len(findings))
	breadth := len(types)
	depth := 0.0
	if len(classes) > 0 {
		depth = float64(len(findings)) / float64(len(classes))
	}

	breadthFactor := math.Min(float64(breadth)/5, 1.0)
	depthFactor := math.Min(depth/3, 1.0)
	sophistication := round2(avg*0.4 + breadthFactor*0.3 + depthFactor*0.3)

	var tier string
	switch {
	case sophistication >= 0.8:
		tier = "Very High"
	case sophistication >= 0.6:
		tier = "High"
	case sophistication >= 0.4:
		tier = "Medium"
	default:
		tier = "Low"
	}

	return AppScore{
		AppName:                appName,
		TotalFindings:          len(findings),
		AvgConfidence:          round2(avg),
		MaxConfidence:          max,
		ProtectionTypes:        types,
		ConfidenceDistribution: distribution,
		SophisticationScore:    sophistication,
		MultiLayerProtections:  len(classes),
		DefenseBreadth:         breadth,
		DefenseDepth:           round2(depth),
		OverallTier:            tier,
	}
}
