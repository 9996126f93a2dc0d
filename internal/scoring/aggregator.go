package scoring

import "sort"

// MultiLevelScore 方法/类/应用三级聚合结果
type MultiLevelScore struct {
	MethodScores []MethodScore `json:"method_scores"`
	ClassScores  []ClassScore  `json:"class_scores"`
	App          AppScore      `json:"app_score"`
}

// Aggregate 将最终发现聚合为多级评分。
// 输出按类名、方法名排序，保证多次运行结果可比对
func Aggregate(appName string, findings []AppFinding) *MultiLevelScore {
	byClass := make(map[string]map[string][]float64)
	for _, f := range findings {
		if byClass[f.ClassName] == nil {
			byClass[f.ClassName] = make(map[string][]float64)
		}
		byClass[f.ClassName][f.MethodName] = append(byClass[f.ClassName][f.MethodName], f.Confidence)
	}

	classNames := make([]string, 0, len(byClass))
	for name := range byClass {
		classNames = append(classNames, name)
	}
	sort.Strings(classNames)

	var methodScores []MethodScore
	var classScores []ClassScore

	for _, className := range classNames {
		methods := byClass[className]
		methodNames := make([]string, 0, len(methods))
		for name := range methods {
			methodNames = append(methodNames, name)
		}
		sort.Strings(methodNames)

		var classMethods []MethodScore
		for _, methodName := range methodNames {
			ms := ScoreMethod(className, methodName, methods[methodName])
			classMethods = append(classMethods, ms)
		}

		methodScores = append(methodScores, classMethods...)
		classScores = append(classScores, ScoreClass(className, classMethods))
	}

	return &MultiLevelScore{
		MethodScores: methodScores,
		ClassScores:  classScores,
		App:          ScoreApp(appName, findings),
	}
}
