package analyzer

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/protection-scan-go/internal/decompiler"
	"github.com/apk-analysis/protection-scan-go/internal/localization"
	"github.com/apk-analysis/protection-scan-go/internal/native"
	"github.com/apk-analysis/protection-scan-go/internal/patterns"
	"github.com/apk-analysis/protection-scan-go/internal/report"
	"github.com/apk-analysis/protection-scan-go/internal/scanner"
	"github.com/apk-analysis/protection-scan-go/internal/scoring"
	"github.com/apk-analysis/protection-scan-go/internal/sinks"
	"github.com/apk-analysis/protection-scan-go/internal/slicing"
)

// defaultWorkers 类扫描的并发度
const defaultWorkers = 4

// Analyzer 防护机制分析主流水线。
// 串联扫描、模式识别、定位评分、证据切片与报告生成
type Analyzer struct {
	registry *sinks.Registry
	logger   *logrus.Logger
	workers  int

	// ExcludeLibraries 为 true 时剔除第三方库代码的发现
	ExcludeLibraries bool

	// UseLegacyDecisionRule 让扫描器退回旧版 ±3 行分支判定规则，
	// 仅用于与历史结果对比
	UseLegacyDecisionRule bool
}

// New 创建分析流水线。
// 知识库加载失败属于致命错误，由调用方在构造 Registry 时处理
func New(registry *sinks.Registry, logger *logrus.Logger) *Analyzer {
	return &Analyzer{
		registry: registry,
		logger:   logger,
		workers:  defaultWorkers,
	}
}

// Analyze 执行完整的六步分析流水线。
// 单步失败降级为空结果继续执行，永不向调用方抛出错误
func (a *Analyzer) Analyze(classes []*decompiler.DecompiledClass, sourceMap map[string][]string, nativeDir string) ([]*report.FinalFinding, map[string]*report.GroupedFinding) {
	findings := []*report.FinalFinding{}
	grouped := map[string]*report.GroupedFinding{}

	// Step 2: 托管层与原生层静态扫描
	var managedHits, nativeHits []*sinks.Hit
	var frameworks []string
	if err := a.runStage("static scanning", func() {
		managedHits = a.scanClasses(classes)

		if nativeDir != "" {
			binScanner := native.NewBinaryScanner(a.registry, a.logger)
			var libNames []string
			nativeHits, libNames = binScanner.ScanDirectory(nativeDir)
			frameworks = native.IdentifyFrameworks(libNames)
		}
	}); err != nil {
		managedHits, nativeHits, frameworks = nil, nil, nil
	}

	allHits := make([]*sinks.Hit, 0, len(managedHits)+len(nativeHits))
	allHits = append(allHits, managedHits...)
	allHits = append(allHits, nativeHits...)
	sortHits(allHits)

	a.logger.WithFields(logrus.Fields{
		"managed_hits": len(managedHits),
		"native_hits":  len(nativeHits),
		"frameworks":   frameworks,
	}).Info("Static scanning completed")

	// Step 3: 防护模式识别
	var candidates []*patterns.Candidate
	if err := a.runStage("pattern recognition", func() {
		engine := patterns.NewEngine(a.registry, a.logger)
		candidates = engine.Analyze(allHits, &patterns.Context{Frameworks: frameworks})
	}); err != nil {
		return findings, grouped
	}
	a.logger.WithField("candidates", len(candidates)).Info("Pattern recognition completed")

	// Step 4: 定位与形式化评分
	var localized []*localization.LocalizedProtection
	if err := a.runStage("localization", func() {
		localized = localization.NewPipeline(a.logger).Process(candidates)
	}); err != nil {
		localized = nil
	}

	// Step 5: 基于证据的代码切片
	var slices []*slicing.Slice
	if err := a.runStage("evidence slicing", func() {
		slices = a.sliceEvidence(localized, sourceMap)
	}); err != nil {
		slices = nil
	}
	a.logger.WithField("slices", len(slices)).Info("Evidence slicing completed")

	// Step 6: 分类映射与报告生成
	if err := a.runStage("report generation", func() {
		findings = report.FilterLibraryFindings(report.Build(slices), a.ExcludeLibraries)
		grouped = report.Group(findings)
	}); err != nil {
		findings = []*report.FinalFinding{}
		grouped = map[string]*report.GroupedFinding{}
	}

	a.logger.WithFields(logrus.Fields{
		"findings": len(findings),
		"groups":   len(grouped),
	}).Info("Analysis pipeline completed")

	return findings, grouped
}

// scanClasses 对类列表做并发扫描，完成后按类/方法/行号排序恢复确定性
func (a *Analyzer) scanClasses(classes []*decompiler.DecompiledClass) []*sinks.Hit {
	methodScanner := scanner.NewScanner(a.registry, a.logger)
	methodScanner.UseLegacyDecisionRule = a.UseLegacyDecisionRule

	var mu sync.Mutex
	var hits []*sinks.Hit

	jobs := make(chan *decompiler.DecompiledClass, len(classes))
	var wg sync.WaitGroup

	for i := 0; i < a.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cls := range jobs {
				for _, method := range cls.Methods {
					found := methodScanner.ScanMethod(cls.Name, method.Name, method.CodeLines)
					if len(found) == 0 {
						continue
					}
					mu.Lock()
					hits = append(hits, found...)
					mu.Unlock()
				}
			}
		}()
	}

	for _, cls := range classes {
		jobs <- cls
	}
	close(jobs)
	wg.Wait()

	sortHits(hits)
	return hits
}

// sliceEvidence 逐候选生成证据切片，失败的候选被丢弃。
// 托管层源码取自 sourceMap，原生层取自命中时记录的上下文
func (a *Analyzer) sliceEvidence(localized []*localization.LocalizedProtection, sourceMap map[string][]string) []*slicing.Slice {
	slicer := slicing.NewSlicer(a.logger)
	slices := make([]*slicing.Slice, 0, len(localized))

	for _, lp := range localized {
		source := sourceMap[lp.Location.Class]
		if lp.Location.Layer == sinks.LayerNative && lp.Candidate != nil && lp.Candidate.Hit != nil {
			source = lp.Candidate.Hit.ContextSnippet
		}

		slice, err := slicer.Process(lp, source)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"pattern": lp.PatternType,
				"class":   lp.Location.Class,
				"error":   err,
			}).Warn("Dropping candidate after slicing failure")
			continue
		}
		slices = append(slices, slice)
	}
	return slices
}

// AggregateScores 把最终发现聚合为方法/类/应用三级评分
func AggregateScores(appName string, findings []*report.FinalFinding) *scoring.MultiLevelScore {
	appFindings := make([]scoring.AppFinding, 0, len(findings))
	for _, f := range findings {
		appFindings = append(appFindings, scoring.AppFinding{
			ProtectionType: f.ProtectionType,
			ClassName:      f.Location.Class,
			MethodName:     f.Location.Method,
			Confidence:     f.ConfidenceScore,
		})
	}
	return scoring.Aggregate(appName, appFindings)
}

// runStage 运行单个流水线阶段并拦截 panic，失败不影响后续阶段
func (a *Analyzer) runStage(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s failed: %v", name, r)
			a.logger.WithFields(logrus.Fields{
				"stage": name,
				"error": r,
			}).Error("Pipeline stage failed, degrading to empty result")
		}
	}()
	fn()
	return nil
}

// sortHits 按类、方法、行号排序；原生命中按库名与偏移排序
func sortHits(hits []*sinks.Hit) {
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.ClassName != b.ClassName {
			return a.ClassName < b.ClassName
		}
		if a.MethodName != b.MethodName {
			return a.MethodName < b.MethodName
		}
		if a.LineNumber != b.LineNumber {
			return a.LineNumber < b.LineNumber
		}
		if a.Library != b.Library {
			return a.Library < b.Library
		}
		return a.Offset < b.Offset
	})
}
