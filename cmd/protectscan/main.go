package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/apk-analysis/protection-scan-go/internal/analyzer"
	"github.com/apk-analysis/protection-scan-go/internal/decompiler"
	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

var (
	flagAPK          string
	flagDir          string
	flagOut          string
	flagCatalog      string
	flagIndicators   string
	flagApktool      string
	flagAppName      string
	flagExcludeLibs  bool
	flagLegacyRule   bool
	flagKeepWorkDir  bool
	flagLogLevel     string
	flagPrettyOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "protectscan",
	Short: "离线扫描 APK 的自我保护机制",
	Long: `protectscan 对单个 APK（或已反编译的目录）做静态防护机制扫描，
输出 Root/模拟器检测、反调试、SSL pinning、完整性校验等发现及多级评分。

不依赖数据库和消息队列，适合本地分析和 CI 集成。`,
	SilenceUsage: true,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "扫描 APK 或反编译目录，输出 JSON 报告",
	RunE: func(cmd *cobra.Command, args []string) error {
		if (flagAPK == "") == (flagDir == "") {
			return fmt.Errorf("必须且只能指定 --apk 或 --dir 之一")
		}
		return runScan()
	},
}

var sinksCmd = &cobra.Command{
	Use:   "sinks",
	Short: "列出已加载的 sink 知识库条目",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()
		registry, err := sinks.NewRegistry(flagCatalog, flagIndicators, logger)
		if err != nil {
			return fmt.Errorf("failed to load sink catalog: %w", err)
		}

		for _, def := range registry.AllSinks() {
			fmt.Printf("%-55s layer=%-7s risk=%s\n", def.Name, def.Layer, def.Risk)
		}
		fmt.Printf("\n%d sinks loaded\n", len(registry.AllSinks()))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagCatalog, "catalog", "", "sink 知识库 JSON 路径（留空使用内置目录）")
	rootCmd.PersistentFlags().StringVar(&flagIndicators, "indicators", "", "指示器 JSON 路径（留空使用内置指示器）")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "日志级别 (debug, info, warn, error)")

	scanCmd.Flags().StringVar(&flagAPK, "apk", "", "APK 文件路径（需要 apktool）")
	scanCmd.Flags().StringVar(&flagDir, "dir", "", "apktool 反编译输出目录")
	scanCmd.Flags().StringVarP(&flagOut, "out", "o", "report.json", "报告输出路径")
	scanCmd.Flags().StringVar(&flagApktool, "apktool", "apktool", "apktool 可执行文件路径")
	scanCmd.Flags().StringVar(&flagAppName, "app-name", "", "应用名（默认取输入文件名）")
	scanCmd.Flags().BoolVar(&flagExcludeLibs, "exclude-libraries", false, "剔除第三方库代码中的发现")
	scanCmd.Flags().BoolVar(&flagLegacyRule, "legacy-branch-rule", false, "使用旧版 ±3 行分支判定规则（结果对比用）")
	scanCmd.Flags().BoolVar(&flagKeepWorkDir, "keep-work-dir", false, "保留 apktool 解包目录")
	scanCmd.Flags().BoolVar(&flagPrettyOutput, "pretty", true, "JSON 缩进输出")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(sinksCmd)
}

func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(flagLogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// scanReport CLI 报告结构
type scanReport struct {
	AppName     string      `json:"app_name"`
	Source      string      `json:"source"`
	ScannedAt   time.Time   `json:"scanned_at"`
	ClassCount  int         `json:"class_count"`
	Findings    interface{} `json:"findings"`
	Grouped     interface{} `json:"grouped"`
	Scores      interface{} `json:"scores"`
	DurationMs  int64       `json:"duration_ms"`
	SinkCount   int         `json:"sink_count"`
	NativeScans bool        `json:"native_scans"`
}

func runScan() error {
	logger := newLogger()
	start := time.Now()

	registry, err := sinks.NewRegistry(flagCatalog, flagIndicators, logger)
	if err != nil {
		return fmt.Errorf("failed to load sink catalog: %w", err)
	}

	var (
		classes   []*decompiler.DecompiledClass
		sourceMap map[string][]string
		workDir   string
		source    string
	)

	if flagAPK != "" {
		source = flagAPK
		decomp := decompiler.NewDecompiler(logger, flagApktool)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		classes, sourceMap, workDir, err = decomp.Decompile(ctx, flagAPK)
		if err != nil {
			return fmt.Errorf("decompile failed: %w", err)
		}
		if !flagKeepWorkDir {
			defer os.RemoveAll(workDir)
		} else {
			logger.WithField("work_dir", workDir).Info("Keeping apktool output directory")
		}
	} else {
		source = flagDir
		workDir = flagDir
		classes, sourceMap, err = decompiler.LoadSmaliTree(flagDir)
		if err != nil {
			return fmt.Errorf("failed to load smali tree: %w", err)
		}
	}

	logger.WithField("class_count", len(classes)).Info("Smali classes loaded")

	a := analyzer.New(registry, logger)
	a.ExcludeLibraries = flagExcludeLibs
	a.UseLegacyDecisionRule = flagLegacyRule

	nativeDir := filepath.Join(workDir, "lib")
	if _, statErr := os.Stat(nativeDir); os.IsNotExist(statErr) {
		nativeDir = ""
	}

	findings, grouped := a.Analyze(classes, sourceMap, nativeDir)

	appName := flagAppName
	if appName == "" {
		appName = strings.TrimSuffix(filepath.Base(source), ".apk")
	}
	scores := analyzer.AggregateScores(appName, findings)

	rpt := &scanReport{
		AppName:     appName,
		Source:      source,
		ScannedAt:   time.Now().UTC(),
		ClassCount:  len(classes),
		Findings:    findings,
		Grouped:     grouped,
		Scores:      scores,
		DurationMs:  time.Since(start).Milliseconds(),
		SinkCount:   len(registry.AllSinks()),
		NativeScans: nativeDir != "",
	}

	var data []byte
	if flagPrettyOutput {
		data, err = json.MarshalIndent(rpt, "", "  ")
	} else {
		data, err = json.Marshal(rpt)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(flagOut, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"findings": len(findings),
		"grouped":  len(grouped),
		"out":      flagOut,
		"duration": time.Since(start).String(),
	}).Info("Scan completed")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
