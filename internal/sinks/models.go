package sinks

import "fmt"

// MatchType Sink 匹配方式
type MatchType string

const (
	MatchFQN    MatchType = "fqn"    // 全限定名包含匹配（容忍混淆的部分限定名）
	MatchRegex  MatchType = "regex"  // 正则搜索
	MatchNative MatchType = "native" // Native 符号精确匹配
	MatchPath   MatchType = "path"   // 路径子串匹配
)

// Layer 代码层级
const (
	// LayerManaged 托管字节码层。报告中沿用历史标签 "Java" 以保持输出 schema 兼容
	LayerManaged = "Java"
	LayerNative  = "Native"
)

// ContextHint 双重用途 Sink 的上下文提示
type ContextHint struct {
	SuspiciousArgs []string `json:"suspicious_args"`
}

// Definition 安全敏感 Sink 定义，加载后不可变
type Definition struct {
	Name        string       `json:"name"`
	MatchType   MatchType    `json:"match_type"`
	Risk        string       `json:"risk"`
	Layer       string       `json:"layer"`
	SyscallID   *int         `json:"syscall_id,omitempty"`
	DualUse     bool         `json:"dual_use,omitempty"`
	ContextHint *ContextHint `json:"context_hint,omitempty"`

	// Confidence 仅用于合成的字符串指示器 Sink（0.8）
	Confidence float64 `json:"confidence,omitempty"`
	// StringMatch 标记该定义由字符串指示器合成
	StringMatch bool `json:"-"`
}

// Hit 一次 Sink 命中。由扫描器创建，分类引擎消费；
// 创建后除 Caller 补充外不再修改
type Hit struct {
	Sink       *Definition `json:"sink"`
	ClassName  string      `json:"class_name"`
	MethodName string      `json:"method_name"`
	LineNumber int         `json:"line_number"`

	Arguments      []string `json:"arguments"`
	Conditional    bool     `json:"conditional"`
	Obfuscated     bool     `json:"obfuscated"`
	ContextSnippet []string `json:"context_snippet,omitempty"`
	Layer          string   `json:"layer"`
	Caller         string   `json:"caller,omitempty"`

	// 评分信号（构造时一次性填充，下游直接读取）
	HasStringMatch  bool    `json:"has_string_match,omitempty"`
	ContextStrength float64 `json:"context_strength,omitempty"`

	// Native 层专属字段
	Library       string `json:"library,omitempty"`
	Offset        string `json:"offset,omitempty"`
	Evidence      string `json:"evidence,omitempty"`
	IsSyscall     bool   `json:"is_syscall,omitempty"`
	IsSymbol      bool   `json:"is_symbol,omitempty"`
	IsStringBased bool   `json:"is_string_based,omitempty"`
}

// IsNative 命中是否位于 Native 层
func (h *Hit) IsNative() bool {
	return h.Layer == LayerNative
}

// LocationKey 位置指纹，分类引擎据此去重。
// 托管层为 class|method|line，Native 层为 library|offset
func (h *Hit) LocationKey() string {
	if h.IsNative() && h.Library != "" {
		return h.Library + "|" + h.Offset
	}
	return fmt.Sprintf("%s|%s|%d", h.ClassName, h.MethodName, h.LineNumber)
}

// BuildProperties 模拟器构建属性指示器分组
type BuildProperties struct {
	Fingerprint []string `json:"fingerprint"`
	Model       []string `json:"model"`
	Device      []string `json:"device"`
}

// RootIndicators Root 检测指示器分组
type RootIndicators struct {
	PackageChecks       []string `json:"package_checks"`
	ExecutionCommands   []string `json:"execution_commands"`
	FileExistenceChecks []string `json:"file_existence_checks"`
}

// All 展平为字符串指示器匹配所需的全集。
// 不含裸执行命令（如 "su"），否则子串匹配会命中大量无关字面量
func (r *RootIndicators) All() []string {
	out := make([]string, 0, len(r.PackageChecks)+len(r.FileExistenceChecks))
	out = append(out, r.PackageChecks...)
	out = append(out, r.FileExistenceChecks...)
	return out
}

// EmulatorIndicators 模拟器检测指示器分组
type EmulatorIndicators struct {
	Telephony       []string        `json:"telephony"`
	HardwareStrings []string        `json:"hardware_strings"`
	BuildProperties BuildProperties `json:"build_properties"`
	Properties      []string        `json:"properties"`
}

// All 展平为字符串指示器匹配所需的全集
func (e *EmulatorIndicators) All() []string {
	out := make([]string, 0)
	out = append(out, e.HardwareStrings...)
	out = append(out, e.BuildProperties.Fingerprint...)
	out = append(out, e.BuildProperties.Model...)
	out = append(out, e.BuildProperties.Device...)
	out = append(out, e.Properties...)
	return out
}

// AntiAnalysis 反分析 API/字符串分组
type AntiAnalysis struct {
	AntiDebugging         []string `json:"anti_debugging"`
	AntiInstrumentation   []string `json:"anti_instrumentation"`
	SignatureVerification []string `json:"signature_verification"`
}

// Indicators 指示器目录。加载失败时退化为空集（字符串检测成为 no-op）
type Indicators struct {
	Root             RootIndicators     `json:"root_indicators"`
	Emulator         EmulatorIndicators `json:"emulator_indicators"`
	BenignExtensions []string           `json:"benign_extensions"`
	UtilityIgnore    []string           `json:"utility_methods_to_ignore"`
	AntiAnalysis     AntiAnalysis       `json:"anti_analysis"`
}

// catalogGroup sink 目录中的一个分类
type catalogGroup struct {
	Sinks []*Definition `json:"sinks"`
}
