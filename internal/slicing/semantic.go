package slicing

// semanticLabels 按模式类型附加的领域描述，与具体证据文本无关
var semanticLabels = map[string]string{
	"Root / Emulator Detection":                          "Environment Integrity Check: Searching for privileged binaries and build tags",
	"Root Detection (High Confidence)":                   "Environment Integrity Check: Privileged binary and root-manager verification",
	"Emulator Detection (Hard Evidence)":                 "Infrastructure Validation: Inspecting hardware identity and qemu properties",
	"SSL Pinning":                                        "Network Trust Anchor: Enforcing custom X.509 certificate validation",
	"Advanced SSL Pinning (Framework-level)":             "Network Trust Anchor: Framework-level certificate validation (BoringSSL/Flutter)",
	"Anti-Debugging":                                     "Runtime Shield: Detecting ptrace attachment or JDWP state",
	"Self-Protection & Anti-Analysis (Active Defense)":   "Active Defense: Instrumentation and integrity verification countermeasures",
	"Packed Native Binary":                               "Native Code Concealment: Packed or encrypted shared object",
	"Native Anti-Analysis":                               "Native Analysis Countermeasure: Low-level tooling detection",
}

const defaultSemanticLabel = "Security-Relevant Logic Extraction"

// Label 返回模式类型对应的语义标签
func Label(patternType string) string {
	if label, ok := semanticLabels[patternType]; ok {
		return label
	}
	return defaultSemanticLabel
}
