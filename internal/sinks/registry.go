package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// Registry 安全敏感 Sink 知识库。
// 加载 sink 目录与指示器目录，回答 API 调用、字符串字面量、
// Native 符号和 syscall 的匹配查询。加载完成后只读
type Registry struct {
	sinks      []*Definition
	indicators *Indicators
	regexCache map[string]*regexp.Regexp
	logger     *logrus.Logger
}

// NewRegistry 加载知识库。
// catalogPath 为空时使用内置目录；sink 目录加载失败对整个引擎是致命的。
// indicatorsPath 加载失败仅降级为空指示器集（字符串检测成为 no-op）
func NewRegistry(catalogPath, indicatorsPath string, logger *logrus.Logger) (*Registry, error) {
	r := &Registry{
		regexCache: make(map[string]*regexp.Regexp),
		logger:     logger,
	}

	if catalogPath == "" {
		r.sinks = builtinCatalog()
	} else {
		sinks, err := loadCatalog(catalogPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load sink catalog: %w", err)
		}
		r.sinks = sinks
	}

	// 预编译正则 sink，无效条目跳过不影响其余条目
	valid := r.sinks[:0]
	for _, s := range r.sinks {
		if s.MatchType == MatchRegex {
			re, err := regexp.Compile(s.Name)
			if err != nil {
				logger.WithError(err).WithField("sink", s.Name).Warn("Skipping sink with invalid regex")
				continue
			}
			r.regexCache[s.Name] = re
		}
		valid = append(valid, s)
	}
	r.sinks = valid

	if indicatorsPath == "" {
		r.indicators = builtinIndicators()
	} else {
		ind, err := loadIndicators(indicatorsPath)
		if err != nil {
			logger.WithError(err).Warn("Indicator catalog not loaded, string-based detection will be limited")
			ind = &Indicators{}
		}
		r.indicators = ind
	}

	logger.WithFields(logrus.Fields{
		"sinks":           len(r.sinks),
		"root_indicators": len(r.indicators.Root.All()),
	}).Info("Sink registry loaded")

	return r, nil
}

func loadCatalog(path string) ([]*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var catalog map[string]catalogGroup
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, err
	}

	var sinks []*Definition
	for _, group := range catalog {
		sinks = append(sinks, group.Sinks...)
	}
	return sinks, nil
}

func loadIndicators(path string) (*Indicators, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ind Indicators
	if err := json.Unmarshal(data, &ind); err != nil {
		return nil, err
	}
	return &ind, nil
}

// AllSinks 返回全部 sink 定义
func (r *Registry) AllSinks() []*Definition {
	return r.sinks
}

// Indicators 返回指示器目录
func (r *Registry) Indicators() *Indicators {
	return r.indicators
}

// MatchSink 将一次 API 调用（或 Native 符号）匹配到已注册 sink。
// FQN 匹配为双向包含，以容忍部分限定或被混淆的名称
func (r *Registry) MatchSink(apiCall string) *Definition {
	if apiCall == "" {
		return nil
	}

	for _, sink := range r.sinks {
		switch sink.MatchType {
		case MatchFQN, "":
			if strings.Contains(apiCall, sink.Name) || strings.Contains(sink.Name, apiCall) {
				return sink
			}
		case MatchRegex:
			if re, ok := r.regexCache[sink.Name]; ok && re.MatchString(apiCall) {
				return sink
			}
		case MatchNative:
			if apiCall == sink.Name {
				return sink
			}
		case MatchPath:
			if strings.Contains(apiCall, sink.Name) {
				return sink
			}
		}
	}
	return nil
}

// MatchStringIndicator 将原始字符串字面量匹配到已知威胁指示器，
// 命中时合成一个 sink 定义（置信度 0.8）
func (r *Registry) MatchStringIndicator(literal string) *Definition {
	if literal == "" {
		return nil
	}

	for _, ind := range r.indicators.Root.All() {
		if strings.Contains(literal, ind) {
			return &Definition{
				Name:        literal,
				Layer:       LayerManaged,
				Risk:        "Root Detection",
				Confidence:  0.8,
				StringMatch: true,
			}
		}
	}

	for _, ind := range r.indicators.Emulator.All() {
		if strings.Contains(literal, ind) {
			return &Definition{
				Name:        literal,
				Layer:       LayerManaged,
				Risk:        "Emulator Detection",
				Confidence:  0.8,
				StringMatch: true,
			}
		}
	}
	return nil
}

// IsSecurityRelevant 双重用途 sink 的上下文校验：
// 仅当某个参数包含可疑提示时才视为安全相关；非双重用途 sink 恒为相关
func (r *Registry) IsSecurityRelevant(sink *Definition, callArgs []string) bool {
	if sink == nil {
		return false
	}
	if !sink.DualUse {
		return true
	}
	if sink.ContextHint == nil {
		return false
	}

	for _, arg := range callArgs {
		for _, susp := range sink.ContextHint.SuspiciousArgs {
			if strings.Contains(arg, susp) {
				return true
			}
		}
	}
	return false
}

// MatchNativeSyscall 按 syscall id 查询注册表
func (r *Registry) MatchNativeSyscall(syscallID int) *Definition {
	for _, sink := range r.sinks {
		if sink.SyscallID != nil && *sink.SyscallID == syscallID {
			return sink
		}
	}
	return nil
}

// NativeSymbols 返回 Native 层的全部 sink 定义，供二进制扫描器使用
func (r *Registry) NativeSymbols() []*Definition {
	var out []*Definition
	for _, sink := range r.sinks {
		if sink.Layer == LayerNative {
			out = append(out, sink)
		}
	}
	return out
}
