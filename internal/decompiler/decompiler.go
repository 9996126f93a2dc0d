package decompiler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DecompiledMethod 反编译得到的单个方法。
// Name 是裸方法名，Signature 保留完整的参数与返回值描述符
type DecompiledMethod struct {
	Name      string
	Signature string
	CodeLines []string
}

// DecompiledClass 反编译得到的单个类
type DecompiledClass struct {
	Name    string
	Methods []DecompiledMethod
}

// Decompiler APK 反编译器，调用 apktool 把 DEX 还原为 smali
type Decompiler struct {
	logger         *logrus.Logger
	apktoolPath    string
	defaultTimeout time.Duration
}

// NewDecompiler 创建反编译器
func NewDecompiler(logger *logrus.Logger, apktoolPath string) *Decompiler {
	if apktoolPath == "" {
		apktoolPath = "apktool"
	}
	return &Decompiler{
		logger:         logger,
		apktoolPath:    apktoolPath,
		defaultTimeout: 5 * time.Minute,
	}
}

// Decompile 反编译 APK 并解析 smali 树。
// 返回类列表、类名到原始源码行的映射，以及解包目录（供原生层分析使用）。
// 调用方负责清理解包目录
func (d *Decompiler) Decompile(ctx context.Context, apkPath string) ([]*DecompiledClass, map[string][]string, string, error) {
	outDir, err := os.MkdirTemp("", "protscan_")
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to create work dir: %w", err)
	}

	d.logger.WithFields(logrus.Fields{
		"apk":     apkPath,
		"out_dir": outDir,
	}).Info("Decompiling APK with apktool")

	execCtx, cancel := context.WithTimeout(ctx, d.defaultTimeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, d.apktoolPath, "d", apkPath, "-o", outDir, "-f")
	if output, err := cmd.CombinedOutput(); err != nil {
		os.RemoveAll(outDir)
		return nil, nil, "", fmt.Errorf("apktool failed: %w, output: %s", err, string(output))
	}

	classes, sourceMap, err := LoadSmaliTree(outDir)
	if err != nil {
		os.RemoveAll(outDir)
		return nil, nil, "", err
	}

	d.logger.WithFields(logrus.Fields{
		"apk":     apkPath,
		"classes": len(classes),
	}).Info("Decompilation completed")

	return classes, sourceMap, outDir, nil
}

// LoadSmaliTree 遍历解包目录中的所有 smali* 目录（multi-dex 支持），
// 解析每个 .smali 文件为类与方法结构
func LoadSmaliTree(root string) ([]*DecompiledClass, map[string][]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read decompiled dir: %w", err)
	}

	var classes []*DecompiledClass
	sourceMap := make(map[string][]string)

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "smali") {
			continue
		}

		smaliDir := filepath.Join(root, entry.Name())
		err := filepath.WalkDir(smaliDir, func(path string, info os.DirEntry, err error) error {
			if err != nil || info.IsDir() || !strings.HasSuffix(path, ".smali") {
				return err
			}

			data, readErr := os.ReadFile(path)
			if readErr != nil {
				// 单个文件读取失败不应中断整棵树的解析
				return nil
			}

			lines := strings.Split(string(data), "\n")
			cls := ParseSmali(lines)
			if cls != nil {
				classes = append(classes, cls)
				sourceMap[cls.Name] = lines
			}
			return nil
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to walk smali dir: %w", err)
		}
	}

	return classes, sourceMap, nil
}

// ParseSmali 解析单个 smali 文件的行。
// 类名取自 .class 指令并转换为点分形式，方法体保留原始缩进。
// 方法名在此处去掉描述符，混淆判定与工具方法过滤都依赖裸名
func ParseSmali(lines []string) *DecompiledClass {
	var className string
	var methods []DecompiledMethod

	var currentName, currentSig string
	var buffer []string
	inMethod := false

	for _, line := range lines {
		clean := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(clean, ".class"):
			parts := strings.Fields(clean)
			if len(parts) > 0 {
				raw := parts[len(parts)-1]
				raw = strings.TrimPrefix(raw, "L")
				raw = strings.TrimSuffix(raw, ";")
				className = strings.ReplaceAll(raw, "/", ".")
			}
		case strings.HasPrefix(clean, ".method"):
			parts := strings.Fields(clean)
			if len(parts) > 0 {
				currentSig = parts[len(parts)-1]
				currentName = currentSig
				if i := strings.Index(currentName, "("); i >= 0 {
					currentName = currentName[:i]
				}
			}
			buffer = nil
			inMethod = true
		case strings.HasPrefix(clean, ".end method"):
			if inMethod && currentName != "" {
				methods = append(methods, DecompiledMethod{
					Name:      currentName,
					Signature: currentSig,
					CodeLines: buffer,
				})
			}
			currentName = ""
			currentSig = ""
			inMethod = false
		default:
			if inMethod {
				buffer = append(buffer, line)
			}
		}
	}

	if className == "" {
		return nil
	}
	return &DecompiledClass{Name: className, Methods: methods}
}
