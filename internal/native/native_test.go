package native

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/protection-scan-go/internal/sinks"
)

func newTestBinaryScanner(t *testing.T) *BinaryScanner {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	registry, err := sinks.NewRegistry("", "", logger)
	require.NoError(t, err)
	return NewBinaryScanner(registry, logger)
}

// TestCalculateEntropy 熵计算的边界值
func TestCalculateEntropy(t *testing.T) {
	assert.Equal(t, 0.0, CalculateEntropy(nil))

	// 全零数据熵为 0
	zeros := make([]byte, 4096)
	assert.Equal(t, 0.0, CalculateEntropy(zeros))

	// 均匀分布的 256 个字节值熵为 8
	uniform := make([]byte, 256*16)
	for i := range uniform {
		uniform[i] = byte(i % 256)
	}
	assert.InDelta(t, 8.0, CalculateEntropy(uniform), 0.01)
}

// TestIdentifyFrameworks 框架识别
func TestIdentifyFrameworks(t *testing.T) {
	detected := IdentifyFrameworks([]string{"libapp.so", "libflutter.so", "libc++_shared.so"})
	assert.Equal(t, []string{"Flutter"}, detected)

	detected = IdentifyFrameworks([]string{"LibUnity.so", "libil2cpp.so"})
	assert.Equal(t, []string{"Unity"}, detected)

	assert.Empty(t, IdentifyFrameworks([]string{"libnative-lib.so"}))
	assert.Empty(t, IdentifyFrameworks(nil))
}

// TestScanBinary_SymbolHit 符号字节搜索
func TestScanBinary_SymbolHit(t *testing.T) {
	s := newTestBinaryScanner(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "libcheck.so")
	payload := append(make([]byte, 64), []byte("__system_property_get\x00ptrace\x00")...)
	require.NoError(t, os.WriteFile(path, payload, 0644))

	hits, err := s.ScanBinary(path)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	byName := make(map[string]*sinks.Hit)
	for _, h := range hits {
		byName[h.Sink.Name] = h
		assert.Equal(t, "libcheck.so", h.Library)
		assert.Equal(t, sinks.LayerNative, h.Layer)
		assert.True(t, h.Conditional)
	}

	require.Contains(t, byName, "ptrace")
	assert.True(t, byName["ptrace"].IsSymbol)
	assert.Equal(t, "Anti-Debugging", byName["ptrace"].Sink.Risk)
	require.Contains(t, byName, "__system_property_get")
}

// TestScanBinary_SymbolPriorityOverString 同一偏移符号命中优先于字符串兜底
func TestScanBinary_SymbolPriorityOverString(t *testing.T) {
	s := newTestBinaryScanner(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "libptrace.so")
	require.NoError(t, os.WriteFile(path, []byte("ptrace\x00"), 0644))

	hits, err := s.ScanBinary(path)
	require.NoError(t, err)

	// ptrace 既是注册符号也是字符串指示器，偏移相同只保留符号命中
	var count int
	for _, h := range hits {
		if h.Sink.Name == "ptrace" {
			count++
			assert.True(t, h.IsSymbol)
			assert.False(t, h.IsStringBased)
		}
	}
	assert.Equal(t, 1, count)
}

// TestScanBinary_StringFallback 非注册符号的字符串兜底命中
func TestScanBinary_StringFallback(t *testing.T) {
	s := newTestBinaryScanner(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "libguard.so")
	require.NoError(t, os.WriteFile(path, []byte("check /proc/self/maps for frida-agent\x00"), 0644))

	hits, err := s.ScanBinary(path)
	require.NoError(t, err)

	byName := make(map[string]*sinks.Hit)
	for _, h := range hits {
		byName[h.Sink.Name] = h
	}

	require.Contains(t, byName, "/proc/self/maps")
	assert.Equal(t, "Memory-based Anti-Instrumentation", byName["/proc/self/maps"].Sink.Risk)
	assert.Equal(t, 0.6, byName["/proc/self/maps"].Sink.Confidence)
	assert.True(t, byName["/proc/self/maps"].IsStringBased)

	require.Contains(t, byName, "frida")
}

// TestScanBinary_HighEntropy 高熵二进制的加壳命中
func TestScanBinary_HighEntropy(t *testing.T) {
	s := newTestBinaryScanner(t)

	// 伪随机填充，熵接近 8
	data := make([]byte, 64*1024)
	state := uint32(0x12345678)
	for i := range data {
		state = state*1664525 + 1013904223
		data[i] = byte(state >> 24)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "libpacked.so")
	require.NoError(t, os.WriteFile(path, data, 0644))

	hits, err := s.ScanBinary(path)
	require.NoError(t, err)

	var packed *sinks.Hit
	for _, h := range hits {
		if h.Sink.Name == "packed_native_binary" {
			packed = h
		}
	}
	require.NotNil(t, packed)
	assert.Equal(t, "Anti-Analysis", packed.Sink.Risk)
	assert.Equal(t, "0x0", packed.Offset)
	assert.Contains(t, packed.Evidence, "High Entropy")
}

// TestScanSyscalls svc 指令操作数解码
func TestScanSyscalls(t *testing.T) {
	s := newTestBinaryScanner(t)

	lines := []string{
		"0x1000: MOV X8, #26",
		"0x1004: SVC #0x1a",
		"0x1008: RET",
		"0x100c: SVC #26",
		"0x1010: SVC #0x40",
	}

	hits := s.scanSyscalls(lines, "libanti.so")
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Equal(t, "ptrace", h.Sink.Name)
		assert.True(t, h.IsSyscall)
		assert.Equal(t, []string{"Syscall ID: 26"}, h.Arguments)
	}
}

// TestScanDirectory 目录遍历与库名收集
func TestScanDirectory(t *testing.T) {
	s := newTestBinaryScanner(t)

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "lib", "arm64-v8a"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "lib", "arm64-v8a", "libflutter.so"), []byte("SSL_set_custom_verify\x00"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("not a library"), 0644))

	hits, libNames := s.ScanDirectory(dir)
	assert.Equal(t, []string{"libflutter.so"}, libNames)
	require.NotEmpty(t, hits)
	assert.Equal(t, "SSL_set_custom_verify", hits[0].Sink.Name)
}
