package worker

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apk-analysis/protection-scan-go/internal/domain"
)

func testOrchestrator() *Orchestrator {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return &Orchestrator{logger: logger}
}

// TestDetectFailureType 错误信息到失败类型的映射
func TestDetectFailureType(t *testing.T) {
	o := testOrchestrator()

	cases := []struct {
		err      error
		expected domain.FailureType
	}{
		{errors.New("decompile failed: apktool exited with 1"), domain.FailureTypeDecompileFailed},
		{errors.New("failed to load sink catalog: no such file"), domain.FailureTypeCatalogError},
		{errors.New("context deadline exceeded"), domain.FailureTypeTimeout},
		{errors.New("report persistence failed: disk full"), domain.FailureTypeAnalysisError},
		{errors.New("something odd"), domain.FailureTypeUnknown},
	}

	for _, c := range cases {
		assert.Equal(t, c.expected, o.detectFailureType(c.err), c.err.Error())
	}
}

// TestFailureType_RetryPolicy 失败类型与重试策略
func TestFailureType_RetryPolicy(t *testing.T) {
	assert.False(t, domain.FailureTypeCatalogError.CanRetry())
	assert.True(t, domain.FailureTypeDecompileFailed.CanRetry())
	assert.Equal(t, 3, domain.FailureTypeTimeout.GetMaxRetryCount())
	assert.Equal(t, domain.FailureSeverityError, domain.FailureTypeCatalogError.GetSeverity())
	assert.Equal(t, domain.FailureSeverityWarning, domain.FailureTypeDecompileFailed.GetSeverity())
}

// TestIsRetryableError 包装链中的可重试错误识别
func TestIsRetryableError(t *testing.T) {
	base := &RetryableError{TaskID: "t-1", RetryCount: 1, MaxRetry: 3, Cause: errors.New("timeout")}

	re, ok := IsRetryableError(base)
	require.True(t, ok)
	assert.Equal(t, "t-1", re.TaskID)

	wrapped := fmt.Errorf("worker: %w", base)
	re, ok = IsRetryableError(wrapped)
	require.True(t, ok)
	assert.Equal(t, 1, re.RetryCount)

	_, ok = IsRetryableError(errors.New("plain"))
	assert.False(t, ok)
}

// TestFileDigest 文件大小与摘要计算
func TestFileDigest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.apk")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0644))

	size, md5Sum, sha256Sum := fileDigest(path)
	assert.EqualValues(t, 5, size)
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", md5Sum)
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sha256Sum)

	size, md5Sum, _ = fileDigest(filepath.Join(t.TempDir(), "missing.apk"))
	assert.Zero(t, size)
	assert.Empty(t, md5Sum)
}

// TestDetectedFrameworks 从解包目录识别框架
func TestDetectedFrameworks(t *testing.T) {
	workDir := t.TempDir()
	libDir := filepath.Join(workDir, "lib", "arm64-v8a")
	require.NoError(t, os.MkdirAll(libDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "libflutter.so"), []byte{0x7f}, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(libDir, "libother.so"), []byte{0x7f}, 0644))

	frameworks := detectedFrameworks(workDir)
	assert.Equal(t, []string{"Flutter"}, frameworks)

	// 没有 lib 目录时不报错
	assert.Empty(t, detectedFrameworks(t.TempDir()))
}
