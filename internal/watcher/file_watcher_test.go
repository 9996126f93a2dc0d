package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWatcherLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// TestIsAPK 文件名匹配
func TestIsAPK(t *testing.T) {
	assert.True(t, isAPK("app.apk"))
	assert.True(t, isAPK("APP.APK"))
	assert.False(t, isAPK("app.apk.part"))
	assert.False(t, isAPK("notes.txt"))
}

// TestAPKWatcher_HandlesNewAPK 新 APK 触发处理
func TestAPKWatcher_HandlesNewAPK(t *testing.T) {
	watchDir := t.TempDir()

	var mu sync.Mutex
	var handled []string
	done := make(chan struct{}, 1)

	handler := func(ctx context.Context, apkPath string) error {
		mu.Lock()
		handled = append(handled, filepath.Base(apkPath))
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
		return nil
	}

	w, err := NewAPKWatcher(watchDir, handler, testWatcherLogger())
	require.NoError(t, err)
	w.debounce = 100 * time.Millisecond
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "sample.apk"), []byte("apk-bytes"), 0644))
	// 非 APK 文件不应触发
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "readme.txt"), []byte("ignore"), 0644))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("handler was not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, handled, "sample.apk")
	assert.NotContains(t, handled, "readme.txt")
}

// TestAPKWatcher_ScanExisting 启动时处理已有文件
func TestAPKWatcher_ScanExisting(t *testing.T) {
	watchDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(watchDir, "existing.apk"), []byte("apk-bytes"), 0644))

	done := make(chan string, 1)
	handler := func(ctx context.Context, apkPath string) error {
		select {
		case done <- filepath.Base(apkPath):
		default:
		}
		return nil
	}

	w, err := NewAPKWatcher(watchDir, handler, testWatcherLogger())
	require.NoError(t, err)
	w.SetScanExisting(true)
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	select {
	case name := <-done:
		assert.Equal(t, "existing.apk", name)
	case <-time.After(10 * time.Second):
		t.Fatal("existing APK was not processed")
	}
}

// TestAPKWatcher_CreatesWatchDir 监控目录不存在时自动创建
func TestAPKWatcher_CreatesWatchDir(t *testing.T) {
	watchDir := filepath.Join(t.TempDir(), "inbound")

	w, err := NewAPKWatcher(watchDir, func(ctx context.Context, apkPath string) error { return nil }, testWatcherLogger())
	require.NoError(t, err)
	defer w.Stop()

	info, err := os.Stat(watchDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, watchDir, w.GetWatchDir())
}
