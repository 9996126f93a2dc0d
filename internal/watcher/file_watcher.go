package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// APKHandler APK 落盘后的处理函数
type APKHandler func(ctx context.Context, apkPath string) error

// APKWatcher 监控投递目录中新出现的 APK 文件
type APKWatcher struct {
	watcher      *fsnotify.Watcher
	watchDir     string
	handler      APKHandler
	logger       *logrus.Logger
	debounce     time.Duration
	scanExisting bool

	mu         sync.Mutex
	processing map[string]bool

	stopChan chan struct{}
	stopOnce sync.Once
}

// NewAPKWatcher 创建 APK 目录监控器
func NewAPKWatcher(watchDir string, handler APKHandler, logger *logrus.Logger) (*APKWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := os.MkdirAll(watchDir, 0755); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	if err := watcher.Add(watchDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	w := &APKWatcher{
		watcher:    watcher,
		watchDir:   watchDir,
		handler:    handler,
		logger:     logger,
		debounce:   2 * time.Second, // 大文件复制会触发多次 Write 事件
		processing: make(map[string]bool),
		stopChan:   make(chan struct{}),
	}

	logger.WithField("watch_dir", watchDir).Info("APK watcher created")
	return w, nil
}

// SetScanExisting 启动时是否处理目录中已有的 APK。
// 默认关闭，避免服务重启后重复建任务
func (w *APKWatcher) SetScanExisting(enabled bool) {
	w.scanExisting = enabled
}

// Start 启动监控
func (w *APKWatcher) Start(ctx context.Context) error {
	w.logger.Info("Starting APK watcher")

	if w.scanExisting {
		if err := w.scanExistingFiles(ctx); err != nil {
			w.logger.WithError(err).Warn("Failed to scan existing files")
		}
	}

	go w.eventLoop(ctx)

	w.logger.Info("APK watcher started successfully")
	return nil
}

// scanExistingFiles 处理启动前已落盘的 APK
func (w *APKWatcher) scanExistingFiles(ctx context.Context) error {
	entries, err := os.ReadDir(w.watchDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !isAPK(entry.Name()) {
			continue
		}

		apkPath := filepath.Join(w.watchDir, entry.Name())
		w.logger.WithField("file", entry.Name()).Info("Found existing APK")
		go w.handleFile(ctx, apkPath)
	}

	return nil
}

// eventLoop 事件循环
func (w *APKWatcher) eventLoop(ctx context.Context) {
	debounceTimer := make(map[string]*time.Timer)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("APK watcher context done")
			return
		case <-w.stopChan:
			w.logger.Info("APK watcher stopped")
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.logger.Warn("Watcher events channel closed")
				return
			}

			// 只处理创建和写入事件
			if event.Op&fsnotify.Create != fsnotify.Create &&
				event.Op&fsnotify.Write != fsnotify.Write {
				continue
			}

			fileName := filepath.Base(event.Name)
			if !isAPK(fileName) {
				continue
			}

			w.logger.WithFields(logrus.Fields{
				"event": event.Op.String(),
				"file":  fileName,
			}).Debug("File event detected")

			// 防抖: 同一文件短时间内多次触发只处理一次
			if timer, exists := debounceTimer[event.Name]; exists {
				timer.Stop()
			}

			name := event.Name
			debounceTimer[name] = time.AfterFunc(w.debounce, func() {
				w.handleFile(ctx, name)
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.logger.Warn("Watcher errors channel closed")
				return
			}
			w.logger.WithError(err).Error("Watcher error")
		}
	}
}

// handleFile 处理单个 APK
func (w *APKWatcher) handleFile(ctx context.Context, apkPath string) {
	w.mu.Lock()
	if w.processing[apkPath] {
		w.mu.Unlock()
		w.logger.WithField("file", apkPath).Debug("File is already being processed")
		return
	}
	w.processing[apkPath] = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.processing, apkPath)
		w.mu.Unlock()
	}()

	if err := w.waitForFileReady(apkPath); err != nil {
		w.logger.WithError(err).WithField("file", apkPath).Error("File not ready")
		return
	}

	w.logger.WithField("file", apkPath).Info("Processing APK")

	if err := w.handler(ctx, apkPath); err != nil {
		w.logger.WithError(err).WithField("file", apkPath).Error("Failed to process APK")
		return
	}

	w.logger.WithField("file", apkPath).Info("APK processed successfully")
}

// waitForFileReady 等待文件写入完成。
// 连续两次 stat 大小一致且非零即认为写入结束
func (w *APKWatcher) waitForFileReady(apkPath string) error {
	maxAttempts := 10
	for i := 0; i < maxAttempts; i++ {
		file, err := os.OpenFile(apkPath, os.O_RDONLY, 0644)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist")
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}

		info1, err := file.Stat()
		if err != nil {
			file.Close()
			return err
		}

		time.Sleep(500 * time.Millisecond)

		info2, err := file.Stat()
		if err != nil {
			file.Close()
			return err
		}

		file.Close()

		if info1.Size() == info2.Size() && info1.Size() > 0 {
			return nil
		}
	}

	return fmt.Errorf("file not ready after %d attempts", maxAttempts)
}

// Stop 停止监控
func (w *APKWatcher) Stop() error {
	w.logger.Info("Stopping APK watcher")
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})

	if w.watcher != nil {
		return w.watcher.Close()
	}

	return nil
}

// GetWatchDir 获取监控目录
func (w *APKWatcher) GetWatchDir() string {
	return w.watchDir
}

func isAPK(fileName string) bool {
	return strings.HasSuffix(strings.ToLower(fileName), ".apk")
}
