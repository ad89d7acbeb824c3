// 配置文件热重载实现。
//
// 轮询配置文件的修改时间，变更后重新走一遍加载流程并通知回调。
package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 重载器类型定义 ---

// Reloader watches a configuration file and reloads it on change
type Reloader struct {
	mu sync.RWMutex

	// 配置
	loader        *Loader
	path          string
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running     bool
	stopChan    chan struct{}
	changeChan  chan time.Time
	lastModTime time.Time

	// 回调
	callbacks []func(*Config)

	// 记录器
	logger *zap.Logger
}

// ReloaderOption configures the Reloader
type ReloaderOption func(*Reloader)

// WithPollInterval sets how often the file is checked for changes
func WithPollInterval(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		r.pollInterval = d
	}
}

// WithReloadDebounce sets the debounce delay before a reload fires
func WithReloadDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) {
		r.debounceDelay = d
	}
}

// WithReloaderLogger sets the logger for the reloader
func WithReloaderLogger(logger *zap.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// --- 重载器实现 ---

// NewReloader creates a reloader that re-runs the given loader when the
// file at path changes
func NewReloader(loader *Loader, path string, opts ...ReloaderOption) (*Reloader, error) {
	r := &Reloader{
		loader:        loader,
		path:          path,
		pollInterval:  1 * time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		changeChan:    make(chan time.Time, 16),
		callbacks:     make([]func(*Config), 0),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(r)
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			r.logger.Warn("Config file does not exist, will watch for creation",
				zap.String("path", path))
		} else {
			return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
		}
	}

	return r, nil
}

// OnReload registers a callback invoked with the freshly loaded config
func (r *Reloader) OnReload(callback func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, callback)
}

// Start begins watching the config file
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("reloader already running")
	}
	r.running = true
	r.mu.Unlock()

	if info, err := os.Stat(r.path); err == nil {
		r.lastModTime = info.ModTime()
	}

	go r.pollLoop(ctx)
	go r.reloadLoop(ctx)

	r.logger.Info("Config reloader started",
		zap.String("path", r.path),
		zap.Duration("poll_interval", r.pollInterval))

	return nil
}

// Stop stops the reloader
func (r *Reloader) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return nil
	}

	close(r.stopChan)
	r.running = false

	r.logger.Info("Config reloader stopped")
	return nil
}

// pollLoop 轮询文件修改时间（跨平台，不依赖 fsnotify）
func (r *Reloader) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-ticker.C:
			r.checkFile()
		}
	}
}

// checkFile 比对修改时间，变更时投递事件
func (r *Reloader) checkFile() {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil {
		// 文件被删除时保留旧配置，等待重新创建
		return
	}

	if r.lastModTime.IsZero() || info.ModTime().After(r.lastModTime) {
		r.lastModTime = info.ModTime()
		select {
		case r.changeChan <- info.ModTime():
		default:
		}
	}
}

// reloadLoop 防抖后重新加载并分发
func (r *Reloader) reloadLoop(ctx context.Context) {
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-r.changeChan:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(r.debounceDelay, r.reload)
		}
	}
}

// reload 重新加载配置并通知所有回调
func (r *Reloader) reload() {
	cfg, err := r.loader.Load()
	if err != nil {
		// 加载失败时保留当前配置，仅记录日志
		r.logger.Error("Config reload failed, keeping previous config",
			zap.String("path", r.path),
			zap.Error(err))
		return
	}

	r.mu.RLock()
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.RUnlock()

	r.logger.Info("Config reloaded", zap.String("path", r.path))

	for _, cb := range callbacks {
		cb(cfg)
	}
}

// IsRunning returns whether the reloader is running
func (r *Reloader) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}
