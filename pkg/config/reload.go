package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/layerforge/layerforge/pkg/logger"
	"github.com/layerforge/layerforge/pkg/types"
)

// ReloadCallback is invoked after a configuration change is processed.
// On parse or validation failure cfg is nil and err explains why; the
// previously loaded configuration stays in effect.
type ReloadCallback func(cfg *types.ProjectConfig, err error)

// ReloadEventType classifies what happened to the watched file
type ReloadEventType string

const (
	ReloadEventTypeModified ReloadEventType = "modified"
	ReloadEventTypeCreated  ReloadEventType = "created"
	ReloadEventTypeRemoved  ReloadEventType = "removed"
	ReloadEventTypeError    ReloadEventType = "error"
)

// ReloadManager hot-reloads the project configuration while runs are in
// flight. Changes apply to subsequent runs only.
type ReloadManager struct {
	configPath string
	logger     logger.Logger

	mu        sync.RWMutex
	callbacks []ReloadCallback
	watcher   *fsnotify.Watcher
	settle    *time.Timer
	settleFor time.Duration
	lastSeen  time.Time
	done      chan struct{}
}

// NewReloadManager creates a reload manager for the given config file
func NewReloadManager(configPath string, log logger.Logger) *ReloadManager {
	return &ReloadManager{
		configPath: configPath,
		logger:     log,
		settleFor:  500 * time.Millisecond,
	}
}

// AddCallback registers a reload callback
func (rm *ReloadManager) AddCallback(callback ReloadCallback) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.callbacks = append(rm.callbacks, callback)
}

// SetDebouncePeriod overrides the event settling delay
func (rm *ReloadManager) SetDebouncePeriod(period time.Duration) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.settleFor = period
}

// IsWatching reports whether the manager is currently watching
func (rm *ReloadManager) IsWatching() bool {
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return rm.done != nil
}

// StartWatching begins watching the configuration file for changes.
// The parent directory is watched rather than the file itself, since
// most editors save by replacing the file.
func (rm *ReloadManager) StartWatching() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.done != nil {
		return fmt.Errorf("reload manager already started")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher setup failed: %w", err)
	}
	if err := watcher.Add(filepath.Dir(rm.configPath)); err != nil {
		watcher.Close()
		return fmt.Errorf("cannot watch %s: %w", filepath.Dir(rm.configPath), err)
	}

	if info, err := os.Stat(rm.configPath); err == nil {
		rm.lastSeen = info.ModTime()
	}

	rm.watcher = watcher
	rm.done = make(chan struct{})
	go rm.consume(watcher, rm.done)

	rm.logger.Debug("configuration watch started", logger.WithField("path", rm.configPath))
	return nil
}

// StopWatching stops watching the configuration file
func (rm *ReloadManager) StopWatching() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.done == nil {
		return nil
	}
	close(rm.done)
	rm.done = nil

	if rm.settle != nil {
		rm.settle.Stop()
		rm.settle = nil
	}
	if err := rm.watcher.Close(); err != nil {
		rm.logger.Warn("watcher close failed", logger.WithField("error", err))
	}
	rm.watcher = nil
	return nil
}

// TriggerReload forces a reload outside the file-event path
func (rm *ReloadManager) TriggerReload() {
	rm.applyChange(ReloadEventTypeModified)
}

func (rm *ReloadManager) consume(watcher *fsnotify.Watcher, done chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			rm.logger.Error("configuration watcher panic recovered", logger.WithField("panic", r))
		}
	}()

	for {
		select {
		case <-done:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if rm.concernsConfig(event.Name) {
				rm.scheduleApply(classifyOp(event.Op))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			rm.logger.Error("configuration watch error", logger.WithField("error", err))
			rm.dispatch(nil, err)
		}
	}
}

// concernsConfig also matches temp files editors write beside the
// target before renaming over it.
func (rm *ReloadManager) concernsConfig(eventPath string) bool {
	want := filepath.Base(rm.configPath)
	got := filepath.Base(eventPath)
	return got == want || strings.HasPrefix(got, want)
}

func classifyOp(op fsnotify.Op) ReloadEventType {
	switch {
	case op.Has(fsnotify.Remove):
		return ReloadEventTypeRemoved
	case op.Has(fsnotify.Create):
		return ReloadEventTypeCreated
	default:
		return ReloadEventTypeModified
	}
}

// scheduleApply coalesces event bursts; only the last event within the
// settling window is applied.
func (rm *ReloadManager) scheduleApply(eventType ReloadEventType) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.settle != nil {
		rm.settle.Stop()
	}
	rm.settle = time.AfterFunc(rm.settleFor, func() {
		rm.applyChange(eventType)
	})
}

func (rm *ReloadManager) applyChange(eventType ReloadEventType) {
	if eventType == ReloadEventTypeRemoved {
		rm.dispatch(nil, fmt.Errorf("configuration file removed: %s", rm.configPath))
		return
	}

	info, err := os.Stat(rm.configPath)
	if err != nil {
		rm.dispatch(nil, err)
		return
	}

	rm.mu.Lock()
	unchanged := !info.ModTime().After(rm.lastSeen)
	if !unchanged {
		rm.lastSeen = info.ModTime()
	}
	rm.mu.Unlock()
	if unchanged {
		return
	}

	cfg, err := NewManager().LoadConfig(rm.configPath)
	if err != nil {
		rm.logger.Error("reload rejected, previous configuration stays active",
			logger.WithField("error", err))
		rm.dispatch(nil, err)
		return
	}

	rm.logger.Info("configuration reloaded", logger.WithField("layers", len(cfg.Layers)))
	rm.dispatch(cfg, nil)
}

func (rm *ReloadManager) dispatch(cfg *types.ProjectConfig, err error) {
	rm.mu.RLock()
	callbacks := append([]ReloadCallback(nil), rm.callbacks...)
	rm.mu.RUnlock()

	for _, callback := range callbacks {
		go func(cb ReloadCallback) {
			defer func() {
				if r := recover(); r != nil {
					rm.logger.Error("reload callback panic recovered", logger.WithField("panic", r))
				}
			}()
			cb(cfg, err)
		}(callback)
	}
}
