package config

import (
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/irdkwmnsb/webrtc-grabber/packages/pubsub/internal/metrics"
)

// Manager holds the current configuration and reloads it when a section file
// in the config directory changes.
type Manager struct {
	mu        sync.RWMutex
	current   *AppConfig
	configDir string
	opts      []Option
	callbacks []func(*AppConfig)

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewManager(configDir string, opts ...Option) (*Manager, error) {
	mgr := &Manager{
		configDir: configDir,
		opts:      opts,
		done:      make(chan struct{}),
	}

	if err := mgr.Reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("failed to create config watcher", "error", err)
		close(mgr.done)
		return mgr, nil
	}
	if err := watcher.Add(configDir); err != nil {
		slog.Error("failed to watch config dir", "dir", configDir, "error", err)
		_ = watcher.Close()
		close(mgr.done)
		return mgr, nil
	}
	mgr.watcher = watcher

	go mgr.watch()

	return mgr, nil
}

func (m *Manager) Get() AppConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.current
}

func (m *Manager) Reload() error {
	newConfig, err := LoadAppConfig(m.configDir, m.opts...)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.current = newConfig
	callbacks := slices.Clone(m.callbacks)
	m.mu.Unlock()

	for _, f := range callbacks {
		f(newConfig)
	}

	metrics.ConfigReloads.Inc()
	slog.Info("configuration reloaded successfully", "dir", m.configDir)
	return nil
}

// OnUpdate registers f to be called with every successfully reloaded
// configuration.
func (m *Manager) OnUpdate(f func(*AppConfig)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, f)
}

func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	err := m.watcher.Close()
	<-m.done
	return err
}

func (m *Manager) watch() {
	defer close(m.done)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if !isSectionFile(event.Name) {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write || event.Op&fsnotify.Create == fsnotify.Create {
				slog.Info("config file modified", "file", event.Name)
				if err := m.Reload(); err != nil {
					slog.Error("error reloading config", "error", err)
				}
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}

func isSectionFile(path string) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	if ext != ".yaml" && ext != ".json" {
		return false
	}
	return slices.Contains(sections, strings.TrimSuffix(base, ext))
}
