package config

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Manager hands out immutable config snapshots and hot-reloads them when
// the file changes on disk.
type Manager struct {
	path      string
	current   atomic.Pointer[Config]
	watcherMu sync.RWMutex
	watchers  []func(*Config)
	stopWatch chan struct{}
	watchOnce sync.Once
	stopOnce  sync.Once
}

// NewManager loads the config at path. The file may not exist yet; the
// defaults apply until it does.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, stopWatch: make(chan struct{})}
	m.current.Store(cfg)
	return m, nil
}

// Get returns the current snapshot. Callers must not mutate it.
func (m *Manager) Get() *Config {
	return m.current.Load()
}

// OnChange registers a callback fired after each successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.watcherMu.Lock()
	defer m.watcherMu.Unlock()
	m.watchers = append(m.watchers, fn)
}

// Watch starts the file watcher. Safe to call more than once.
func (m *Manager) Watch() error {
	var err error
	m.watchOnce.Do(func() {
		var watcher *fsnotify.Watcher
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return
		}
		// Watch the directory: editors replace files rather than write
		// in place, which drops a file-level watch.
		if addErr := watcher.Add(filepath.Dir(m.path)); addErr != nil {
			watcher.Close()
			err = addErr
			return
		}
		go m.watchLoop(watcher)
	})
	return err
}

func (m *Manager) watchLoop(watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case <-m.stopWatch:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			m.reload()
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload swaps the snapshot; a malformed file keeps the previous one.
func (m *Manager) reload() {
	cfg, err := Load(m.path)
	if err != nil {
		return
	}
	m.current.Store(cfg)

	m.watcherMu.RLock()
	watchers := append([]func(*Config){}, m.watchers...)
	m.watcherMu.RUnlock()
	for _, fn := range watchers {
		fn(cfg)
	}
}

// Stop halts the watcher.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopWatch) })
}
