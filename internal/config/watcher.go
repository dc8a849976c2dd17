package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Watcher polls the CorrectNow config file and hands every valid edit to a
// callback, together with the config it replaces. An edit that fails to
// load is logged once and skipped; [Watcher.Current] keeps serving the last
// good config until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	loaded atomic.Pointer[snapshot]

	// reloadMu orders reloads so callbacks see configs in file order. It
	// also guards rejected, the mtime of the last broken file.
	reloadMu sync.Mutex
	rejected time.Time

	done     chan struct{}
	stopOnce sync.Once
}

// snapshot is one successfully loaded file.
type snapshot struct {
	cfg   *Config
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the poll interval, 5s by default.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path, which must be valid, and polls it until Stop.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange, done: make(chan struct{})}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.loaded.Store(snap)

	go w.run()
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	return w.loaded.Load().cfg
}

// Reload reads the file now, whatever its mtime, and reports whether the
// config changed. A broken file returns its error and changes nothing.
func (w *Watcher) Reload() (bool, error) {
	return w.check(true)
}

// Stop ends polling. Calling it again is a no-op.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) run() {
	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-tick.C:
			if _, err := w.check(false); err != nil {
				slog.Warn("config: edit rejected, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// check reloads the file. Unless force is set, a file whose mtime matches
// the loaded or the last rejected version is not read at all.
func (w *Watcher) check(force bool) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	prev := w.loaded.Load()
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			return false, err
		}
		if mt := info.ModTime(); mt.Equal(prev.mtime) || mt.Equal(w.rejected) {
			return false, nil
		}
	}

	next, err := load(w.path)
	if err != nil {
		if info, statErr := os.Stat(w.path); statErr == nil {
			w.rejected = info.ModTime()
		}
		return false, err
	}

	if next.sum == prev.sum {
		// Same bytes under a new mtime; keep the config pointer stable.
		w.loaded.Store(&snapshot{cfg: prev.cfg, mtime: next.mtime, sum: prev.sum})
		return false, nil
	}
	w.loaded.Store(next)
	slog.Info("config: reloaded", "path", w.path)

	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
	return true, nil
}

func load(path string) (*snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
