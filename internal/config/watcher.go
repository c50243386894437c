package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultPollInterval is how often the watcher re-checks the config file.
const defaultPollInterval = 5 * time.Second

// snapshot is one successfully parsed state of the config file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// Watcher polls a config file and reports changes. Polling suits a voice
// server: it reloads tuning knobs and does not need sub-second reaction to
// file edits. A reload fires only when the file content actually changed and
// still parses; invalid edits keep the previous config.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu   sync.Mutex
	last snapshot

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption adjusts a [Watcher] before it starts polling.
type WatcherOption func(*Watcher)

// WithInterval overrides the 5-second polling default. Non-positive values
// are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config file once, then polls it in the background and
// calls onChange with the old and new config after every content change that
// parses. A file that cannot be loaded at construction is an error; later
// load failures only log.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.last = snap

	go w.poll()
	return w, nil
}

// Current returns the last config that parsed, never nil.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends the polling goroutine. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check compares the file against the last snapshot. The mtime gates the
// read, the content hash gates the reload, so a touch without an edit stays
// silent.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: stat failed, keeping last good config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.mtime)
	w.mu.Unlock()
	if unchanged {
		return
	}

	snap, err := readSnapshot(w.path)
	if err != nil {
		slog.Warn("config: reload failed, keeping last good config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if snap.sum == w.last.sum {
		w.last.mtime = snap.mtime
		w.mu.Unlock()
		return
	}
	old := w.last.cfg
	w.last = snap
	w.mu.Unlock()

	slog.Info("config: reloaded", "path", w.path)

	// Outside the lock so the callback can call Current().
	if w.onChange != nil {
		w.onChange(old, snap.cfg)
	}
}

// readSnapshot stats, reads and parses the config file. The mtime is taken
// before the read, so a write racing the read costs one redundant re-read on
// the next poll rather than a missed change.
func readSnapshot(path string) (snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
