package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ErrWatcherStopped is returned by [Watcher.Reload] after [Watcher.Stop].
var ErrWatcherStopped = errors.New("config: watcher stopped")

// DefaultWatchInterval is the polling interval used when none is configured.
const DefaultWatchInterval = 5 * time.Second

// Watcher polls a config file and hands every new valid revision to its
// callback. Revisions are identified by content hash, so touching the file
// without editing it does not reload. An invalid revision is logged once and
// the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	reloads  chan chan error
	done     chan struct{}
	exited   chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	current *Config

	// Owned by the loop goroutine.
	seen        fileStamp
	applied     [sha256.Size]byte
	rejected    [sha256.Size]byte
	statFailing bool
}

// fileStamp is the cheap change check done before reading the file.
type fileStamp struct {
	mtime time.Time
	size  int64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. onChange runs on the watcher
// goroutine, one revision at a time, and may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		reloads:  make(chan chan error),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	stamp, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.seen = stamp
	w.applied = sha256.Sum256(data)

	go w.loop()
	return w, nil
}

// Current returns the most recently applied config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload re-reads the file now, skipping the modification time check, and
// returns once the revision has been applied or rejected. An unchanged file
// is not an error.
func (w *Watcher) Reload(ctx context.Context) error {
	res := make(chan error, 1)
	select {
	case w.reloads <- res:
	case <-w.exited:
		return ErrWatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends polling and waits for an in-progress callback to return. Safe to
// call more than once, but not from the callback.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
	<-w.exited
}

func (w *Watcher) loop() {
	defer close(w.exited)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case res := <-w.reloads:
			res <- w.check(true)
		case <-ticker.C:
			_ = w.check(false)
		}
	}
}

func (w *Watcher) recovered() {
	if w.statFailing {
		slog.Info("config watcher: file readable again", "path", w.path)
		w.statFailing = false
	}
}

// check applies the file's current revision. Unless force is set, a file
// whose size and modification time are unchanged is not read.
func (w *Watcher) check(force bool) error {
	if !force {
		same, err := w.unchanged()
		if err == nil && same {
			w.recovered()
			return nil
		}
	}
	stamp, data, err := w.read()
	if err != nil {
		if !w.statFailing {
			slog.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		}
		w.statFailing = true
		return err
	}
	w.recovered()
	w.seen = stamp

	sum := sha256.Sum256(data)
	if sum == w.applied {
		return nil
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		if sum != w.rejected {
			slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
			w.rejected = sum
		}
		return err
	}
	w.applied = sum

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
	return nil
}

// read returns the file's stamp and contents. The stamp comes from the open
// file so it describes the bytes that were read.
func (w *Watcher) read() (fileStamp, []byte, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return fileStamp{}, nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fileStamp{}, nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fileStamp{}, nil, err
	}
	return fileStamp{mtime: info.ModTime(), size: info.Size()}, data, nil
}

// unchanged reports whether the file still carries the last seen stamp.
func (w *Watcher) unchanged() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	return fileStamp{mtime: info.ModTime(), size: info.Size()} == w.seen, nil
}
