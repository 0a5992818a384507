package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ChangeFunc receives a config change that was loaded, validated and differs
// from the previous config in at least one setting. d is Diff(old, new).
type ChangeFunc func(old, new *Config, d ConfigDiff)

// DefaultPollInterval is how often a [Watcher] stats its file.
const DefaultPollInterval = 2 * time.Second

// Watcher follows a config file while Embla runs.
//
// It polls the file's size and modification time. A new stamp is only acted
// upon once it has been seen on two consecutive polls, so an editor that
// writes the file in several steps is not caught halfway. The settled content
// is then parsed and validated; an invalid file is reported and ignored, and
// the previous config stays current. Edits that change nothing Diff tracks
// (comments, reordering) do not reach the ChangeFunc.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	reload chan struct{}
	done   chan struct{}
	stop   sync.Once
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *Config
	sum     [sha256.Size]byte // of the current config's file content
	seen    stamp             // last stamp observed
	pending bool              // seen differs from the applied stamp
}

// stamp is the cheap fingerprint compared on each poll.
type stamp struct {
	size  int64
	mtime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the poll interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for reload reports. The default is
// [slog.Default].
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path and starts following it. It fails if the initial
// load fails; after that, errors are only logged.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		onChange: onChange,
		log:      slog.Default(),
		reload:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, sum, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.sum, w.seen = cfg, sum, st

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Current returns the config that was last applied.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Reload asks the watcher to re-read the file now, without waiting for the
// stamp to settle. It does not block; requests made while one is pending
// are merged.
func (w *Watcher) Reload() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

// Stop ends the watch and waits for a running ChangeFunc to return. It may be
// called more than once.
func (w *Watcher) Stop() {
	w.stop.Do(func() { close(w.done) })
	w.wg.Wait()
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			w.poll()
		case <-w.reload:
			w.apply("signal")
		}
	}
}

// poll compares the file's stamp with the previous poll and applies it once
// it has stopped moving.
func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: stat failed", "path", w.path, "err", err)
		return
	}
	st := stamp{size: info.Size(), mtime: info.ModTime()}

	w.mu.Lock()
	moved := st != w.seen
	w.seen = st
	settle := !moved && w.pending
	if moved {
		w.pending = true
	}
	w.mu.Unlock()

	if settle {
		w.apply("file change")
	}
}

// apply loads the file and hands a meaningful change to the ChangeFunc.
func (w *Watcher) apply(trigger string) {
	cfg, sum, st, err := w.read()

	w.mu.Lock()
	w.pending = false
	if err == nil {
		w.seen = st
	}
	if err != nil || sum == w.sum {
		w.mu.Unlock()
		if err != nil {
			w.log.Warn("config watcher: keeping previous config", "path", w.path, "trigger", trigger, "err", err)
		}
		return
	}
	old := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	d := Diff(old, cfg)
	if !d.Changed() && len(d.RestartRequired) == 0 {
		w.log.Debug("config watcher: file changed, no settings affected", "path", w.path)
		return
	}
	w.log.Info("config watcher: configuration reloaded",
		"path", w.path,
		"trigger", trigger,
		"live_changes", d.Changed(),
		"restart_required", d.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
}

// read parses and validates the file and returns it with its content hash
// and stamp.
func (w *Watcher) read() (*Config, [sha256.Size]byte, stamp, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, stamp{}, err
	}
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, stamp{}, err
	}
	st := stamp{size: info.Size(), mtime: info.ModTime()}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		var ye *yaml.TypeError
		if errors.As(err, &ye) {
			err = fmt.Errorf("%d field error(s): %w", len(ye.Errors), err)
		}
		return nil, [sha256.Size]byte{}, st, err
	}
	return cfg, sha256.Sum256(data), st, nil
}
