// Package watcher feeds files dropped into a directory to an import handler.
// A file is handed over once its size and modification time have stayed the
// same for the settle delay, then renamed so it is not picked up again.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Suffixes appended to handled files.
const (
	DoneSuffix   = ".done"
	FailedSuffix = ".failed"
)

// Handler processes one settled file.
type Handler func(ctx context.Context, path string) error

// Watcher monitors one directory, non-recursively.
type Watcher struct {
	dir     string
	opts    Options
	fs      *fsnotify.Watcher
	logger  *slog.Logger
	pending map[string]*pendingFile
}

// pendingFile tracks a file that may still be changing.
type pendingFile struct {
	size    int64
	modTime time.Time
	seen    time.Time
}

// New creates a watcher for dir.
func New(dir string, opts Options, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	opts.setDefaults()

	dir = filepath.Clean(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat watch directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch path %s is not a directory", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	return &Watcher{
		dir:     dir,
		opts:    opts,
		fs:      fw,
		logger:  logger,
		pending: make(map[string]*pendingFile),
	}, nil
}

// Close releases the underlying watch.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

// Run calls fn for every settled file until ctx is cancelled or the watcher
// is closed. Files already present when Run starts are handled too. fn runs
// on the watcher goroutine, so events arriving meanwhile wait.
func (w *Watcher) Run(ctx context.Context, fn func(context.Context, Event)) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read watch directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.track(filepath.Join(w.dir, e.Name()))
		}
	}

	ticker := time.NewTicker(max(w.opts.SettleDelay/4, 10*time.Millisecond))
	defer ticker.Stop()

	w.logger.Info("watching drop directory", "dir", w.dir, "settle_delay", w.opts.SettleDelay)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "dir", w.dir, "error", err)
		case now := <-ticker.C:
			w.emitSettled(ctx, now, fn)
		}
	}
}

// RunDropDir hands every settled file to h and renames it with DoneSuffix on
// success or FailedSuffix on error. Handler errors are logged, not returned.
func (w *Watcher) RunDropDir(ctx context.Context, h Handler) error {
	return w.Run(ctx, func(ctx context.Context, ev Event) {
		logger := w.logger.With("file", ev.Path)
		logger.Info("processing dropped file", "size", ev.Size)

		suffix := DoneSuffix
		if err := h(ctx, ev.Path); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error("dropped file failed", "error", err)
			suffix = FailedSuffix
		}
		if err := os.Rename(ev.Path, ev.Path+suffix); err != nil {
			logger.Error("rename handled file", "error", err)
		}
	})
}

func (w *Watcher) handleFsnotifyEvent(event fsnotify.Event) {
	switch {
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(w.pending, event.Name)
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.track(event.Name)
	}
}

// track starts or restarts the settle timer of a file.
func (w *Watcher) track(path string) {
	if !w.opts.accepts(path) {
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		delete(w.pending, path)
		return
	}
	w.pending[path] = &pendingFile{
		size:    info.Size(),
		modTime: info.ModTime(),
		seen:    time.Now(),
	}
}

// emitSettled hands over files unchanged for the settle delay.
func (w *Watcher) emitSettled(ctx context.Context, now time.Time, fn func(context.Context, Event)) {
	for path, p := range w.pending {
		if now.Sub(p.seen) < w.opts.SettleDelay {
			continue
		}

		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
			// Still changing, restart timer
			p.size = info.Size()
			p.modTime = info.ModTime()
			p.seen = now
			continue
		}

		delete(w.pending, path)
		if ctx.Err() != nil {
			return
		}
		fn(ctx, Event{Path: path, Size: info.Size(), ModTime: info.ModTime()})
	}
}
