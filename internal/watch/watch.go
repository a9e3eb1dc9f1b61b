package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/QWxleA/EGO/internal/config"
	"github.com/QWxleA/EGO/internal/post"
)

// Runner executes one publish pipeline run. Satisfied by sync.Engine.
type Runner interface {
	Run(ctx context.Context) error
}

// Watcher monitors the content tree and triggers a publish run after edits
// settle for the configured debounce interval.
type Watcher struct {
	cfg    *config.Config
	runner Runner
	logger *slog.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a new filesystem watcher
func NewWatcher(cfg *config.Config, runner Runner, logger *slog.Logger) *Watcher {
	return &Watcher{
		cfg:    cfg,
		runner: runner,
		logger: logger,
	}
}

// Start watches the posts directory tree until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		_ = fsw.Close()
	}()

	root := w.cfg.PostsSourceDir()
	if err := addRecursive(fsw, root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	w.logger.Info("watching for content changes",
		"dir", root,
		"suffix", w.cfg.Site.ContentSuffix,
		"debounce", w.cfg.WatchDebounce())

	for {
		select {
		case <-ctx.Done():
			w.stopTimer()
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watch error", "error", err)
		}
	}
}

// handleEvent filters a single filesystem event and schedules a publish run
// when it touches a content file.
func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event) {
	// New directories must be added to the watch set so nested edits are
	// still observed.
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := addRecursive(fsw, event.Name); err != nil {
				w.logger.Warn("failed to watch new directory", "dir", event.Name, "error", err)
			}
			return
		}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if !post.IsContentFile(event.Name, w.cfg.Site.ContentSuffix) {
		return
	}

	w.logger.Debug("content change detected", "path", event.Name, "op", event.Op.String())
	w.schedule(ctx)
}

// schedule arms the debounce timer, resetting any pending one. The publish
// run fires only after the content tree has been quiet for the full interval.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}

	w.timer = time.AfterFunc(w.cfg.WatchDebounce(), func() {
		if ctx.Err() != nil {
			return
		}
		w.logger.Info("content tree settled, publishing")
		if err := w.runner.Run(ctx); err != nil {
			w.logger.Error("publish failed", "error", err)
		}
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

// addRecursive watches dir and every directory below it, skipping hidden
// directories such as .git.
func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if name := d.Name(); strings.HasPrefix(name, ".") && path != dir {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
