// Package watch triggers rebuilds when project sources change.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	foundation "git.home.luguber.info/inful/simbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/simbuild/internal/logfields"
)

// DefaultDebounce is the quiet window used when none is configured.
const DefaultDebounce = 300 * time.Millisecond

// Watcher watches directories recursively and single files through their
// parent directory.
type Watcher struct {
	paths    []string
	debounce time.Duration
	logger   *slog.Logger
}

// New creates a watcher for paths.
func New(paths []string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{paths: paths, debounce: debounce, logger: logger}
}

// Run calls rebuild after every burst of relevant changes until ctx is done.
// Rebuilds never overlap; changes during a rebuild queue exactly one more.
func (w *Watcher) Run(ctx context.Context, rebuild func(context.Context)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return foundation.WrapError(err, foundation.CategoryFileSystem, "failed to create file watcher").Build()
	}
	defer fw.Close()

	var roots []string
	files := map[string]bool{}
	for _, p := range w.paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		st, err := os.Stat(abs)
		if err != nil {
			return foundation.FileSystemError("cannot watch missing path").
				WithCause(err).
				WithContext("path", abs).
				Build()
		}
		if st.IsDir() {
			roots = append(roots, abs)
			w.addDirsRecursive(fw, abs)
			continue
		}
		files[abs] = true
		if err := fw.Add(filepath.Dir(abs)); err != nil {
			w.logger.Warn("watch add failed", logfields.Path(abs), logfields.Error(err))
		}
	}

	relevant := func(name string) bool {
		if files[name] {
			return true
		}
		if shouldIgnoreEvent(name) {
			return false
		}
		for _, r := range roots {
			if name == r || strings.HasPrefix(name, r+string(filepath.Separator)) {
				return true
			}
		}
		return false
	}

	requests := make(chan struct{}, 1)
	trigger, stopTimer := debouncer(w.debounce, requests)
	defer stopTimer()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-requests:
				w.logger.Info("Change detected; rebuilding")
				rebuild(ctx)
			}
		}
	}()
	defer wg.Wait()

	w.logger.Info("Watching for changes", logfields.Count(len(roots)+len(files)))
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev.Name) {
				continue
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					w.addDirsRecursive(fw, ev.Name)
				}
			}
			w.logger.Debug("File change detected", logfields.Path(ev.Name), slog.String("op", ev.Op.String()))
			trigger()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", logfields.Error(err))
		}
	}
}

// debouncer returns a trigger that sends on out once no trigger happened for
// quiet, and a function stopping the pending timer.
func debouncer(quiet time.Duration, out chan<- struct{}) (trigger func(), stop func()) {
	var mu sync.Mutex
	var timer *time.Timer
	trigger = func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(quiet, func() {
			select {
			case out <- struct{}{}:
			default:
			}
		})
	}
	stop = func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}
	return trigger, stop
}

func (w *Watcher) addDirsRecursive(fw *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && shouldIgnoreEvent(path) {
				return filepath.SkipDir
			}
			if err := fw.Add(path); err != nil {
				w.logger.Warn("watch add failed", logfields.Path(path), logfields.Error(err))
			}
		}
		return nil
	})
}

// shouldIgnoreEvent returns true for hidden files, editor swap files and OS
// metadata files.
func shouldIgnoreEvent(path string) bool {
	base := filepath.Base(path)

	if strings.HasPrefix(base, ".") {
		return true
	}
	if strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".swx") ||
		strings.HasPrefix(base, "#") && strings.HasSuffix(base, "#") {
		return true
	}
	return base == "Thumbs.db"
}
