package dev

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before a batch
// of changes is delivered.
const DefaultDebounce = 200 * time.Millisecond

// Op is what happened to a path.
type Op int

const (
	OpWrite Op = iota
	OpCreate
	OpRemove
)

// Change is one changed path.
type Change struct {
	Path string
	Op   Op
}

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Paths are the files and directories to watch. Directories are watched
	// recursively; directories created later are added automatically.
	Paths []string

	// Ignore patterns to skip: base names, slash-separated segment runs or
	// globs. Directories whose name matches are not descended into.
	Ignore []string

	// IgnoreDirs are directories skipped with everything below them, such as
	// the build output.
	IgnoreDirs []string

	// Debounce is the delay before delivering a batch.
	Debounce time.Duration

	Logger *slog.Logger
}

// DefaultIgnore contains default patterns to ignore.
var DefaultIgnore = []string{
	".git",
	"node_modules",
	".fastivite-dev",
	"*.tmp",
	"*.swp",
	"*~",
}

// Watcher reports debounced batches of file changes.
type Watcher struct {
	config   WatcherConfig
	log      *slog.Logger
	onChange func([]Change)
	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	fsw      *fsnotify.Watcher
}

// NewWatcher creates a new file watcher.
func NewWatcher(config WatcherConfig) *Watcher {
	if config.Debounce == 0 {
		config.Debounce = DefaultDebounce
	}
	if len(config.Ignore) == 0 {
		config.Ignore = DefaultIgnore
	}
	log := config.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{config: config, log: log.With("component", "watcher")}
}

// OnChange sets the callback for change batches. Callbacks never overlap.
func (w *Watcher) OnChange(fn func([]Change)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = fn
}

// Start watches until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.running = true
	w.stopCh = make(chan struct{})
	stopCh := w.stopCh
	w.mu.Unlock()
	defer fsw.Close()

	for _, p := range w.config.Paths {
		w.add(p)
	}

	deb := NewDebouncer(w.config.Debounce, func(changes []Change) {
		w.mu.Lock()
		fn := w.onChange
		w.mu.Unlock()
		if fn != nil {
			fn(changes)
		}
	})
	defer deb.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if w.shouldIgnore(ev.Name) {
				continue
			}
			change, ok := w.translate(ev)
			if ok {
				deb.Add(change)
			}
		}
	}
}

func (w *Watcher) translate(ev fsnotify.Event) (Change, bool) {
	switch {
	case ev.Has(fsnotify.Create):
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			w.add(ev.Name)
			return Change{}, false
		}
		return Change{Path: ev.Name, Op: OpCreate}, true
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		return Change{Path: ev.Name, Op: OpRemove}, true
	case ev.Has(fsnotify.Write):
		return Change{Path: ev.Name, Op: OpWrite}, true
	}
	return Change{}, false
}

// add watches p and, for directories, every subdirectory not ignored.
func (w *Watcher) add(p string) {
	info, err := os.Stat(p)
	if err != nil {
		return
	}
	if !info.IsDir() {
		// Watch the parent so editors that replace files are still seen.
		if err := w.fsw.Add(filepath.Dir(p)); err != nil {
			w.log.Debug("watch failed", "path", p, "error", err)
		}
		return
	}
	filepath.WalkDir(p, func(dir string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if dir != p && w.shouldIgnore(dir) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(dir); err != nil {
			w.log.Debug("watch failed", "path", dir, "error", err)
		}
		return nil
	})
}

// Stop stops the watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		close(w.stopCh)
		w.running = false
	}
}

// IsRunning returns whether the watcher is running.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// shouldIgnore checks if a path should be ignored.
func (w *Watcher) shouldIgnore(fullPath string) bool {
	for _, dir := range w.config.IgnoreDirs {
		if isWithinDir(fullPath, dir) {
			return true
		}
	}
	name := filepath.Base(fullPath)
	normalized := filepath.ToSlash(fullPath)

	for _, pattern := range w.config.Ignore {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if name == pattern {
			return true
		}

		hasPathSep := strings.Contains(pattern, "/")
		if strings.ContainsAny(pattern, "*?[") {
			target := name
			if hasPathSep {
				target = normalized
			}
			if matched, _ := path.Match(pattern, target); matched {
				return true
			}
			continue
		}
		if hasPathSep && pathMatchesSegments(normalized, pattern) {
			return true
		}
	}
	return false
}

func pathMatchesSegments(path, pattern string) bool {
	pathParts := splitPathSegments(path)
	patternParts := splitPathSegments(pattern)
	if len(patternParts) == 0 || len(patternParts) > len(pathParts) {
		return false
	}
	for i := 0; i <= len(pathParts)-len(patternParts); i++ {
		match := true
		for j := range patternParts {
			if pathParts[i+j] != patternParts[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func splitPathSegments(path string) []string {
	if path == "" {
		return nil
	}
	parts := strings.Split(path, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	return result
}

// Debouncer collects changes and delivers them as one batch once no new
// change arrived for the delay. Batches are delivered one at a time.
type Debouncer struct {
	delay time.Duration
	fn    func([]Change)

	mu      sync.Mutex
	pending []Change
	seen    map[string]int
	timer   *time.Timer
	stopped bool
	deliver sync.Mutex
}

// NewDebouncer returns a Debouncer calling fn.
func NewDebouncer(delay time.Duration, fn func([]Change)) *Debouncer {
	return &Debouncer{delay: delay, fn: fn, seen: map[string]int{}}
}

// Add records c and restarts the quiet period. Repeated changes to one path
// within a batch collapse into the latest.
func (d *Debouncer) Add(c Change) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if i, ok := d.seen[c.Path]; ok {
		d.pending[i] = c
	} else {
		d.seen[c.Path] = len(d.pending)
		d.pending = append(d.pending, c)
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	batch := d.pending
	d.pending = nil
	d.seen = map[string]int{}
	d.timer = nil
	stopped := d.stopped
	d.mu.Unlock()

	if stopped || len(batch) == 0 {
		return
	}
	d.deliver.Lock()
	defer d.deliver.Unlock()
	d.fn(batch)
}

// Stop drops pending changes.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = nil
}
