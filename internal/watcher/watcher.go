package watcher

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/cindex-mcp/internal/config"
	"github.com/dshills/cindex-mcp/internal/jobs"
	"github.com/dshills/cindex-mcp/internal/logger"
	"github.com/dshills/cindex-mcp/pkg/types"
)

// Sink receives change notifications for watched projects
type Sink interface {
	FileAdded(project, path string) ([]*jobs.Job, error)
	FileChanged(project, path string) ([]*jobs.Job, error)
	FileRemoved(project, path string) (*jobs.Job, error)
	FolderAdded(project, folder string) (*jobs.Job, error)
	FolderRemoved(project, folder string) (*jobs.Job, error)
	SettingsChanged(project string) (*jobs.Job, error)
}

// Watcher turns fsnotify events below the project roots into debounced
// change notifications
type Watcher struct {
	config      config.WatchConfig
	fsWatcher   *fsnotify.Watcher
	fsWatcherMu sync.Mutex
	debouncer   *Debouncer
	sink        Sink
	log         *slog.Logger

	mu      sync.RWMutex
	roots   map[string]struct{}
	dirs    map[string]struct{}
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a watcher delivering to sink
func New(cfg config.WatchConfig, sink Sink) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		config:    cfg,
		fsWatcher: fsWatcher,
		sink:      sink,
		log:       logger.ForComponent("watcher"),
		roots:     make(map[string]struct{}),
		dirs:      make(map[string]struct{}),
	}
	w.debouncer = NewDebouncer(cfg.DebounceWindow, cfg.MaxBatchSize, w.onFlush)
	return w, nil
}

func (w *Watcher) addToWatcher(path string) error {
	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	if err := w.fsWatcher.Add(path); err != nil {
		return err
	}
	w.mu.Lock()
	w.dirs[path] = struct{}{}
	w.mu.Unlock()
	return nil
}

func (w *Watcher) removeFromWatcher(path string) {
	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	_ = w.fsWatcher.Remove(path)
	w.mu.Lock()
	delete(w.dirs, path)
	w.mu.Unlock()
}

// AddRoot watches a project directory and everything below it
func (w *Watcher) AddRoot(project string) error {
	project = filepath.Clean(project)
	w.log.Info("adding root to watch", "path", project)

	w.mu.Lock()
	w.roots[project] = struct{}{}
	w.mu.Unlock()

	if err := w.addToWatcher(project); err != nil {
		w.mu.Lock()
		delete(w.roots, project)
		w.mu.Unlock()
		return err
	}
	w.walkAndAdd(project, project)
	return nil
}

func (w *Watcher) walkAndAdd(project, path string) {
	entries, err := os.ReadDir(path)
	if err != nil {
		w.log.Debug("failed to read directory", "path", path, "error", err)
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		fullPath := filepath.Join(path, entry.Name())
		if w.shouldIgnore(project, fullPath, true) {
			continue
		}
		if err := w.addToWatcher(fullPath); err != nil {
			w.log.Debug("failed to watch directory", "path", fullPath, "error", err)
			continue
		}
		w.walkAndAdd(project, fullPath)
	}
}

// RemoveRoot stops watching a project
func (w *Watcher) RemoveRoot(project string) {
	project = filepath.Clean(project)

	w.mu.Lock()
	delete(w.roots, project)
	var dirs []string
	for dir := range w.dirs {
		if isUnder(dir, project) && w.projectForLocked(dir) == "" {
			dirs = append(dirs, dir)
		}
	}
	w.mu.Unlock()

	for _, dir := range dirs {
		w.removeFromWatcher(dir)
	}
}

// Roots lists watched project roots
func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.roots))
	for root := range w.roots {
		out = append(out, root)
	}
	sort.Strings(out)
	return out
}

// projectFor returns the innermost watched root containing path
func (w *Watcher) projectFor(path string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.projectForLocked(path)
}

func (w *Watcher) projectForLocked(path string) string {
	best := ""
	for root := range w.roots {
		if isUnder(path, root) && len(root) > len(best) {
			best = root
		}
	}
	return best
}

func (w *Watcher) watched(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.dirs[path]
	return ok
}

// Start begins delivering events until ctx is done or Stop is called
func (w *Watcher) Start(ctx context.Context) error {
	w.log.Info("starting file watcher")

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	go func() {
		defer close(done)
		w.handleEvents(ctx)
	}()
	return nil
}

func (w *Watcher) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.log.Debug("file event", "path", event.Name, "op", event.Op.String())

			if fileEvent := w.convertEvent(event); fileEvent != nil {
				w.debouncer.Add(*fileEvent)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) convertEvent(event fsnotify.Event) *FileEvent {
	path := filepath.Clean(event.Name)
	project := w.projectFor(path)
	if project == "" {
		return nil
	}

	fe := &FileEvent{Path: path, Timestamp: time.Now()}
	switch {
	case event.Has(fsnotify.Create):
		fe.Type = EventCreate
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			fe.Dir = true
		}
	case event.Has(fsnotify.Write):
		fe.Type = EventModify
	case event.Has(fsnotify.Remove):
		fe.Type = EventDelete
		fe.Dir = w.watched(path)
	case event.Has(fsnotify.Rename):
		fe.Type = EventRename
		fe.Dir = w.watched(path)
	default:
		return nil
	}

	if w.shouldIgnore(project, path, fe.Dir) {
		return nil
	}

	switch {
	case fe.Dir && fe.Type == EventCreate:
		if err := w.addToWatcher(path); err == nil {
			w.walkAndAdd(project, path)
		}
	case fe.Dir && fe.gone():
		w.unwatchBelow(path)
	}
	return fe
}

func (w *Watcher) unwatchBelow(path string) {
	w.mu.RLock()
	var dirs []string
	for dir := range w.dirs {
		if isUnder(dir, path) {
			dirs = append(dirs, dir)
		}
	}
	w.mu.RUnlock()
	for _, dir := range dirs {
		w.removeFromWatcher(dir)
	}
}

// onFlush delivers a debounced batch to the sink
func (w *Watcher) onFlush(events []FileEvent) {
	settings := make(map[string]bool)
	for _, event := range events {
		project := w.projectFor(event.Path)
		if project == "" {
			continue
		}
		if filepath.Base(event.Path) == config.ProjectFileName && filepath.Dir(event.Path) == project {
			settings[project] = true
			continue
		}

		var err error
		switch {
		case event.Dir && event.gone():
			_, err = w.sink.FolderRemoved(project, event.Path)
		case event.Dir && event.Type == EventCreate:
			_, err = w.sink.FolderAdded(project, event.Path)
		case event.Dir:
			continue
		case event.gone():
			_, err = w.sink.FileRemoved(project, event.Path)
		case event.Type == EventCreate:
			_, err = w.sink.FileAdded(project, event.Path)
		default:
			_, err = w.sink.FileChanged(project, event.Path)
		}
		w.report(event, err)
	}

	for project := range settings {
		_, err := w.sink.SettingsChanged(project)
		w.report(FileEvent{Path: filepath.Join(project, config.ProjectFileName), Type: EventModify}, err)
	}
}

func (w *Watcher) report(event FileEvent, err error) {
	switch {
	case err == nil:
		w.log.Debug("change delivered", "path", event.Path, "type", event.Type.String())
	case errors.Is(err, types.ErrRejected):
		w.log.Debug("change dropped, indexer stopped", "path", event.Path)
	default:
		w.log.Warn("failed to deliver change", "path", event.Path, "error", err)
	}
}

// shouldIgnore applies the hidden-file rule and the ignore patterns to the
// project-relative path
func (w *Watcher) shouldIgnore(project, path string, dir bool) bool {
	basename := filepath.Base(path)
	if strings.HasPrefix(basename, ".") && !(basename == config.ProjectFileName && filepath.Dir(path) == project) {
		return true
	}

	rel, err := filepath.Rel(project, path)
	if err != nil {
		return true
	}
	rel = filepath.ToSlash(rel)
	if dir {
		rel += "/"
	}
	return config.MatchAny(w.config.IgnorePatterns, rel)
}

// Stop ends event delivery, flushes pending events and closes the
// underlying watcher
func (w *Watcher) Stop() error {
	w.log.Info("stopping file watcher")

	w.mu.Lock()
	running := w.running
	w.running = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if running {
		cancel()
		<-done
	}
	w.debouncer.Stop()

	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	return w.fsWatcher.Close()
}

func isUnder(path, root string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}
