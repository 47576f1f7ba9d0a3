// Package watcher auto-ingests images dropped into inbox directories. Events are
// debounced per file and handed to a Sink; removals are forwarded immediately.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 400 * time.Millisecond

// Sink receives inbox files. IngestFile must tolerate being called again for an
// unchanged file.
type Sink interface {
	IngestFile(ctx context.Context, path string) error
	RemoveFile(ctx context.Context, path string)
}

// Options configures which files an inbox watcher reacts to.
type Options struct {
	Roots      []string
	Extensions []string // empty accepts every file
	Recursive  bool
	Debounce   time.Duration
}

// Stats counts sink calls made by a watcher.
type Stats struct {
	Ingested int64 `json:"ingested"`
	Failed   int64 `json:"failed"`
	Removed  int64 `json:"removed"`
}

// Watcher watches inbox roots and feeds matching image files to a Sink.
type Watcher struct {
	opts   Options
	sink   Sink
	logger *zap.Logger

	mu        sync.Mutex
	roots     []string
	rootPaths map[string][]string // root -> watched directories under it
	pending   map[string]*time.Timer
	fsw       *fsnotify.Watcher
	ctx       context.Context
	done      chan struct{}
	stopOnce  sync.Once

	ingested atomic.Int64
	failed   atomic.Int64
	removed  atomic.Int64
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for inbox events.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// NewWatcher creates a watcher that is idle until Start.
func NewWatcher(opts Options, sink Sink, options ...WatcherOption) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	w := &Watcher{
		opts:      opts,
		sink:      sink,
		logger:    zap.NewNop(),
		rootPaths: make(map[string][]string),
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
		ctx:       context.Background(),
	}
	for _, r := range opts.Roots {
		if abs, err := filepath.Abs(r); err == nil {
			w.roots = appendUnique(w.roots, filepath.Clean(abs))
		}
	}
	for _, o := range options {
		o(w)
	}
	return w
}

// Start begins watching every root, creating missing ones. Sink calls use ctx; the
// watcher stops when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	w.ctx = ctx
	w.logger.Info("Inbox watcher starting",
		zap.Strings("roots", w.roots),
		zap.Strings("extensions", w.opts.Extensions),
		zap.Bool("recursive", w.opts.Recursive))
	for _, root := range w.roots {
		if err := w.watchRootLocked(root); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Inbox watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !w.underRoot(path) {
		return
	}
	w.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.watchNewDirectory(path)
			return
		}
		if w.accepts(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		// A rename reports the old name; the new name arrives as a Create.
		w.cancel(path)
		if w.accepts(path) {
			w.remove(path)
		}
	}
}

// watchNewDirectory starts watching a directory created under a root and ingests its files.
func (w *Watcher) watchNewDirectory(dir string) {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	if w.opts.Recursive {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if err := fsw.Add(path); err != nil {
					w.logger.Debug("inbox failed to watch directory", zap.String("path", path), zap.Error(err))
				}
			}
			return nil
		})
	} else if err := fsw.Add(dir); err != nil {
		w.logger.Debug("inbox failed to watch directory", zap.String("path", dir), zap.Error(err))
	}
	w.syncDirectory(dir)
}

func (w *Watcher) underRoot(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, root := range w.roots {
		if root == path || inDir(root, path) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	return matchExtension(path, w.opts.Extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// schedule ingests path once it has been quiet for the debounce interval.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(path)
	})
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) sinkContext() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ctx
}

func (w *Watcher) ingest(path string) {
	if w.sink == nil {
		return
	}
	ctx := w.sinkContext()
	if ctx.Err() != nil {
		return
	}
	if err := w.sink.IngestFile(ctx, path); err != nil {
		w.failed.Add(1)
		w.logger.Warn("Inbox ingest failed", zap.String("path", path), zap.Error(err))
		return
	}
	w.ingested.Add(1)
	w.logger.Debug("inbox file ingested", zap.String("path", path))
}

func (w *Watcher) remove(path string) {
	if w.sink == nil {
		return
	}
	w.sink.RemoveFile(w.sinkContext(), path)
	w.removed.Add(1)
}

// AddDirectory adds an inbox root. When syncExisting is set, files already in it are
// ingested in the background. Before Start the root is only recorded.
func (w *Watcher) AddDirectory(root string, syncExisting bool) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.roots {
		if r == abs {
			return nil
		}
	}
	if w.fsw != nil {
		if err := w.watchRootLocked(abs); err != nil {
			return err
		}
	}
	w.roots = append(w.roots, abs)
	w.logger.Info("Inbox directory added", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if syncExisting && w.fsw != nil {
		go w.syncDirectory(abs)
	}
	return nil
}

func (w *Watcher) watchRootLocked(root string) error {
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	var paths []string
	if w.opts.Recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			if err := w.fsw.Add(path); err != nil {
				return err
			}
			paths = append(paths, path)
			return nil
		})
		if err != nil {
			return err
		}
	} else {
		if err := w.fsw.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	w.rootPaths[root] = paths
	return nil
}

func (w *Watcher) syncDirectory(root string) {
	w.logger.Debug("inbox syncing directory", zap.String("root", root))
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && !w.opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if w.accepts(path) {
			w.ingest(path)
		}
		return nil
	})
}

// RemoveDirectory stops watching root. Entries already ingested from it are kept.
func (w *Watcher) RemoveDirectory(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return err
	}
	abs = filepath.Clean(abs)
	w.mu.Lock()
	defer w.mu.Unlock()
	idx := -1
	for i, r := range w.roots {
		if r == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	if w.fsw != nil {
		for _, p := range w.rootPaths[abs] {
			_ = w.fsw.Remove(p)
		}
	}
	delete(w.rootPaths, abs)
	w.roots = append(w.roots[:idx], w.roots[idx+1:]...)
	w.logger.Info("Inbox directory removed", zap.String("path", abs))
	return nil
}

// Directories returns a copy of the inbox roots.
func (w *Watcher) Directories() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.roots...)
}

// SyncExistingFiles ingests files already present in every root. Call after Start.
func (w *Watcher) SyncExistingFiles() {
	for _, root := range w.Directories() {
		w.syncDirectory(root)
	}
}

// Stats returns sink call counters.
func (w *Watcher) Stats() Stats {
	return Stats{Ingested: w.ingested.Load(), Failed: w.failed.Load(), Removed: w.removed.Load()}
}

// Stop stops the watcher and cancels pending ingests.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.fsw == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
