// Package watch reloads recipe definitions when files in the definitions
// directory change.
package watch

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"voxelforge.ai/internal/sim/catalogs"
	"voxelforge.ai/internal/sim/recipes"
	"voxelforge.ai/internal/sim/recipes/loader"
)

type Stats struct {
	Events   int
	Reloads  int
	Failures int
	LastPath string
}

// Watcher batches filesystem events and calls reload once the directory
// has been quiet for the debounce interval.
type Watcher struct {
	mu       sync.Mutex
	fs       *fsnotify.Watcher
	dir      string
	debounce time.Duration
	reload   func() error
	logger   *log.Logger

	pending time.Time
	stats   Stats
	running bool
	closed  bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func New(dir string, debounce time.Duration, reload func() error, logger *log.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Watcher{
		fs:       fs,
		dir:      dir,
		debounce: debounce,
		reload:   reload,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// ErrClosed is returned by Start once the watcher has been stopped or has
// failed to start. A Watcher is single-use.
var ErrClosed = errors.New("watch: watcher closed")

// Start watches dir and its subdirectories. It does not block. When the
// tree cannot be watched the fsnotify handle is released and the watcher
// is closed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	if w.running {
		return nil
	}
	if err := w.addTree(w.dir); err != nil {
		w.closed = true
		if cerr := w.fs.Close(); cerr != nil {
			w.logger.Printf("watch: close: %v", cerr)
		}
		return err
	}
	w.running = true
	go w.run(ctx)
	return nil
}

// Stop ends the event loop and releases the fsnotify handle. It is safe to
// call more than once, and on a watcher that was never started.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.fs.Close(); err != nil {
		w.logger.Printf("watch: close: %v", err)
	}
}

// Run starts the watcher and blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func (w *Watcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fs.Add(path)
		}
		return nil
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := time.NewTicker(w.debounce / 4)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Printf("watch: %v", err)
		case now := <-tick.C:
			w.flush(now)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if ev.Op&fsnotify.Create != 0 {
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Printf("watch: add %s: %v", ev.Name, err)
			}
		}
	}
	if !strings.EqualFold(filepath.Ext(ev.Name), ".json") && ev.Op&fsnotify.Create == 0 {
		return
	}
	w.mu.Lock()
	w.stats.Events++
	w.stats.LastPath = ev.Name
	w.pending = time.Now()
	w.mu.Unlock()
}

func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	if w.pending.IsZero() || now.Sub(w.pending) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.pending = time.Time{}
	w.mu.Unlock()

	err := w.reload()

	w.mu.Lock()
	w.stats.Reloads++
	if err != nil {
		w.stats.Failures++
	}
	w.mu.Unlock()
	if err != nil {
		w.logger.Printf("watch: reload %s: %v", w.dir, err)
	}
}

// ReloadRegistry returns a reload function that rebuilds reg from dir.
// Files that fail to load are logged and left out; the registry keeps
// its current generation only when the set as a whole cannot be built.
func ReloadRegistry(dir string, blocks catalogs.BlockCatalog, opts loader.Options, reg *recipes.Registry, logger *log.Logger) func() error {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return func() error {
		res, err := loader.LoadDir(dir, blocks, opts)
		if err != nil {
			return err
		}
		for _, e := range res.Errors {
			logger.Printf("recipes: skip %v", e)
		}
		set, err := res.Set()
		if err != nil {
			return err
		}
		reg.Install(set)
		logger.Printf("recipes: loaded %d structures, %d tokens from %d files (digest %.12s)", set.Len(), set.Tokens().Len(), res.Files, set.Digest())
		return nil
	}
}
