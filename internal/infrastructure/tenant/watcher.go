package tenant

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AtRiskMedia/intervene/internal/infrastructure/observability/logging"
)

const defaultWatchDebounce = 500 * time.Millisecond

// Watcher reloads a FileSource when its file changes and purges the store so
// the next lookup sees the new policy.
type Watcher struct {
	source   *FileSource
	store    *Store
	path     string
	debounce time.Duration
	logger   *logging.ChanneledLogger

	mu       sync.Mutex
	timer    *time.Timer
	fs       *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher prepares a watcher; Start begins watching.
func NewWatcher(source *FileSource, store *Store, debounce time.Duration, logger *logging.ChanneledLogger) *Watcher {
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}
	path := source.Path()
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return &Watcher{
		source:   source,
		store:    store,
		path:     filepath.Clean(path),
		debounce: debounce,
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start watches the file's directory (editors replace files rather than
// writing them in place) until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create policy watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("watch policy directory: %w", err)
	}
	w.mu.Lock()
	w.fs = fsw
	w.mu.Unlock()

	go w.loop(ctx, fsw)
	return nil
}

// Stop ends the watch loop and waits for it.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	w.mu.Lock()
	started := w.fs != nil
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.done)
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		w.mu.Unlock()
		fsw.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.schedule()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Tenant().Warn("Policy watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}
	if err := w.source.Reload(); err != nil {
		w.logger.Tenant().Warn("Policy reload failed, keeping previous policies", "error", err)
		return
	}
	w.store.Purge()
}
