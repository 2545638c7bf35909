package cartographer

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/veilgate/gateway/internal/logging"
)

// Watcher reloads a Cartographer's KNOWN set whenever its backing
// OpenAPI file changes on disk, so a document committed to disk is
// picked up without an admin push.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	cg       *Cartographer
	debounce time.Duration

	mu      sync.Mutex
	pending *time.Timer
}

// NewWatcher creates a Watcher for path, whose changes reload cg.
func NewWatcher(path string, cg *Cartographer) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{watcher: fw, path: path, cg: cg, debounce: 200 * time.Millisecond}, nil
}

// Start watches for changes until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.scheduleReload(ctx)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("cartographer watcher error", zap.String("path", w.path), zap.Error(err))
		}
	}
}

func (w *Watcher) scheduleReload(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pending != nil {
		w.pending.Stop()
	}
	w.pending = time.AfterFunc(w.debounce, func() {
		if err := w.cg.LoadFromFile(ctx, w.path); err != nil {
			logging.Error("cartographer: reload failed", zap.String("path", w.path), zap.Error(err))
		}
	})
}
