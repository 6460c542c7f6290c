// Package watch reports changes to a set of files, coalescing bursts of
// filesystem events into one notification.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a file must stay quiet before a change is
// reported.
const DefaultDebounce = 250 * time.Millisecond

// Watcher calls onChange after any of its files was written or replaced.
type Watcher struct {
	files    map[string]struct{}
	fsw      *fsnotify.Watcher
	onChange func(path string)
	debounce time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a watcher for paths. Directories are watched rather than the
// files themselves so editors that save by rename are still seen.
func New(paths []string, onChange func(path string), logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	files := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s: %w", p, err)
		}
		files[abs] = struct{}{}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &Watcher{
		files:    files,
		fsw:      fsw,
		onChange: onChange,
		debounce: DefaultDebounce,
		logger:   logger.Named("watch"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// SetDebounce changes the quiet period. Call before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	dirs := make(map[string]struct{})
	for f := range w.files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	for dir := range dirs {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	w.running = true
	w.logger.Info("watching files", zap.Int("files", len(w.files)))
	go w.loop(ctx)
	return nil
}

// Stop ends the watch and waits for the event loop to return. It is safe
// to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsw.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.done
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		changed string
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("file event", zap.String("op", ev.Op.String()), zap.String("file", ev.Name))
			changed = ev.Name
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.logger.Info("file changed", zap.String("file", changed))
			w.onChange(changed)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}
