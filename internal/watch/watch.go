// Package watch runs a handler for markdown notes as they change on disk.
package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/blacktop/polyglot/internal/logutil"
	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

const (
	// DefaultDebounce coalesces bursts of writes to the same file.
	DefaultDebounce = 500 * time.Millisecond
	// DefaultEvery is the steady-state spacing between handler calls.
	DefaultEvery = 5 * time.Second
	// DefaultBurst is how many handler calls may run back to back.
	DefaultBurst = 3

	queueSize = 64
)

// Handler processes one changed note.
type Handler func(ctx context.Context, path string) error

// Option customizes a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period required before a file is handled.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithRateLimit throttles handler invocations. Run fails when burst is
// below 1, since no handler could ever be admitted.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(w *Watcher) {
		if burst < 1 {
			w.err = fmt.Errorf("watch: burst must be at least 1, got %d", burst)
			return
		}
		w.limiter = rate.NewLimiter(limit, burst)
	}
}

// WithExtensions replaces the default ".md" filter.
func WithExtensions(exts ...string) Option {
	return func(w *Watcher) {
		if len(exts) > 0 {
			w.exts = exts
		}
	}
}

// Watcher watches one directory.
type Watcher struct {
	dir      string
	handle   Handler
	debounce time.Duration
	limiter  *rate.Limiter
	exts     []string
	err      error

	queue   chan string
	started chan struct{}

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New returns a Watcher for dir. Nothing happens until Run is called.
func New(dir string, handler Handler, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		handle:   handler,
		debounce: DefaultDebounce,
		limiter:  rate.NewLimiter(rate.Every(DefaultEvery), DefaultBurst),
		exts:     []string{".md"},
		queue:    make(chan string, queueSize),
		started:  make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks until ctx is cancelled or the underlying watcher or worker
// fails. Cancellation is not an error.
func (w *Watcher) Run(ctx context.Context) error {
	if w.err != nil {
		return w.err
	}
	if w.handle == nil {
		return errors.New("watch: nil handler")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch: add %s: %w", w.dir, err)
	}

	log := logutil.With("dir", w.dir)
	log.Debug("watching for note changes")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workErr := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		workErr <- w.work(ctx)
	}()
	defer func() {
		cancel()
		w.stopTimers()
		wg.Wait()
	}()
	close(w.started)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-workErr:
			return err
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watch: event channel closed")
			}
			if !w.matches(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				log.Debug("change detected", "path", ev.Name, "op", ev.Op.String())
				w.schedule(ctx, ev.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watch: error channel closed")
			}
			if err != nil {
				log.Warn("watch error", "err", err)
			}
		}
	}
}

func (w *Watcher) matches(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	ext := filepath.Ext(base)
	for _, want := range w.exts {
		if strings.EqualFold(ext, want) {
			return true
		}
	}
	return false
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.queue <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// work runs handlers one at a time so a file is never handled concurrently.
func (w *Watcher) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case path := <-w.queue:
			if err := w.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("watch: rate limiter: %w", err)
			}
			if err := w.handle(ctx, path); err != nil {
				logutil.Errorf("handle %s: %v", path, err)
			}
		}
	}
}
