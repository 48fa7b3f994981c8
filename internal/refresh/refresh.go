// Package refresh coalesces display-refresh requests triggered by card
// transitions.
//
// A Throttle is created once at process start and shared by every caller.
// At most one signal passes per window; requests inside the window are
// dropped, never queued. Passing signals are dispatched on their own
// goroutine, so a transition never waits on display work.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/topnote/internal/clock"
	"golang.org/x/time/rate"
)

// DefaultWindow is the minimum spacing between two refresh signals.
const DefaultWindow = 2 * time.Second

// Handler rebuilds a display surface. gen increases with every dispatch;
// ctx is cancelled as soon as a newer dispatch starts.
type Handler func(ctx context.Context, gen uint64)

// Throttle is a process-wide refresh signal. Safe for concurrent use.
type Throttle struct {
	window time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	limiter  *rate.Limiter
	handlers []Handler
	gen      uint64
	cancel   context.CancelFunc
	closed   bool
	inflight sync.WaitGroup
}

// NewThrottle returns a throttle allowing one signal per window, measured
// against clk.
func NewThrottle(window time.Duration, clk clock.Clock, logger *slog.Logger) *Throttle {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Throttle{
		window:  window,
		clock:   clk,
		logger:  logger.With("component", "refresh_throttle"),
		limiter: newLimiter(window),
	}
}

func newLimiter(window time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(window), 1)
}

// OnRefresh registers a handler invoked for every signal that passes.
func (t *Throttle) OnRefresh(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// RequestRefresh asks for a refresh. It reports whether a signal was
// dispatched; false means the request was coalesced into an earlier one or
// the throttle is closed.
func (t *Throttle) RequestRefresh() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false
	}
	if !t.limiter.AllowN(t.clock.Now(), 1) {
		t.logger.Debug("refresh coalesced", "generation", t.gen)
		return false
	}

	if t.cancel != nil {
		t.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.gen++
	gen := t.gen
	handlers := append([]Handler(nil), t.handlers...)

	t.logger.Debug("refresh dispatched", "generation", gen, "handler_count", len(handlers))
	for _, h := range handlers {
		t.inflight.Add(1)
		go func(h Handler) {
			defer t.inflight.Done()
			h(ctx, gen)
		}(h)
	}
	return true
}

// Generation returns the number of signals dispatched so far.
func (t *Throttle) Generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

// Wait blocks until every dispatched handler has returned.
func (t *Throttle) Wait() {
	t.inflight.Wait()
}

// Reset forgets the last signal so the next request passes. Tests only.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.limiter = newLimiter(t.window)
}

// Close cancels the in-flight dispatch and waits for handlers to return.
// Requests made after Close are dropped.
func (t *Throttle) Close() {
	t.mu.Lock()
	t.closed = true
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()
	t.Wait()
}

// Latest keeps the newest value published by refresh handlers and ignores
// publications from superseded generations.
type Latest[T any] struct {
	mu    sync.RWMutex
	gen   uint64
	value T
	set   bool
}

// Publish stores v if gen is at least as new as the stored generation. It
// reports whether v was kept.
func (l *Latest[T]) Publish(gen uint64, v T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.set && gen < l.gen {
		return false
	}
	l.gen, l.value, l.set = gen, v, true
	return true
}

// Load returns the stored value and whether anything was published.
func (l *Latest[T]) Load() (T, uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.value, l.gen, l.set
}
