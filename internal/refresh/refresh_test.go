package refresh

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conorfennell/topnote/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestThrottle(clk clock.Clock) *Throttle {
	return NewThrottle(2*time.Second, clk, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestThrottleCoalescesWithinWindow(t *testing.T) {
	clk := clock.NewManual(t0)
	th := newTestThrottle(clk)
	var calls atomic.Int32
	th.OnRefresh(func(ctx context.Context, gen uint64) { calls.Add(1) })

	dispatched := 0
	for i := 0; i < 10; i++ {
		if th.RequestRefresh() {
			dispatched++
		}
		clk.Advance(150 * time.Millisecond)
	}
	th.Wait()
	assert.Equal(t, 1, dispatched)
	assert.Equal(t, int32(1), calls.Load())

	clk.Set(t0.Add(2*time.Second + 100*time.Millisecond))
	assert.True(t, th.RequestRefresh())
	th.Wait()
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, uint64(2), th.Generation())
}

func TestThrottleIsSafeUnderConcurrentRequests(t *testing.T) {
	th := newTestThrottle(clock.NewManual(t0))
	var calls atomic.Int32
	th.OnRefresh(func(ctx context.Context, gen uint64) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			th.RequestRefresh()
		}()
	}
	wg.Wait()
	th.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewerDispatchCancelsInflight(t *testing.T) {
	clk := clock.NewManual(t0)
	th := newTestThrottle(clk)

	started := make(chan uint64, 2)
	cancelled := make(chan uint64, 2)
	th.OnRefresh(func(ctx context.Context, gen uint64) {
		started <- gen
		if gen == 1 {
			<-ctx.Done()
			cancelled <- gen
		}
	})

	require.True(t, th.RequestRefresh())
	assert.Equal(t, uint64(1), <-started)

	clk.Advance(3 * time.Second)
	require.True(t, th.RequestRefresh())
	assert.Equal(t, uint64(1), <-cancelled)
	assert.Equal(t, uint64(2), <-started)
	th.Close()
}

func TestResetAllowsImmediateSignal(t *testing.T) {
	th := newTestThrottle(clock.NewManual(t0))
	require.True(t, th.RequestRefresh())
	require.False(t, th.RequestRefresh())

	th.Reset()
	assert.True(t, th.RequestRefresh())
}

func TestLatestIgnoresStaleGenerations(t *testing.T) {
	var l Latest[string]
	_, _, ok := l.Load()
	assert.False(t, ok)

	assert.True(t, l.Publish(2, "fresh"))
	assert.False(t, l.Publish(1, "stale"))

	v, gen, ok := l.Load()
	require.True(t, ok)
	assert.Equal(t, "fresh", v)
	assert.Equal(t, uint64(2), gen)
}

func TestThrottleDropsRequestsAfterClose(t *testing.T) {
	clk := clock.NewManual(t0)
	th := newTestThrottle(clk)
	var calls atomic.Int32
	th.OnRefresh(func(ctx context.Context, gen uint64) { calls.Add(1) })

	require.True(t, th.RequestRefresh())
	th.Close()
	assert.Equal(t, int32(1), calls.Load())

	clk.Advance(time.Minute)
	assert.False(t, th.RequestRefresh())
	th.Wait()
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, uint64(1), th.Generation())
}

func TestThrottleCloseRacesWithRequests(t *testing.T) {
	th := newTestThrottle(clock.NewManual(t0))
	var calls atomic.Int32
	th.OnRefresh(func(ctx context.Context, gen uint64) { calls.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				th.Reset()
				th.RequestRefresh()
			}
		}()
	}
	th.Close()
	afterClose := calls.Load()
	wg.Wait()
	th.Wait()

	assert.Equal(t, afterClose, calls.Load(), "no handler starts once Close returns")
	assert.Equal(t, uint64(afterClose), th.Generation())
}
