package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/clock"
	"github.com/conorfennell/topnote/internal/policy"
	"github.com/conorfennell/topnote/internal/queue"
	"github.com/conorfennell/topnote/internal/refresh"
	"github.com/conorfennell/topnote/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type countingNotifier struct{ n atomic.Int32 }

func (c *countingNotifier) RequestRefresh() bool {
	c.n.Add(1)
	return true
}

type fixture struct {
	engine   *Engine
	clock    *clock.Manual
	notifier *countingNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "engine.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clk := clock.NewManual(t0)
	n := &countingNotifier{}
	e := New(db, card.NewScheduler(policy.DefaultConfig()), queue.NewSelector(db, 0, logger), clk, n, logger)
	return fixture{engine: e, clock: clk, notifier: n}
}

func TestCreateAndSkip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	c, err := f.engine.Create(ctx, NewCard{Type: card.Note, Content: "remember", IntervalHours: 100, Folder: "ideas"})
	require.NoError(t, err)
	assert.Equal(t, "ideas", c.Folder.Name)
	assert.True(t, c.IsEnqueued(t0))

	f.clock.Advance(time.Hour)
	skipped, err := f.engine.Skip(ctx, c.ID())
	require.NoError(t, err)
	assert.Equal(t, 50.0, skipped.IntervalHours())
	assert.Equal(t, t0.Add(time.Hour).Add(50*time.Hour), skipped.NextDueAt())
	assert.Equal(t, int32(2), f.notifier.n.Load())

	stored, err := f.engine.Get(ctx, c.ID())
	require.NoError(t, err)
	assert.Len(t, stored.History().Skips, 1)
}

func TestRejectedTransitionDoesNotRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.engine.Create(ctx, NewCard{Type: card.Todo, Content: "file taxes"})
	require.NoError(t, err)

	_, err = f.engine.Rate(ctx, c.ID(), card.Easy)
	assert.True(t, errors.Is(err, card.ErrInvalidCardType))

	_, err = f.engine.Complete(ctx, c.ID())
	require.NoError(t, err)
	_, err = f.engine.Skip(ctx, c.ID())
	assert.True(t, errors.Is(err, card.ErrInvalidTransition))

	_, err = f.engine.Skip(ctx, uuid.New())
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	assert.Equal(t, int32(2), f.notifier.n.Load())
}

func TestRateRevealAndEnqueue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.engine.Create(ctx, NewCard{Type: card.Flashcard, Content: "2+2", Answer: "4", IntervalHours: 48})
	require.NoError(t, err)

	revealed, err := f.engine.RevealAnswer(ctx, c.ID())
	require.NoError(t, err)
	assert.True(t, revealed.AnswerRevealed)

	rated, err := f.engine.Rate(ctx, c.ID(), card.Hard)
	require.NoError(t, err)
	assert.False(t, rated.AnswerRevealed)
	assert.Equal(t, 24.0, rated.IntervalHours())

	enqueued, err := f.engine.Enqueue(ctx, c.ID(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, t0, enqueued.NextDueAt())
}

func TestTimelineAndResolve(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	high, err := f.engine.Create(ctx, NewCard{Type: card.Todo, Content: "urgent", Priority: card.PriorityHigh})
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, NewCard{Type: card.Note, Content: "later", DueAt: t0.Add(time.Hour)})
	require.NoError(t, err)
	_, err = f.engine.Create(ctx, NewCard{Type: card.Note, Content: "now"})
	require.NoError(t, err)

	tl, err := f.engine.Timeline(ctx, queue.Config{MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, tl.Cards, 1)
	assert.Equal(t, high.ID(), tl.Cards[0].ID())
	assert.Equal(t, 2, tl.TotalDue)

	resolved, err := f.engine.Resolve(ctx, high.Link())
	require.NoError(t, err)
	assert.Equal(t, "urgent", resolved.Content)

	_, err = f.engine.Resolve(ctx, "topnote://card/not-a-uuid")
	assert.Error(t, err)

	_, err = f.engine.Archive(ctx, high.ID())
	require.NoError(t, err)
	n, err := f.engine.CountCards(ctx, queue.Predicate{IncludeArchived: true})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestTransitionsCoalesceRefreshSignals(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "engine.db"), logger)
	require.NoError(t, err)
	defer db.Close()

	clk := clock.NewManual(t0)
	throttle := refresh.NewThrottle(2*time.Second, clk, logger)
	var signals atomic.Int32
	throttle.OnRefresh(func(ctx context.Context, gen uint64) { signals.Add(1) })
	e := New(db, card.NewScheduler(policy.DefaultConfig()), queue.NewSelector(db, 0, logger), clk, throttle, logger)

	ctx := context.Background()
	c, err := e.Create(ctx, NewCard{Type: card.Note, Content: "n", IntervalHours: 1000})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		clk.Advance(100 * time.Millisecond)
		_, err := e.Skip(ctx, c.ID())
		require.NoError(t, err)
	}
	throttle.Wait()
	assert.Equal(t, int32(1), signals.Load())

	clk.Advance(2 * time.Second)
	_, err = e.Skip(ctx, c.ID())
	require.NoError(t, err)
	throttle.Wait()
	assert.Equal(t, int32(2), signals.Load())
}
