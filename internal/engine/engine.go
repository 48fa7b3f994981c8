// Package engine wires the scheduler and selector to their collaborators:
// it loads a card from the store, applies a transition under the store's
// exclusive write, and asks the display surface to refresh.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/clock"
	"github.com/conorfennell/topnote/internal/policy"
	"github.com/conorfennell/topnote/internal/queue"
	"github.com/google/uuid"
)

// Store is the persistence the engine needs.
type Store interface {
	queue.Source
	InsertCard(ctx context.Context, c *card.Card) error
	GetCard(ctx context.Context, id uuid.UUID) (*card.Card, error)
	UpdateCard(ctx context.Context, id uuid.UUID, fn func(*card.Card) error) (*card.Card, error)
	EnsureFolder(ctx context.Context, name string) (*card.Folder, error)
}

// Notifier receives a fire-and-forget request to refresh display surfaces.
type Notifier interface {
	RequestRefresh() bool
}

// Engine applies user actions to stored cards.
type Engine struct {
	store     Store
	scheduler *card.Scheduler
	selector  *queue.Selector
	clock     clock.Clock
	notifier  Notifier
	logger    *slog.Logger
}

// New creates an engine.
func New(store Store, scheduler *card.Scheduler, selector *queue.Selector, clk clock.Clock, notifier Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		scheduler: scheduler,
		selector:  selector,
		clock:     clk,
		notifier:  notifier,
		logger:    logger.With("component", "engine"),
	}
}

// NewCard is the input for Create. Folder is a folder name; empty means none.
type NewCard struct {
	Type          card.Type
	Content       string
	Answer        string
	Priority      card.Priority
	Folder        string
	Policies      card.Policies
	IntervalHours float64
	DueAt         time.Time
}

// Create stores a new card, due at DueAt or immediately.
func (e *Engine) Create(ctx context.Context, in NewCard) (*card.Card, error) {
	draft := card.Draft{
		Type:          in.Type,
		Content:       in.Content,
		Answer:        in.Answer,
		Priority:      in.Priority,
		Policies:      in.Policies,
		IntervalHours: in.IntervalHours,
		DueAt:         in.DueAt,
	}
	if in.Folder != "" {
		f, err := e.store.EnsureFolder(ctx, in.Folder)
		if err != nil {
			return nil, err
		}
		draft.Folder = f
	}

	c, err := card.New(draft, e.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := e.store.InsertCard(ctx, c); err != nil {
		return nil, err
	}
	e.logger.Info("card created", "card_id", c.ID(), "type", c.Type(), "next_due_at", c.NextDueAt())
	e.notifier.RequestRefresh()
	return c, nil
}

// Get loads a card. A non-nil card may come with an error wrapping
// policy.ErrPolicyLookupFailure when stored entries had to be dropped.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*card.Card, error) {
	c, err := e.store.GetCard(ctx, id)
	e.diagnose(c, err)
	return c, err
}

// Resolve loads the card addressed by a topnote://card/<uuid> link.
func (e *Engine) Resolve(ctx context.Context, link string) (*card.Card, error) {
	id, err := card.ParseLink(link)
	if err != nil {
		return nil, err
	}
	return e.Get(ctx, id)
}

// Skip defers the card.
func (e *Engine) Skip(ctx context.Context, id uuid.UUID) (*card.Card, error) {
	return e.transition(ctx, id, "skip", func(c *card.Card, now time.Time) error {
		return e.scheduler.Skip(c, now)
	})
}

// Complete marks a todo or note as done.
func (e *Engine) Complete(ctx context.Context, id uuid.UUID) (*card.Card, error) {
	return e.transition(ctx, id, "complete", func(c *card.Card, now time.Time) error {
		return e.scheduler.Complete(c, now)
	})
}

// Rate records a flashcard rating.
func (e *Engine) Rate(ctx context.Context, id uuid.UUID, outcome card.Outcome) (*card.Card, error) {
	return e.transition(ctx, id, "rate", func(c *card.Card, now time.Time) error {
		return e.scheduler.SubmitRating(c, outcome, now)
	})
}

// Archive removes the card from selection for good.
func (e *Engine) Archive(ctx context.Context, id uuid.UUID) (*card.Card, error) {
	return e.transition(ctx, id, "archive", func(c *card.Card, _ time.Time) error {
		return c.Archive()
	})
}

// Enqueue makes the card due at the given instant; the zero time means now.
func (e *Engine) Enqueue(ctx context.Context, id uuid.UUID, at time.Time) (*card.Card, error) {
	return e.transition(ctx, id, "enqueue", func(c *card.Card, now time.Time) error {
		if at.IsZero() {
			return c.Enqueue(now)
		}
		return c.Enqueue(at)
	})
}

// RevealAnswer toggles whether a flashcard's answer is shown.
func (e *Engine) RevealAnswer(ctx context.Context, id uuid.UUID) (*card.Card, error) {
	return e.transition(ctx, id, "reveal", func(c *card.Card, _ time.Time) error {
		return c.ToggleAnswer()
	})
}

// Timeline selects the due cards to show at the current instant.
func (e *Engine) Timeline(ctx context.Context, cfg queue.Config) (queue.Timeline, error) {
	return e.selector.Select(ctx, e.clock.Now(), cfg)
}

// CountCards counts cards matching p. IncludeArchived widens the count to
// archived cards for history views.
func (e *Engine) CountCards(ctx context.Context, p queue.Predicate) (int, error) {
	return e.store.Count(ctx, p)
}

func (e *Engine) transition(ctx context.Context, id uuid.UUID, op string, fn func(*card.Card, time.Time) error) (*card.Card, error) {
	now := e.clock.Now()
	c, err := e.store.UpdateCard(ctx, id, func(c *card.Card) error {
		return fn(c, now)
	})
	if c == nil {
		if err != nil {
			e.logger.Warn("transition rejected", "op", op, "card_id", id, "error", err)
		}
		return nil, fmt.Errorf("%s card %s: %w", op, id, err)
	}
	e.diagnose(c, err)
	e.logger.Info("card transitioned",
		"op", op,
		"card_id", id,
		"interval_hours", c.IntervalHours(),
		"next_due_at", c.NextDueAt(),
		"archived", c.IsArchived())
	e.notifier.RequestRefresh()
	return c, err
}

func (e *Engine) diagnose(c *card.Card, err error) {
	if c != nil && errors.Is(err, policy.ErrPolicyLookupFailure) {
		e.logger.Warn("dropped unrecognized stored entries", "card_id", c.ID(), "error", err)
	}
}
