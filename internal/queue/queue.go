// Package queue selects which due cards a constrained display surface shows.
//
// Selection runs in two stages. The whole predicate (archived, due time, type
// and folder), the sort order and a row limit are pushed down to the Source;
// the rows are then re-checked, ordered and truncated in memory.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/google/uuid"
)

// ErrConfigurationInvalid is returned before any query runs when the
// selection config cannot be satisfied.
var ErrConfigurationInvalid = errors.New("invalid selector configuration")

// NoFolder selects cards that are not in any folder.
var NoFolder = uuid.Nil

// DefaultFetchLimit caps the rows requested from the Source per selection.
const DefaultFetchLimit = 100

// Predicate is the part of a selection the Source evaluates.
type Predicate struct {
	// DueBy keeps cards whose next due time is at or before it. The zero
	// value disables the due filter.
	DueBy time.Time
	// IncludeArchived keeps archived cards. Selection never sets it; count
	// queries for history views may.
	IncludeArchived bool
	// Types keeps cards of these types; empty keeps all.
	Types []card.Type
	// Folders keeps cards in these folders; empty keeps all. NoFolder
	// matches cards without a folder.
	Folders []uuid.UUID
}

// Matches evaluates the predicate against a card in memory.
func (p Predicate) Matches(c *card.Card) bool {
	if c.IsArchived() && !p.IncludeArchived {
		return false
	}
	if !p.DueBy.IsZero() && c.NextDueAt().After(p.DueBy) {
		return false
	}
	if len(p.Types) > 0 && !slices.Contains(p.Types, c.Type()) {
		return false
	}
	if len(p.Folders) > 0 && !slices.Contains(p.Folders, c.FolderID()) {
		return false
	}
	return true
}

// Query is a push-down fetch. Results must be ordered by priority
// descending, next due time ascending, then id ascending.
type Query struct {
	Predicate Predicate
	Limit     int
}

// Source is the persistence boundary the selector reads through.
type Source interface {
	// Snapshot runs q and counts the cards matching total within one
	// consistent read, so concurrent writes cannot land between the two.
	Snapshot(ctx context.Context, q Query, total Predicate) ([]*card.Card, int, error)
	Count(ctx context.Context, p Predicate) (int, error)
}

// Config describes what a display surface wants to show.
type Config struct {
	// Types restricts the card types; empty means all.
	Types []card.Type
	// Folders restricts folders; empty means all. NoFolder matches cards
	// without a folder.
	Folders    []uuid.UUID
	MaxResults int
}

// Validate rejects contradictory configuration.
func (c Config) Validate() error {
	if c.MaxResults <= 0 {
		return fmt.Errorf("%w: max results must be positive, got %d", ErrConfigurationInvalid, c.MaxResults)
	}
	for _, t := range c.Types {
		if !t.IsValid() {
			return fmt.Errorf("%w: unknown card type %s", ErrConfigurationInvalid, t)
		}
	}
	return nil
}

// predicate is the push-down form of c at now.
func (c Config) predicate(now time.Time) Predicate {
	return Predicate{DueBy: now, Types: c.Types, Folders: c.Folders}
}

// Timeline is the result of a selection.
type Timeline struct {
	Cards []*card.Card
	// TotalDue counts every due, unarchived card regardless of MaxResults
	// and of the type and folder filters.
	TotalDue    int
	GeneratedAt time.Time
}

// Selector builds timelines from a Source.
type Selector struct {
	source     Source
	fetchLimit int
	logger     *slog.Logger
}

// NewSelector returns a selector reading from source. A fetchLimit of zero
// or less uses DefaultFetchLimit.
func NewSelector(source Source, fetchLimit int, logger *slog.Logger) *Selector {
	if fetchLimit <= 0 {
		fetchLimit = DefaultFetchLimit
	}
	return &Selector{
		source:     source,
		fetchLimit: fetchLimit,
		logger:     logger.With("component", "queue_selector"),
	}
}

// Select returns at most cfg.MaxResults due cards at now in display order,
// together with the total due count.
func (s *Selector) Select(ctx context.Context, now time.Time, cfg Config) (Timeline, error) {
	if err := cfg.Validate(); err != nil {
		return Timeline{}, err
	}

	pred := cfg.predicate(now)
	rows, total, err := s.source.Snapshot(ctx, Query{Predicate: pred, Limit: s.fetchLimit}, Predicate{DueBy: now})
	if err != nil {
		return Timeline{}, fmt.Errorf("failed to read due cards: %w", err)
	}

	selected := Residual(rows, pred, cfg.MaxResults)
	s.logger.Debug("timeline selected",
		"fetched", len(rows),
		"selected", len(selected),
		"total_due", total,
		"max_results", cfg.MaxResults)

	return Timeline{Cards: selected, TotalDue: total, GeneratedAt: now}, nil
}

// Residual re-checks rows against pred, orders them and truncates to
// maxResults.
func Residual(rows []*card.Card, pred Predicate, maxResults int) []*card.Card {
	out := make([]*card.Card, 0, min(len(rows), maxResults))
	for _, c := range rows {
		if pred.Matches(c) {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, Compare)
	if len(out) > maxResults {
		out = out[:maxResults]
	}
	return out
}

// Compare orders cards by priority descending, next due time ascending and
// id ascending. It is a strict total order over distinct cards.
func Compare(a, b *card.Card) int {
	if a.Priority != b.Priority {
		if a.Priority > b.Priority {
			return -1
		}
		return 1
	}
	if c := a.NextDueAt().Compare(b.NextDueAt()); c != 0 {
		return c
	}
	return strings.Compare(a.ID().String(), b.ID().String())
}
