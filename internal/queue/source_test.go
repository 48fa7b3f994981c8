package queue

import (
	"context"
	"slices"
	"sync"

	"github.com/conorfennell/topnote/internal/card"
)

// sliceSource serves queries from an in-memory pool, evaluating the
// predicate and ordering the way a database-backed Source must.
type sliceSource struct {
	mu        sync.Mutex
	cards     []*card.Card
	snapshots int
	counts    int
}

func (s *sliceSource) add(cards ...*card.Card) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cards = append(s.cards, cards...)
}

func (s *sliceSource) Snapshot(ctx context.Context, q Query, total Predicate) ([]*card.Card, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots++

	var out []*card.Card
	for _, c := range s.cards {
		if q.Predicate.Matches(c) {
			out = append(out, c)
		}
	}
	slices.SortStableFunc(out, Compare)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, s.countLocked(total), ctx.Err()
}

func (s *sliceSource) Count(ctx context.Context, p Predicate) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts++
	return s.countLocked(p), ctx.Err()
}

func (s *sliceSource) countLocked(p Predicate) int {
	n := 0
	for _, c := range s.cards {
		if p.Matches(c) {
			n++
		}
	}
	return n
}
