package card

import (
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/topnote/internal/policy"
)

// Outcome is a flashcard rating.
type Outcome int

const (
	Easy Outcome = iota + 1
	Good
	Hard
)

var outcomeNames = [...]string{Easy: "easy", Good: "good", Hard: "hard"}

func (o Outcome) IsValid() bool { return o >= Easy && o <= Hard }

func (o Outcome) String() string {
	if o.IsValid() {
		return outcomeNames[o]
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// ParseOutcome converts a stored rating identifier into an Outcome.
func ParseOutcome(name string) (Outcome, error) {
	for o := Easy; o <= Hard; o++ {
		if outcomeNames[o] == name {
			return o, nil
		}
	}
	return 0, fmt.Errorf("%w: rating outcome %q", policy.ErrPolicyLookupFailure, name)
}

// Rating is one entry of the rating log.
type Rating struct {
	Outcome Outcome
	At      time.Time
}

// History is the append-only action log of a card.
type History struct {
	Skips       []time.Time
	Completions []time.Time
	Ratings     []Rating
}

func (h History) clone() History {
	return History{
		Skips:       append([]time.Time(nil), h.Skips...),
		Completions: append([]time.Time(nil), h.Completions...),
		Ratings:     append([]Rating(nil), h.Ratings...),
	}
}

// Len is the total number of logged events.
func (h History) Len() int {
	return len(h.Skips) + len(h.Completions) + len(h.Ratings)
}

// RawRating is a rating as it comes out of storage, before its outcome
// identifier has been checked.
type RawRating struct {
	Outcome string
	At      time.Time
}

// DecodeRatings converts stored ratings into the rating log. Entries with an
// unknown outcome are dropped; the returned error lists every dropped entry
// and wraps policy.ErrPolicyLookupFailure. The ratings are usable even when
// the error is non-nil.
func DecodeRatings(raw []RawRating) ([]Rating, error) {
	ratings := make([]Rating, 0, len(raw))
	var errs []error
	for _, r := range raw {
		o, err := ParseOutcome(r.Outcome)
		if err != nil {
			errs = append(errs, fmt.Errorf("dropped rating at %s: %w", r.At.Format(time.RFC3339), err))
			continue
		}
		ratings = append(ratings, Rating{Outcome: o, At: r.At})
	}
	return ratings, errors.Join(errs...)
}
