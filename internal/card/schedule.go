package card

import (
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/topnote/internal/policy"
)

// Scheduler applies user actions to cards under a policy configuration.
// It holds no per-card state; callers serialize transitions on the same card.
type Scheduler struct {
	policy policy.Config
}

// NewScheduler returns a scheduler for the given policy.
func NewScheduler(cfg policy.Config) *Scheduler {
	return &Scheduler{policy: cfg}
}

// Policy returns the configuration the scheduler was built with.
func (s *Scheduler) Policy() policy.Config { return s.policy }

// SkipFactor is the effective multiplier a skip applies to a card of type t.
// Skipping a note brings it back sooner, so notes use the reciprocal.
func (s *Scheduler) SkipFactor(t Type, strength policy.Strength) float64 {
	m := s.policy.Skip.Multiplier(strength)
	if t == Note {
		return 1 / m
	}
	return m
}

// RatingFactor is the multiplier for a flashcard rating under strength.
func (s *Scheduler) RatingFactor(o Outcome, strength policy.Strength) float64 {
	switch o {
	case Easy:
		return s.policy.Easy.Multiplier(strength)
	case Good:
		return s.policy.Good.Multiplier(strength)
	case Hard:
		return s.policy.Hard.Multiplier(strength)
	}
	return 1
}

// Skip defers the card: todos and flashcards move further away, notes come
// back sooner. Valid whether or not the card is due.
func (s *Scheduler) Skip(c *Card, now time.Time) error {
	if !c.cardType.IsValid() {
		return guard(c, fmt.Errorf("%w: %s cannot be skipped", ErrInvalidCardType, c.cardType))
	}
	if c.archived {
		return archivedErr(c, "skip")
	}
	if !c.Policies.Skip.IsValid() {
		return fmt.Errorf("%w: card %s has no usable skip policy", policy.ErrPolicyLookupFailure, c.id)
	}

	c.history.Skips = append(c.history.Skips, now)
	c.AnswerRevealed = false
	c.reschedule(c.intervalHours*s.SkipFactor(c.cardType, c.Policies.Skip), now)
	return nil
}

// Complete marks a todo or note as done. Todos are archived when the policy
// says so; everything else comes back after its current interval.
func (s *Scheduler) Complete(c *Card, now time.Time) error {
	if c.cardType != Todo && c.cardType != Note {
		return guard(c, fmt.Errorf("%w: %s cannot be completed", ErrInvalidCardType, c.cardType))
	}
	if c.archived {
		return archivedErr(c, "complete")
	}

	c.history.Completions = append(c.history.Completions, now)
	if c.cardType == Todo && s.policy.CompleteArchivesTodo {
		c.archived = true
		return nil
	}
	c.reschedule(c.intervalHours, now)
	return nil
}

// SubmitRating records a flashcard rating and scales the interval by the
// multiplier of the policy matching the outcome.
func (s *Scheduler) SubmitRating(c *Card, o Outcome, now time.Time) error {
	if c.cardType != Flashcard {
		return guard(c, fmt.Errorf("%w: %s cannot be rated", ErrInvalidCardType, c.cardType))
	}
	if c.archived {
		return archivedErr(c, "rate")
	}
	if !o.IsValid() {
		return fmt.Errorf("%w: %s", policy.ErrPolicyLookupFailure, o)
	}
	strength := c.ratingPolicy(o)
	if !strength.IsValid() {
		return fmt.Errorf("%w: card %s has no usable %s policy", policy.ErrPolicyLookupFailure, c.id, o)
	}

	c.history.Ratings = append(c.history.Ratings, Rating{Outcome: o, At: now})
	c.AnswerRevealed = false
	c.reschedule(c.intervalHours*s.RatingFactor(o, strength), now)
	return nil
}

// Archive permanently removes the card from selection.
func (c *Card) Archive() error {
	if c.archived {
		return archivedErr(c, "archive")
	}
	c.archived = true
	return nil
}

// Enqueue makes the card due at the given instant.
func (c *Card) Enqueue(at time.Time) error {
	if c.archived {
		return archivedErr(c, "enqueue")
	}
	c.nextDueAt = at
	return nil
}

// ToggleAnswer flips whether a flashcard's answer is shown. Scheduling is
// not affected.
func (c *Card) ToggleAnswer() error {
	if c.cardType != Flashcard {
		return guard(c, fmt.Errorf("%w: %s has no answer", ErrInvalidCardType, c.cardType))
	}
	if c.archived {
		return archivedErr(c, "reveal")
	}
	c.AnswerRevealed = !c.AnswerRevealed
	return nil
}

func (c *Card) ratingPolicy(o Outcome) policy.Strength {
	switch o {
	case Easy:
		return c.Policies.Easy
	case Good:
		return c.Policies.Good
	case Hard:
		return c.Policies.Hard
	}
	return 0
}

func (c *Card) reschedule(hours float64, now time.Time) {
	c.setInterval(hours)
	c.nextDueAt = now.Add(hoursToDuration(c.intervalHours))
}

// guard returns the type error, joined with the archival error when the card
// is archived as well, so both checks hold for callers.
func guard(c *Card, typeErr error) error {
	if c.archived {
		return errors.Join(typeErr, archivedErr(c, "transition"))
	}
	return typeErr
}

func archivedErr(c *Card, op string) error {
	return fmt.Errorf("%w: cannot %s archived card %s", ErrInvalidTransition, op, c.id)
}
