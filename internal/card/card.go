// Package card holds the schedulable Card entity and the state machine that
// moves it through skips, completions, ratings and archival.
package card

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/topnote/internal/policy"
	"github.com/google/uuid"
)

// Interval bounds in hours. Every interval write goes through clampInterval.
const (
	MinIntervalHours = 24.0
	MaxIntervalHours = 8760.0
)

var (
	// ErrInvalidTransition is returned for any transition on an archived card.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidCardType is returned when the card type does not support the
	// operation, such as rating a todo or completing a flashcard.
	ErrInvalidCardType = errors.New("invalid card type")

	// ErrEmptyContent is returned when a card is created without content.
	ErrEmptyContent = errors.New("card content cannot be empty")
)

// Type is the kind of a card.
type Type int

const (
	Todo Type = iota + 1
	Flashcard
	Note
)

var typeNames = [...]string{Todo: "todo", Flashcard: "flashcard", Note: "note"}

// Types lists every card type in declaration order.
var Types = []Type{Todo, Flashcard, Note}

func (t Type) IsValid() bool { return t >= Todo && t <= Note }

func (t Type) String() string {
	if t.IsValid() {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// ParseType converts a persisted or user-supplied name into a Type.
func ParseType(name string) (Type, error) {
	for _, t := range Types {
		if typeNames[t] == strings.ToLower(name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown card type %q", name)
}

// Priority orders due cards; it never affects scheduling.
type Priority int

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
)

var priorityNames = [...]string{PriorityNone: "none", PriorityLow: "low", PriorityMedium: "medium", PriorityHigh: "high"}

func (p Priority) IsValid() bool { return p >= PriorityNone && p <= PriorityHigh }

func (p Priority) String() string {
	if p.IsValid() {
		return priorityNames[p]
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// ParsePriority accepts the names returned by Priority.String.
func ParsePriority(name string) (Priority, error) {
	for p := PriorityNone; p <= PriorityHigh; p++ {
		if priorityNames[p] == strings.ToLower(name) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", name)
}

// Folder groups cards.
type Folder struct {
	ID   uuid.UUID
	Name string
}

// Policies are the strengths a card applies to each action.
// Rating policies only matter for flashcards.
type Policies struct {
	Skip policy.Strength
	Easy policy.Strength
	Good policy.Strength
	Hard policy.Strength
}

// DefaultPolicies uses Normal for every action.
func DefaultPolicies() Policies {
	return Policies{Skip: policy.Normal, Easy: policy.Normal, Good: policy.Normal, Hard: policy.Normal}
}

// Card is a todo, flashcard or note with its scheduling state.
//
// Identity, type and timing state are unexported so that the only writers are
// the constructors and the transitions in this package.
type Card struct {
	id        uuid.UUID
	cardType  Type
	createdAt time.Time

	Content        string
	Answer         string
	Priority       Priority
	Folder         *Folder
	Policies       Policies
	AnswerRevealed bool
	Fingerprint    string

	intervalHours float64
	nextDueAt     time.Time
	archived      bool
	history       History
}

// Draft describes a card to be created.
type Draft struct {
	Type          Type
	Content       string
	Answer        string
	Priority      Priority
	Folder        *Folder
	Policies      Policies
	IntervalHours float64
	Fingerprint   string
	// DueAt is when the card first becomes due. The zero value enqueues it
	// at creation time.
	DueAt time.Time
}

// New creates a card from a draft at the given instant.
func New(d Draft, now time.Time) (*Card, error) {
	if !d.Type.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCardType, d.Type)
	}
	if strings.TrimSpace(d.Content) == "" {
		return nil, ErrEmptyContent
	}
	if d.Answer != "" && d.Type != Flashcard {
		return nil, fmt.Errorf("%w: only flashcards carry an answer", ErrInvalidCardType)
	}
	if d.Policies == (Policies{}) {
		d.Policies = DefaultPolicies()
	}
	due := d.DueAt
	if due.IsZero() {
		due = now
	}

	c := &Card{
		id:          uuid.New(),
		cardType:    d.Type,
		createdAt:   now,
		Content:     d.Content,
		Answer:      d.Answer,
		Priority:    d.Priority,
		Folder:      d.Folder,
		Policies:    d.Policies,
		Fingerprint: d.Fingerprint,
		nextDueAt:   due,
	}
	c.setInterval(d.IntervalHours)
	return c, nil
}

// State is the full persisted form of a card.
type State struct {
	ID             uuid.UUID
	Type           Type
	CreatedAt      time.Time
	Content        string
	Answer         string
	Priority       Priority
	Folder         *Folder
	Policies       Policies
	AnswerRevealed bool
	Fingerprint    string
	IntervalHours  float64
	NextDueAt      time.Time
	Archived       bool
	History        History
}

// Restore rebuilds a card from persisted state. The interval is clamped, so
// out-of-band edits to the store cannot leak an interval outside the band.
func Restore(s State) *Card {
	c := &Card{
		id:             s.ID,
		cardType:       s.Type,
		createdAt:      s.CreatedAt,
		Content:        s.Content,
		Answer:         s.Answer,
		Priority:       s.Priority,
		Folder:         s.Folder,
		Policies:       s.Policies,
		AnswerRevealed: s.AnswerRevealed,
		Fingerprint:    s.Fingerprint,
		nextDueAt:      s.NextDueAt,
		archived:       s.Archived,
		history:        s.History.clone(),
	}
	c.setInterval(s.IntervalHours)
	return c
}

// State returns a copy of the card's persisted form.
func (c *Card) State() State {
	return State{
		ID:             c.id,
		Type:           c.cardType,
		CreatedAt:      c.createdAt,
		Content:        c.Content,
		Answer:         c.Answer,
		Priority:       c.Priority,
		Folder:         c.Folder,
		Policies:       c.Policies,
		AnswerRevealed: c.AnswerRevealed,
		Fingerprint:    c.Fingerprint,
		IntervalHours:  c.intervalHours,
		NextDueAt:      c.nextDueAt,
		Archived:       c.archived,
		History:        c.history.clone(),
	}
}

func (c *Card) ID() uuid.UUID          { return c.id }
func (c *Card) Type() Type             { return c.cardType }
func (c *Card) CreatedAt() time.Time   { return c.createdAt }
func (c *Card) IntervalHours() float64 { return c.intervalHours }
func (c *Card) NextDueAt() time.Time   { return c.nextDueAt }
func (c *Card) IsArchived() bool       { return c.archived }
func (c *Card) History() History       { return c.history.clone() }

// IsEnqueued reports whether the card is due at now.
func (c *Card) IsEnqueued(now time.Time) bool {
	return !c.archived && !c.nextDueAt.After(now)
}

// FolderID returns the folder id, or uuid.Nil when the card has no folder.
func (c *Card) FolderID() uuid.UUID {
	if c.Folder == nil {
		return uuid.Nil
	}
	return c.Folder.ID
}

// Link is the external address of the card.
func (c *Card) Link() string { return Link(c.id) }

func (c *Card) setInterval(hours float64) {
	c.intervalHours = clampInterval(hours)
}

func clampInterval(hours float64) float64 {
	// NaN compares false against both bounds; treat it as the floor.
	if hours != hours || hours < MinIntervalHours {
		return MinIntervalHours
	}
	if hours > MaxIntervalHours {
		return MaxIntervalHours
	}
	return hours
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
