// Package policy maps the named strength levels a user picks for a card to the
// numeric multipliers the scheduler applies to the card's interval.
package policy

import (
	"errors"
	"fmt"
)

// ErrPolicyLookupFailure is returned when a stored policy or rating identifier
// does not name a known variant.
var ErrPolicyLookupFailure = errors.New("policy lookup failure")

// Strength is how hard an action pushes a card's interval.
type Strength int

const (
	Gentle Strength = iota + 1
	Normal
	Aggressive
)

var strengthNames = [...]string{Gentle: "gentle", Normal: "normal", Aggressive: "aggressive"}

// IsValid reports whether s is one of Gentle, Normal or Aggressive.
func (s Strength) IsValid() bool {
	return s >= Gentle && s <= Aggressive
}

func (s Strength) String() string {
	if s.IsValid() {
		return strengthNames[s]
	}
	return fmt.Sprintf("Strength(%d)", int(s))
}

// ParseStrength converts a persisted identifier back into a Strength.
func ParseStrength(name string) (Strength, error) {
	for s := Gentle; s <= Aggressive; s++ {
		if strengthNames[s] == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: strength %q", ErrPolicyLookupFailure, name)
}

// Table holds one multiplier per strength level.
type Table struct {
	Gentle     float64 `koanf:"gentle"`
	Normal     float64 `koanf:"normal"`
	Aggressive float64 `koanf:"aggressive"`
}

// Multiplier returns the factor configured for s. An invalid strength maps to
// 1, leaving the interval untouched; callers reject invalid strengths before
// scheduling.
func (t Table) Multiplier(s Strength) float64 {
	switch s {
	case Gentle:
		return t.Gentle
	case Normal:
		return t.Normal
	case Aggressive:
		return t.Aggressive
	}
	return 1
}

// Config is the product policy for every action kind.
type Config struct {
	Skip Table `koanf:"skip"`
	Easy Table `koanf:"easy"`
	Good Table `koanf:"good"`
	Hard Table `koanf:"hard"`

	// CompleteArchivesTodo archives a todo when it is completed instead of
	// rescheduling it at its current interval.
	CompleteArchivesTodo bool `koanf:"complete_archives_todo"`
}

// DefaultConfig returns the policy shipped with the application.
func DefaultConfig() Config {
	return Config{
		Skip:                 Table{Gentle: 1.5, Normal: 2.0, Aggressive: 3.0},
		Easy:                 Table{Gentle: 1.5, Normal: 2.0, Aggressive: 3.0},
		Good:                 Table{Gentle: 1.0, Normal: 1.2, Aggressive: 1.5},
		Hard:                 Table{Gentle: 0.75, Normal: 0.5, Aggressive: 0.25},
		CompleteArchivesTodo: true,
	}
}

// Validate checks the direction of every table: skips and easy ratings push a
// card away, good ratings never pull it closer, hard ratings bring it back.
func (c Config) Validate() error {
	var errs []error
	check := func(name string, t Table, ok func(float64) bool, want string) {
		for s := Gentle; s <= Aggressive; s++ {
			if v := t.Multiplier(s); !ok(v) {
				errs = append(errs, fmt.Errorf("%s.%s = %v, must be %s", name, s, v, want))
			}
		}
	}
	check("skip", c.Skip, func(v float64) bool { return v > 1 }, "> 1")
	check("easy", c.Easy, func(v float64) bool { return v > 1 }, "> 1")
	check("good", c.Good, func(v float64) bool { return v >= 1 }, ">= 1")
	check("hard", c.Hard, func(v float64) bool { return v > 0 && v < 1 }, "in (0, 1)")
	return errors.Join(errs...)
}
