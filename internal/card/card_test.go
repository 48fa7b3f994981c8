package card

import (
	"errors"
	"testing"
	"time"

	"github.com/conorfennell/topnote/internal/policy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRestoreClampsInterval(t *testing.T) {
	c := Restore(State{ID: uuid.New(), Type: Todo, IntervalHours: 100000})
	assert.Equal(t, MaxIntervalHours, c.IntervalHours())
}

func TestStateRoundTripKeepsHistoryIsolated(t *testing.T) {
	c := mustCard(t, Draft{Type: Note})
	require.NoError(t, defaultScheduler().Skip(c, t0))

	st := c.State()
	st.History.Skips[0] = t0.Add(time.Hour)
	assert.Equal(t, t0, c.History().Skips[0])

	restored := Restore(c.State())
	assert.Equal(t, c.ID(), restored.ID())
	assert.Equal(t, c.NextDueAt(), restored.NextDueAt())
	assert.Equal(t, c.History(), restored.History())
}

func TestDecodeRatingsDropsUnknownOutcomes(t *testing.T) {
	raw := []RawRating{
		{Outcome: "easy", At: t0},
		{Outcome: "again", At: t0.Add(time.Hour)},
		{Outcome: "hard", At: t0.Add(2 * time.Hour)},
	}

	ratings, err := DecodeRatings(raw)
	require.Error(t, err)
	assert.True(t, errors.Is(err, policy.ErrPolicyLookupFailure))
	assert.Equal(t, []Rating{
		{Outcome: Easy, At: t0},
		{Outcome: Hard, At: t0.Add(2 * time.Hour)},
	}, ratings)
}

func TestParseTypeAndPriority(t *testing.T) {
	typ, err := ParseType("Flashcard")
	require.NoError(t, err)
	assert.Equal(t, Flashcard, typ)

	_, err = ParseType("reminder")
	assert.Error(t, err)

	p, err := ParsePriority("high")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)
	assert.Equal(t, "none", PriorityNone.String())
}

func TestLinkRoundTrip(t *testing.T) {
	id := uuid.New()
	link := Link(id)
	assert.Equal(t, "topnote://card/"+id.String(), link)

	got, err := ParseLink(link)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	for _, bad := range []string{"https://card/" + id.String(), "topnote://folder/" + id.String(), "topnote://card/nope"} {
		_, err := ParseLink(bad)
		assert.Error(t, err, bad)
	}
}
