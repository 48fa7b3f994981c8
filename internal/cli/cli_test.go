package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/clock"
	"github.com/conorfennell/topnote/internal/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type harness struct {
	dbPath string
	clock  *clock.Manual
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{dbPath: filepath.Join(t.TempDir(), "cli.db"), clock: clock.NewManual(t0)}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd(h.clock)
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--db", h.dbPath, "--log-level", "error"}, args...))
	err := root.Execute()
	return out.String(), err
}

// add creates a card and returns its id.
func (h *harness) add(t *testing.T, args ...string) string {
	t.Helper()
	out, err := h.run(t, append([]string{"add"}, args...)...)
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.Len(t, fields, 3, out)
	return fields[2]
}

func TestCommandsRegistered(t *testing.T) {
	root := NewRootCmd(clock.System{})
	want := []string{"serve", "add", "due", "show", "skip", "complete", "archive", "reveal", "rate", "enqueue", "import", "source"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "nonexistent-command")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestAddDueAndShow(t *testing.T) {
	h := newHarness(t)
	todo := h.add(t, "Renew passport", "--priority", "high", "--folder", "admin")
	h.add(t, "hola", "--type", "flashcard", "--answer", "hello")
	h.add(t, "later", "--type", "note", "--due", t0.Add(time.Hour).Format(time.RFC3339))

	out, err := h.run(t, "due")
	require.NoError(t, err)
	assert.Contains(t, out, "2 of 2 due")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], todo, "high priority first")

	out, err = h.run(t, "due", "--types", "flashcard")
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 2 due")

	out, err = h.run(t, "due", "--folders", "none")
	require.NoError(t, err)
	assert.NotContains(t, out, todo)

	_, err = h.run(t, "due", "--folders", "missing")
	assert.Error(t, err)

	out, err = h.run(t, "show", card.LinkScheme+"://card/"+todo)
	require.NoError(t, err)
	assert.Contains(t, out, "Renew passport")
	assert.Contains(t, out, "folder:    admin")
	assert.Contains(t, out, "priority:  high")
}

func TestTransitions(t *testing.T) {
	h := newHarness(t)
	note := h.add(t, "idea", "--type", "note", "--interval", "100")
	fc := h.add(t, "2+2", "--type", "flashcard", "--answer", "4", "--interval", "48", "--policy", "hard=aggressive")

	out, err := h.run(t, "skip", note)
	require.NoError(t, err)
	assert.Contains(t, out, "interval 2d 2h")

	out, err = h.run(t, "reveal", fc)
	require.NoError(t, err)
	assert.Contains(t, out, "answer: 4")

	out, err = h.run(t, "rate", fc, "hard")
	require.NoError(t, err)
	assert.Contains(t, out, "interval 1d")

	_, err = h.run(t, "rate", fc, "again")
	assert.Error(t, err)

	_, err = h.run(t, "rate", note, "easy")
	assert.True(t, errors.Is(err, card.ErrInvalidCardType))

	out, err = h.run(t, "enqueue", note, "--at", t0.Add(5*time.Hour).Format(time.RFC3339))
	require.NoError(t, err)
	assert.Contains(t, out, t0.Add(5*time.Hour).Format(time.RFC3339))

	out, err = h.run(t, "archive", note)
	require.NoError(t, err)
	assert.Contains(t, out, "archived")

	_, err = h.run(t, "complete", note)
	assert.True(t, errors.Is(err, card.ErrInvalidTransition))

	_, err = h.run(t, "skip", "not-an-id")
	assert.Error(t, err)

	out, err = h.run(t, "show", fc)
	require.NoError(t, err)
	assert.Contains(t, out, "history:   1 events (0 skips, 0 completions, 1 ratings)")
	assert.Contains(t, out, "hard")
}

func TestAddRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	for _, args := range [][]string{
		{"add", "x", "--type", "memo"},
		{"add", "x", "--priority", "urgent"},
		{"add", "x", "--policy", "snooze=gentle"},
		{"add", "x", "--policy", "skip=wild"},
		{"add", "x", "--due", "tomorrow"},
		{"add", "x", "--answer", "only for flashcards"},
	} {
		_, err := h.run(t, args...)
		assert.Error(t, err, args)
	}
}

func TestSourceAndImport(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "import")
	require.NoError(t, err)
	assert.Contains(t, out, "No sources configured")

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inbox.md"), []byte("T: one\n---\nQ: two\nA: 2\n"), 0o600))

	out, err = h.run(t, "source", "add", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "(local)")

	out, err = h.run(t, "import")
	require.NoError(t, err)
	assert.Contains(t, out, "2 parsed, 2 new, 0 archived")

	out, err = h.run(t, "source", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "last scanned "+t0.Format(time.RFC3339))
}

func TestConfigFromEnvironment(t *testing.T) {
	h := newHarness(t)
	t.Setenv("TOPNOTE_SELECTOR__MAX_RESULTS", "0")
	_, err := h.run(t, "due")
	assert.True(t, errors.Is(err, config.ErrInvalid))
}

func TestServe(t *testing.T) {
	h := newHarness(t)
	h.add(t, "due now")

	rt := &runtime{clock: h.clock}
	cmd := &cobra.Command{}
	config.RegisterFlags(cmd.Flags())
	require.NoError(t, cmd.Flags().Parse([]string{"--db", h.dbPath, "--log-level", "error"}))
	cmd.SetContext(context.Background())
	require.NoError(t, rt.load(cmd))
	defer rt.close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.serve(ctx, ln) }()

	url := fmt.Sprintf("http://%s/api/widget", ln.Addr())
	resp, err := http.Get(url)
	require.NoError(t, err)
	body := new(bytes.Buffer)
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body.String(), "due now")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestFormatHours(t *testing.T) {
	assert.Equal(t, "12h", formatHours(12))
	assert.Equal(t, "1d", formatHours(24))
	assert.Equal(t, "2d 2h", formatHours(50))
	assert.Equal(t, "365d", formatHours(8760))
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "first", summary("first\nsecond", 10))
	assert.Equal(t, "abcd…", summary("abcdefgh", 5))
}
