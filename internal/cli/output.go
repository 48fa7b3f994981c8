package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/queue"
)

// printTimeline prints due cards as a table.
func printTimeline(w io.Writer, tl queue.Timeline) {
	if len(tl.Cards) == 0 {
		fmt.Fprintln(w, "Nothing due.")
		return
	}
	fmt.Fprintf(w, "%d of %d due\n", len(tl.Cards), tl.TotalDue)
	fmt.Fprintf(w, "  %-36s %-9s %-6s %-20s %s\n", "ID", "TYPE", "PRI", "DUE", "CONTENT")
	for _, c := range tl.Cards {
		fmt.Fprintf(w, "  %-36s %-9s %-6s %-20s %s\n",
			c.ID(), c.Type(), c.Priority, c.NextDueAt().Format(time.RFC3339), summary(c.Content, 60))
	}
}

func printCard(w io.Writer, c *card.Card) {
	fmt.Fprintf(w, "%s %s\n", c.Type(), c.Link())
	fmt.Fprintf(w, "  content:   %s\n", c.Content)
	if c.Type() == card.Flashcard {
		answer := "(hidden)"
		if c.AnswerRevealed {
			answer = c.Answer
		}
		fmt.Fprintf(w, "  answer:    %s\n", answer)
	}
	fmt.Fprintf(w, "  priority:  %s\n", c.Priority)
	if c.Folder != nil {
		fmt.Fprintf(w, "  folder:    %s\n", c.Folder.Name)
	}
	fmt.Fprintf(w, "  interval:  %s\n", formatHours(c.IntervalHours()))
	if c.IsArchived() {
		fmt.Fprintln(w, "  status:    archived")
	} else {
		fmt.Fprintf(w, "  next due:  %s\n", c.NextDueAt().Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  policies:  skip=%s easy=%s good=%s hard=%s\n",
		c.Policies.Skip, c.Policies.Easy, c.Policies.Good, c.Policies.Hard)

	h := c.History()
	fmt.Fprintf(w, "  history:   %d events (%d skips, %d completions, %d ratings)\n",
		h.Len(), len(h.Skips), len(h.Completions), len(h.Ratings))
	for _, r := range h.Ratings {
		fmt.Fprintf(w, "    %s %s\n", r.At.Format(time.RFC3339), r.Outcome)
	}
}

// formatHours renders an interval such as "36h" or "2d 12h".
func formatHours(hours float64) string {
	whole := int(hours + 0.5)
	if whole < 24 {
		return strconv.Itoa(whole) + "h"
	}
	days, rest := whole/24, whole%24
	if rest == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd %dh", days, rest)
}

func summary(s string, n int) string {
	line, _, _ := strings.Cut(s, "\n")
	if r := []rune(line); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return line
}
