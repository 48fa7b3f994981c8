package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/engine"
	"github.com/conorfennell/topnote/internal/policy"
	"github.com/conorfennell/topnote/internal/queue"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// parseRef accepts a card UUID or a topnote://card/<uuid> link.
func parseRef(ref string) (uuid.UUID, error) {
	if strings.HasPrefix(ref, card.LinkScheme+"://") {
		return card.ParseLink(ref)
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid card reference %q", ref)
	}
	return id, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, want RFC 3339 such as 2025-06-15T10:00:00Z", s)
	}
	return t.UTC(), nil
}

func newAddCmd(rt *runtime) *cobra.Command {
	var (
		typeName string
		answer   string
		priority string
		folder   string
		due      string
		interval float64
		policies map[string]string
	)
	cmd := &cobra.Command{
		Use:   "add <content>",
		Short: "Create a card",
		Long: `Create a todo, flashcard or note. The card is due immediately unless --due
is given.

Per-card policies are set with --policy, e.g. --policy skip=aggressive,hard=gentle.`,
		Args: cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			in := engine.NewCard{Content: args[0], Answer: answer, Folder: folder, IntervalHours: interval}

			var err error
			if in.Type, err = card.ParseType(typeName); err != nil {
				return err
			}
			if in.Priority, err = card.ParsePriority(priority); err != nil {
				return err
			}
			if in.Policies, err = parsePolicies(policies); err != nil {
				return err
			}
			if due != "" {
				if in.DueAt, err = parseTime(due); err != nil {
					return err
				}
			}

			c, err := rt.engine.Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s %s\n", c.Type(), c.ID())
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringVarP(&typeName, "type", "t", "todo", "Card type: todo, flashcard or note")
	f.StringVarP(&answer, "answer", "a", "", "Flashcard answer")
	f.StringVarP(&priority, "priority", "p", "none", "Priority: none, low, medium or high")
	f.StringVarP(&folder, "folder", "f", "", "Folder name, created if missing")
	f.StringVar(&due, "due", "", "First due time (RFC 3339)")
	f.Float64Var(&interval, "interval", 0, "Initial interval in hours (clamped to 24..8760)")
	f.StringToStringVar(&policies, "policy", nil, "Action policies, action=gentle|normal|aggressive")
	return cmd
}

func parsePolicies(in map[string]string) (card.Policies, error) {
	out := card.DefaultPolicies()
	for action, name := range in {
		s, err := policy.ParseStrength(name)
		if err != nil {
			return out, err
		}
		switch action {
		case "skip":
			out.Skip = s
		case "easy":
			out.Easy = s
		case "good":
			out.Good = s
		case "hard":
			out.Hard = s
		default:
			return out, fmt.Errorf("unknown policy action %q, want skip, easy, good or hard", action)
		}
	}
	return out, nil
}

func newDueCmd(rt *runtime) *cobra.Command {
	var (
		types      []string
		folders    []string
		maxResults int
	)
	cmd := &cobra.Command{
		Use:   "due",
		Short: "List the cards due now",
		Long: `List due cards ordered by priority, then due time.

--folders takes folder names; "none" selects cards without a folder.`,
		Args: cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, _ []string) error {
			cfg := queue.Config{MaxResults: maxResults}
			if cfg.MaxResults == 0 {
				cfg.MaxResults = rt.cfg.Selector.MaxResults
			}
			for _, name := range types {
				t, err := card.ParseType(name)
				if err != nil {
					return err
				}
				cfg.Types = append(cfg.Types, t)
			}
			ids, err := rt.folderIDs(cmd.Context(), folders)
			if err != nil {
				return err
			}
			cfg.Folders = ids

			tl, err := rt.engine.Timeline(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			printTimeline(cmd.OutOrStdout(), tl)
			return nil
		}),
	}
	f := cmd.Flags()
	f.StringSliceVar(&types, "types", nil, "Only these card types")
	f.StringSliceVar(&folders, "folders", nil, "Only these folders")
	f.IntVarP(&maxResults, "max", "n", 0, "Maximum cards to list (default selector.max_results)")
	return cmd
}

func (rt *runtime) folderIDs(ctx context.Context, names []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, name := range names {
		if name == "none" {
			ids = append(ids, queue.NoFolder)
			continue
		}
		f, err := rt.db.FindFolder(ctx, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, f.ID)
	}
	return ids, nil
}

func newShowCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id|link>",
		Short: "Print a card with its history",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			id, err := parseRef(args[0])
			if err != nil {
				return err
			}
			c, err := rt.engine.Get(cmd.Context(), id)
			if c == nil {
				return err
			}
			printCard(cmd.OutOrStdout(), c)
			return nil
		}),
	}
}

type transitionFunc func(e *engine.Engine, ctx context.Context, id uuid.UUID) (*card.Card, error)

func newTransitionCmd(rt *runtime, name, short string, fn transitionFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name + " <id|link>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			id, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), name)(fn(rt.engine, cmd.Context(), id))
		}),
	}
}

func newRateCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:       "rate <id|link> <easy|good|hard>",
		Short:     "Rate a flashcard",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"easy", "good", "hard"},
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			id, err := parseRef(args[0])
			if err != nil {
				return err
			}
			outcome, err := card.ParseOutcome(strings.ToLower(args[1]))
			if err != nil {
				return fmt.Errorf("unknown rating %q, want easy, good or hard", args[1])
			}
			return report(cmd.OutOrStdout(), "rate")(rt.engine.Rate(cmd.Context(), id, outcome))
		}),
	}
}

func newEnqueueCmd(rt *runtime) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "enqueue <id|link>",
		Short: "Make a card due now or at --at",
		Args:  cobra.ExactArgs(1),
		RunE: rt.run(func(cmd *cobra.Command, args []string) error {
			id, err := parseRef(args[0])
			if err != nil {
				return err
			}
			var when time.Time
			if at != "" {
				if when, err = parseTime(at); err != nil {
					return err
				}
			}
			return report(cmd.OutOrStdout(), "enqueue")(rt.engine.Enqueue(cmd.Context(), id, when))
		}),
	}
	cmd.Flags().StringVar(&at, "at", "", "Due time (RFC 3339); defaults to now")
	return cmd
}

// report prints the outcome of a transition. A card returned together with
// an error is printed and the error shown as a warning.
func report(w io.Writer, op string) func(*card.Card, error) error {
	return func(c *card.Card, err error) error {
		if c == nil {
			return err
		}
		if err != nil {
			fmt.Fprintf(w, "warning: %v\n", err)
		}
		fmt.Fprintf(w, "%s %s: ", op, c.ID())
		switch {
		case c.IsArchived():
			fmt.Fprintln(w, "archived")
		case op == "reveal" && c.AnswerRevealed:
			fmt.Fprintf(w, "answer: %s\n", c.Answer)
		case op == "reveal":
			fmt.Fprintln(w, "answer hidden")
		default:
			fmt.Fprintf(w, "next due %s (interval %s)\n", c.NextDueAt().Format(time.RFC3339), formatHours(c.IntervalHours()))
		}
		return nil
	}
}
