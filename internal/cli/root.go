// Package cli implements the topnote command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/clock"
	"github.com/conorfennell/topnote/internal/config"
	"github.com/conorfennell/topnote/internal/engine"
	"github.com/conorfennell/topnote/internal/importer"
	"github.com/conorfennell/topnote/internal/logger"
	"github.com/conorfennell/topnote/internal/queue"
	"github.com/conorfennell/topnote/internal/refresh"
	"github.com/conorfennell/topnote/internal/storage"
	"github.com/spf13/cobra"
)

// runtime holds what a command needs once configuration is loaded.
type runtime struct {
	clock    clock.Clock
	cfg      *config.Config
	logger   *slog.Logger
	db       *storage.DB
	throttle *refresh.Throttle
	engine   *engine.Engine
	importer *importer.Importer
}

// NewRootCmd builds the command tree. Every command reads time from clk.
func NewRootCmd(clk clock.Clock) *cobra.Command {
	rt := &runtime{clock: clk}

	root := &cobra.Command{
		Use:   "topnote",
		Short: "Resurface todos, flashcards and notes on an adaptive schedule",
		Long: `topnote keeps todos, flashcards and notes in one queue. Skipping, completing
or rating a card stretches or shrinks the time until it comes back, and the
due timeline is always ordered by priority and due time.

Configuration is read from --config (or TOPNOTE_CONFIG), then TOPNOTE_*
environment variables, then flags.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return rt.load(cmd)
		},
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(rt),
		newAddCmd(rt),
		newDueCmd(rt),
		newShowCmd(rt),
		newTransitionCmd(rt, "skip", "Defer a card", (*engine.Engine).Skip),
		newTransitionCmd(rt, "complete", "Mark a todo or note as done", (*engine.Engine).Complete),
		newTransitionCmd(rt, "archive", "Retire a card for good", (*engine.Engine).Archive),
		newTransitionCmd(rt, "reveal", "Show or hide a flashcard answer", (*engine.Engine).RevealAnswer),
		newRateCmd(rt),
		newEnqueueCmd(rt),
		newImportCmd(rt),
		newSourceCmd(rt),
	)
	return root
}

// Execute runs the command tree against the system clock.
func Execute(ctx context.Context) error {
	return NewRootCmd(clock.System{}).ExecuteContext(ctx)
}

func (rt *runtime) load(cmd *cobra.Command) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	if path == "" {
		path = config.PathFromEnv()
	}
	cfg, err := config.Load(path, flags)
	if err != nil {
		return err
	}

	log, err := logger.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	db, err := storage.Open(cmd.Context(), cfg.Database.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	rt.cfg = cfg
	rt.logger = log
	rt.db = db
	rt.throttle = refresh.NewThrottle(cfg.Refresh.Window, rt.clock, log)
	rt.engine = engine.New(
		db,
		card.NewScheduler(cfg.Policy),
		queue.NewSelector(db, cfg.Selector.FetchLimit, log),
		rt.clock,
		rt.throttle,
		log,
	)
	rt.importer = importer.New(db, rt.clock, rt.throttle, cfg.Import.ReposDir, log)
	return nil
}

// run wraps a command body so the store is released however it returns.
func (rt *runtime) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		defer rt.close()
		return fn(cmd, args)
	}
}

func (rt *runtime) close() {
	if rt.throttle != nil {
		rt.throttle.Close()
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.Warn("failed to close database", "error", err)
		}
	}
}
