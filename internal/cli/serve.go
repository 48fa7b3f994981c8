package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/conorfennell/topnote/internal/queue"
	"github.com/conorfennell/topnote/internal/web"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// dueTick re-requests a refresh so cards that became due without any
// transition reach the widget.
const dueTick = time.Minute

const shutdownTimeout = 10 * time.Second

func newServeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API for the web client and widgets",
		Args:  cobra.NoArgs,
		RunE: rt.run(func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ln, err := net.Listen("tcp", rt.cfg.Server.Addr)
			if err != nil {
				return err
			}
			return rt.serve(ctx, ln)
		}),
	}
}

// serve runs the API on ln until ctx is cancelled.
func (rt *runtime) serve(ctx context.Context, ln net.Listener) error {
	widget := web.NewWidget(rt.engine, queue.Config{MaxResults: rt.cfg.Selector.MaxResults}, rt.logger)
	rt.throttle.OnRefresh(widget.Refresh)
	widget.Refresh(ctx, rt.throttle.Generation())

	handler := web.NewServer(rt.engine, rt.importer, rt.db, widget, rt.clock, web.Config{
		CORSOrigins: rt.cfg.Server.CORSOrigins,
		MaxResults:  rt.cfg.Selector.MaxResults,
	}, rt.logger)
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Info("server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(dueTick)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				rt.throttle.RequestRefresh()
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		rt.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
