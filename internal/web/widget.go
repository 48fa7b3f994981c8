package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/conorfennell/topnote/internal/queue"
	"github.com/conorfennell/topnote/internal/refresh"
)

// TimelineSource builds a due-card timeline.
type TimelineSource interface {
	Timeline(ctx context.Context, cfg queue.Config) (queue.Timeline, error)
}

// Widget caches the timeline shown by glanceable clients. It is rebuilt on
// refresh signals and served without touching the store.
type Widget struct {
	source TimelineSource
	cfg    queue.Config
	latest refresh.Latest[queue.Timeline]
	logger *slog.Logger
}

// NewWidget returns a widget that selects with cfg.
func NewWidget(source TimelineSource, cfg queue.Config, logger *slog.Logger) *Widget {
	return &Widget{source: source, cfg: cfg, logger: logger.With("component", "widget")}
}

// Refresh rebuilds the snapshot for signal gen. It has the refresh.Handler
// signature so it can be registered with Throttle.OnRefresh.
func (w *Widget) Refresh(ctx context.Context, gen uint64) {
	tl, err := w.source.Timeline(ctx, w.cfg)
	if err != nil {
		if ctx.Err() != nil {
			w.logger.Debug("widget refresh superseded", "generation", gen)
			return
		}
		w.logger.Error("widget refresh failed", "generation", gen, "error", err)
		return
	}
	if !w.latest.Publish(gen, tl) {
		w.logger.Debug("stale widget snapshot dropped", "generation", gen)
	}
}

// Snapshot returns the newest timeline and its generation.
func (w *Widget) Snapshot() (queue.Timeline, uint64, bool) {
	return w.latest.Load()
}

func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	tl, gen, ok := s.widget.Snapshot()
	if !ok {
		// Nothing published yet; build one for this request only.
		var err error
		if tl, err = s.engine.Timeline(r.Context(), s.widget.cfg); err != nil {
			s.respondError(w, r, err)
			return
		}
	}
	v := newTimelineView(tl)
	v.Generation = gen
	respondJSON(w, http.StatusOK, v)
}
