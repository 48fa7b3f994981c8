package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/engine"
	"github.com/conorfennell/topnote/internal/policy"
	"github.com/conorfennell/topnote/internal/queue"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type folderView struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type cardView struct {
	ID             uuid.UUID   `json:"id"`
	Link           string      `json:"link"`
	Type           string      `json:"type"`
	Content        string      `json:"content"`
	Answer         string      `json:"answer,omitempty"`
	AnswerRevealed bool        `json:"answer_revealed"`
	Priority       string      `json:"priority"`
	Folder         *folderView `json:"folder,omitempty"`
	IntervalHours  float64     `json:"interval_hours"`
	NextDueAt      time.Time   `json:"next_due_at"`
	Archived       bool        `json:"archived"`
	CreatedAt      time.Time   `json:"created_at"`
	Warnings       []string    `json:"warnings,omitempty"`
}

// newCardView renders a card. Flashcard answers are only included once
// revealed.
func newCardView(c *card.Card) cardView {
	v := cardView{
		ID:             c.ID(),
		Link:           c.Link(),
		Type:           c.Type().String(),
		Content:        c.Content,
		AnswerRevealed: c.AnswerRevealed,
		Priority:       c.Priority.String(),
		IntervalHours:  c.IntervalHours(),
		NextDueAt:      c.NextDueAt(),
		Archived:       c.IsArchived(),
		CreatedAt:      c.CreatedAt(),
	}
	if c.AnswerRevealed {
		v.Answer = c.Answer
	}
	if c.Folder != nil {
		v.Folder = &folderView{ID: c.Folder.ID, Name: c.Folder.Name}
	}
	return v
}

type timelineView struct {
	Cards       []cardView `json:"cards"`
	TotalDue    int        `json:"total_due"`
	GeneratedAt time.Time  `json:"generated_at"`
	Generation  uint64     `json:"generation,omitempty"`
}

func newTimelineView(tl queue.Timeline) timelineView {
	v := timelineView{Cards: make([]cardView, 0, len(tl.Cards)), TotalDue: tl.TotalDue, GeneratedAt: tl.GeneratedAt}
	for _, c := range tl.Cards {
		v.Cards = append(v.Cards, newCardView(c))
	}
	return v
}

// respondCard writes a card, attaching any diagnostic that came with it.
func (s *Server) respondCard(w http.ResponseWriter, r *http.Request, status int, c *card.Card, err error) {
	if c == nil {
		s.respondError(w, r, err)
		return
	}
	v := newCardView(c)
	if err != nil {
		v.Warnings = []string{err.Error()}
	}
	respondJSON(w, status, v)
}

type policiesRequest struct {
	Skip string `json:"skip" validate:"omitempty,oneof=gentle normal aggressive"`
	Easy string `json:"easy" validate:"omitempty,oneof=gentle normal aggressive"`
	Good string `json:"good" validate:"omitempty,oneof=gentle normal aggressive"`
	Hard string `json:"hard" validate:"omitempty,oneof=gentle normal aggressive"`
}

func (p *policiesRequest) toPolicies() (card.Policies, error) {
	out := card.DefaultPolicies()
	if p == nil {
		return out, nil
	}
	for _, f := range []struct {
		name string
		dst  *policy.Strength
	}{
		{p.Skip, &out.Skip},
		{p.Easy, &out.Easy},
		{p.Good, &out.Good},
		{p.Hard, &out.Hard},
	} {
		if f.name == "" {
			continue
		}
		s, err := policy.ParseStrength(f.name)
		if err != nil {
			return out, errors.Join(errBadRequest, err)
		}
		*f.dst = s
	}
	return out, nil
}

type createCardRequest struct {
	Type          string           `json:"type" validate:"required,oneof=todo flashcard note"`
	Content       string           `json:"content" validate:"required"`
	Answer        string           `json:"answer"`
	Priority      string           `json:"priority" validate:"omitempty,oneof=none low medium high"`
	Folder        string           `json:"folder"`
	IntervalHours float64          `json:"interval_hours" validate:"gte=0"`
	DueAt         *time.Time       `json:"due_at"`
	Policies      *policiesRequest `json:"policies"`
}

func (s *Server) handleCreateCard(w http.ResponseWriter, r *http.Request) {
	var req createCardRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	in := engine.NewCard{
		Content:       req.Content,
		Answer:        req.Answer,
		Folder:        req.Folder,
		IntervalHours: req.IntervalHours,
	}
	var err error
	if in.Type, err = card.ParseType(req.Type); err != nil {
		s.respondError(w, r, errors.Join(errBadRequest, err))
		return
	}
	if req.Priority != "" {
		if in.Priority, err = card.ParsePriority(req.Priority); err != nil {
			s.respondError(w, r, errors.Join(errBadRequest, err))
			return
		}
	}
	if in.Policies, err = req.Policies.toPolicies(); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.DueAt != nil {
		in.DueAt = req.DueAt.UTC()
	}

	c, err := s.engine.Create(r.Context(), in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, newCardView(c))
}

func cardID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid card id", errBadRequest)
	}
	return id, nil
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id, err := cardID(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	c, err := s.engine.Get(r.Context(), id)
	s.respondCard(w, r, http.StatusOK, c, err)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	link := r.URL.Query().Get("link")
	if _, err := card.ParseLink(link); err != nil {
		s.respondError(w, r, errors.Join(errBadRequest, err))
		return
	}
	c, err := s.engine.Resolve(r.Context(), link)
	s.respondCard(w, r, http.StatusOK, c, err)
}

type transitionFunc func(s *Server, r *http.Request, id uuid.UUID) (*card.Card, error)

// transition adapts an engine call on the {id} card to a handler.
func (s *Server) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := cardID(r)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		c, err := fn(s, r, id)
		s.respondCard(w, r, http.StatusOK, c, err)
	}
}

func skip(s *Server, r *http.Request, id uuid.UUID) (*card.Card, error) {
	return s.engine.Skip(r.Context(), id)
}

func complete(s *Server, r *http.Request, id uuid.UUID) (*card.Card, error) {
	return s.engine.Complete(r.Context(), id)
}

func archive(s *Server, r *http.Request, id uuid.UUID) (*card.Card, error) {
	return s.engine.Archive(r.Context(), id)
}

func reveal(s *Server, r *http.Request, id uuid.UUID) (*card.Card, error) {
	return s.engine.RevealAnswer(r.Context(), id)
}

type rateRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=easy good hard"`
}

func rate(s *Server, r *http.Request, id uuid.UUID) (*card.Card, error) {
	var req rateRequest
	if err := decodeJSON(r, &req); err != nil {
		return nil, err
	}
	outcome, err := card.ParseOutcome(req.Outcome)
	if err != nil {
		return nil, errors.Join(errBadRequest, err)
	}
	return s.engine.Rate(r.Context(), id, outcome)
}

type enqueueRequest struct {
	At *time.Time `json:"at"`
}

// enqueue accepts an empty body, meaning now.
func enqueue(s *Server, r *http.Request, id uuid.UUID) (*card.Card, error) {
	var req enqueueRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	var at time.Time
	if req.At != nil {
		at = req.At.UTC()
	}
	return s.engine.Enqueue(r.Context(), id, at)
}

// timelineConfig reads ?types=todo,note&folders=<uuid>,none&max=N.
func (s *Server) timelineConfig(r *http.Request) (queue.Config, error) {
	q := r.URL.Query()
	cfg := queue.Config{MaxResults: s.maxResults}

	for _, name := range splitList(q.Get("types")) {
		t, err := card.ParseType(name)
		if err != nil {
			return cfg, fmt.Errorf("%w: %w", queue.ErrConfigurationInvalid, err)
		}
		cfg.Types = append(cfg.Types, t)
	}
	for _, name := range splitList(q.Get("folders")) {
		if name == "none" {
			cfg.Folders = append(cfg.Folders, queue.NoFolder)
			continue
		}
		id, err := uuid.Parse(name)
		if err != nil {
			return cfg, fmt.Errorf("%w: folder %q", queue.ErrConfigurationInvalid, name)
		}
		cfg.Folders = append(cfg.Folders, id)
	}
	if raw := q.Get("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return cfg, fmt.Errorf("%w: max %q", queue.ErrConfigurationInvalid, raw)
		}
		cfg.MaxResults = n
	}
	return cfg, nil
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.timelineConfig(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	tl, err := s.engine.Timeline(r.Context(), cfg)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, newTimelineView(tl))
}

type statsView struct {
	Due   int `json:"due"`
	Total int `json:"total"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	due, err := s.engine.CountCards(r.Context(), queue.Predicate{DueBy: s.now()})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	total, err := s.engine.CountCards(r.Context(), queue.Predicate{IncludeArchived: true})
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, statsView{Due: due, Total: total})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
