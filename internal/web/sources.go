package web

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/conorfennell/topnote/internal/importer"
	"github.com/conorfennell/topnote/internal/storage"
	"github.com/go-chi/chi/v5"
)

type sourceView struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	LastScanned *time.Time `json:"last_scanned,omitempty"`
}

func newSourceView(src storage.Source) sourceView {
	v := sourceView{ID: src.ID, Path: src.Path, Type: src.Type}
	if src.LastScanned.Valid {
		t := src.LastScanned.Time
		v.LastScanned = &t
	}
	return v
}

type reportView struct {
	SourceID int64    `json:"source_id"`
	Path     string   `json:"path"`
	Parsed   int      `json:"parsed"`
	Inserted int      `json:"inserted"`
	Archived int      `json:"archived"`
	Errors   []string `json:"errors,omitempty"`
}

func newReportView(r importer.Report) reportView {
	v := reportView{SourceID: r.SourceID, Path: r.Path, Parsed: r.Parsed, Inserted: r.Inserted, Archived: r.Archived}
	for _, err := range r.Errors {
		v.Errors = append(v.Errors, err.Error())
	}
	return v
}

// handleGetSources lists the configured sources.
func (s *Server) handleGetSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.catalog.GetAllSources(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]sourceView, 0, len(sources))
	for _, src := range sources {
		out = append(out, newSourceView(src))
	}
	respondJSON(w, http.StatusOK, out)
}

type addSourceRequest struct {
	Path string `json:"path" validate:"required"`
}

// handlePostSource adds a local directory or git remote.
func (s *Server) handlePostSource(w http.ResponseWriter, r *http.Request) {
	var req addSourceRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	src, err := s.importer.AddSource(r.Context(), req.Path)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	respondJSON(w, http.StatusCreated, newSourceView(*src))
}

// handleDeleteSource removes a source; its cards stay.
func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, r, fmt.Errorf("%w: invalid source id", errBadRequest))
		return
	}
	if err := s.catalog.DeleteSource(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePostSync imports every source and reports per-source results.
// Sources that failed are reported in "errors".
func (s *Server) handlePostSync(w http.ResponseWriter, r *http.Request) {
	reports, err := s.importer.RunAll(r.Context())
	out := struct {
		Reports []reportView `json:"reports"`
		Error   string       `json:"error,omitempty"`
	}{Reports: make([]reportView, 0, len(reports))}
	for _, rep := range reports {
		out.Reports = append(out.Reports, newReportView(rep))
	}
	if err != nil {
		s.logger.Warn("sync finished with errors", "error", err)
		out.Error = err.Error()
	}
	respondJSON(w, http.StatusOK, out)
}

// handleGetFolders lists folders so clients can build timeline filters.
func (s *Server) handleGetFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := s.catalog.ListFolders(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	out := make([]folderView, 0, len(folders))
	for _, f := range folders {
		out = append(out, folderView{ID: f.ID, Name: f.Name})
	}
	respondJSON(w, http.StatusOK, out)
}
