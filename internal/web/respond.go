package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/conorfennell/topnote/internal/card"
	"github.com/conorfennell/topnote/internal/policy"
	"github.com/conorfennell/topnote/internal/queue"
	"github.com/conorfennell/topnote/internal/storage"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// errBadRequest marks malformed client input.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps domain errors to HTTP status codes. A call that is both on
// an archived card and on the wrong card type reports the archival conflict.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, card.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, card.ErrInvalidCardType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, policy.ErrPolicyLookupFailure):
		// The stored card names a policy this build does not know.
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, queue.ErrConfigurationInvalid),
		errors.Is(err, card.ErrEmptyContent),
		errors.As(err, &verrs):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes the error as JSON. Server-side failures are logged
// and replaced by a generic message.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
		msg = http.StatusText(status)
	} else {
		s.logger.Debug("request rejected", "status", status, "path", r.URL.Path, "error", err)
	}
	respondJSON(w, status, errorResponse{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return validate.Struct(v)
}

var validate = validator.New()
