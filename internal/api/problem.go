package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hakimelghazi/confidential-book/internal/engine"
	"github.com/hakimelghazi/confidential-book/internal/market"
)

func writeProblem(w http.ResponseWriter, r *http.Request, code int, title, detail string) {
	reqID := middleware.GetReqID(r.Context())
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("X-Request-ID", reqID)
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":      title,
		"status":     code,
		"detail":     detail,
		"instance":   r.URL.Path,
		"request_id": reqID,
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", middleware.GetReqID(r.Context()))
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps registry and engine errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, market.ErrPairNotFound):
		writeProblem(w, r, http.StatusNotFound, "pair_not_found", err.Error())
	case errors.Is(err, market.ErrPairInactive):
		writeProblem(w, r, http.StatusConflict, "pair_inactive", err.Error())
	case errors.Is(err, market.ErrBookFull):
		writeProblem(w, r, http.StatusConflict, "book_full", err.Error())
	case errors.Is(err, market.ErrInvalidPrice), errors.Is(err, market.ErrInvalidQuantity):
		writeProblem(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, engine.ErrEngineStopped):
		writeProblem(w, r, http.StatusServiceUnavailable, "engine_stopped", err.Error())
	default:
		writeProblem(w, r, http.StatusInternalServerError, "engine_error", err.Error())
	}
}
