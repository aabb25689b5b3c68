package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"taskflow/internal/board"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps board errors to status codes. Anything unrecognised is
// logged and reported as a 500.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, board.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, board.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, board.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		if logger != nil {
			logger.Error("request failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		}
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func urlID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return false
	}
	return true
}
