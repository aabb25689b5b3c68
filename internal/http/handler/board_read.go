package handler

import (
	"net/http"
	"strconv"
	"strings"

	"taskflow/internal/auth"
)

func (h *BoardHandler) Board(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	pid, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	view, err := h.Svc.Board(r.Context(), uid, pid)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *BoardHandler) Activity(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())
	pid, ok := urlID(r)
	if !ok {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	rows, err := h.Svc.Activities(r.Context(), uid, pid, limit)
	if err != nil {
		writeError(w, r, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
