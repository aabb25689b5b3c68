package handler

import (
	"errors"
	"net/http"

	"taskflow/internal/auth"
)

type MeHandler struct {
	Users auth.IdentityStore
}

func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	uid, _ := auth.UserIDFromContext(r.Context())

	u, err := h.Users.FindUserByID(r.Context(), uid)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, u.Identity())
}
