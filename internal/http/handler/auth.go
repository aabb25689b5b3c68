package handler

import (
	"errors"
	"net/http"
	"strings"

	"taskflow/internal/auth"
)

type AuthHandler struct {
	Users *auth.Users
	JWT   *auth.JWT
}

type registerReq struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar"`
}

type tokenResp struct {
	Token string        `json:"token"`
	User  auth.Identity `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if !decode(w, r, &req) {
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || len(req.Password) < 8 {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	u := auth.User{
		Email:        req.Email,
		Name:         strings.TrimSpace(req.Name),
		AvatarURL:    strings.TrimSpace(req.AvatarURL),
		PasswordHash: hash,
	}
	if err := h.Users.Create(r.Context(), &u); err != nil {
		http.Error(w, "email already used", http.StatusConflict)
		return
	}

	h.issue(w, &u, http.StatusCreated)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req registerReq
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		http.Error(w, "invalid input", http.StatusBadRequest)
		return
	}

	u, err := h.Users.FindUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !auth.ComparePassword(u.PasswordHash, req.Password) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	h.issue(w, u, http.StatusOK)
}

func (h *AuthHandler) issue(w http.ResponseWriter, u *auth.User, status int) {
	token, err := h.JWT.Sign(u.ID, u.Email)
	if err != nil {
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, tokenResp{Token: token, User: u.Identity()})
}
