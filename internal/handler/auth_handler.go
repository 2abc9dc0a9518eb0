package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"medrecord-api/internal/middleware"
	"medrecord-api/internal/model"
	"medrecord-api/internal/service"
	"medrecord-api/pkg/apierror"
)

type AuthHandler struct {
	service *service.AuthService
}

func NewAuthHandler(service *service.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body", ""))
		return
	}

	result, err := h.service.Login(r.Context(), payload.Email, payload.Password, payload.TwoFactorCode)
	if err != nil {
		// The reason stays server-side; the client sees one uniform 401.
		slog.Warn("login rejected", "reason", err.Error(), "client_ip", r.RemoteAddr)
		writeError(w, err)
		return
	}

	if result.RequiresTwoFactor {
		writeSuccess(w, http.StatusOK, map[string]any{"requiresTwoFactor": true}, nil)
		return
	}

	writeSuccess(w, http.StatusOK, result.Tokens, nil)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body", ""))
		return
	}

	payload.RefreshToken = strings.TrimSpace(payload.RefreshToken)
	if payload.RefreshToken == "" {
		writeError(w, apierror.BadRequest("refreshToken is required", "refreshToken"))
		return
	}

	pair, err := h.service.Refresh(r.Context(), payload.RefreshToken)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, pair, nil)
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body", ""))
		return
	}

	identity, err := h.service.Register(r.Context(), payload.Email, payload.Name, payload.Password, model.Role(strings.ToUpper(strings.TrimSpace(payload.Role))))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, identity, nil)
}

func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthenticated)
		return
	}

	var payload model.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body", ""))
		return
	}

	if err := h.service.ChangePassword(r.Context(), identity.ID, payload.CurrentPassword, payload.NewPassword); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"changed": true}, nil)
}
