package handler

import (
	"encoding/json"
	"net/http"

	"medrecord-api/internal/middleware"
	"medrecord-api/internal/model"
	"medrecord-api/internal/service"
	"medrecord-api/pkg/apierror"
)

type TwoFactorHandler struct {
	service *service.AuthService
}

func NewTwoFactorHandler(service *service.AuthService) *TwoFactorHandler {
	return &TwoFactorHandler{service: service}
}

// Enable issues a pending secret and provisioning URI. The secret is shown
// exactly once, here; two-factor stays off until Verify confirms enrollment.
func (h *TwoFactorHandler) Enable(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthenticated)
		return
	}

	secret, uri, err := h.service.EnableTwoFactor(r.Context(), identity.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"secret":          secret,
		"provisioningUri": uri,
	}, nil)
}

func (h *TwoFactorHandler) Verify(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthenticated)
		return
	}

	var payload model.TwoFactorVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body", ""))
		return
	}

	if err := h.service.VerifyTwoFactor(r.Context(), identity.ID, payload.Code); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"enabled": true}, nil)
}

func (h *TwoFactorHandler) Disable(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthenticated)
		return
	}

	if err := h.service.DisableTwoFactor(r.Context(), identity.ID); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"enabled": false}, nil)
}
