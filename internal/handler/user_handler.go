package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medrecord-api/internal/middleware"
	"medrecord-api/internal/model"
	"medrecord-api/internal/service"
	"medrecord-api/pkg/apierror"
)

type UserHandler struct {
	service *service.AuthService
}

func NewUserHandler(service *service.AuthService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, model.ErrUnauthenticated)
		return
	}

	current, err := h.service.GetIdentity(r.Context(), identity.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, current, nil)
}

// Create is the admin path for provisioning accounts, including PROVIDER
// and ADMIN roles that self-registration refuses.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload model.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, apierror.BadRequest("invalid JSON body", ""))
		return
	}

	identity, err := h.service.CreateUser(r.Context(), payload.Email, payload.Name, payload.Password, model.Role(strings.ToUpper(strings.TrimSpace(payload.Role))))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, identity, nil)
}

// SetActive deactivates or reactivates an account.
func (h *UserHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, apierror.BadRequest("user id is required", "id"))
		return
	}

	var payload model.SetActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Active == nil {
		writeError(w, apierror.BadRequest("active is required", "active"))
		return
	}

	if err := h.service.SetUserActive(r.Context(), id, *payload.Active); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{"id": id, "active": *payload.Active}, nil)
}
