package handler

import (
	"context"
	"net/http"
	"strconv"

	"medrecord-api/internal/model"
)

type auditQuerier interface {
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditRecord, model.Meta, error)
}

type AuditHandler struct {
	store auditQuerier
}

func NewAuditHandler(store auditQuerier) *AuditHandler {
	return &AuditHandler{store: store}
}

// List exposes the trail read-only, for admins.
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	records, meta, err := h.store.Query(r.Context(), model.AuditQuery{
		ActorID:      q.Get("actor_id"),
		ResourceType: q.Get("resource_type"),
		Action:       q.Get("action"),
		From:         q.Get("from"),
		To:           q.Get("to"),
		Page:         page,
		Limit:        limit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, records, &meta)
}
