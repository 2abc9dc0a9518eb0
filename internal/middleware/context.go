package middleware

import (
	"context"
	"sync"

	"medrecord-api/internal/model"
)

type contextKey string

const (
	identityContextKey contextKey = "identity"
	actorContextKey    contextKey = "audit_actor"
)

// IdentityFromContext returns the identity the authorization gate resolved
// for this request, if any.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*model.Identity)
	if !ok || identity == nil {
		return model.Identity{}, false
	}
	return *identity, true
}

// actorHolder carries the resolved actor id outward to the audit recorder.
// The recorder installs it before the gate runs; context values set by inner
// middleware are otherwise invisible to outer wrappers.
type actorHolder struct {
	mu sync.Mutex
	id string
}

func (h *actorHolder) set(id string) {
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
}

func (h *actorHolder) get() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

func withActorHolder(ctx context.Context) (context.Context, *actorHolder) {
	holder := &actorHolder{}
	return context.WithValue(ctx, actorContextKey, holder), holder
}

func actorHolderFromContext(ctx context.Context) (*actorHolder, bool) {
	holder, ok := ctx.Value(actorContextKey).(*actorHolder)
	return holder, ok
}
