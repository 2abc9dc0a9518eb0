package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"medrecord-api/internal/model"
	"medrecord-api/internal/token"
	"medrecord-api/pkg/apierror"
)

type tokenVerifier interface {
	Verify(tokenString string, kind token.Kind) (string, error)
}

type identityResolver interface {
	FindByID(ctx context.Context, id string) (model.User, error)
}

// AuthMiddleware is the authorization gate: it resolves a bearer token to a
// live directory identity before any handler runs. A valid signature alone
// is not enough; the account is re-checked on every request.
type AuthMiddleware struct {
	verifier  tokenVerifier
	directory identityResolver
}

func NewAuthMiddleware(verifier tokenVerifier, directory identityResolver) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, directory: directory}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
			writeError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "missing or invalid authorization header")
			return
		}

		subject, err := m.verifier.Verify(strings.TrimSpace(header[7:]), token.KindAccess)
		if err != nil {
			writeError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid or expired token")
			return
		}

		user, err := m.directory.FindByID(r.Context(), subject)
		if err != nil {
			if !errors.Is(err, model.ErrUserNotFound) {
				slog.Error("identity resolution failed", "error", err)
			}
			writeError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid or expired token")
			return
		}
		if !user.Active {
			writeError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid or expired token")
			return
		}

		identity := model.IdentityOf(user)
		if holder, ok := actorHolderFromContext(r.Context()); ok {
			holder.set(identity.ID)
		}

		ctx := context.WithValue(r.Context(), identityContextKey, &identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRoles composes with RequireAuth: it assumes identity resolution has
// already succeeded and only enforces role membership.
func (m *AuthMiddleware) RequireRoles(allowedRoles ...model.Role) func(http.Handler) http.Handler {
	roleSet := map[model.Role]struct{}{}
	for _, role := range allowedRoles {
		roleSet[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, apierror.CodeUnauthorized, "authentication required")
				return
			}

			if _, allowed := roleSet[identity.Role]; !allowed {
				writeError(w, http.StatusForbidden, apierror.CodeForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
