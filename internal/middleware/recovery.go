package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"medrecord-api/pkg/apierror"
)

// Recovery converts handler panics into a generic 500. It runs inside the
// audit recorder so the 500 response still lands in the trail.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if recovered := recover(); recovered != nil {
				slog.Error("panic recovered", "error", fmt.Sprintf("%v", recovered), "stack", string(debug.Stack()))
				writeError(w, http.StatusInternalServerError, apierror.CodeInternal, "Unexpected server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
