package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"medrecord-api/internal/model"
)

// Timeout caps handler time. The body is rendered through the standard
// envelope once, at wiring time.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	message, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    "REQUEST_TIMEOUT",
			Message: "request timed out",
		},
	})

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, string(message))
	}
}
