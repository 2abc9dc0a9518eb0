package middleware

import (
	"encoding/json"
	"net/http"

	"medrecord-api/internal/model"
)

// writeError emits the standard API error envelope from middleware, before
// any handler has run.
func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error: &model.APIError{
			Code:    code,
			Message: message,
		},
	})
}
