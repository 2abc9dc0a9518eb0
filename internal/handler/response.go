package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"medrecord-api/internal/crypto"
	"medrecord-api/internal/model"
	"medrecord-api/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any, meta *model.Meta) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    apierror.CodeInternal,
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	var cfgErr *crypto.ConfigError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	// All credential failures collapse into one shape: the caller must not
	// be able to tell which check rejected the login.
	case errors.Is(err, model.ErrInvalidCredentials),
		errors.Is(err, model.ErrAccountDeactivated),
		errors.Is(err, model.ErrInvalidTwoFactorCode):
		status = http.StatusUnauthorized
		body.Code = apierror.CodeUnauthorized
		body.Message = "Invalid credentials"
	case errors.Is(err, model.ErrInvalidToken), errors.Is(err, model.ErrExpiredToken):
		status = http.StatusUnauthorized
		body.Code = apierror.CodeUnauthorized
		body.Message = "Invalid or expired token"
	case errors.Is(err, model.ErrUnauthenticated):
		status = http.StatusUnauthorized
		body.Code = apierror.CodeUnauthorized
		body.Message = "Authentication required"
	case errors.Is(err, model.ErrForbidden):
		status = http.StatusForbidden
		body.Code = apierror.CodeForbidden
		body.Message = "Access denied"
	case errors.Is(err, model.ErrInvalidPayload), errors.Is(err, crypto.ErrDecryptFailed):
		status = http.StatusBadRequest
		body.Code = apierror.CodeInvalidPayload
		body.Message = "Payload could not be processed"
	case errors.Is(err, model.ErrUserNotFound):
		status = http.StatusNotFound
		body.Code = apierror.CodeNotFound
		body.Message = "User not found"
	case errors.Is(err, model.ErrUserAlreadyExists):
		status = http.StatusConflict
		body.Code = apierror.CodeAlreadyExists
		body.Message = "User already exists"
	case errors.Is(err, model.ErrTwoFactorNotPending):
		status = http.StatusBadRequest
		body.Code = apierror.CodeBadRequest
		body.Message = "Two-factor setup is not pending"
	case errors.As(err, &cfgErr):
		// Key material problems stay server-side.
		slog.Error("cipher configuration error", "error", err.Error())
	case errors.Is(err, model.ErrInvalidInput):
		status = http.StatusBadRequest
		body.Code = apierror.CodeBadRequest
		body.Message = "Invalid input"
	default:
		slog.Error("unhandled error in writeError", "error", err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}
