package model

import "errors"

var (
	// Credential errors. Unknown user and wrong password share one sentinel
	// so the distinction cannot leak to the caller.
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountDeactivated   = errors.New("account deactivated")
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	ErrTwoFactorNotPending  = errors.New("two-factor setup is not pending")

	// Token errors
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")

	// Request authorization errors
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")

	// Payload protection errors
	ErrInvalidPayload = errors.New("invalid payload")

	// Directory errors
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")

	// Generic errors
	ErrInvalidInput = errors.New("invalid input")
)
