package model

import "time"

type Role string

const (
	RolePatient  Role = "PATIENT"
	RoleProvider Role = "PROVIDER"
	RoleAdmin    Role = "ADMIN"
)

// ValidRole reports whether the given role is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RolePatient, RoleProvider, RoleAdmin:
		return true
	}
	return false
}

// User is the full directory record, including credential material.
// It never leaves the service layer as-is; handlers see Identity.
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	PasswordHash     string    `json:"-"`
	Role             Role      `json:"role"`
	Active           bool      `json:"active"`
	TwoFactorSecret  string    `json:"-"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Identity is the authenticated actor attached to a request after the
// authorization gate resolves a bearer token against the directory.
type Identity struct {
	ID               string `json:"id"`
	Email            string `json:"email"`
	Name             string `json:"name"`
	Role             Role   `json:"role"`
	TwoFactorEnabled bool   `json:"two_factor_enabled"`
}

// IdentityOf strips a directory record down to what clients may see.
// Password hash and the TOTP secret never cross this boundary.
func IdentityOf(u User) Identity {
	return Identity{
		ID:               u.ID,
		Email:            u.Email,
		Name:             u.Name,
		Role:             u.Role,
		TwoFactorEnabled: u.TwoFactorEnabled,
	}
}

type TokenPair struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	Identity     Identity `json:"identity"`
}

// LoginResult is the outcome of a login attempt that passed the credential
// and active-account checks. When the account has two-factor enabled and no
// code was supplied, RequiresTwoFactor is set and no tokens are issued.
type LoginResult struct {
	RequiresTwoFactor bool       `json:"requires_two_factor"`
	Tokens            *TokenPair `json:"tokens,omitempty"`
}
