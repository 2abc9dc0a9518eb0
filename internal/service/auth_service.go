package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"medrecord-api/internal/model"
	"medrecord-api/internal/token"
	"medrecord-api/internal/twofactor"
)

// dummyHash is compared against when the login identifier matches no user,
// so unknown-user and wrong-password attempts take the same time.
var dummyHash = func() []byte {
	h, err := bcrypt.GenerateFromPassword([]byte("medrecord-timing-pad"), bcrypt.DefaultCost)
	if err != nil {
		panic(err)
	}
	return h
}()

// UserDirectory is the external store of identities.
type UserDirectory interface {
	FindByID(ctx context.Context, id string) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	Create(ctx context.Context, u model.User) error
	SetTwoFactor(ctx context.Context, id string, secret string, enabled bool) error
	SetActive(ctx context.Context, id string, active bool) error
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
}

// AuthService orchestrates login: credential check, active-account check,
// two-factor challenge, token issuance.
type AuthService struct {
	directory UserDirectory
	tokens    *token.Service
	twoFactor *twofactor.Service
}

func NewAuthService(directory UserDirectory, tokens *token.Service, twoFactor *twofactor.Service) *AuthService {
	return &AuthService{directory: directory, tokens: tokens, twoFactor: twoFactor}
}

// Login runs the credential state machine. Which of the early checks failed
// is not observable to the caller: unknown user and wrong password both come
// back as ErrInvalidCredentials after a constant-shape bcrypt comparison.
func (s *AuthService) Login(ctx context.Context, email string, password string, twoFactorCode string) (model.LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.directory.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
			return model.LoginResult{}, model.ErrInvalidCredentials
		}
		return model.LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return model.LoginResult{}, model.ErrInvalidCredentials
	}

	if !user.Active {
		return model.LoginResult{}, model.ErrAccountDeactivated
	}

	if user.TwoFactorEnabled {
		code := strings.TrimSpace(twoFactorCode)
		if code == "" {
			// No server-side challenge state: the client resubmits the
			// whole login with the code.
			return model.LoginResult{RequiresTwoFactor: true}, nil
		}
		if !s.twoFactor.Verify(code, user.TwoFactorSecret) {
			return model.LoginResult{}, model.ErrInvalidTwoFactorCode
		}
	}

	pair, err := s.issuePair(user)
	if err != nil {
		return model.LoginResult{}, err
	}
	return model.LoginResult{Tokens: &pair}, nil
}

// Refresh exchanges a valid refresh token for a new access/refresh pair.
// The subject is re-resolved so a deactivated or deleted account cannot
// keep renewing.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	subject, err := s.tokens.Verify(refreshToken, token.KindRefresh)
	if err != nil {
		return model.TokenPair{}, err
	}

	user, err := s.directory.FindByID(ctx, subject)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return model.TokenPair{}, model.ErrInvalidToken
		}
		return model.TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}
	if !user.Active {
		return model.TokenPair{}, model.ErrAccountDeactivated
	}

	return s.issuePair(user)
}

// Register is anonymous self-registration. It only ever creates PATIENT
// accounts: an unauthenticated caller asking for any other role is refused,
// not silently downgraded. Elevated accounts go through CreateUser.
func (s *AuthService) Register(ctx context.Context, email string, name string, password string, role model.Role) (model.Identity, error) {
	if role != "" && role != model.RolePatient {
		return model.Identity{}, model.ErrForbidden
	}
	return s.createUser(ctx, email, name, password, model.RolePatient)
}

// CreateUser creates an account with any valid role. Callers are expected
// to have passed the admin role check before reaching this.
func (s *AuthService) CreateUser(ctx context.Context, email string, name string, password string, role model.Role) (model.Identity, error) {
	if role == "" {
		role = model.RolePatient
	}
	return s.createUser(ctx, email, name, password, role)
}

func (s *AuthService) createUser(ctx context.Context, email string, name string, password string, role model.Role) (model.Identity, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if email == "" || strings.TrimSpace(password) == "" {
		return model.Identity{}, model.ErrInvalidInput
	}
	if !model.ValidRole(role) {
		return model.Identity{}, model.ErrInvalidInput
	}

	if _, err := s.directory.FindByEmail(ctx, email); err == nil {
		return model.Identity{}, model.ErrUserAlreadyExists
	} else if !errors.Is(err, model.ErrUserNotFound) {
		return model.Identity{}, fmt.Errorf("check existing user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return model.Identity{}, fmt.Errorf("hash password: %w", err)
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.directory.Create(ctx, user); err != nil {
		return model.Identity{}, err
	}
	return model.IdentityOf(user), nil
}

// SetUserActive flips the account's active flag. A deactivated account is
// cut off on its next request: the gate re-resolves the subject every time.
func (s *AuthService) SetUserActive(ctx context.Context, userID string, active bool) error {
	if err := s.directory.SetActive(ctx, userID, active); err != nil {
		return err
	}
	slog.Info("account active flag changed", "user_id", userID, "active", active)
	return nil
}

// ChangePassword verifies the current password before storing a new hash.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, currentPassword string, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return model.ErrInvalidInput
	}

	user, err := s.directory.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return model.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), 12)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.directory.UpdatePassword(ctx, userID, string(hash))
}

// EnableTwoFactor issues a fresh secret and provisioning URI. The secret is
// stored disabled until VerifyTwoFactor confirms the enrollment.
func (s *AuthService) EnableTwoFactor(ctx context.Context, userID string) (string, string, error) {
	user, err := s.directory.FindByID(ctx, userID)
	if err != nil {
		return "", "", err
	}

	secret, err := s.twoFactor.GenerateSecret()
	if err != nil {
		return "", "", err
	}

	uri, err := s.twoFactor.ProvisioningURI(user.Email, secret)
	if err != nil {
		return "", "", err
	}

	if err := s.directory.SetTwoFactor(ctx, userID, secret, false); err != nil {
		return "", "", err
	}
	return secret, uri, nil
}

// VerifyTwoFactor activates two-factor once the user proves they enrolled
// the pending secret.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, userID string, code string) error {
	user, err := s.directory.FindByID(ctx, userID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(user.TwoFactorSecret) == "" {
		return model.ErrTwoFactorNotPending
	}
	if !s.twoFactor.Verify(code, user.TwoFactorSecret) {
		return model.ErrInvalidTwoFactorCode
	}
	return s.directory.SetTwoFactor(ctx, userID, user.TwoFactorSecret, true)
}

// DisableTwoFactor clears the secret and the enabled flag.
func (s *AuthService) DisableTwoFactor(ctx context.Context, userID string) error {
	return s.directory.SetTwoFactor(ctx, userID, "", false)
}

// GetIdentity resolves a user id to the client-safe identity shape.
func (s *AuthService) GetIdentity(ctx context.Context, userID string) (model.Identity, error) {
	user, err := s.directory.FindByID(ctx, userID)
	if err != nil {
		return model.Identity{}, err
	}
	return model.IdentityOf(user), nil
}

func (s *AuthService) issuePair(user model.User) (model.TokenPair, error) {
	access, err := s.tokens.IssueAccess(user.ID)
	if err != nil {
		return model.TokenPair{}, err
	}
	refresh, err := s.tokens.IssueRefresh(user.ID)
	if err != nil {
		return model.TokenPair{}, err
	}

	slog.Info("tokens issued", "user_id", user.ID, "role", string(user.Role))

	return model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.tokens.AccessTTL().Seconds()),
		Identity:     model.IdentityOf(user),
	}, nil
}
