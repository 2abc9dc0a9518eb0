package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"medrecord-api/internal/model"
)

// Kind selects which signing secret and lifetime a token uses. Access and
// refresh tokens are signed with distinct secrets so one kind can never be
// presented as the other.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

type Service struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// NewService builds the token service. Missing secrets are a configuration
// error; the caller is expected to treat that as fatal at startup.
func NewService(accessSecret string, refreshSecret string, accessTTL time.Duration, refreshTTL time.Duration) (*Service, error) {
	if strings.TrimSpace(accessSecret) == "" {
		return nil, errors.New("access token secret is required")
	}
	if strings.TrimSpace(refreshSecret) == "" {
		return nil, errors.New("refresh token secret is required")
	}
	if accessTTL <= 0 {
		accessTTL = 24 * time.Hour
	}
	if refreshTTL <= 0 {
		refreshTTL = 168 * time.Hour
	}

	return &Service{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}, nil
}

func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// IssueAccess signs a short-lived access token for the given subject.
func (s *Service) IssueAccess(subjectID string) (string, error) {
	return s.issue(subjectID, KindAccess, s.accessSecret, s.accessTTL)
}

// IssueRefresh signs a longer-lived refresh token for the given subject.
// Possession of it grants token renewal only, never API access.
func (s *Service) IssueRefresh(subjectID string) (string, error) {
	return s.issue(subjectID, KindRefresh, s.refreshSecret, s.refreshTTL)
}

func (s *Service) issue(subjectID string, kind Kind, secret []byte, ttl time.Duration) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", errors.New("subject id is required")
	}

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub": subjectID,
		"typ": string(kind),
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", kind, err)
	}
	return signed, nil
}

// Verify checks signature, expiry, and kind, and returns the subject id.
// The subject may live under either "sub" or "id"; the older claim name is
// still accepted while clients migrate. Expired tokens are reported as
// model.ErrExpiredToken, every other failure as model.ErrInvalidToken.
func (s *Service) Verify(tokenString string, kind Kind) (string, error) {
	secret := s.accessSecret
	if kind == KindRefresh {
		secret = s.refreshSecret
	}

	parsed, err := jwt.Parse(strings.TrimSpace(tokenString), func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, model.ErrInvalidToken
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", model.ErrExpiredToken
		}
		return "", model.ErrInvalidToken
	}
	if !parsed.Valid {
		return "", model.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", model.ErrInvalidToken
	}

	// Tokens minted by the previous auth system carry no "typ" claim; the
	// distinct signing secrets already keep the kinds apart, so only an
	// explicit mismatch is rejected.
	if typ, ok := claims["typ"].(string); ok && typ != string(kind) {
		return "", model.ErrInvalidToken
	}

	subject := subjectClaim(claims)
	if subject == "" {
		return "", model.ErrInvalidToken
	}
	return subject, nil
}

// subjectClaim tries "sub" first, then the legacy "id" field.
func subjectClaim(claims jwt.MapClaims) string {
	if sub, _ := claims["sub"].(string); strings.TrimSpace(sub) != "" {
		return strings.TrimSpace(sub)
	}
	if id, _ := claims["id"].(string); strings.TrimSpace(id) != "" {
		return strings.TrimSpace(id)
	}
	return ""
}
