package twofactor

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const secretBytes = 20

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Service generates and validates time-based one-time codes. It stores
// nothing; secrets live in the user directory.
type Service struct {
	issuer string
}

func NewService(issuer string) *Service {
	if strings.TrimSpace(issuer) == "" {
		issuer = "medrecord"
	}
	return &Service{issuer: issuer}
}

// GenerateSecret produces a fresh base32 TOTP secret from a
// cryptographically secure source.
func (s *Service) GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return b32.EncodeToString(raw), nil
}

// ProvisioningURI renders the otpauth:// URI authenticator apps enroll from.
func (s *Service) ProvisioningURI(accountLabel string, secret string) (string, error) {
	accountLabel = strings.TrimSpace(accountLabel)
	if accountLabel == "" {
		return "", errors.New("account label is required")
	}

	raw, err := b32.DecodeString(strings.ToUpper(strings.TrimSpace(secret)))
	if err != nil {
		return "", fmt.Errorf("decode totp secret: %w", err)
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer,
		AccountName: accountLabel,
		Secret:      raw,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("build provisioning uri: %w", err)
	}
	return key.URL(), nil
}

// Verify checks a 6-digit code against the secret, tolerating one 30-second
// step of clock drift in either direction and no more.
func (s *Service) Verify(code string, secret string) bool {
	code = strings.TrimSpace(code)
	secret = strings.ToUpper(strings.TrimSpace(secret))
	if code == "" || secret == "" {
		return false
	}

	valid, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}
