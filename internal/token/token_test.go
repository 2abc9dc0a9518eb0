package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"medrecord-api/internal/model"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	svc, err := NewService("s1", "s2", time.Hour, 7*24*time.Hour)
	require.NoError(t, err)
	return svc
}

func TestNewService_RequiresSecrets(t *testing.T) {
	_, err := NewService("", "s2", time.Hour, time.Hour)
	require.Error(t, err)

	_, err = NewService("s1", "  ", time.Hour, time.Hour)
	require.Error(t, err)
}

func TestIssueAndVerify_AccessToken(t *testing.T) {
	svc := newTestService(t)

	signed, err := svc.IssueAccess("u1")
	require.NoError(t, err)

	subject, err := svc.Verify(signed, KindAccess)
	require.NoError(t, err)
	require.Equal(t, "u1", subject)
}

func TestVerify_KindsDoNotCross(t *testing.T) {
	svc := newTestService(t)

	access, err := svc.IssueAccess("u1")
	require.NoError(t, err)
	refresh, err := svc.IssueRefresh("u1")
	require.NoError(t, err)

	_, err = svc.Verify(access, KindRefresh)
	require.ErrorIs(t, err, model.ErrInvalidToken)

	_, err = svc.Verify(refresh, KindAccess)
	require.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestVerify_ExpiredToken(t *testing.T) {
	svc := newTestService(t)

	now := time.Now().UTC()
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"typ": "access",
		"iat": now.Add(-2 * time.Hour).Unix(),
		"exp": now.Add(-time.Hour).Unix(),
	}).SignedString([]byte("s1"))
	require.NoError(t, err)

	_, err = svc.Verify(expired, KindAccess)
	require.ErrorIs(t, err, model.ErrExpiredToken)
}

func TestVerify_TamperedSignature(t *testing.T) {
	svc := newTestService(t)

	signed, err := svc.IssueAccess("u1")
	require.NoError(t, err)

	_, err = svc.Verify(signed+"x", KindAccess)
	require.ErrorIs(t, err, model.ErrInvalidToken)

	_, err = svc.Verify("not-a-token", KindAccess)
	require.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestVerify_LegacyIDClaimAccepted(t *testing.T) {
	svc := newTestService(t)

	now := time.Now().UTC()
	legacy, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "u1",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte("s1"))
	require.NoError(t, err)

	subject, err := svc.Verify(legacy, KindAccess)
	require.NoError(t, err)
	require.Equal(t, "u1", subject)
}

func TestVerify_MissingSubjectRejected(t *testing.T) {
	svc := newTestService(t)

	now := time.Now().UTC()
	anonymous, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte("s1"))
	require.NoError(t, err)

	_, err = svc.Verify(anonymous, KindAccess)
	require.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestVerify_RejectsNonHMACAlgorithm(t *testing.T) {
	svc := newTestService(t)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = svc.Verify(unsigned, KindAccess)
	require.ErrorIs(t, err, model.ErrInvalidToken)
}
