package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"medrecord-api/internal/config"
	"medrecord-api/internal/crypto"
	"medrecord-api/internal/handler"
	"medrecord-api/internal/metrics"
	"medrecord-api/internal/middleware"
	"medrecord-api/internal/model"
	"medrecord-api/internal/service"
	"medrecord-api/internal/token"
	"medrecord-api/internal/twofactor"
)

const pipelineKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type memoryDirectory struct {
	mu    sync.Mutex
	users map[string]model.User
}

func (d *memoryDirectory) FindByID(_ context.Context, id string) (model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return user, nil
}

func (d *memoryDirectory) FindByEmail(_ context.Context, email string) (model.User, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, user := range d.users {
		if user.Email == email {
			return user, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (d *memoryDirectory) Create(_ context.Context, u model.User) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
	return nil
}

func (d *memoryDirectory) SetTwoFactor(_ context.Context, id string, secret string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user := d.users[id]
	user.TwoFactorSecret = secret
	user.TwoFactorEnabled = enabled
	d.users[id] = user
	return nil
}

func (d *memoryDirectory) SetActive(_ context.Context, id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user, ok := d.users[id]
	if !ok {
		return model.ErrUserNotFound
	}
	user.Active = active
	d.users[id] = user
	return nil
}

func (d *memoryDirectory) UpdatePassword(_ context.Context, id string, passwordHash string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	user := d.users[id]
	user.PasswordHash = passwordHash
	d.users[id] = user
	return nil
}

type memoryTrail struct {
	mu      sync.Mutex
	records []model.AuditRecord
}

func (t *memoryTrail) Append(_ context.Context, record model.AuditRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, record)
	return nil
}

func (t *memoryTrail) Query(_ context.Context, _ model.AuditQuery) ([]model.AuditRecord, model.Meta, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	records := append([]model.AuditRecord(nil), t.records...)
	return records, model.Meta{Page: 1, Limit: len(records), Total: len(records), TotalPages: 1}, nil
}

func (t *memoryTrail) all() []model.AuditRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]model.AuditRecord(nil), t.records...)
}

type pipelineFixture struct {
	handler http.Handler
	cipher  *crypto.PayloadCipher
	trail   *memoryTrail
	audit   *middleware.AuditRecorder
	tokens  *token.Service
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-pass"), bcrypt.MinCost)
	require.NoError(t, err)

	directory := &memoryDirectory{users: map[string]model.User{
		"u1": {ID: "u1", Email: "alice@clinic.test", Name: "Alice", PasswordHash: string(hash), Role: model.RoleProvider, Active: true},
		"u2": {ID: "u2", Email: "root@clinic.test", Name: "Root", PasswordHash: string(hash), Role: model.RoleAdmin, Active: true},
	}}

	tokens, err := token.NewService("access-secret", "refresh-secret", time.Hour, 24*time.Hour)
	require.NoError(t, err)

	authService := service.NewAuthService(directory, tokens, twofactor.NewService("medrecord-test"))
	cipher := crypto.NewPayloadCipher(func() string { return pipelineKey })

	trail := &memoryTrail{}
	m := metrics.New()
	audit := middleware.NewAuditRecorder(trail, m, 64)
	t.Cleanup(audit.Close)

	cfg := &config.Config{
		RequestTimeout:   5 * time.Second,
		RateLimitRPM:     1000,
		AuthRateLimitRPM: 1000,
		CORSOrigins:      []string{"*"},
	}

	h := New(cfg,
		middleware.NewAuthMiddleware(tokens, directory),
		middleware.NewEncryptionMiddleware(cipher, true),
		audit, m,
		Handlers{
			Auth:      handler.NewAuthHandler(authService),
			TwoFactor: handler.NewTwoFactorHandler(authService),
			User:      handler.NewUserHandler(authService),
			Audit:     handler.NewAuditHandler(trail),
		},
		nil,
	)

	return &pipelineFixture{handler: h, cipher: cipher, trail: trail, audit: audit, tokens: tokens}
}

func (f *pipelineFixture) login(t *testing.T, email string, password string) model.TokenPair {
	t.Helper()

	body, _ := json.Marshal(model.LoginRequest{Email: email, Password: password})
	req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Success bool            `json:"success"`
		Data    model.TokenPair `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.NotEmpty(t, resp.Data.AccessToken)
	return resp.Data
}

// Login is on the bypass list: plaintext in, plaintext out, even with the
// transport envelope switched on.
func TestPipeline_LoginBypassesEncryption(t *testing.T) {
	f := newPipelineFixture(t)

	pair := f.login(t, "alice@clinic.test", "s3cret-pass")
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
}

func TestPipeline_ProtectedResponseIsSealed(t *testing.T) {
	f := newPipelineFixture(t)
	pair := f.login(t, "alice@clinic.test", "s3cret-pass")

	req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "alice@clinic.test")

	var envelope model.EncryptedEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Complete())

	plaintext, err := f.cipher.Decrypt(envelope)
	require.NoError(t, err)

	var resp struct {
		Data model.Identity `json:"data"`
	}
	require.NoError(t, json.Unmarshal(plaintext, &resp))
	assert.Equal(t, "u1", resp.Data.ID)
	assert.Equal(t, "alice@clinic.test", resp.Data.Email)
}

func TestPipeline_ProtectedRouteRequiresToken(t *testing.T) {
	f := newPipelineFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPipeline_AuditTrailIsAdminOnly(t *testing.T) {
	f := newPipelineFixture(t)

	provider := f.login(t, "alice@clinic.test", "s3cret-pass")
	admin := f.login(t, "root@clinic.test", "s3cret-pass")

	req := httptest.NewRequest("GET", "/api/v1/audit", nil)
	req.Header.Set("Authorization", "Bearer "+provider.AccessToken)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest("GET", "/api/v1/audit", nil)
	req.Header.Set("Authorization", "Bearer "+admin.AccessToken)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPipeline_EveryAPIRequestIsAudited(t *testing.T) {
	f := newPipelineFixture(t)

	pair := f.login(t, "alice@clinic.test", "s3cret-pass")

	req := httptest.NewRequest("GET", "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	f.audit.Close()

	records := f.trail.all()
	require.Len(t, records, 2)

	assert.Equal(t, "POST /api/v1/auth/login", records[0].Action)
	assert.Equal(t, model.ActorUnauthenticated, records[0].ActorID)
	// The trail holds exactly what crossed the wire; login is a bypass
	// route, so its body is the plaintext the client sent.
	assert.Contains(t, records[0].RequestBody, "s3cret-pass")

	assert.Equal(t, "GET /api/v1/users/me", records[1].Action)
	assert.Equal(t, "u1", records[1].ActorID)
	assert.Equal(t, "users", records[1].ResourceType)
	assert.NotContains(t, records[1].ResponseBody, "alice@clinic.test")
}

func TestPipeline_HealthAndMetricsArePublic(t *testing.T) {
	f := newPipelineFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// Anonymous registration must never mint an elevated account: asking for
// ADMIN (or any non-patient role) is refused outright and no account exists
// afterwards to read the trail with.
func TestPipeline_AnonymousElevatedRegistrationRefused(t *testing.T) {
	f := newPipelineFixture(t)

	for _, role := range []string{"ADMIN", "PROVIDER"} {
		body, _ := json.Marshal(model.RegisterRequest{
			Email:    "intruder@clinic.test",
			Name:     "Intruder",
			Password: "Password123!",
			Role:     role,
		})
		req := httptest.NewRequest("POST", "/api/v1/auth/register", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code, "role %s", role)
	}

	// No account was created along the way.
	body, _ := json.Marshal(model.LoginRequest{Email: "intruder@clinic.test", Password: "Password123!"})
	req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPipeline_SelfRegistrationIsPatientOnly(t *testing.T) {
	f := newPipelineFixture(t)

	body, _ := json.Marshal(model.RegisterRequest{
		Email:    "new.patient@clinic.test",
		Name:     "New Patient",
		Password: "Password123!",
	})
	req := httptest.NewRequest("POST", "/api/v1/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		Data model.Identity `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, model.RolePatient, resp.Data.Role)

	pair := f.login(t, "new.patient@clinic.test", "Password123!")
	req = httptest.NewRequest("GET", "/api/v1/audit", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPipeline_AdminProvisionsAndDeactivates(t *testing.T) {
	f := newPipelineFixture(t)

	provider := f.login(t, "alice@clinic.test", "s3cret-pass")
	admin := f.login(t, "root@clinic.test", "s3cret-pass")

	createBody, _ := json.Marshal(model.RegisterRequest{
		Email:    "dr.new@clinic.test",
		Name:     "Dr New",
		Password: "Password123!",
		Role:     "PROVIDER",
	})

	// A non-admin cannot reach the provisioning endpoint.
	req := httptest.NewRequest("POST", "/api/v1/users", bytes.NewReader(createBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+provider.AccessToken)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest("POST", "/api/v1/users", bytes.NewReader(createBody))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+admin.AccessToken)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var envelope model.EncryptedEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	plaintext, err := f.cipher.Decrypt(envelope)
	require.NoError(t, err)

	var created struct {
		Data model.Identity `json:"data"`
	}
	require.NoError(t, json.Unmarshal(plaintext, &created))
	assert.Equal(t, model.RoleProvider, created.Data.Role)

	newPair := f.login(t, "dr.new@clinic.test", "Password123!")

	// Deactivation cuts off the account even while its token is still valid.
	req = httptest.NewRequest("PATCH", "/api/v1/users/"+created.Data.ID+"/active", strings.NewReader(`{"active":false}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+admin.AccessToken)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest("GET", "/api/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+newPair.AccessToken)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPipeline_RefreshRotatesTokens(t *testing.T) {
	f := newPipelineFixture(t)
	pair := f.login(t, "alice@clinic.test", "s3cret-pass")

	body, _ := json.Marshal(model.RefreshRequest{RefreshToken: pair.RefreshToken})
	req := httptest.NewRequest("POST", "/api/v1/auth/refresh", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Data model.TokenPair `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.AccessToken)

	// An access token is never accepted as a refresh token.
	body, _ = json.Marshal(model.RefreshRequest{RefreshToken: pair.AccessToken})
	req = httptest.NewRequest("POST", "/api/v1/auth/refresh", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
