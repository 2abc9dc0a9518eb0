package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func rateLimitRequest(handler http.Handler, path string, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, nil)
	req.Header.Set("X-Forwarded-For", ip)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitMiddleware_AuthBucketStricter(t *testing.T) {
	mw := NewRateLimitMiddleware(100, 1)

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusOK, rateLimitRequest(handler, "/api/v1/auth/login", "198.51.100.1").Code)

	second := rateLimitRequest(handler, "/api/v1/auth/login", "198.51.100.1")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	// The general bucket for the same client is untouched.
	assert.Equal(t, http.StatusOK, rateLimitRequest(handler, "/api/v1/users/me", "198.51.100.1").Code)
}

func TestRateLimitMiddleware_PerClientBuckets(t *testing.T) {
	mw := NewRateLimitMiddleware(100, 1)

	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	assert.Equal(t, http.StatusOK, rateLimitRequest(handler, "/api/v1/auth/login", "198.51.100.1").Code)
	assert.Equal(t, http.StatusTooManyRequests, rateLimitRequest(handler, "/api/v1/auth/login", "198.51.100.1").Code)

	// A different client gets its own bucket.
	assert.Equal(t, http.StatusOK, rateLimitRequest(handler, "/api/v1/auth/login", "198.51.100.2").Code)
}

func TestRateLimitMiddleware_ZeroConfigFallsBackToDefaults(t *testing.T) {
	mw := NewRateLimitMiddleware(0, 0)
	assert.Equal(t, 100, mw.generalRPM)
	assert.Equal(t, 10, mw.authRPM)
}
