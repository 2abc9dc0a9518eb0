package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// Requests to id-bearing routes collapse into one series per route pattern,
// not one per distinct URL.
func TestInstrument_LabelsByRoutePattern(t *testing.T) {
	m := New()

	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/api/v1/users/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"u1", "u2", "u3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users/"+id, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	pattern := m.httpRequestsTotal.WithLabelValues("GET", "/api/v1/users/{id}", "200")
	assert.Equal(t, float64(3), testutil.ToFloat64(pattern))
}

func TestInstrument_FallsBackToRawPathOutsideRouter(t *testing.T) {
	m := New()

	handler := m.Instrument(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	counter := m.httpRequestsTotal.WithLabelValues("GET", "/health", "204")
	assert.Equal(t, float64(1), testutil.ToFloat64(counter))
}
