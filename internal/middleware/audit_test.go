package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medrecord-api/internal/crypto"
	"medrecord-api/internal/metrics"
	"medrecord-api/internal/model"
)

type collectingSink struct {
	mu      sync.Mutex
	records []model.AuditRecord
	err     error
}

func (s *collectingSink) Append(_ context.Context, record model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *collectingSink) all() []model.AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.AuditRecord(nil), s.records...)
}

func TestAuditRecorder_RecordsExchange(t *testing.T) {
	sink := &collectingSink{}
	recorder := NewAuditRecorder(sink, metrics.New(), 16)

	r := chi.NewRouter()
	r.Use(recorder.Handler)
	r.Post("/api/v1/records/{id}", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"stored":true}`))
	})

	req := httptest.NewRequest("POST", "/api/v1/records/42", strings.NewReader(`{"note":"bp normal"}`))
	req.Header.Set("User-Agent", "medrecord-test/1.0")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	recorder.Close()

	records := sink.all()
	require.Len(t, records, 1)

	record := records[0]
	assert.NotEmpty(t, record.ID)
	assert.False(t, record.OccurredAt.IsZero())
	assert.Equal(t, model.ActorUnauthenticated, record.ActorID)
	assert.Equal(t, "POST /api/v1/records/42", record.Action)
	assert.Equal(t, "records", record.ResourceType)
	assert.Equal(t, "42", record.ResourceID)
	assert.Equal(t, `{"note":"bp normal"}`, record.RequestBody)
	assert.Equal(t, `{"stored":true}`, record.ResponseBody)
	assert.Equal(t, http.StatusCreated, record.Status)
	assert.Equal(t, "203.0.113.9", record.ClientIP)
	assert.Equal(t, "medrecord-test/1.0", record.UserAgent)
}

func TestAuditRecorder_ActorFromInnerMiddleware(t *testing.T) {
	sink := &collectingSink{}
	recorder := NewAuditRecorder(sink, metrics.New(), 16)

	handler := recorder.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if holder, ok := actorHolderFromContext(r.Context()); ok {
			holder.set("u1")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users/me", nil))
	recorder.Close()

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, "u1", records[0].ActorID)
}

// The recorder sits outside the encryption layer, so the trail holds the
// envelope that went to the wire, not the plaintext inside it.
func TestAuditRecorder_CapturesWireBytes(t *testing.T) {
	sink := &collectingSink{}
	recorder := NewAuditRecorder(sink, metrics.New(), 16)

	cipher := crypto.NewPayloadCipher(func() string { return encTestKey })
	encryption := NewEncryptionMiddleware(cipher, true)

	handler := recorder.Handler(encryption.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"diagnosis":"hypertension"}`))
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/records/7", nil))
	recorder.Close()

	records := sink.all()
	require.Len(t, records, 1)

	assert.NotContains(t, records[0].ResponseBody, "hypertension")

	var envelope model.EncryptedEnvelope
	require.NoError(t, json.Unmarshal([]byte(records[0].ResponseBody), &envelope))
	assert.True(t, envelope.Complete())
}

func TestAuditRecorder_PanicStillRecorded(t *testing.T) {
	sink := &collectingSink{}
	recorder := NewAuditRecorder(sink, metrics.New(), 16)

	handler := recorder.Handler(Recovery(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users/me", nil))
	recorder.Close()

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, http.StatusInternalServerError, records[0].Status)
}

type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) Append(_ context.Context, _ model.AuditRecord) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestAuditRecorder_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	sink := &blockingSink{entered: make(chan struct{}, 8), release: make(chan struct{})}
	m := metrics.New()
	recorder := NewAuditRecorder(sink, m, 1)

	handler := recorder.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func() {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users/me", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	serve()
	// The writer is now stuck in Append; the next record fills the queue and
	// the one after that has nowhere to go.
	<-sink.entered
	serve()
	serve()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuditRecordsDropped))

	close(sink.release)
	recorder.Close()
}

func TestAuditRecorder_WriteFailuresCounted(t *testing.T) {
	sink := &collectingSink{err: errors.New("connection refused")}
	m := metrics.New()
	recorder := NewAuditRecorder(sink, m, 16)

	handler := recorder.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/users/me", nil))

	// The client is never penalized for a broken trail.
	assert.Equal(t, http.StatusOK, rec.Code)

	recorder.Close()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuditWriteFailures))
}
