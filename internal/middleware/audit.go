package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"medrecord-api/internal/metrics"
	"medrecord-api/internal/model"
)

const maxCapturedBody = 64 << 10 // 64 KiB per direction

// AuditSink persists audit records. Append errors are the sink's to report;
// the recorder only logs and counts them.
type AuditSink interface {
	Append(ctx context.Context, record model.AuditRecord) error
}

// AuditRecorder captures every exchange at the byte level and persists it
// off the request path. The client response never waits for the audit
// write; a full queue drops the record rather than block.
type AuditRecorder struct {
	sink      AuditSink
	metrics   *metrics.Metrics
	queue     chan model.AuditRecord
	done      chan struct{}
	closeOnce sync.Once
}

func NewAuditRecorder(sink AuditSink, m *metrics.Metrics, queueSize int) *AuditRecorder {
	if queueSize <= 0 {
		queueSize = 1024
	}

	r := &AuditRecorder{
		sink:    sink,
		metrics: m,
		queue:   make(chan model.AuditRecord, queueSize),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Handler wraps the response sink so whatever bytes actually go to the wire
// (encrypted envelopes included, since the encryption layer runs inside this
// one) are what the trail records. The record is built in a deferred block,
// so a panicking handler still produces exactly one record.
func (a *AuditRecorder) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestBody := captureRequestBody(r)

		ctx, holder := withActorHolder(r.Context())
		r = r.WithContext(ctx)

		cw := &captureWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			actor := holder.get()
			if actor == "" {
				actor = model.ActorUnauthenticated
			}

			record := model.AuditRecord{
				ID:           uuid.NewString(),
				OccurredAt:   time.Now().UTC(),
				ActorID:      actor,
				Action:       r.Method + " " + r.URL.Path,
				ResourceType: resourceTypeFromPath(r.URL.Path),
				ResourceID:   chi.URLParam(r, "id"),
				RequestBody:  requestBody,
				ResponseBody: cw.body.String(),
				Status:       cw.status,
				ClientIP:     clientIP(r),
				UserAgent:    r.UserAgent(),
			}
			a.enqueue(record)
		}()

		next.ServeHTTP(cw, r)
	})
}

// Close stops the background writer after draining queued records. Safe to
// call more than once.
func (a *AuditRecorder) Close() {
	a.closeOnce.Do(func() {
		close(a.queue)
		<-a.done
	})
}

func (a *AuditRecorder) enqueue(record model.AuditRecord) {
	select {
	case a.queue <- record:
	default:
		a.metrics.AuditRecordsDropped.Inc()
		slog.Warn("audit queue full, record dropped", "action", record.Action, "actor", record.ActorID)
	}
}

func (a *AuditRecorder) run() {
	defer close(a.done)

	for record := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := a.sink.Append(ctx, record)
		cancel()

		if err != nil {
			a.metrics.AuditWriteFailures.Inc()
			slog.Error("audit write failed", "action", record.Action, "actor", record.ActorID, "error", err)
		}
	}
}

// captureRequestBody reads up to maxCapturedBody bytes and splices them back
// so the handler still sees the full stream.
func captureRequestBody(r *http.Request) string {
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}

	captured, err := io.ReadAll(io.LimitReader(r.Body, maxCapturedBody))
	if err != nil {
		return ""
	}

	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(captured), r.Body), r.Body}

	return string(captured)
}

// resourceTypeFromPath takes the first path segment after the API prefix:
// /api/v1/patients/42 -> "patients".
func resourceTypeFromPath(path string) string {
	trimmed := strings.TrimPrefix(path, "/api/v1")
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return ""
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

func clientIP(r *http.Request) string {
	xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

// captureWriter tees response bytes into a bounded buffer while passing them
// straight through to the client.
type captureWriter struct {
	http.ResponseWriter
	status      int
	body        bytes.Buffer
	wroteHeader bool
}

func (w *captureWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.status = statusCode
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.body.Len() < maxCapturedBody {
		remaining := maxCapturedBody - w.body.Len()
		if len(b) <= remaining {
			w.body.Write(b)
		} else {
			w.body.Write(b[:remaining])
		}
	}
	return w.ResponseWriter.Write(b)
}
