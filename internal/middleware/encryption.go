package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"medrecord-api/internal/crypto"
	"medrecord-api/internal/model"
	"medrecord-api/pkg/apierror"
)

const maxInboundBody = 1 << 20 // 1 MiB

// EncryptionMiddleware transparently decrypts inbound encrypted envelopes
// and re-encrypts outbound JSON bodies. It is wired only onto protected
// routes; bypassed routes never pass through it, and when the deployment is
// not in protected mode the whole middleware is a no-op.
type EncryptionMiddleware struct {
	cipher  *crypto.PayloadCipher
	enabled bool
}

func NewEncryptionMiddleware(cipher *crypto.PayloadCipher, enabled bool) *EncryptionMiddleware {
	return &EncryptionMiddleware{cipher: cipher, enabled: enabled}
}

func (m *EncryptionMiddleware) Handler(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.decryptInbound(w, r) {
			return
		}

		ew := &encryptingWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ew, r)
		m.finalize(ew)
	})
}

// decryptInbound replaces an enveloped request body with its plaintext.
// Bodies that do not carry the envelope shape pass through untouched.
// Returns false when the request has already been rejected.
func (m *EncryptionMiddleware) decryptInbound(w http.ResponseWriter, r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return true
	}
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "application/json") {
		return true
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxInboundBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, apierror.CodeInvalidPayload, "request payload could not be read")
		return false
	}
	_ = r.Body.Close()

	if len(raw) > maxInboundBody {
		writeError(w, http.StatusRequestEntityTooLarge, apierror.CodePayloadTooLarge, "request payload exceeds the size limit")
		return false
	}

	restore := func(body []byte) {
		r.Body = io.NopCloser(bytes.NewReader(body))
		r.ContentLength = int64(len(body))
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		restore(raw)
		return true
	}

	var envelope model.EncryptedEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil || !envelope.Complete() {
		restore(raw)
		return true
	}

	plaintext, err := m.cipher.Decrypt(envelope)
	if err != nil {
		// Cipher internals stay server-side; the client sees one generic code.
		slog.Warn("inbound payload decryption failed", "path", r.URL.Path)
		writeError(w, http.StatusBadRequest, apierror.CodeInvalidPayload, "request payload could not be decrypted")
		return false
	}

	restore(plaintext)
	return true
}

// finalize encrypts the buffered response and writes it to the wire. An
// encryption failure must never fall through to plaintext.
func (m *EncryptionMiddleware) finalize(ew *encryptingWriter) {
	header := ew.ResponseWriter.Header()

	if ew.buf.Len() == 0 || !strings.Contains(header.Get("Content-Type"), "application/json") {
		ew.flushThrough()
		return
	}

	envelope, err := m.cipher.Encrypt(json.RawMessage(ew.buf.Bytes()))
	if err != nil {
		slog.Error("outbound payload encryption failed", "error", err)
		body, _ := json.Marshal(model.APIResponse{
			Success: false,
			Error:   &model.APIError{Code: apierror.CodeInternal, Message: "Unexpected server error"},
		})
		header.Set("Content-Length", strconv.Itoa(len(body)))
		ew.ResponseWriter.WriteHeader(http.StatusInternalServerError)
		_, _ = ew.ResponseWriter.Write(body)
		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		ew.ResponseWriter.WriteHeader(http.StatusInternalServerError)
		return
	}

	header.Set("Content-Length", strconv.Itoa(len(body)))
	ew.ResponseWriter.WriteHeader(ew.status)
	_, _ = ew.ResponseWriter.Write(body)
}

// encryptingWriter buffers the handler's response so the body can be sealed
// before anything reaches the wire.
type encryptingWriter struct {
	http.ResponseWriter
	status      int
	buf         bytes.Buffer
	wroteHeader bool
}

func (w *encryptingWriter) WriteHeader(statusCode int) {
	if w.wroteHeader {
		return
	}
	w.status = statusCode
	w.wroteHeader = true
}

func (w *encryptingWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.buf.Write(b)
}

func (w *encryptingWriter) flushThrough() {
	w.ResponseWriter.WriteHeader(w.status)
	if w.buf.Len() > 0 {
		_, _ = w.ResponseWriter.Write(w.buf.Bytes())
	}
}
