package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/federation/signature"
	"github.com/marmos91/dittoshard/pkg/metrics"
)

const (
	// HeaderRequestID carries the request ID, echoed back when supplied.
	HeaderRequestID = "X-Request-ID"

	// HeaderSigner carries the URL hash of the federated server that signed the request.
	HeaderSigner = "X-Federation-Signer"

	// HeaderSignature carries the hex HMAC of the signed content.
	HeaderSignature = "X-Federation-Signature"

	// maxRecordSize bounds federated request bodies.
	maxRecordSize = 4 << 20
)

type contextKey int

const (
	requestIDKey contextKey = iota
	claimsKey
)

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ClaimsFrom returns the verified signer of a federated request.
func ClaimsFrom(ctx context.Context) (*signature.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*signature.Claims)
	return c, ok
}

// withRequestID tags every request with an ID and logs it on completion.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))

		logger.Debug("%s %s -> %d in %s (request %s)", r.Method, r.URL.Path, rec.status, time.Since(start), id)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// SignedContent returns what a federated request signs. GET and DELETE sign
// the canonical line "METHOD /path"; other methods sign that line, a newline
// and the body, so a signature cannot be replayed on another key or method.
func SignedContent(method, path string, body []byte) []byte {
	line := method + " " + path
	if !carriesBody(method) {
		return []byte(line)
	}
	out := make([]byte, 0, len(line)+1+len(body))
	out = append(out, line...)
	out = append(out, '\n')
	return append(out, body...)
}

func carriesBody(method string) bool {
	return method != http.MethodGet && method != http.MethodDelete
}

// requireAdminToken checks the bearer token when one is configured.
func (h *handler) requireAdminToken(next http.Handler) http.Handler {
	if h.adminToken == "" {
		return next
	}
	want := []byte(h.adminToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="dittoshard-admin"`)
			writeError(w, r, http.StatusUnauthorized, "Unauthorized", "missing or invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate verifies the federation headers and applies the per-signer
// rate limit. The body is buffered so the handler can read it again.
func (h *handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordSize))
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			writeError(w, r, status, "InvalidArgument", fmt.Sprintf("failed to read body: %v", err))
			return
		}
		if len(body) > 0 && !carriesBody(r.Method) {
			writeError(w, r, http.StatusBadRequest, "InvalidArgument", fmt.Sprintf("%s requests must not carry a body", r.Method))
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		claims, err := h.verifier.Verify(signature.Payload{
			Body:          SignedContent(r.Method, r.URL.Path, body),
			Signature:     r.Header.Get(HeaderSignature),
			SignerURLHash: r.Header.Get(HeaderSigner),
		})
		if err != nil {
			writeErr(w, r, err)
			return
		}

		if !h.limiter.Allow(claims.Signer) {
			h.federation.RecordVerification(metrics.VerifyRateLimited)
			logger.Warn("Rate limited federated request from %s", claims.Signer)
			w.Header().Set("Retry-After", "1")
			writeErr(w, r, errTooManyRequests)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	})
}
