package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/marmos91/dittoshard/internal/logger"
	"github.com/marmos91/dittoshard/pkg/federation/signature"
	"github.com/marmos91/dittoshard/pkg/federation/trust"
	"github.com/marmos91/dittoshard/pkg/shard"
	"github.com/marmos91/dittoshard/pkg/store/record"
)

const contentTypeJSON = "application/json"

// Status is the outcome carried by every JSON response.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Status    Status `json:"status"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusResponse acknowledges a request that has no other result.
type StatusResponse struct {
	Status Status `json:"status"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Error encoding response: %v", err)
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: StatusOK})
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Status:    StatusError,
		Code:      code,
		Error:     message,
		RequestID: requestID(r.Context()),
	})
}

// errTooManyRequests is returned by the federation middleware when a signer
// exceeds its rate limit.
var errTooManyRequests = errors.New("rate limit exceeded")

// statusFor maps a domain error to its HTTP status and error code.
//
//	InvalidArgument                   -> 400
//	UntrustedSigner, SignatureMismatch -> 401
//	MalformedPayload                  -> 400
//	NotFound, record not found        -> 404
//	PreconditionFailed, TrustConflict -> 409
//	rate limited                      -> 429
//	ShardUnavailable                  -> 503
//	anything else                     -> 500
func statusFor(err error) (int, string) {
	var (
		shardErr *shard.Error
		trustErr *trust.Error
		verifErr *signature.VerificationError
	)

	switch {
	case errors.As(err, &verifErr):
		if verifErr.Code == signature.ErrMalformedPayload {
			return http.StatusBadRequest, verifErr.Code.String()
		}
		return http.StatusUnauthorized, verifErr.Code.String()

	case errors.As(err, &shardErr):
		switch shardErr.Code {
		case shard.ErrInvalidArgument:
			return http.StatusBadRequest, shardErr.Code.String()
		case shard.ErrPreconditionFailed:
			return http.StatusConflict, shardErr.Code.String()
		case shard.ErrShardUnavailable:
			return http.StatusServiceUnavailable, shardErr.Code.String()
		}

	case errors.As(err, &trustErr):
		switch trustErr.Code {
		case trust.ErrInvalidArgument:
			return http.StatusBadRequest, trustErr.Code.String()
		case trust.ErrNotFound:
			return http.StatusNotFound, trustErr.Code.String()
		case trust.ErrTrustConflict, trust.ErrPreconditionFailed:
			return http.StatusConflict, trustErr.Code.String()
		}

	case errors.Is(err, record.ErrRecordNotFound):
		return http.StatusNotFound, "NotFound"

	case errors.Is(err, errTooManyRequests):
		return http.StatusTooManyRequests, "RateLimited"
	}

	return http.StatusInternalServerError, "Internal"
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("Request %s %s failed: %v", r.Method, r.URL.Path, err)
	}
	writeError(w, r, status, code, err.Error())
}
