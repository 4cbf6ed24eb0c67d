package trust

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of a trust store error.
type ErrorCode int

const (
	// ErrTrustConflict indicates an ACTIVE record exists with a different secret
	ErrTrustConflict ErrorCode = iota

	// ErrNotFound indicates no record exists for the URL hash
	ErrNotFound

	// ErrPreconditionFailed indicates the record is in the wrong state
	ErrPreconditionFailed

	// ErrInvalidArgument indicates an empty hash, URL or secret
	ErrInvalidArgument
)

func (c ErrorCode) String() string {
	switch c {
	case ErrTrustConflict:
		return "TrustConflict"
	case ErrNotFound:
		return "NotFound"
	case ErrPreconditionFailed:
		return "PreconditionFailed"
	case ErrInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// Error is returned by every trust store operation that fails.
type Error struct {
	Code    ErrorCode
	Message string
	URLHash string
}

func (e *Error) Error() string {
	if e.URLHash != "" {
		return fmt.Sprintf("%s (server=%s)", e.Message, e.URLHash)
	}
	return e.Message
}

func newError(code ErrorCode, urlHash, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), URLHash: urlHash}
}

// IsCode reports whether err is (or wraps) a trust error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var trustErr *Error
	if errors.As(err, &trustErr) {
		return trustErr.Code == code
	}
	return false
}
