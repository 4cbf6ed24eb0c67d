package shard

import (
	"errors"
	"fmt"
	"strings"
)

// Error is the single error type returned by the mapper, the registry and the router.
//
// Routing errors are deterministic: the same key against the same topology always
// yields the same error, so the context fields are enough to log and alert on.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Key is the shard key being routed (HasKey reports whether it is set)
	Key    Key
	HasKey bool

	// Index is the shard index involved, -1 when not applicable
	Index int

	// Generation is the topology generation the error was observed in, 0 when not applicable
	Generation uint64
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)

	var ctx []string
	if e.HasKey {
		ctx = append(ctx, fmt.Sprintf("key=%d", e.Key))
	}
	if e.Index >= 0 {
		ctx = append(ctx, fmt.Sprintf("shard=%d", e.Index))
	}
	if e.Generation > 0 {
		ctx = append(ctx, fmt.Sprintf("generation=%d", e.Generation))
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString(")")
	}
	return b.String()
}

// ErrorCode represents the category of a shard error.
type ErrorCode int

const (
	// ErrInvalidArgument indicates a bad shard count, index or key
	ErrInvalidArgument ErrorCode = iota

	// ErrShardUnavailable indicates the resolved shard's connection is down.
	// Recoverable by the caller's own retry/backoff policy.
	ErrShardUnavailable

	// ErrPreconditionFailed indicates an administrative operation on a shard
	// or topology in the wrong state
	ErrPreconditionFailed
)

func (c ErrorCode) String() string {
	switch c {
	case ErrInvalidArgument:
		return "InvalidArgument"
	case ErrShardUnavailable:
		return "ShardUnavailable"
	case ErrPreconditionFailed:
		return "PreconditionFailed"
	default:
		return "Unknown"
	}
}

// NewError creates an error without key, index or generation context.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Index:   -1,
	}
}

// WithKey returns a copy of the error carrying the routed key.
func (e *Error) WithKey(key Key) *Error {
	c := *e
	c.Key = key
	c.HasKey = true
	return &c
}

// WithShard returns a copy of the error carrying the shard index and generation.
func (e *Error) WithShard(index int, generation uint64) *Error {
	c := *e
	c.Index = index
	c.Generation = generation
	return &c
}

// IsCode reports whether err is (or wraps) a shard error with the given code.
func IsCode(err error, code ErrorCode) bool {
	var shardErr *Error
	if errors.As(err, &shardErr) {
		return shardErr.Code == code
	}
	return false
}
