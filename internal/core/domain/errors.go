package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies failures so callers can handle each case explicitly.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindRateLimited
	KindDegraded
	KindRefresh
	KindUpstream
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindDegraded:
		return "degraded"
	case KindRefresh:
		return "refresh_failed"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// RateLimitState is the upstream geocoder's backpressure report.
type RateLimitState struct {
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after"`
}

// Error is the tagged error returned by the core services.
type Error struct {
	Kind      ErrorKind
	Op        string
	Message   string
	Err       error
	RateLimit *RateLimitState
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// RateLimitOf extracts rate-limit metadata from err, if any.
func RateLimitOf(err error) (*RateLimitState, bool) {
	var de *Error
	if errors.As(err, &de) && de.RateLimit != nil {
		return de.RateLimit, true
	}
	return nil, false
}

// Validationf builds a KindValidation error.
func Validationf(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a KindNotFound error.
func NotFound(op, message string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: message}
}

// RateLimited builds a KindRateLimited error carrying the upstream state.
func RateLimited(op string, state RateLimitState) *Error {
	return &Error{
		Kind:      KindRateLimited,
		Op:        op,
		Message:   fmt.Sprintf("upstream rate limit reached, retry after %s", state.RetryAfter),
		RateLimit: &state,
	}
}

// Wrap tags err with a kind.
func Wrap(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
