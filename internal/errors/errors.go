package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Base error types
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrRateLimited  = errors.New("rate limited")
	ErrBlocked      = errors.New("blocked by upstream")
	ErrCaptcha      = errors.New("captcha challenge")
	ErrTimeout      = errors.New("timeout")
	ErrParse        = errors.New("parse failure")
	ErrNoProxy      = errors.New("no healthy proxy")
	ErrCancelled    = errors.New("cancelled")
	ErrInternal     = errors.New("internal error")
)

// Kind is the caller-visible error category. The string values are part
// of the tool response envelope and must stay stable.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindRateLimited     Kind = "rate_limited"
	KindBlocked         Kind = "blocked"
	KindCaptchaRequired Kind = "captcha_required"
	KindUpstreamTimeout Kind = "upstream_timeout"
	KindParseFailure    Kind = "parse_failure"
	KindNoProxy         Kind = "no_proxy_available"
	KindCancelled       Kind = "cancelled"
	KindInternal        Kind = "internal"
)

// SearchError is a structured error for search operations.
type SearchError struct {
	Kind          Kind
	Op            string // operation that failed (e.g., "fetch_form", "submit")
	Tool          string // tool name if the error surfaces to a caller
	CorrelationID string
	RedactedQuery string // query copy with PII fields replaced, never raw
	Err           error  // underlying error
	StatusCode    int    // upstream HTTP status if applicable
	Timestamp     time.Time
	Retryable     bool
}

func (e *SearchError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("%s: %s failed: %v", e.Tool, e.Op, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *SearchError) Is(target error) bool {
	if target == nil {
		return false
	}

	// Check base error types
	switch target {
	case ErrInvalidInput:
		return e.Kind == KindValidation
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrBlocked:
		return e.Kind == KindBlocked
	case ErrCaptcha:
		return e.Kind == KindCaptchaRequired
	case ErrTimeout:
		return e.Kind == KindUpstreamTimeout
	case ErrParse:
		return e.Kind == KindParseFailure
	case ErrNoProxy:
		return e.Kind == KindNoProxy
	case ErrCancelled:
		return e.Kind == KindCancelled
	}

	// Check wrapped error
	return errors.Is(e.Err, target)
}

// New creates a new SearchError with retryability derived from the kind.
func New(kind Kind, op string, err error) *SearchError {
	return &SearchError{
		Kind:      kind,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: kindRetryable(kind),
	}
}

// WithStatusCode attaches the upstream HTTP status and refines retryability.
func (e *SearchError) WithStatusCode(code int) *SearchError {
	e.StatusCode = code
	if code >= 500 || code == 429 || code == 408 {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// WithCorrelationID attaches the per-search correlation handle.
func (e *SearchError) WithCorrelationID(id string) *SearchError {
	e.CorrelationID = id
	return e
}

// WithTool records the tool name the error surfaces through.
func (e *SearchError) WithTool(tool string) *SearchError {
	e.Tool = tool
	return e
}

// WithRedactedQuery attaches a PII-scrubbed rendering of the query.
func (e *SearchError) WithRedactedQuery(q string) *SearchError {
	e.RedactedQuery = q
	return e
}

// kindRetryable encodes the retry column of the error taxonomy:
// transient kinds are absorbed by the attempt loop, the rest surface
// immediately.
func kindRetryable(kind Kind) bool {
	switch kind {
	case KindRateLimited, KindUpstreamTimeout, KindParseFailure, KindNoProxy:
		return true
	case KindValidation, KindBlocked, KindCaptchaRequired, KindCancelled, KindInternal:
		return false
	default:
		return false
	}
}

// Helper functions

// WrapValidation wraps a validation error with context.
func WrapValidation(op string, err error) error {
	return New(KindValidation, op, err)
}

// WrapTimeout wraps a deadline error with context.
func WrapTimeout(op string, err error) error {
	return New(KindUpstreamTimeout, op, err)
}

// WrapUpstream classifies an upstream HTTP failure by status code.
func WrapUpstream(op string, err error, statusCode int) error {
	kind := KindInternal
	switch {
	case statusCode == 403:
		kind = KindBlocked
	case statusCode == 429:
		kind = KindRateLimited
	case statusCode == 408 || statusCode >= 500:
		kind = KindUpstreamTimeout
	}
	return New(kind, op, err).WithStatusCode(statusCode)
}

// KindOf extracts the error kind for the response envelope. Unknown
// errors report as internal; context errors map to their kinds.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var se *SearchError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamTimeout
	}
	return KindInternal
}

// IsRetryable checks if an error should be retried within the attempt budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *SearchError
	if errors.As(err, &se) {
		return se.Retryable
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Unclassified transport errors are worth one more attempt.
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited)
}

// IsBlocked checks if an error indicates an upstream block.
func IsBlocked(err error) bool {
	if err == nil {
		return false
	}

	var se *SearchError
	if errors.As(err, &se) {
		if se.Kind == KindBlocked {
			return true
		}
		if se.StatusCode == 403 {
			return true
		}
	}

	if errors.Is(err, ErrBlocked) {
		return true
	}

	msg := err.Error()
	return strings.Contains(msg, "403") || strings.Contains(msg, "forbidden")
}

// IsCaptcha checks if an error indicates a CAPTCHA interstitial.
func IsCaptcha(err error) bool {
	if err == nil {
		return false
	}
	var se *SearchError
	if errors.As(err, &se) && se.Kind == KindCaptchaRequired {
		return true
	}
	return errors.Is(err, ErrCaptcha)
}
