package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

// Transport error kinds.
const (
	KindTimeout     ErrorKind = "timeout"
	KindConnRefused ErrorKind = "connection-refused"
	KindTLS         ErrorKind = "tls-error"
	KindBlocked     ErrorKind = "blocked"
	KindHTTP        ErrorKind = "http-error"
)

// Sentinel errors for fatal (non-retryable) configuration problems. These
// abort the affected task immediately without consuming a retry attempt.
var (
	ErrUnknownProfile = errors.New("unknown identity profile")
	ErrUnknownRuleSet = errors.New("unknown selector ruleset")
)

// ErrExhaustedRetries marks a task that ran out of attempts. The last
// transport error is wrapped alongside it.
var ErrExhaustedRetries = errors.New("exhausted retries")

// TransportError is a classified fetch failure. Code is set only for
// http-error kinds.
type TransportError struct {
	Kind ErrorKind
	Code int
	Err  error
}

func (e *TransportError) Error() string {
	if e.Kind == KindHTTP {
		return fmt.Sprintf("transport: http-error(%d)", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("transport: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("transport: %s", e.Kind)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewHTTPError builds a TransportError for an HTTP status code.
func NewHTTPError(code int) *TransportError {
	return &TransportError{Kind: KindHTTP, Code: code}
}

// ExtractionError reports a per-record extraction failure. Field is empty
// for document-level failures (malformed body).
type ExtractionError struct {
	Field  string
	Reason string
}

func (e *ExtractionError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("extraction: malformed document: %s", e.Reason)
	}
	return fmt.Sprintf("extraction: required field %q: %s", e.Field, e.Reason)
}

// PersistenceErrorKind classifies store failures.
type PersistenceErrorKind string

// Persistence error kinds.
const (
	PersistenceConflict    PersistenceErrorKind = "conflict"
	PersistenceUnavailable PersistenceErrorKind = "unavailable"
)

// PersistenceError wraps a document store failure.
type PersistenceError struct {
	Kind PersistenceErrorKind
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// KindOf extracts the transport error kind from err, or an empty kind when
// err carries no classification.
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

// HTTPCodeOf returns the HTTP status code carried by err, or 0.
func HTTPCodeOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) && te.Kind == KindHTTP {
		return te.Code
	}
	return 0
}
