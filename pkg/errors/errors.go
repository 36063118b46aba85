package errors

import (
	"errors"
	"fmt"
)

// Kind partitions every failure the fetcher can see into a fixed taxonomy.
type Kind string

const (
	// KindTransport covers network failures, timeouts and non-2xx HTTP
	// responses.
	KindTransport Kind = "transport"
	// KindDecode covers response bodies that are not valid JSON.
	KindDecode Kind = "decode"
	// KindRemoteRejected covers well-formed Conduit responses that carry a
	// non-null error_code.
	KindRemoteRejected Kind = "remote_rejected"
	// KindUnknown is everything else.
	KindUnknown Kind = "unknown"
)

// Severity says how a classified failure propagates: fatal failures abort
// the run, recoverable ones only end the pagination context they occurred in.
type Severity string

const (
	SeverityFatal       Severity = "fatal"
	SeverityRecoverable Severity = "recoverable"
)

// Error is a failure tagged with its Kind at the point of origin. The
// transport adapter produces these; the Classifier reads the Kind back out.
type Error struct {
	Kind    Kind
	Message string
	Code    int // HTTP status when known, 0 otherwise
	Err     error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Kind, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransport tags a network or HTTP-level failure.
func NewTransport(msg string, code int, err error) *Error {
	return &Error{Kind: KindTransport, Message: msg, Code: code, Err: err}
}

// NewDecode tags a JSON parse failure.
func NewDecode(msg string, err error) *Error {
	return &Error{Kind: KindDecode, Message: msg, Err: err}
}

// NewRemoteRejected tags an explicit error envelope from the remote API.
func NewRemoteRejected(code, info string) *Error {
	return &Error{Kind: KindRemoteRejected, Message: fmt.Sprintf("%s: %s", code, info)}
}

// KindOf inspects a failure's origin and returns its Kind. Failures that do
// not carry a Kind are KindUnknown. Pure: the same failure instance always
// yields the same Kind.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return KindUnknown
}

// ClassifiedError is a failure annotated with its Kind, a human-readable
// context label naming the failing operation, and the Severity the caller
// assigned. Callers branch on Severity, not on the identity of the wrapped
// error.
type ClassifiedError struct {
	Kind     Kind
	Severity Severity
	Context  string
	Err      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s failure: %v", e.Context, e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is (or wraps) a fatally classified error.
func IsFatal(err error) bool {
	var classified *ClassifiedError
	if errors.As(err, &classified) {
		return classified.Severity == SeverityFatal
	}
	return false
}
