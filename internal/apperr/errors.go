// Package apperr defines the error taxonomy shared by the gateway clients and the
// sync backend. Callers match on Kind with KindOf/IsKind, or on sentinels with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure by how the caller should react to it.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindConfiguration covers missing credentials, relay or base URLs. Never retried.
	KindConfiguration
	// KindTransport covers timeouts, refused connections and abrupt closes.
	KindTransport
	// KindVendor is a non-zero status code reported by the inference provider.
	KindVendor
	// KindParse means every JSON repair strategy was exhausted.
	KindParse
	// KindAuth covers bad credentials and missing or expired session tokens.
	KindAuth
	// KindData covers malformed backup or sync payloads.
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindTransport:
		return "transport"
	case KindVendor:
		return "vendor"
	case KindParse:
		return "parse"
	case KindAuth:
		return "auth"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Code carries the vendor status code for KindVendor
// and the HTTP status for transport and auth failures when one is known.
type Error struct {
	Kind    Kind
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Kind == KindVendor {
		msg = fmt.Sprintf("vendor error %d: %s", e.Code, msg)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may sensibly retry the operation.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransport || e.Kind == KindVendor
}

// Configuration builds a KindConfiguration error.
func Configuration(op, msg string) error {
	return &Error{Kind: KindConfiguration, Op: op, Message: msg}
}

// Transport builds a KindTransport error wrapping err.
func Transport(op, msg string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Message: msg, Err: err}
}

// Vendor builds a KindVendor error carrying the provider's code and message verbatim.
func Vendor(op string, code int, msg string) error {
	return &Error{Kind: KindVendor, Op: op, Code: code, Message: msg}
}

// Parse builds a KindParse error.
func Parse(op, msg string, err error) error {
	return &Error{Kind: KindParse, Op: op, Message: msg, Err: err}
}

// Auth builds a KindAuth error.
func Auth(op string, code int, msg string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Code: code, Message: msg, Err: err}
}

// Data builds a KindData error.
func Data(op, msg string, err error) error {
	return &Error{Kind: KindData, Op: op, Message: msg, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether err is classified as retryable.
func Retryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// Message returns the human-readable part of err without the operation prefix.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// StatusCode returns the HTTP status carried by an auth or transport error, or fallback.
func StatusCode(err error, fallback int) int {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindVendor && e.Code >= 100 && e.Code < 600 {
		return e.Code
	}
	return fallback
}
