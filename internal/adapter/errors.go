package adapter

import (
	"errors"
	"fmt"
)

// Kind classifies adapter failures so callers can pick a recovery
// strategy without knowing the protocol.
type Kind int

const (
	// KindUnknown is an unclassified failure.
	KindUnknown Kind = iota

	// KindTimeout is a request that exceeded its deadline. Usually
	// transient; retried per request before escalating.
	KindTimeout

	// KindMalformed is a response the adapter could not decode. The
	// point gets bad quality; the connection stays up.
	KindMalformed

	// KindUnauthorized is an authentication or authorization failure.
	// Not retried; the device enters the error state.
	KindUnauthorized

	// KindConnectionLost is a broken session. The device runner tears
	// down and reconnects with backoff.
	KindConnectionLost

	// KindUnsupported is an operation the device rejected (bad address,
	// unsupported function code, read-only register).
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindMalformed:
		return "malformed"
	case KindUnauthorized:
		return "unauthorized"
	case KindConnectionLost:
		return "connection_lost"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error is the uniform failure type adapters return.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "modbus.read"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and operation name.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err, or KindUnknown if err is not an
// adapter error.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// IsConnectionLost reports whether err should trigger a reconnect.
func IsConnectionLost(err error) bool {
	return KindOf(err) == KindConnectionLost
}
