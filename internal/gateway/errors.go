package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	// KindUnavailable covers timeouts, transport failures and provider 5xx/429.
	KindUnavailable ErrorKind = "unavailable"
	// KindRejected is a definitive refusal by the provider.
	KindRejected ErrorKind = "rejected"
	// KindMalformed is a response or callback we could not interpret.
	KindMalformed ErrorKind = "malformed"
)

// Error is the only error shape adapters return.
type Error struct {
	Kind    ErrorKind
	Gateway string
	Op      string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Gateway, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Gateway, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so callers can test with a template such
// as &Error{Kind: KindUnavailable}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Gateway == "" || t.Gateway == e.Gateway)
}

var (
	ErrUnavailable = &Error{Kind: KindUnavailable}
	ErrRejected    = &Error{Kind: KindRejected}
	ErrMalformed   = &Error{Kind: KindMalformed}
)

// KindOf returns the kind of a gateway error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return ""
}

func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}

func newError(kind ErrorKind, gateway, op string, err error) *Error {
	return &Error{Kind: kind, Gateway: gateway, Op: op, Err: err}
}

// kindForStatus classifies a provider HTTP status code.
func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests, code >= 500:
		return KindUnavailable
	default:
		return KindRejected
	}
}
