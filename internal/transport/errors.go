package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a transport failure.
type Kind string

const (
	// KindTransient indicates a network-level or temporary failure.
	KindTransient Kind = "TRANSIENT_NETWORK_FAILURE"

	// KindRejected indicates the central authority refused the request.
	KindRejected Kind = "REMOTE_REJECTED"
)

// Error is returned by every Client method that fails.
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s: %s: status %d: %s", e.Kind, e.Op, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: %s: status %d", e.Kind, e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a transient transport failure.
func IsTransient(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == KindTransient
	}
	return false
}

// IsRejected reports whether the central authority rejected the request.
func IsRejected(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == KindRejected
	}
	return false
}

func transientError(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// statusError classifies a non-2xx response.
func statusError(op string, status int, message string) *Error {
	kind := KindRejected
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		kind = KindTransient
	}
	return &Error{Kind: kind, Op: op, StatusCode: status, Message: message}
}
