package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the closed classification of request failures. Every error this
// package produces carries exactly one Kind, assigned at the point the error
// is first observed, so handling is an exhaustive switch rather than
// property probing.
type Kind string

const (
	// KindNetwork is a transport-level failure (DNS, connection refused,
	// connection reset). Retryable.
	KindNetwork Kind = "network"

	// KindTimeout is a per-call or global deadline firing. Retryable when the
	// per-call timeout fired; terminal when the global deadline fired.
	KindTimeout Kind = "timeout"

	// KindHTTP is a non-2xx response. Retryable only for 502, 503 and 504.
	KindHTTP Kind = "http"

	// KindUnclassified is a payload parse failure on an otherwise successful
	// response. Never retryable.
	KindUnclassified Kind = "unclassified"
)

// ErrCancelled is returned when the operation's cancellation signal fired
// before the call reached a terminal outcome. Cancellation is a distinct
// terminal state, not a request failure.
var ErrCancelled = errors.New("operation cancelled")

// APIError is the terminal failure of one logical call.
type APIError struct {
	Kind       Kind
	StatusCode int
	Body       string
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("notion %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("notion %s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("notion %s error: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may be re-attempted. Network and
// timeout failures are transient; of the HTTP statuses only upstream gateway
// failures (502, 503, 504) are. Everything else, including 500 and 501, is
// terminal on first sight.
func (e *APIError) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout:
		return true
	case KindHTTP:
		switch e.StatusCode {
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	default:
		return false
	}
}

// classifyTransportError tags an error returned by the HTTP client itself,
// before any response was received.
func classifyTransportError(err error) *APIError {
	kind := KindNetwork
	msg := "request failed"
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
		msg = "request timed out"
	} else if ne, ok := asNetError(err); ok && ne.Timeout() {
		kind = KindTimeout
		msg = "request timed out"
	}
	return &APIError{Kind: kind, Message: msg, Err: err}
}

func asNetError(err error) (net.Error, bool) {
	var ne net.Error
	if errors.As(err, &ne) {
		return ne, true
	}
	return nil, false
}
