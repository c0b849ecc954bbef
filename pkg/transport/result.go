package transport

import (
	"encoding/json"
	"net/http"
	"sync"
)

// ResponseMeta captures response metadata before the body is consumed, so
// consumers interested in status and headers do not need the body stream.
type ResponseMeta struct {
	StatusCode int
	Header     http.Header
}

// Outcome is the terminal result of one logical call: either parsed data
// plus response metadata, or an error.
type Outcome struct {
	Data     json.RawMessage
	Response *ResponseMeta
	Err      error
}

// Result is a one-shot handle to a logical call. The underlying network
// execution is triggered exactly once, on first access, and its resolved
// outcome is memoized: every consumer, whether interested in the parsed
// payload or the raw response metadata, observes the identical execution
// rather than re-issuing the call.
type Result struct {
	once    sync.Once
	run     func() Outcome
	outcome Outcome
}

// NewResult wraps a resolver in a one-shot handle. Used by the executor and
// by fakes standing in for it.
func NewResult(run func() Outcome) *Result {
	return &Result{run: run}
}

// Outcome resolves the call, executing it on first access, and returns the
// memoized outcome. Safe for concurrent use.
func (r *Result) Outcome() Outcome {
	r.once.Do(func() {
		r.outcome = r.run()
	})
	return r.outcome
}

// Data returns the parsed payload.
func (r *Result) Data() (json.RawMessage, error) {
	out := r.Outcome()
	return out.Data, out.Err
}

// Response returns status and headers of the final attempt.
func (r *Result) Response() (*ResponseMeta, error) {
	out := r.Outcome()
	return out.Response, out.Err
}
