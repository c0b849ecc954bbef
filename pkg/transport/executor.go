// Package transport executes single logical requests against the Notion API
// with per-call timeout enforcement, retry classification, and exponential
// backoff. Each logical call resolves to exactly one terminal outcome shared
// by every consumer.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mateothegreat/notionkit/pkg/reporter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notion_requests_total",
		Help: "Total Notion API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notion_request_duration_seconds",
		Help:    "Notion API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notion_errors_total",
		Help: "Total terminal request failures by error kind",
	}, []string{"kind"})

	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notion_retries_total",
		Help: "Total retry attempts by error kind",
	}, []string{"kind"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "notion_retry_backoff_seconds",
		Help:    "Backoff duration before retries by error kind",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"kind"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notion_retry_exhausted_total",
		Help: "Total calls that exhausted their retry budget by error kind",
	}, []string{"kind"})
)

// Gate admits outgoing attempts. Implemented by ratelimit.Limiter.
type Gate interface {
	// Wait blocks until an attempt may be sent or ctx is done.
	Wait(ctx context.Context) error

	// Observe inspects a response's status and headers for rate limit
	// feedback (Retry-After).
	Observe(status int, header http.Header)
}

// Config holds executor configuration.
type Config struct {
	// HTTPClient is the underlying client. Defaults to a plain http.Client;
	// per-attempt timeouts come from the descriptor, not the client.
	HTTPClient *http.Client

	// Gate optionally throttles outgoing attempts.
	Gate Gate
}

// Executor performs logical calls. It holds no per-operation state; the
// reporter passed to Execute carries that.
type Executor struct {
	httpClient *http.Client
	gate       Gate
	logger     zerolog.Logger
}

// New creates an Executor.
func New(cfg Config) *Executor {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := log.With().Str("component", "transport").Logger()

	return &Executor{
		httpClient: httpClient,
		gate:       cfg.Gate,
		logger:     logger,
	}
}

// Execute returns a one-shot handle for the call described by d. The network
// call is not issued until the first consumer resolves the handle; however
// many consumers attach, it is issued exactly once per attempt.
func (e *Executor) Execute(ctx context.Context, d Descriptor, rep *reporter.Reporter) *Result {
	return NewResult(func() Outcome {
		return e.do(ctx, d, rep)
	})
}

// do runs the attempt loop to a terminal outcome. Failure stages are recorded
// here; the successful-completion stage belongs to the owner of the run (a
// single call may be one fetch inside a longer pagination run).
func (e *Executor) do(ctx context.Context, d Descriptor, rep *reporter.Reporter) Outcome {
	if err := d.Validate(); err != nil {
		rep.Fail(err.Error())
		return Outcome{Err: err}
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return e.interrupted(ctx, rep)
		}

		if e.gate != nil {
			if err := e.gate.Wait(ctx); err != nil {
				return e.interrupted(ctx, rep)
			}
		}

		rep.Requesting()
		out, apiErr := e.attempt(ctx, d)
		if apiErr == nil {
			if attempt > 0 {
				e.logger.Info().
					Str("endpoint", d.Path).
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return out
		}

		// An in-flight abort surfaces as a transport error; map it back to
		// the signal that caused it instead of counting it as a failure.
		if ctx.Err() != nil {
			return e.interrupted(ctx, rep)
		}

		if !apiErr.Retryable() || attempt >= d.Retries {
			return e.terminal(rep, d, apiErr, attempt)
		}

		delay := backoffDelay(d.Backoff, attempt)
		rep.Retrying(delay, apiErr.Message)
		retriesTotal.WithLabelValues(string(apiErr.Kind)).Inc()
		retryBackoffSeconds.WithLabelValues(string(apiErr.Kind)).Observe(delay.Seconds())

		e.logger.Debug().
			Str("endpoint", d.Path).
			Str("kind", string(apiErr.Kind)).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("Retrying request after backoff")

		select {
		case <-ctx.Done():
			return e.interrupted(ctx, rep)
		case <-time.After(delay):
		}
	}
}

// maxRetryDelay caps a single backoff wait. Without it the doubling shift
// overflows time.Duration around attempt 40 with sub-second bases, turning
// the wait negative and firing immediately.
const maxRetryDelay = 30 * time.Second

// backoffDelay returns base × 2^attempt, capped at maxRetryDelay.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt >= 63 || base > maxRetryDelay>>uint(attempt) {
		return maxRetryDelay
	}
	return base << uint(attempt)
}

// attempt issues one network call and classifies its result.
func (e *Executor) attempt(ctx context.Context, d Descriptor) (Outcome, *APIError) {
	attemptCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}

	req, err := d.request(attemptCtx)
	if err != nil {
		return Outcome{}, &APIError{Kind: KindUnclassified, Message: "build request", Err: err}
	}

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	requestDuration.WithLabelValues(d.Path).Observe(time.Since(start).Seconds())

	if err != nil {
		e.logger.Warn().Err(err).Str("endpoint", d.Path).Msg("HTTP request failed")
		requestsTotal.WithLabelValues(d.Path, "transport_error").Inc()
		return Outcome{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	// Capture metadata before consuming the body so raw-response consumers
	// do not depend on the body stream.
	meta := &ResponseMeta{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
	}

	if e.gate != nil {
		e.gate.Observe(resp.StatusCode, resp.Header)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		requestsTotal.WithLabelValues(d.Path, "transport_error").Inc()
		return Outcome{}, classifyTransportError(err)
	}

	requestsTotal.WithLabelValues(d.Path, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{}, newHTTPError(resp.StatusCode, raw)
	}

	if !json.Valid(raw) {
		return Outcome{}, &APIError{
			Kind:    KindUnclassified,
			Body:    string(raw),
			Message: fmt.Sprintf("invalid JSON payload (status %d)", resp.StatusCode),
		}
	}

	return Outcome{Data: json.RawMessage(raw), Response: meta}, nil
}

// terminal records the single terminal failure and surfaces the last
// observed error with its full diagnostic context.
func (e *Executor) terminal(rep *reporter.Reporter, d Descriptor, apiErr *APIError, attempt int) Outcome {
	// The only place an error count increment occurs for a call.
	errorsTotal.WithLabelValues(string(apiErr.Kind)).Inc()
	if apiErr.Retryable() && attempt >= d.Retries {
		retryExhaustedTotal.WithLabelValues(string(apiErr.Kind)).Inc()
		e.logger.Warn().
			Str("endpoint", d.Path).
			Str("kind", string(apiErr.Kind)).
			Int("attempts", attempt+1).
			Msg("Retry attempts exhausted")
	}

	if apiErr.Kind == KindTimeout {
		rep.Timeout(apiErr.Message)
	} else {
		rep.Fail(apiErr.Error())
	}

	e.logger.Warn().
		Str("endpoint", d.Path).
		Str("kind", string(apiErr.Kind)).
		Int("status", apiErr.StatusCode).
		Msg("Request failed")

	return Outcome{Err: apiErr}
}

// interrupted maps a fired cancellation signal to its terminal state: the
// global deadline yields a deadline-exceeded failure, explicit cancellation
// yields ErrCancelled and is not counted as an error.
func (e *Executor) interrupted(ctx context.Context, rep *reporter.Reporter) Outcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		apiErr := &APIError{
			Kind:    KindTimeout,
			Message: "operation deadline exceeded",
			Err:     ctx.Err(),
		}
		errorsTotal.WithLabelValues(string(KindTimeout)).Inc()
		rep.Timeout(apiErr.Message)
		return Outcome{Err: apiErr}
	}
	rep.Cancelled()
	return Outcome{Err: ErrCancelled}
}

// newHTTPError wraps a non-2xx response, best-effort parsing the error body:
// structured JSON first, then raw text, then a synthesized status message.
func newHTTPError(status int, raw []byte) *APIError {
	msg := fmt.Sprintf("HTTP %d", status)

	var parsed struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Message != "" {
		msg = parsed.Message
		if parsed.Code != "" {
			msg = parsed.Code + ": " + parsed.Message
		}
	} else if len(raw) > 0 {
		msg = string(raw)
	}

	return &APIError{
		Kind:       KindHTTP,
		StatusCode: status,
		Body:       string(raw),
		Message:    msg,
	}
}
