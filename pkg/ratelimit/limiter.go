package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Prometheus metrics for rate limit gating.
var (
	rateLimitThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notion_rate_limit_throttles_total",
		Help: "Total responses that installed a Retry-After gate",
	})

	rateLimitWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "notion_rate_limit_wait_seconds",
		Help:    "Time spent waiting for the rate limiter before sending",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
	})

	rateLimitGateSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "notion_rate_limit_gate_seconds",
		Help: "Remaining Retry-After gate duration in seconds",
	})
)

// Config holds limiter configuration.
type Config struct {
	// RequestsPerSecond is the sustained send rate. Defaults to Notion's
	// documented three requests per second.
	RequestsPerSecond float64

	// Burst is the token bucket depth.
	Burst int
}

// DefaultConfig returns a configuration matching Notion's documented limits.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: DefaultRequestsPerSecond,
		Burst:             DefaultBurst,
	}
}

// Limiter admits outgoing requests. It implements transport.Gate.
type Limiter struct {
	bucket *rate.Limiter
	logger zerolog.Logger

	mu    sync.Mutex
	state State
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg Config) *Limiter {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = DefaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultBurst
	}

	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
		logger: log.With().Str("component", "ratelimit").Logger(),
	}
}

// Wait blocks until a request may be sent or ctx is done. An active
// Retry-After gate is honored first, then the token bucket.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	defer func() {
		rateLimitWaitSeconds.Observe(time.Since(start).Seconds())
	}()

	if delay := l.gateDelay(); delay > 0 {
		l.logger.Debug().
			Dur("delay", delay).
			Msg("Waiting for Retry-After gate")
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return l.bucket.Wait(ctx)
}

// Observe inspects response feedback. A 429 with a Retry-After header
// installs a not-before gate for future sends.
func (l *Limiter) Observe(status int, header http.Header) {
	if status != http.StatusTooManyRequests {
		return
	}

	delay := 1 * time.Second
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			delay = time.Duration(secs * float64(time.Second))
		}
	}

	l.mu.Lock()
	l.state.NotBefore = time.Now().Add(delay)
	l.state.LastUpdate = time.Now()
	l.state.Throttled++
	l.mu.Unlock()

	rateLimitThrottlesTotal.Inc()
	rateLimitGateSeconds.Set(delay.Seconds())

	l.logger.Warn().
		Dur("retry_after", delay).
		Msg("Rate limited; gating future requests")
}

// GetState returns a copy of the current rate limit state.
func (l *Limiter) GetState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Limiter) gateDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.RemainingDelay(time.Now())
}
