// Package ratelimit gates outgoing Notion API requests. It combines a
// client-side token bucket (Notion allows an average of three requests per
// second per integration) with Retry-After tracking: a 429 response installs
// a not-before gate that delays future sends until the window passes.
//
// The limiter never changes retry classification; a 429 is terminal for the
// call that received it. The limiter only shapes when later calls go out.
package ratelimit

import (
	"time"
)

// Default limiter settings.
const (
	// DefaultRequestsPerSecond is Notion's documented average rate limit.
	DefaultRequestsPerSecond = 3

	// DefaultBurst allows short bursts at the documented average.
	DefaultBurst = 3
)

// State is the limiter's observable rate limit state. Owned by one limiter,
// which is owned by one client; state is never shared across operations by
// different clients.
type State struct {
	// NotBefore is the earliest instant the next request may be sent,
	// derived from the most recent Retry-After header. Zero when no gate is
	// active.
	NotBefore time.Time `json:"not_before"`

	// LastUpdate is when the state last changed from response feedback.
	LastUpdate time.Time `json:"last_update"`

	// Throttled counts responses that installed a gate.
	Throttled int `json:"throttled"`
}

// Gated reports whether a Retry-After gate is currently active.
func (s State) Gated(now time.Time) bool {
	return now.Before(s.NotBefore)
}

// RemainingDelay returns how long the active gate has left, or zero.
func (s State) RemainingDelay(now time.Time) time.Duration {
	if !s.Gated(now) {
		return 0
	}
	return s.NotBefore.Sub(now)
}
