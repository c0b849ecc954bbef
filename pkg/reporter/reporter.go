// Package reporter provides observable progress state for a single logical
// operation (one paginated run or one single-shot request). The transport and
// pagination layers write ordered stage transitions into a Reporter; callers
// read point-in-time snapshots or subscribe to a non-blocking watch channel.
//
// A Reporter belongs to exactly one operation. Running several operations
// concurrently requires one Reporter per operation.
package reporter

import (
	"sync"
	"time"
)

// Stage identifies the current phase of an operation.
type Stage string

const (
	// StageRequesting indicates a request is being issued.
	StageRequesting Stage = "requesting"

	// StagePaginating indicates a page has been received and the run continues.
	StagePaginating Stage = "paginating"

	// StageRetrying indicates a retryable failure occurred and a backoff wait
	// is in progress.
	StageRetrying Stage = "retrying"

	// StageTimeout indicates the operation ended because a deadline fired.
	StageTimeout Stage = "timeout"

	// StageError indicates the operation ended with a terminal error.
	StageError Stage = "error"

	// StageComplete indicates the operation finished successfully.
	StageComplete Stage = "complete"

	// StageCancelled indicates the operation was cancelled by the caller.
	// Cancellation is a distinct terminal state, not an error.
	StageCancelled Stage = "cancelled"
)

// Terminal returns true if the stage will not be followed by further work.
func (s Stage) Terminal() bool {
	switch s {
	case StageTimeout, StageError, StageComplete, StageCancelled:
		return true
	default:
		return false
	}
}

// Snapshot is a point-in-time copy of a Reporter's state.
type Snapshot struct {
	Stage    Stage         `json:"stage"`
	Requests int           `json:"requests"`
	Errors   int           `json:"errors"`
	Results  int           `json:"results"`
	Cursor   string        `json:"cursor,omitempty"`
	Message  string        `json:"message,omitempty"`
	Backoff  time.Duration `json:"backoff,omitempty"`
}

// Reporter accumulates progress for one operation. All methods are safe for
// concurrent use and safe on a nil receiver, so components accept an optional
// Reporter without guarding every call site.
type Reporter struct {
	mu       sync.Mutex
	snap     Snapshot
	closed   bool
	watchers []chan Snapshot
}

// New creates an empty Reporter.
func New() *Reporter {
	return &Reporter{}
}

// Requesting records that a request is about to be issued.
func (r *Reporter) Requesting() {
	if r == nil {
		return
	}
	r.mutate(func(s *Snapshot) {
		s.Stage = StageRequesting
		s.Backoff = 0
	})
}

// Retrying records a retryable failure and the backoff delay before the next
// attempt.
func (r *Reporter) Retrying(delay time.Duration, msg string) {
	if r == nil {
		return
	}
	r.mutate(func(s *Snapshot) {
		s.Stage = StageRetrying
		s.Backoff = delay
		s.Message = msg
	})
}

// Page records a received page: one more request, its result count, and the
// cursor it returned.
func (r *Reporter) Page(results int, cursor string) {
	if r == nil {
		return
	}
	r.mutate(func(s *Snapshot) {
		s.Stage = StagePaginating
		s.Requests++
		s.Results += results
		s.Cursor = cursor
	})
}

// Request records one issued request outside a pagination run.
func (r *Reporter) Request() {
	if r == nil {
		return
	}
	r.mutate(func(s *Snapshot) {
		s.Requests++
	})
}

// Fail records a terminal error. This is the only mutator that increments the
// error counter; a given failure must be recorded exactly once.
func (r *Reporter) Fail(msg string) {
	if r == nil {
		return
	}
	r.mutate(func(s *Snapshot) {
		s.Stage = StageError
		s.Errors++
		s.Message = msg
	})
}

// Timeout records a terminal deadline-exceeded outcome.
func (r *Reporter) Timeout(msg string) {
	if r == nil {
		return
	}
	r.mutate(func(s *Snapshot) {
		s.Stage = StageTimeout
		s.Errors++
		s.Message = msg
	})
}

// Complete records successful completion.
func (r *Reporter) Complete() {
	if r == nil {
		return
	}
	r.mutate(func(s *Snapshot) {
		s.Stage = StageComplete
		s.Message = ""
		s.Backoff = 0
	})
}

// Cancelled records caller-initiated cancellation.
func (r *Reporter) Cancelled() {
	if r == nil {
		return
	}
	r.mutate(func(s *Snapshot) {
		s.Stage = StageCancelled
	})
}

// Snapshot returns a copy of the current state without blocking writers.
func (r *Reporter) Snapshot() Snapshot {
	if r == nil {
		return Snapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snap
}

// Watch returns a channel receiving a snapshot after every mutation. The
// channel is buffered and sends are dropped when the receiver falls behind;
// the core never blocks on a slow watcher. Once a terminal stage is recorded
// the channel is closed, so a range loop over it exits with the operation.
// Subscribing after the terminal stage yields the final snapshot and then the
// closed channel.
func (r *Reporter) Watch() <-chan Snapshot {
	ch := make(chan Snapshot, 16)
	if r == nil {
		close(ch)
		return ch
	}
	r.mu.Lock()
	if r.closed {
		ch <- r.snap
		close(ch)
		r.mu.Unlock()
		return ch
	}
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()
	return ch
}

func (r *Reporter) mutate(fn func(*Snapshot)) {
	r.mu.Lock()
	fn(&r.snap)
	snap := r.snap
	watchers := r.watchers
	closing := snap.Stage.Terminal() && !r.closed
	if closing {
		r.closed = true
		r.watchers = nil
	}
	r.mu.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- snap:
		default:
			// Watcher is behind; drop rather than block the operation.
		}
	}
	if closing {
		for _, ch := range watchers {
			close(ch)
		}
	}
}
