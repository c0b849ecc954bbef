// Package operation implements the per-run cancellation and timeout signal.
//
// One Operation is created per logical run (a pagination run or a single-shot
// call). Its context combines explicit caller cancellation with an optional
// global deadline that bounds the whole run, independent of any per-request
// timeout. The signal is terminal: once fired it stays fired, and triggering
// it again has no further effect.
package operation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Operation owns the cancellation signal for one logical run.
type Operation struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

// New derives an operation from parent. A timeout of zero means no global
// deadline; the operation then ends only via Cancel or the parent context.
func New(parent context.Context, timeout time.Duration) *Operation {
	var ctx context.Context
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}

	return &Operation{
		id:     uuid.NewString(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the unique identifier for this operation, attached to logs and
// progress snapshots.
func (o *Operation) ID() string {
	return o.id
}

// Context returns the context observed by every suspension point of the run.
func (o *Operation) Context() context.Context {
	return o.ctx
}

// Cancel fires the cancellation signal. Safe to call more than once.
func (o *Operation) Cancel() {
	o.cancel()
}

// Done returns a channel closed when the signal has fired.
func (o *Operation) Done() <-chan struct{} {
	return o.ctx.Done()
}

// Cancelled reports whether the signal fired through explicit cancellation
// (as opposed to the global deadline). Cancellation is not an error state.
func (o *Operation) Cancelled() bool {
	return errors.Is(o.ctx.Err(), context.Canceled)
}

// DeadlineExceeded reports whether the global deadline fired.
func (o *Operation) DeadlineExceeded() bool {
	return errors.Is(o.ctx.Err(), context.DeadlineExceeded)
}
