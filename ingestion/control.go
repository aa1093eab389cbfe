package ingestion

import (
	"context"
	"sync/atomic"
	"time"
)

// StopReason tells a running step why it should stop early.
type StopReason int

const (
	StopNone StopReason = iota
	StopPause
	StopCancel
)

func (r StopReason) String() string {
	switch r {
	case StopPause:
		return "pause"
	case StopCancel:
		return "cancel"
	}
	return "none"
}

// Control is polled by the executor at sub-item and step boundaries.
type Control interface {
	Stop() StopReason
}

// runner is the live run loop of one job.
type runner struct {
	jobID  string
	ctx    context.Context
	cancel context.CancelFunc

	pause     atomic.Bool
	cancelled atomic.Bool

	// retry is the pending automatic restart, guarded by Orchestrator.mu.
	retry *time.Timer
	done  chan struct{}
}

func newRunner(parent context.Context, jobID string) *runner {
	ctx, cancel := context.WithCancel(parent)
	return &runner{jobID: jobID, ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

// Stop reports a requested stop. A hard-cancelled context without an
// explicit request means the process is shutting down, which pauses.
func (r *runner) Stop() StopReason {
	switch {
	case r.cancelled.Load():
		return StopCancel
	case r.pause.Load(), r.ctx.Err() != nil:
		return StopPause
	}
	return StopNone
}

// reset gives the runner a fresh context for a restart. Stop requests
// are kept.
func (r *runner) reset(parent context.Context) {
	r.cancel()
	r.ctx, r.cancel = context.WithCancel(parent)
}
