package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultMaxActive    = 4
)

// Dispatcher starts queued jobs whose retry_after has passed, keeping at
// most maxActive jobs running in the orchestrator.
type Dispatcher struct {
	orch      *Orchestrator
	interval  time.Duration
	maxActive int
	logger    *slog.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher) error

// WithPollInterval sets how often the dispatcher looks for due jobs.
func WithPollInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) error {
		if interval <= 0 {
			return fmt.Errorf("%w: poll interval must be positive", ErrInvalidOption)
		}
		d.interval = interval
		return nil
	}
}

// WithMaxActive sets the ceiling on concurrently running jobs.
func WithMaxActive(n int) DispatcherOption {
	return func(d *Dispatcher) error {
		if n < 1 {
			return fmt.Errorf("%w: max active must be positive", ErrInvalidOption)
		}
		d.maxActive = n
		return nil
	}
}

// NewDispatcher creates a Dispatcher for o.
func NewDispatcher(o *Orchestrator, opts ...DispatcherOption) (*Dispatcher, error) {
	d := &Dispatcher{
		orch:      o,
		interval:  DefaultPollInterval,
		maxActive: DefaultMaxActive,
		logger:    o.base.With("component", "dispatcher"),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		if _, err := d.Poll(ctx); err != nil {
			if errors.Is(err, ErrShutdown) {
				return nil
			}
			d.logger.Error("dispatch failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll starts due queued jobs up to the free capacity and returns how
// many were started.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	free := d.maxActive - d.orch.ActiveCount()
	if free <= 0 {
		return 0, nil
	}
	now := d.orch.now()
	jobs, err := d.orch.List(ctx, storage.JobQuery{
		Statuses:  []core.JobStatus{core.JobQueued},
		DueBefore: &now,
	})
	if err != nil {
		return 0, err
	}

	started := 0
	for _, job := range jobs {
		if started == free {
			break
		}
		_, err := d.orch.Start(ctx, job.ID)
		switch {
		case err == nil:
			started++
		case errors.Is(err, ErrShutdown):
			return started, err
		case errors.Is(err, ErrJobActive), errors.Is(err, core.ErrInvalidTransition):
			// Started elsewhere since it was listed.
		default:
			d.logger.Warn("start job", "job", job.ID, "err", err)
		}
	}
	if started > 0 {
		d.logger.Info("dispatched jobs", "started", started)
	}
	return started, nil
}
