// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
)

// Outcome is how a step run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
	OutcomePaused    Outcome = "paused"
	OutcomeCancelled Outcome = "cancelled"
)

// StepResult reports one step run. Job is the projection after the last
// event the executor recorded.
type StepResult struct {
	Outcome   Outcome
	Err       error
	Retryable bool
	Job       *core.ProcessingJob
}

// recorder appends job events and notifies the observer.
type recorder struct {
	jobs    storage.JobStore
	observe func(*core.ProcessingJob)
}

// Persistence ignores cancellation of the run so a stop is always recorded.
func (r *recorder) append(ctx context.Context, jobID string, events ...core.ProgressEvent) (*core.ProcessingJob, error) {
	job, err := r.jobs.Append(context.WithoutCancel(ctx), jobID, events...)
	if err != nil {
		return nil, err
	}
	r.notify(job)
	return job, nil
}

func (r *recorder) stage(ctx context.Context, jobID string, step core.StepKey, index int, payload []byte, ev core.ProgressEvent) (*core.ProcessingJob, error) {
	job, err := r.jobs.StageItem(context.WithoutCancel(ctx), jobID, step, index, payload, ev)
	if err != nil {
		return nil, err
	}
	r.notify(job)
	return job, nil
}

func (r *recorder) notify(job *core.ProcessingJob) {
	if r.observe != nil {
		r.observe(job.Clone())
	}
}

// stepContext carries the inputs of one step run.
// Sub-items must only read jobID and the fields set by prepare; job is
// replaced as progress is recorded.
type stepContext struct {
	jobID string
	job   *core.ProcessingJob
	doc   *core.Document
	state any
}

// stepWork is the unit of work behind a plan step. prepare returns the
// number of sub-items, or a non-empty skip reason.
type stepWork interface {
	prepare(ctx context.Context, sc *stepContext) (int, string, error)
	item(ctx context.Context, sc *stepContext, index int) ([]byte, error)
	finish(ctx context.Context, sc *stepContext, staged map[int][]byte) (*core.StepDetails, string, error)
}

type executor struct {
	rec    *recorder
	jobs   storage.JobStore
	pool   *ants.Pool
	work   map[core.StepKey]stepWork
	logger *slog.Logger
}

// run executes one step of job.
func (e *executor) run(ctx context.Context, ctl Control, job *core.ProcessingJob, key core.StepKey) StepResult {
	step := job.Step(key)
	work, ok := e.work[key]
	if step == nil || !ok {
		return StepResult{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: no work for step %q", core.ErrInvalidEvent, key), Job: job}
	}
	logger := e.logger.With("job", job.ID, "step", key)

	if stop := ctl.Stop(); stop != StopNone {
		return e.halt(ctx, job, key, stop, false)
	}
	cur, err := e.rec.append(ctx, job.ID, core.ProgressEvent{Kind: core.EventStepStarted, Step: key, Message: step.Name})
	if err != nil {
		return StepResult{Outcome: OutcomeFailed, Err: err, Job: job}
	}
	logger.Info("step started", "attempt", cur.RetryCount+1)

	sc := &stepContext{jobID: job.ID, job: cur}
	total, skip, err := work.prepare(ctx, sc)
	if err != nil {
		return e.fail(ctx, ctl, cur, key, err)
	}
	if skip != "" {
		cur, err = e.rec.append(ctx, job.ID, core.ProgressEvent{
			Kind:    core.EventStepSkipped,
			Step:    key,
			Message: skip,
			Details: &core.StepDetails{SkipReason: skip},
		})
		if err != nil {
			return StepResult{Outcome: OutcomeFailed, Err: err, Job: sc.job}
		}
		logger.Info("step skipped", "reason", skip)
		return StepResult{Outcome: OutcomeSkipped, Job: cur}
	}

	staged, err := e.staged(ctx, job.ID, key, total)
	if err != nil {
		return e.fail(ctx, ctl, cur, key, err)
	}
	cur, err = e.rec.append(ctx, job.ID, core.ProgressEvent{
		Kind:           core.EventStepProgress,
		Step:           key,
		ItemsTotal:     total,
		ItemsProcessed: max(len(staged), cur.Step(key).ItemsProcessed),
		Message:        progressMessage(len(staged), total),
	})
	if err != nil {
		return e.fail(ctx, ctl, sc.job, key, err)
	}
	sc.job = cur

	var pending []int
	for i := 0; i < total; i++ {
		if _, done := staged[i]; !done {
			pending = append(pending, i)
		}
	}
	if len(staged) > 0 {
		logger.Info("resuming step", "staged", len(staged), "pending", len(pending))
	}

	if err := e.items(ctx, ctl, sc, key, work, pending, len(staged), total); err != nil {
		return e.fail(ctx, ctl, sc.job, key, err)
	}
	if stop := ctl.Stop(); stop != StopNone {
		return e.halt(ctx, sc.job, key, stop, true)
	}

	staged, err = e.staged(ctx, job.ID, key, total)
	if err != nil {
		return e.fail(ctx, ctl, sc.job, key, err)
	}
	if len(staged) != total {
		return e.fail(ctx, ctl, sc.job, key, fmt.Errorf("%w: %d of %d sub-items staged", core.ErrConsistency, len(staged), total))
	}
	details, message, err := work.finish(ctx, sc, staged)
	if err != nil {
		return e.fail(ctx, ctl, sc.job, key, err)
	}
	cur, err = e.rec.append(ctx, job.ID, core.ProgressEvent{
		Kind:    core.EventStepCompleted,
		Step:    key,
		Message: message,
		Details: details,
	})
	if err != nil {
		return StepResult{Outcome: OutcomeFailed, Err: err, Job: sc.job}
	}
	logger.Info("step completed", "items", total, "message", message)
	return StepResult{Outcome: OutcomeCompleted, Job: cur}
}

// staged returns the staged results of key below total.
func (e *executor) staged(ctx context.Context, jobID string, key core.StepKey, total int) (map[int][]byte, error) {
	items, err := e.jobs.StagedItems(ctx, jobID, key)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if i < 0 || i >= total {
			delete(items, i)
		}
	}
	return items, nil
}

// items runs the pending sub-items on the pool. Each result is staged with
// its progress event; staging is serialized so items_processed only grows.
// Items not yet started when a stop is requested are left pending.
func (e *executor) items(ctx context.Context, ctl Control, sc *stepContext, key core.StepKey, work stepWork, pending []int, processed, total int) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errMu    sync.Mutex
		firstErr error
		aborted  atomic.Bool
	)
	record := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		aborted.Store(true)
	}

	for _, index := range pending {
		if aborted.Load() || ctl.Stop() != StopNone {
			break
		}
		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			if aborted.Load() || ctl.Stop() != StopNone {
				return
			}
			payload, err := work.item(ctx, sc, index)
			if err != nil {
				record(fmt.Errorf("sub-item %d: %w", index, err))
				return
			}

			mu.Lock()
			defer mu.Unlock()
			processed++
			job, err := e.rec.stage(ctx, sc.jobID, key, index, payload, core.ProgressEvent{
				Kind:           core.EventStepProgress,
				Step:           key,
				ItemsProcessed: processed,
				Message:        progressMessage(processed, total),
			})
			if err != nil {
				processed--
				record(err)
				return
			}
			sc.job = job
		})
		if err != nil {
			wg.Done()
			record(err)
			break
		}
	}
	wg.Wait()
	return firstErr
}

// halt stops a step at a pause or cancel. A running step is reset to
// pending on pause and skipped as cancelled on cancel.
func (e *executor) halt(ctx context.Context, job *core.ProcessingJob, key core.StepKey, stop StopReason, running bool) StepResult {
	outcome := OutcomePaused
	if stop == StopCancel {
		outcome = OutcomeCancelled
	}
	if !running {
		return StepResult{Outcome: outcome, Job: job}
	}

	ev := core.ProgressEvent{Kind: core.EventStepReset, Step: key, Message: "paused"}
	if stop == StopCancel {
		ev = core.ProgressEvent{
			Kind:    core.EventStepSkipped,
			Step:    key,
			Message: "cancelled",
			Details: &core.StepDetails{SkipReason: core.SkipReasonCancelled},
		}
	}
	cur, err := e.rec.append(ctx, job.ID, ev)
	if err != nil {
		return StepResult{Outcome: OutcomeFailed, Err: err, Job: job}
	}
	e.logger.Info("step stopped", "job", job.ID, "step", key, "reason", stop)
	return StepResult{Outcome: outcome, Job: cur}
}

// fail records a step failure. An error seen after a pause or cancel was
// requested is a stop, as is cancellation observed as an error; neither
// counts against the retry budget.
func (e *executor) fail(ctx context.Context, ctl Control, job *core.ProcessingJob, key core.StepKey, cause error) StepResult {
	stop := ctl.Stop()
	if stop == StopNone && core.IsCancellation(cause) {
		stop = StopPause
	}
	if stop != StopNone {
		e.logger.Info("step error after stop", "job", job.ID, "step", key, "reason", stop, "err", cause)
		return e.halt(ctx, job, key, stop, true)
	}

	retryable := core.IsRetryable(cause)
	cur, err := e.rec.append(ctx, job.ID, core.ProgressEvent{
		Kind:      core.EventStepFailed,
		Step:      key,
		Error:     cause.Error(),
		Retryable: retryable,
	})
	if err != nil {
		return StepResult{Outcome: OutcomeFailed, Err: errors.Join(cause, err), Job: job}
	}
	e.logger.Warn("step failed", "job", job.ID, "step", key, "retryable", retryable, "err", cause)
	return StepResult{Outcome: OutcomeFailed, Err: cause, Retryable: retryable, Job: cur}
}

func progressMessage(processed, total int) string {
	return fmt.Sprintf("%d/%d", processed, total)
}

// orderedPayloads returns staged payloads by ascending index.
func orderedPayloads(staged map[int][]byte) [][]byte {
	keys := make([]int, 0, len(staged))
	for k := range staged {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make([][]byte, len(keys))
	for i, k := range keys {
		out[i] = staged[k]
	}
	return out
}
