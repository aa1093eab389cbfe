package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventKind identifies a progress event.
type EventKind string

const (
	EventJobCreated    EventKind = "job_created"
	EventJobStarted    EventKind = "job_started"
	EventJobPaused     EventKind = "job_paused"
	EventJobResumed    EventKind = "job_resumed"
	EventJobCancelled  EventKind = "job_cancelled"
	EventJobRequeued   EventKind = "job_requeued"
	EventJobRecovered  EventKind = "job_recovered"
	EventJobCompleted  EventKind = "job_completed"
	EventJobFailed     EventKind = "job_failed"
	EventStepStarted   EventKind = "step_started"
	EventStepProgress  EventKind = "step_progress"
	EventStepCompleted EventKind = "step_completed"
	EventStepSkipped   EventKind = "step_skipped"
	EventStepFailed    EventKind = "step_failed"
	EventStepReset     EventKind = "step_reset"
)

// JobPlan is the payload of a job_created event.
type JobPlan struct {
	DocumentID string     `json:"document_id"`
	ProjectID  string     `json:"project_id"`
	MaxRetries int        `json:"max_retries"`
	Steps      []StepSpec `json:"steps"`
}

// ProgressEvent is one entry in a job's append-only log. The job row is
// recomputed from the sequence of events.
type ProgressEvent struct {
	Seq            uint64       `json:"seq"`
	JobID          string       `json:"job_id"`
	Kind           EventKind    `json:"kind"`
	At             time.Time    `json:"at"`
	Step           StepKey      `json:"step,omitempty"`
	ItemsTotal     int          `json:"items_total,omitempty"`
	ItemsProcessed int          `json:"items_processed,omitempty"`
	Message        string       `json:"message,omitempty"`
	Error          string       `json:"error,omitempty"`
	Retryable      bool         `json:"retryable,omitempty"`
	RetryAfter     *time.Time   `json:"retry_after,omitempty"`
	Details        *StepDetails `json:"details,omitempty"`
	Plan           *JobPlan     `json:"plan,omitempty"`
}

// NewJobCreated builds the first event of a job.
func NewJobCreated(jobID string, plan JobPlan, at time.Time) ProgressEvent {
	return ProgressEvent{JobID: jobID, Kind: EventJobCreated, At: at, Plan: &plan}
}

// Replay rebuilds a job projection from its full event log.
func Replay(events []ProgressEvent) (*ProcessingJob, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: empty event log", ErrInvalidEvent)
	}
	job := &ProcessingJob{}
	for _, ev := range events {
		if err := job.Apply(ev); err != nil {
			return nil, err
		}
	}
	return job, nil
}

func transitionErr(from, to any) error {
	return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
}

// Apply folds ev into the projection. An event that would break the state
// machine or a job invariant is rejected and leaves the job unchanged.
func (j *ProcessingJob) Apply(ev ProgressEvent) error {
	if ev.Kind != EventJobCreated {
		if j.ID == "" {
			return fmt.Errorf("%w: %s before job_created", ErrInvalidEvent, ev.Kind)
		}
		if ev.JobID != j.ID {
			return fmt.Errorf("%w: event for job %s applied to %s", ErrInvalidEvent, ev.JobID, j.ID)
		}
		if j.Status.Terminal() {
			return transitionErr(j.Status, ev.Kind)
		}
	}
	if ev.Seq != 0 && ev.Seq <= j.Version {
		return fmt.Errorf("%w: sequence %d not after %d", ErrInvalidEvent, ev.Seq, j.Version)
	}

	next := j.Clone()
	if err := next.apply(ev); err != nil {
		return err
	}
	next.UpdatedAt = ev.At
	if ev.Seq != 0 {
		next.Version = ev.Seq
	}
	if err := next.checkInvariants(); err != nil {
		return err
	}
	*j = *next
	return nil
}

func (j *ProcessingJob) apply(ev ProgressEvent) error {
	at := ev.At
	switch ev.Kind {
	case EventJobCreated:
		if j.ID != "" {
			return fmt.Errorf("%w: job %s already created", ErrInvalidEvent, j.ID)
		}
		if ev.Plan == nil || len(ev.Plan.Steps) == 0 || ev.JobID == "" {
			return fmt.Errorf("%w: job_created requires id and plan", ErrInvalidEvent)
		}
		j.ID = ev.JobID
		j.DocumentID = ev.Plan.DocumentID
		j.ProjectID = ev.Plan.ProjectID
		j.MaxRetries = ev.Plan.MaxRetries
		j.Status = JobQueued
		j.CanRetry = true
		j.TotalSteps = len(ev.Plan.Steps)
		j.CreatedAt = at
		j.Steps = make([]ProcessingStep, len(ev.Plan.Steps))
		for i, spec := range ev.Plan.Steps {
			j.Steps[i] = ProcessingStep{
				ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s/%d", j.ID, i+1))).String(),
				JobID:     j.ID,
				Name:      spec.Name,
				Key:       spec.Key,
				Order:     i + 1,
				Status:    StepPending,
				CreatedAt: at,
			}
		}
		j.CurrentStep = j.Steps[0].Key

	case EventJobStarted:
		if err := j.transition(JobRunning); err != nil {
			return err
		}
		if j.StartedAt == nil {
			j.StartedAt = &at
		}
		j.RetryAfter = nil
		if s := j.NextStep(); s != nil {
			j.CurrentStep = s.Key
		}

	case EventJobResumed:
		if j.Status != JobPaused {
			return transitionErr(j.Status, ev.Kind)
		}
		if err := j.transition(JobRunning); err != nil {
			return err
		}
		j.PausedAt = nil

	case EventJobPaused:
		if err := j.transition(JobPaused); err != nil {
			return err
		}
		if j.RunningStep() != nil {
			return fmt.Errorf("%w: cannot pause with a running step", ErrInvalidTransition)
		}
		j.PausedAt = &at

	case EventJobCancelled:
		if err := j.transition(JobCancelled); err != nil {
			return err
		}
		if j.RunningStep() != nil {
			return fmt.Errorf("%w: cannot cancel with a running step", ErrInvalidTransition)
		}
		j.CanRetry = false
		j.CompletedAt = &at

	case EventJobRequeued:
		if j.Status != JobRunning {
			return transitionErr(j.Status, JobQueued)
		}
		if j.RetryCount >= j.MaxRetries {
			return fmt.Errorf("%w: retry budget exhausted (%d/%d)", ErrInvalidTransition, j.RetryCount, j.MaxRetries)
		}
		if err := j.transition(JobQueued); err != nil {
			return err
		}
		j.RetryCount++
		j.CanRetry = true
		j.ErrorMessage = ev.Error
		j.ErrorStep = ev.Step
		j.RetryAfter = ev.RetryAfter

	case EventJobRecovered:
		if j.Status != JobRunning {
			return transitionErr(j.Status, JobQueued)
		}
		if err := j.transition(JobQueued); err != nil {
			return err
		}

	case EventJobCompleted:
		if j.NextStep() != nil {
			return fmt.Errorf("%w: job has unfinished steps", ErrInvalidTransition)
		}
		if err := j.transition(JobCompleted); err != nil {
			return err
		}
		j.CurrentStep = ""
		j.CompletedAt = &at
		j.CanRetry = false

	case EventJobFailed:
		if err := j.transition(JobFailed); err != nil {
			return err
		}
		j.RetryCount++
		j.CanRetry = false
		j.ErrorMessage = ev.Error
		j.ErrorStep = ev.Step
		j.CompletedAt = &at

	case EventStepStarted, EventStepProgress, EventStepCompleted,
		EventStepSkipped, EventStepFailed, EventStepReset:
		return j.applyStep(ev)

	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
	}
	return nil
}

func (j *ProcessingJob) transition(next JobStatus) error {
	if !j.Status.CanTransitionTo(next) {
		return transitionErr(j.Status, next)
	}
	j.Status = next
	return nil
}

func (j *ProcessingJob) applyStep(ev ProgressEvent) error {
	step := j.Step(ev.Step)
	if step == nil {
		return fmt.Errorf("%w: unknown step %q", ErrInvalidEvent, ev.Step)
	}
	at := ev.At

	switch ev.Kind {
	case EventStepStarted:
		if j.Status != JobRunning {
			return fmt.Errorf("%w: step %s started while job is %s", ErrInvalidTransition, step.Key, j.Status)
		}
		if step.Status != StepPending && step.Status != StepFailed {
			return transitionErr(step.Status, StepRunning)
		}
		for _, prior := range j.Steps[:step.Order-1] {
			if !prior.Status.Done() {
				return fmt.Errorf("%w: step %s before %s is %s", ErrInvalidTransition, step.Key, prior.Key, prior.Status)
			}
		}
		step.Status = StepRunning
		step.StartedAt = &at
		step.ErrorMessage = ""
		step.Message = ev.Message
		step.ItemsTotal = ev.ItemsTotal
		if ev.ItemsProcessed > step.ItemsProcessed {
			step.ItemsProcessed = ev.ItemsProcessed
		}
		step.Progress = itemProgress(step.ItemsProcessed, step.ItemsTotal)
		j.CurrentStep = step.Key

	case EventStepProgress:
		if step.Status != StepRunning {
			return fmt.Errorf("%w: progress for %s step %s", ErrInvalidTransition, step.Status, step.Key)
		}
		if ev.ItemsTotal > 0 {
			step.ItemsTotal = ev.ItemsTotal
		}
		if ev.ItemsProcessed < step.ItemsProcessed {
			return fmt.Errorf("%w: items_processed went backwards on %s", ErrInvalidEvent, step.Key)
		}
		step.ItemsProcessed = ev.ItemsProcessed
		if ev.Message != "" {
			step.Message = ev.Message
		}
		step.Progress = itemProgress(step.ItemsProcessed, step.ItemsTotal)

	case EventStepCompleted:
		if step.Status != StepRunning {
			return transitionErr(step.Status, StepCompleted)
		}
		step.Status = StepCompleted
		step.CompletedAt = &at
		step.Progress = 100
		if step.ItemsTotal > 0 {
			step.ItemsProcessed = step.ItemsTotal
		}
		if ev.Message != "" {
			step.Message = ev.Message
		}
		if ev.Details != nil {
			step.Details = *ev.Details
		}
		j.CompletedSteps++
		j.advance()

	case EventStepSkipped:
		if step.Status != StepPending && step.Status != StepRunning {
			return transitionErr(step.Status, StepSkipped)
		}
		step.Status = StepSkipped
		step.CompletedAt = &at
		step.Message = ev.Message
		if ev.Details != nil {
			step.Details = *ev.Details
		}
		if step.Details.SkipReason != SkipReasonCancelled {
			// Cancellation skips do not count as completed work.
			j.CompletedSteps++
		}
		j.advance()

	case EventStepFailed:
		if step.Status != StepRunning {
			return transitionErr(step.Status, StepFailed)
		}
		step.Status = StepFailed
		step.ErrorMessage = ev.Error
		step.CompletedAt = &at
		j.ErrorMessage = ev.Error
		j.ErrorStep = step.Key

	case EventStepReset:
		if step.Status != StepRunning && step.Status != StepFailed {
			return transitionErr(step.Status, StepPending)
		}
		step.Status = StepPending
		step.CompletedAt = nil
		if ev.Message != "" {
			step.Message = ev.Message
		}
	}
	return nil
}

// advance moves current_step to the next unfinished step and recomputes the
// derived job progress. Progress only counts finished steps, so it never
// decreases.
func (j *ProcessingJob) advance() {
	if s := j.NextStep(); s != nil {
		j.CurrentStep = s.Key
	} else {
		j.CurrentStep = ""
	}
	if j.TotalSteps > 0 {
		j.Progress = float64(j.CompletedSteps) / float64(j.TotalSteps) * 100
	}
}

func itemProgress(processed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(processed) / float64(total) * 100
}

func (j *ProcessingJob) checkInvariants() error {
	if j.CompletedSteps > j.TotalSteps {
		return fmt.Errorf("%w: completed_steps %d > total_steps %d", ErrInvalidTransition, j.CompletedSteps, j.TotalSteps)
	}
	if j.RetryCount > j.MaxRetries && j.CanRetry {
		return fmt.Errorf("%w: can_retry with retry_count %d > max_retries %d", ErrInvalidTransition, j.RetryCount, j.MaxRetries)
	}
	for _, s := range j.Steps {
		if s.ItemsTotal > 0 && s.ItemsProcessed > s.ItemsTotal {
			return fmt.Errorf("%w: step %s processed %d of %d", ErrInvalidTransition, s.Key, s.ItemsProcessed, s.ItemsTotal)
		}
	}
	return nil
}
