package core

import (
	"encoding/json"
	"slices"
	"time"
)

// JobStatus is the lifecycle state of a ProcessingJob.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobPaused    JobStatus = "paused"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

var jobTransitions = map[JobStatus][]JobStatus{
	JobQueued:  {JobRunning, JobCancelled},
	JobRunning: {JobPaused, JobQueued, JobCompleted, JobFailed, JobCancelled},
	JobPaused:  {JobRunning, JobCancelled},
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobQueued, JobRunning, JobPaused, JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	return slices.Contains(jobTransitions[s], next)
}

// StepStatus is the state of one ProcessingStep.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Done reports whether the step no longer blocks later steps.
func (s StepStatus) Done() bool {
	return s == StepCompleted || s == StepSkipped
}

// StepKey names a unit of pipeline work.
type StepKey string

const (
	StepChunk              StepKey = "chunk"
	StepEmbed              StepKey = "embed"
	StepExtractMaterials   StepKey = "extract-materials"
	StepExtractRooms       StepKey = "extract-rooms"
	StepExtractTradeScopes StepKey = "extract-trade-scopes"
	StepSuggestMilestones  StepKey = "suggest-milestones"
)

// StepSpec is one entry of a job plan.
type StepSpec struct {
	Key  StepKey `json:"key"`
	Name string  `json:"name"`
}

// DefaultPlan returns the fixed ingestion plan in execution order.
func DefaultPlan() []StepSpec {
	return []StepSpec{
		{Key: StepChunk, Name: "Chunking Text"},
		{Key: StepEmbed, Name: "Generating Embeddings"},
		{Key: StepExtractMaterials, Name: "Extracting Materials"},
		{Key: StepExtractRooms, Name: "Extracting Rooms"},
		{Key: StepExtractTradeScopes, Name: "Extracting Trade Scopes"},
		{Key: StepSuggestMilestones, Name: "Suggesting Milestones"},
	}
}

// Skip reasons recorded in StepDetails.
const (
	SkipReasonCancelled = "cancelled"
	SkipReasonNoText    = "no text extracted"
	SkipReasonNoChunks  = "no chunks to embed"
)

// ChunkStepDetails describes the outcome of the chunk step.
type ChunkStepDetails struct {
	Chunks   int    `json:"chunks"`
	Strategy string `json:"strategy"`
	Size     int    `json:"size"`
	Overlap  int    `json:"overlap"`
}

// EmbedStepDetails describes the outcome of the embed step.
type EmbedStepDetails struct {
	Embedded  int `json:"embedded"`
	Dimension int `json:"dimension"`
}

// ExtractStepDetails describes the outcome of an extraction step.
type ExtractStepDetails struct {
	Kind          EntityKind `json:"kind"`
	Entities      int        `json:"entities"`
	LowConfidence int        `json:"low_confidence"`
	Windows       int        `json:"windows"`
}

// StepDetails carries step-family specific results. At most one of the
// typed sections is set.
type StepDetails struct {
	Chunking   *ChunkStepDetails   `json:"chunking,omitempty"`
	Embedding  *EmbedStepDetails   `json:"embedding,omitempty"`
	Extraction *ExtractStepDetails `json:"extraction,omitempty"`
	SkipReason string              `json:"skip_reason,omitempty"`
	// Debug holds an opaque provider payload.
	Debug json.RawMessage `json:"debug,omitempty"`
}

// ProcessingStep is one ordered unit of work within a job.
type ProcessingStep struct {
	ID             string      `json:"id"`
	JobID          string      `json:"job_id"`
	Name           string      `json:"step_name"`
	Key            StepKey     `json:"step_key"`
	Order          int         `json:"step_order"`
	Status         StepStatus  `json:"status"`
	Progress       float64     `json:"progress"`
	Message        string      `json:"message,omitempty"`
	Details        StepDetails `json:"details"`
	ItemsTotal     int         `json:"items_total"`
	ItemsProcessed int         `json:"items_processed"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// ProcessingJob tracks one end-to-end processing attempt for a document.
// It is a projection of the job's progress event log.
type ProcessingJob struct {
	ID             string           `json:"id"`
	DocumentID     string           `json:"document_id"`
	ProjectID      string           `json:"project_id"`
	Status         JobStatus        `json:"status"`
	CurrentStep    StepKey          `json:"current_step,omitempty"`
	Progress       float64          `json:"progress"`
	TotalSteps     int              `json:"total_steps"`
	CompletedSteps int              `json:"completed_steps"`
	ErrorMessage   string           `json:"error_message,omitempty"`
	ErrorStep      StepKey          `json:"error_step,omitempty"`
	CanRetry       bool             `json:"can_retry"`
	RetryCount     int              `json:"retry_count"`
	MaxRetries     int              `json:"max_retries"`
	RetryAfter     *time.Time       `json:"retry_after,omitempty"`
	PausedAt       *time.Time       `json:"paused_at,omitempty"`
	StartedAt      *time.Time       `json:"started_at,omitempty"`
	CompletedAt    *time.Time       `json:"completed_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Steps          []ProcessingStep `json:"steps"`
	// Version is the sequence of the last applied event.
	Version uint64 `json:"version"`
}

// Step returns the step with the given key, or nil.
func (j *ProcessingJob) Step(key StepKey) *ProcessingStep {
	for i := range j.Steps {
		if j.Steps[i].Key == key {
			return &j.Steps[i]
		}
	}
	return nil
}

// NextStep returns the first step that is not completed or skipped, or nil
// when every step is done.
func (j *ProcessingJob) NextStep() *ProcessingStep {
	for i := range j.Steps {
		if !j.Steps[i].Status.Done() {
			return &j.Steps[i]
		}
	}
	return nil
}

// RunningStep returns the step currently marked running, or nil.
func (j *ProcessingJob) RunningStep() *ProcessingStep {
	for i := range j.Steps {
		if j.Steps[i].Status == StepRunning {
			return &j.Steps[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to callers.
func (j *ProcessingJob) Clone() *ProcessingJob {
	if j == nil {
		return nil
	}
	c := *j
	c.Steps = slices.Clone(j.Steps)
	return &c
}
