package core

import (
	"context"
	"errors"
	"time"
)

// FailureReason classifies why a job ended in the dead-letter queue.
type FailureReason string

const (
	ReasonMaxRetriesExceeded   FailureReason = "max_retries_exceeded"
	ReasonPermanentError       FailureReason = "permanent_error"
	ReasonTimeout              FailureReason = "timeout"
	ReasonInvalidInput         FailureReason = "invalid_input"
	ReasonExternalServiceError FailureReason = "external_service_error"
	ReasonUnknown              FailureReason = "unknown"
)

// ClassifyFailure maps a terminal step error to a FailureReason.
func ClassifyFailure(err error, retriesExhausted bool) FailureReason {
	switch {
	case err == nil:
		return ReasonUnknown
	case retriesExhausted && errors.Is(err, ErrTransientProvider):
		return ReasonMaxRetriesExceeded
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrFatalInput):
		return ReasonInvalidInput
	case errors.Is(err, ErrConsistency):
		return ReasonPermanentError
	case errors.Is(err, ErrTransientProvider):
		return ReasonExternalServiceError
	}
	return ReasonUnknown
}

// DeadLetter records a job that failed terminally.
type DeadLetter struct {
	ID            string        `json:"id"`
	JobID         string        `json:"job_id"`
	DocumentID    string        `json:"document_id"`
	ProjectID     string        `json:"project_id"`
	FailedStep    StepKey       `json:"failed_step,omitempty"`
	Error         string        `json:"error"`
	RetryCount    int           `json:"retry_count"`
	Reason        FailureReason `json:"reason"`
	CreatedAt     time.Time     `json:"created_at"`
	Processed     bool          `json:"processed"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`
	RequeuedJobID string        `json:"requeued_job_id,omitempty"`
}
