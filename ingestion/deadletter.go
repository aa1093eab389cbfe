package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/poiesic/blueprint/core"
)

// DeadLetters returns dead-letter entries, oldest first.
func (o *Orchestrator) DeadLetters(ctx context.Context, includeProcessed bool, limit int) ([]*core.DeadLetter, error) {
	return o.stores.DeadLetters.List(ctx, includeProcessed, limit)
}

// DeadLetterCount returns the number of unprocessed entries.
func (o *Orchestrator) DeadLetterCount(ctx context.Context) (int, error) {
	return o.stores.DeadLetters.Count(ctx)
}

// Requeue submits a fresh job for the document of a dead-letter entry and
// marks the entry processed with the new job id. The new job is queued,
// not started.
func (o *Orchestrator) Requeue(ctx context.Context, entryID string) (*core.ProcessingJob, error) {
	o.requeueMu.Lock()
	defer o.requeueMu.Unlock()
	entry, err := o.stores.DeadLetters.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Processed {
		return nil, fmt.Errorf("%w: %s requeued as %s", ErrAlreadyProcessed, entry.ID, entry.RequeuedJobID)
	}
	if _, err := o.stores.Documents.Get(ctx, entry.DocumentID); err != nil {
		return nil, fmt.Errorf("requeue %s: document %s: %w", entry.ID, entry.DocumentID, err)
	}
	job, err := o.createJob(ctx, entry.DocumentID, entry.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := o.stores.DeadLetters.MarkProcessed(ctx, entry.ID, job.ID, o.now()); err != nil {
		return nil, err
	}
	o.logger.Info("dead letter requeued", "entry", entry.ID, "failed_job", entry.JobID, "job", job.ID)
	return job, nil
}

// PurgeDeadLetters removes processed entries created before olderThan.
func (o *Orchestrator) PurgeDeadLetters(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := o.stores.DeadLetters.Purge(ctx, olderThan)
	if err != nil {
		return 0, err
	}
	o.logger.Info("dead letters purged", "count", n, "older_than", olderThan)
	return n, nil
}
