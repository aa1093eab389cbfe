package storage

import (
	"context"
	"time"

	"github.com/poiesic/blueprint/core"
)

// VectorStore persists document chunks with their embeddings and answers
// similarity queries.
type VectorStore interface {
	// Dimension returns the fixed vector dimension of the store.
	Dimension() int

	// UpsertChunks replaces the chunk set of a document atomically.
	// Every chunk is validated first; any mismatch in dimension, document id
	// or index contiguity returns a core.ErrConsistency error and writes nothing.
	UpsertChunks(ctx context.Context, documentID string, chunks []*core.DocumentChunk) error

	// Search returns up to k chunks matching filter, ordered by cosine
	// similarity descending.
	Search(ctx context.Context, vector []float32, filter core.SearchFilter, k int) ([]core.ChunkMatch, error)

	// DeleteForDocument removes all chunks of a document and returns the count removed.
	DeleteForDocument(ctx context.Context, documentID string) (int, error)

	// DeleteForProject removes all chunks of a project and returns the count removed.
	DeleteForProject(ctx context.Context, projectID string) (int, error)

	// CountForDocument returns the number of chunks stored for a document.
	CountForDocument(ctx context.Context, documentID string) (int, error)

	// Close releases resources held by the store.
	Close() error
}

// IndexBuilder is implemented by vector stores with an approximate index
// that can be rebuilt on demand.
type IndexBuilder interface {
	BuildIndex(ctx context.Context, lists int) error
}

// JobQuery filters job listings. Empty fields do not filter.
type JobQuery struct {
	ProjectID  string
	DocumentID string
	Statuses   []core.JobStatus
	// DueBefore keeps only jobs whose retry_after is unset or not after it.
	DueBefore *time.Time
	Limit     int
}

// JobStore is the durable home of processing jobs. Each job is stored as an
// append-only event log plus its current projection, written together.
type JobStore interface {
	// Append assigns sequence numbers to events, folds them into the job
	// projection and persists log and projection in one transaction.
	// Appends for one job are serialized. An event the projection rejects
	// fails the whole call and nothing is written.
	Append(ctx context.Context, jobID string, events ...core.ProgressEvent) (*core.ProcessingJob, error)

	// Get returns the current projection of a job.
	Get(ctx context.Context, jobID string) (*core.ProcessingJob, error)

	// Events returns a job's full event log in sequence order.
	Events(ctx context.Context, jobID string) ([]core.ProgressEvent, error)

	// Rebuild recomputes the projection from the event log and stores it.
	Rebuild(ctx context.Context, jobID string) (*core.ProcessingJob, error)

	// List returns jobs matching q, oldest first.
	List(ctx context.Context, q JobQuery) ([]*core.ProcessingJob, error)

	// StageItem stores the result of one step sub-item together with a
	// progress event, in one transaction.
	StageItem(ctx context.Context, jobID string, step core.StepKey, index int, payload []byte, ev core.ProgressEvent) (*core.ProcessingJob, error)

	// StagedItems returns the staged sub-item results of a step by index.
	StagedItems(ctx context.Context, jobID string, step core.StepKey) (map[int][]byte, error)

	// ClearStaged removes the staged results of a step.
	ClearStaged(ctx context.Context, jobID string, step core.StepKey) error

	// DeleteJob removes a job with its log and staged data.
	DeleteJob(ctx context.Context, jobID string) error
}

// EntityQuery filters entity listings. Empty fields do not filter.
type EntityQuery struct {
	ProjectID    string
	Kind         core.EntityKind
	DocumentID   string
	JobID        string
	State        core.ReviewState
	PriorityOnly bool
	Limit        int
}

// EntityStore persists extracted entities.
type EntityStore interface {
	// ReplaceForDocument deletes every entity of kind tied to documentID and
	// inserts entities, in one transaction.
	ReplaceForDocument(ctx context.Context, kind core.EntityKind, documentID string, entities []core.Entity) error

	// Get returns one entity.
	Get(ctx context.Context, kind core.EntityKind, id string) (core.Entity, error)

	// List returns entities matching q. Entities flagged for priority review
	// come first, then by ascending confidence.
	List(ctx context.Context, q EntityQuery) ([]core.Entity, error)

	// UpdateReview applies fn to an entity's review state and stores the result.
	UpdateReview(ctx context.Context, kind core.EntityKind, id string, fn func(*core.Review) error) (core.Entity, error)

	// DetachDocument clears document and job references of a document's
	// entities, leaving the entities in place.
	DetachDocument(ctx context.Context, documentID string) (int, error)

	// DeleteProject removes every entity of a project.
	DeleteProject(ctx context.Context, projectID string) (int, error)
}

// DocumentStore persists source documents and their page text.
type DocumentStore interface {
	Put(ctx context.Context, doc *core.Document) error
	Get(ctx context.Context, id string) (*core.Document, error)
	ListForProject(ctx context.Context, projectID string) ([]*core.Document, error)
	Delete(ctx context.Context, id string) error
}

// DeadLetterStore persists jobs that failed permanently.
type DeadLetterStore interface {
	Add(ctx context.Context, entry *core.DeadLetter) error
	Get(ctx context.Context, id string) (*core.DeadLetter, error)
	// List returns entries oldest first. Processed entries are included
	// only when includeProcessed is set.
	List(ctx context.Context, includeProcessed bool, limit int) ([]*core.DeadLetter, error)
	// Count returns the number of unprocessed entries.
	Count(ctx context.Context) (int, error)
	MarkProcessed(ctx context.Context, id, requeuedJobID string, at time.Time) error
	// Purge removes processed entries created before olderThan.
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}
