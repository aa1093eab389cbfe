// Package ingestion runs construction documents through the processing
// plan: chunk, embed, then one extraction step per entity kind.
//
// The Orchestrator owns job state. Every change is an event appended to
// the job's log through a storage.JobStore, and the job row is the
// projection of that log. Steps run in order on a per-job run loop; the
// sub-items of a step (chunks to embed, content windows to extract) run on
// a shared ants pool and each finished sub-item is staged durably with
// its progress event, so a retried or resumed step only does the work it
// has not done yet.
//
// Pause and cancel are cooperative and observed between sub-items. A
// cancelled job hard-cancels in-flight provider calls after a grace
// period. Transient step failures requeue the job with exponential
// backoff until max_retries is spent; anything else fails the job and
// writes a dead-letter entry.
package ingestion
