package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/blueprint/chunker"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/extraction"
	"github.com/poiesic/blueprint/storage"
)

const (
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 5 * time.Second
	DefaultCancelGrace = 30 * time.Second
)

// Stores groups the storage collaborators of an Orchestrator.
type Stores struct {
	Jobs        storage.JobStore
	Documents   storage.DocumentStore
	Vectors     storage.VectorStore
	Entities    storage.EntityStore
	DeadLetters storage.DeadLetterStore
}

func (s Stores) validate() error {
	switch {
	case s.Jobs == nil:
		return ErrJobStoreRequired
	case s.Documents == nil:
		return ErrDocumentStoreRequired
	case s.Vectors == nil:
		return ErrVectorStoreRequired
	case s.Entities == nil:
		return ErrEntityStoreRequired
	case s.DeadLetters == nil:
		return ErrDeadLetterStoreRequired
	}
	return nil
}

// Orchestrator is the sole writer of job state. It is safe for
// concurrent use.
type Orchestrator struct {
	stores Stores
	deps   *stepDeps
	exec   *executor
	rec    *recorder
	pool   *ants.Pool

	poolSize    int
	maxRetries  int
	retryDelay  time.Duration
	cancelGrace time.Duration
	autoRetry   bool
	chunkCfg    chunker.Config
	observe     func(*core.ProcessingJob)
	base        *slog.Logger
	logger      *slog.Logger
	now         func() time.Time

	root     context.Context
	stopRoot context.CancelFunc

	mu       sync.Mutex
	live     map[string]*runner
	draining bool

	// requeueMu serializes dead-letter requeues.
	requeueMu sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithPoolSize sets the number of sub-items processed concurrently across
// all jobs. Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(o *Orchestrator) error {
		if size < 1 {
			size = 1
		}
		o.poolSize = size
		return nil
	}
}

// WithMaxRetries sets the automatic retry budget of new jobs.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) error {
		if n < 0 {
			return fmt.Errorf("%w: max retries must not be negative", ErrInvalidOption)
		}
		o.maxRetries = n
		return nil
	}
}

// WithRetryDelay sets the base of the exponential requeue backoff.
func WithRetryDelay(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d < 0 {
			return fmt.Errorf("%w: retry delay must not be negative", ErrInvalidOption)
		}
		o.retryDelay = d
		return nil
	}
}

// WithCancelGrace sets how long in-flight provider calls of a cancelled
// job may run before they are hard-cancelled.
func WithCancelGrace(d time.Duration) Option {
	return func(o *Orchestrator) error {
		if d < 0 {
			return fmt.Errorf("%w: cancel grace must not be negative", ErrInvalidOption)
		}
		o.cancelGrace = d
		return nil
	}
}

// WithAutoRetry controls whether a requeued job is restarted by this
// orchestrator once its retry_after passes. When disabled a Dispatcher
// picks it up. Enabled by default.
func WithAutoRetry(enabled bool) Option {
	return func(o *Orchestrator) error {
		o.autoRetry = enabled
		return nil
	}
}

// WithChunker sets the chunking configuration.
func WithChunker(cfg chunker.Config) Option {
	return func(o *Orchestrator) error {
		o.chunkCfg = cfg
		return nil
	}
}

// WithWindows sets the extraction window size and the minimum page text.
func WithWindows(size, minPageText int) Option {
	return func(o *Orchestrator) error {
		if size <= 0 || minPageText < 0 {
			return fmt.Errorf("%w: window size must be positive", ErrInvalidOption)
		}
		o.deps.windowSize = size
		o.deps.minPageText = minPageText
		return nil
	}
}

// WithObserver registers fn to receive a copy of the job after every
// recorded change. fn runs on the recording goroutine and must not block.
func WithObserver(fn func(*core.ProcessingJob)) Option {
	return func(o *Orchestrator) error {
		o.observe = fn
		return nil
	}
}

// WithLogger sets a custom logger. Each part of the orchestrator tags it
// with its own component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.base = logger
		return nil
	}
}

// New creates an Orchestrator. Release must be called when done.
func New(stores Stores, embedder Embedder, engine *extraction.Engine, opts ...Option) (*Orchestrator, error) {
	if err := stores.validate(); err != nil {
		return nil, err
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if engine == nil {
		return nil, ErrEngineRequired
	}

	o := &Orchestrator{
		stores: stores,
		deps: &stepDeps{
			jobs:        stores.Jobs,
			docs:        stores.Documents,
			vectors:     stores.Vectors,
			embedder:    embedder,
			engine:      engine,
			windowSize:  extraction.DefaultWindowSize,
			minPageText: extraction.DefaultMinPageText,
		},
		poolSize:    max(runtime.NumCPU(), 1),
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		cancelGrace: DefaultCancelGrace,
		autoRetry:   true,
		chunkCfg:    chunker.DefaultConfig(),
		base:        slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
		live:        make(map[string]*runner),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	o.logger = o.base.With("component", "orchestrator")

	ch, err := chunker.New(o.chunkCfg)
	if err != nil {
		return nil, err
	}
	o.deps.chunker = ch

	pool, err := ants.NewPool(o.poolSize)
	if err != nil {
		return nil, err
	}
	o.pool = pool
	o.rec = &recorder{jobs: stores.Jobs, observe: o.observe}
	o.exec = &executor{
		rec:    o.rec,
		jobs:   stores.Jobs,
		pool:   pool,
		work:   newStepWork(o.deps),
		logger: o.base.With("component", "executor"),
	}
	o.root, o.stopRoot = context.WithCancel(context.Background())
	return o, nil
}

// Release hard-cancels any remaining run loops and frees the worker pool.
// Call Shutdown first to pause live jobs cleanly.
func (o *Orchestrator) Release() {
	o.stopRoot()
	o.mu.Lock()
	waiting := make([]*runner, 0, len(o.live))
	for _, r := range o.live {
		waiting = append(waiting, r)
	}
	o.mu.Unlock()
	for _, r := range waiting {
		<-r.done
	}
	o.pool.Release()
}

// Submit stores doc and creates a queued job for it with the fixed plan.
func (o *Orchestrator) Submit(ctx context.Context, doc *core.Document) (*core.ProcessingJob, error) {
	if err := core.ValidateDocument(doc); err != nil {
		return nil, err
	}
	if err := o.stores.Documents.Put(ctx, doc); err != nil {
		return nil, err
	}
	return o.createJob(ctx, doc.ID, doc.ProjectID)
}

func (o *Orchestrator) createJob(ctx context.Context, documentID, projectID string) (*core.ProcessingJob, error) {
	jobID := uuid.NewString()
	plan := core.JobPlan{
		DocumentID: documentID,
		ProjectID:  projectID,
		MaxRetries: o.maxRetries,
		Steps:      core.DefaultPlan(),
	}
	job, err := o.rec.append(ctx, jobID, core.NewJobCreated(jobID, plan, o.now()))
	if err != nil {
		return nil, err
	}
	o.logger.Info("job submitted", "job", jobID, "document", documentID, "project", projectID)
	return job, nil
}

// Start moves a queued job to running and starts its run loop.
func (o *Orchestrator) Start(ctx context.Context, jobID string) (*core.ProcessingJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draining {
		return nil, ErrShutdown
	}
	if _, ok := o.live[jobID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrJobActive, jobID)
	}
	job, err := o.rec.append(ctx, jobID, core.ProgressEvent{Kind: core.EventJobStarted, At: o.now()})
	if err != nil {
		return nil, err
	}
	o.launch(newRunner(o.root, jobID), job)
	return job, nil
}

// Resume moves a paused job back to running.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (*core.ProcessingJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.draining {
		return nil, ErrShutdown
	}
	if _, ok := o.live[jobID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrJobActive, jobID)
	}
	job, err := o.rec.append(ctx, jobID, core.ProgressEvent{Kind: core.EventJobResumed, At: o.now()})
	if err != nil {
		return nil, err
	}
	o.launch(newRunner(o.root, jobID), job)
	return job, nil
}

// launch registers r and runs its loop. Caller holds o.mu.
func (o *Orchestrator) launch(r *runner, job *core.ProcessingJob) {
	o.live[r.jobID] = r
	o.logger.Info("job running", "job", job.ID, "step", job.CurrentStep, "retry_count", job.RetryCount)
	go o.loop(r)
}

// Pause asks a running job to stop at its next checkpoint. A running job
// without a run loop in this process is paused immediately.
func (o *Orchestrator) Pause(ctx context.Context, jobID string) (*core.ProcessingJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.live[jobID]; ok && r.retry == nil {
		r.pause.Store(true)
		return o.stores.Jobs.Get(ctx, jobID)
	}

	job, err := o.stores.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != core.JobRunning {
		return nil, fmt.Errorf("%w: cannot pause %s job", core.ErrInvalidTransition, job.Status)
	}
	var events []core.ProgressEvent
	if s := job.RunningStep(); s != nil {
		events = append(events, core.ProgressEvent{Kind: core.EventStepReset, Step: s.Key, Message: "paused"})
	}
	events = append(events, core.ProgressEvent{Kind: core.EventJobPaused, At: o.now()})
	return o.rec.append(ctx, jobID, events...)
}

// Cancel stops a job for good. Queued and paused jobs are cancelled
// immediately; a running job stops at its next checkpoint and its
// in-flight calls are hard-cancelled after the grace period.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (*core.ProcessingJob, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.live[jobID]; ok {
		if r.retry == nil || !r.retry.Stop() {
			// Running, or a retry restart already fired and is waiting on o.mu.
			r.cancelled.Store(true)
			if r.retry == nil {
				time.AfterFunc(o.cancelGrace, r.cancel)
			}
			o.logger.Info("cancel requested", "job", jobID)
			return o.stores.Jobs.Get(ctx, jobID)
		}
		o.retire(r)
	}

	job, err := o.stores.Jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var events []core.ProgressEvent
	if s := job.RunningStep(); s != nil {
		events = append(events, core.ProgressEvent{
			Kind:    core.EventStepSkipped,
			Step:    s.Key,
			Message: "cancelled",
			Details: &core.StepDetails{SkipReason: core.SkipReasonCancelled},
		})
	}
	events = append(events, core.ProgressEvent{Kind: core.EventJobCancelled, At: o.now()})
	job, err = o.rec.append(ctx, jobID, events...)
	if err != nil {
		return nil, err
	}
	o.logger.Info("job cancelled", "job", jobID)
	return job, nil
}

// retire removes r from the live set. Caller holds o.mu.
func (o *Orchestrator) retire(r *runner) {
	if o.live[r.jobID] == r {
		delete(o.live, r.jobID)
	}
	r.retry = nil
	r.cancel()
	close(r.done)
}

// loop runs the steps of one job until it leaves the running state.
func (o *Orchestrator) loop(r *runner) {
	retryAt, err := o.drive(r)
	if err != nil {
		o.logger.Error("run loop stopped", "job", r.jobID, "err", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if retryAt != nil && r.Stop() != StopNone {
		// A stop accepted while the requeue was being recorded.
		o.stopRequeued(r)
		return
	}
	if retryAt == nil || !o.autoRetry || o.draining {
		o.retire(r)
		return
	}
	delay := max(time.Until(*retryAt), 0)
	r.retry = time.AfterFunc(delay, func() { o.restart(r) })
	o.logger.Info("retry scheduled", "job", r.jobID, "delay", delay)
}

// restart runs a requeued job again once its backoff has passed.
func (o *Orchestrator) restart(r *runner) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.live[r.jobID] != r || r.retry == nil {
		return
	}
	r.retry = nil
	if r.Stop() != StopNone || o.draining {
		o.stopRequeued(r)
		return
	}
	job, err := o.rec.append(context.Background(), r.jobID, core.ProgressEvent{Kind: core.EventJobStarted, At: o.now()})
	if err != nil {
		o.logger.Error("restart job", "job", r.jobID, "err", err)
		o.retire(r)
		return
	}
	r.reset(o.root)
	o.launch(r, job)
}

// stopRequeued retires the runner of a requeued job that will not be
// restarted here. A cancelled job is cancelled; otherwise it stays queued
// for a later Start or a Dispatcher. Caller holds o.mu.
func (o *Orchestrator) stopRequeued(r *runner) {
	if r.cancelled.Load() {
		if _, err := o.rec.append(context.Background(), r.jobID, core.ProgressEvent{Kind: core.EventJobCancelled, At: o.now()}); err != nil {
			o.logger.Error("cancel requeued job", "job", r.jobID, "err", err)
		} else {
			o.logger.Info("job cancelled", "job", r.jobID)
		}
	} else if !o.draining {
		o.logger.Info("automatic retry dropped", "job", r.jobID, "reason", r.Stop())
	}
	o.retire(r)
}

// drive executes steps in order. It returns the retry time when the job
// was requeued.
func (o *Orchestrator) drive(r *runner) (*time.Time, error) {
	ctx := r.ctx
	for {
		job, err := o.stores.Jobs.Get(ctx, r.jobID)
		if err != nil {
			return nil, err
		}
		if job.Status != core.JobRunning {
			return nil, nil
		}
		step := job.NextStep()
		if step == nil {
			return nil, o.complete(ctx, job)
		}

		res := o.exec.run(ctx, r, job, step.Key)
		switch res.Outcome {
		case OutcomeCompleted, OutcomeSkipped:
			continue
		case OutcomePaused:
			_, err := o.rec.append(ctx, r.jobID, core.ProgressEvent{Kind: core.EventJobPaused, At: o.now()})
			if err == nil {
				o.logger.Info("job paused", "job", r.jobID, "step", step.Key)
			}
			return nil, err
		case OutcomeCancelled:
			_, err := o.rec.append(ctx, r.jobID, core.ProgressEvent{Kind: core.EventJobCancelled, At: o.now()})
			if err == nil {
				o.logger.Info("job cancelled", "job", r.jobID, "step", step.Key)
			}
			return nil, err
		default:
			if res.Job == nil || res.Job.Step(step.Key).Status != core.StepFailed {
				// The failure itself could not be recorded.
				return nil, res.Err
			}
			if stop := r.Stop(); stop != StopNone {
				return nil, o.stopFailed(ctx, res.Job, step.Key, stop, res.Err)
			}
			return o.handleFailure(ctx, res.Job, step.Key, res)
		}
	}
}

func (o *Orchestrator) complete(ctx context.Context, job *core.ProcessingJob) error {
	if _, err := o.rec.append(ctx, job.ID, core.ProgressEvent{Kind: core.EventJobCompleted, At: o.now()}); err != nil {
		return err
	}
	for _, spec := range core.DefaultPlan() {
		if err := o.stores.Jobs.ClearStaged(context.WithoutCancel(ctx), job.ID, spec.Key); err != nil {
			o.logger.Warn("clear staged results", "job", job.ID, "step", spec.Key, "err", err)
		}
	}
	o.logger.Info("job completed", "job", job.ID, "document", job.DocumentID)
	return nil
}

// handleFailure decides between requeue and failure. Transient errors
// requeue while retry budget remains; anything else fails the job and is
// dead-lettered.
func (o *Orchestrator) handleFailure(ctx context.Context, job *core.ProcessingJob, key core.StepKey, res StepResult) (*time.Time, error) {
	msg := res.Err.Error()
	if res.Retryable && job.RetryCount < job.MaxRetries {
		at := o.now().Add(o.backoff(job.RetryCount + 1))
		updated, err := o.rec.append(ctx, job.ID, core.ProgressEvent{
			Kind:       core.EventJobRequeued,
			At:         o.now(),
			Step:       key,
			Error:      msg,
			Retryable:  true,
			RetryAfter: &at,
		})
		if err != nil {
			return nil, err
		}
		o.logger.Warn("job requeued", "job", job.ID, "step", key, "retry_count", updated.RetryCount, "retry_after", at, "err", res.Err)
		return &at, nil
	}

	failed, err := o.rec.append(ctx, job.ID, core.ProgressEvent{
		Kind:  core.EventJobFailed,
		At:    o.now(),
		Step:  key,
		Error: msg,
	})
	if err != nil {
		return nil, err
	}
	entry := &core.DeadLetter{
		JobID:      failed.ID,
		DocumentID: failed.DocumentID,
		ProjectID:  failed.ProjectID,
		FailedStep: key,
		Error:      msg,
		RetryCount: failed.RetryCount,
		Reason:     core.ClassifyFailure(res.Err, res.Retryable),
	}
	if err := o.stores.DeadLetters.Add(context.WithoutCancel(ctx), entry); err != nil {
		return nil, fmt.Errorf("dead-letter job %s: %w", job.ID, err)
	}
	o.logger.Error("job failed", "job", job.ID, "step", key, "retry_count", failed.RetryCount, "reason", entry.Reason, "err", res.Err)
	return nil, nil
}

// stopFailed honours a pause or cancel that arrived while a step failure
// was being recorded. The failed step is reset so the failure neither
// consumes retry budget nor dead-letters the job.
func (o *Orchestrator) stopFailed(ctx context.Context, job *core.ProcessingJob, key core.StepKey, stop StopReason, cause error) error {
	events := []core.ProgressEvent{{Kind: core.EventStepReset, Step: key, Message: "paused"}}
	last := core.ProgressEvent{Kind: core.EventJobPaused, At: o.now()}
	if stop == StopCancel {
		events = append(events, core.ProgressEvent{
			Kind:    core.EventStepSkipped,
			Step:    key,
			Message: "cancelled",
			Details: &core.StepDetails{SkipReason: core.SkipReasonCancelled},
		})
		last.Kind = core.EventJobCancelled
	}
	if _, err := o.rec.append(ctx, job.ID, append(events, last)...); err != nil {
		return err
	}
	o.logger.Info("job stopped after step error", "job", job.ID, "step", key, "reason", stop, "err", cause)
	return nil
}

// backoff returns retry_delay * 2^(retryCount-1).
func (o *Orchestrator) backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	return o.retryDelay * time.Duration(1<<min(retryCount-1, 30))
}

// Wait blocks until the job has no run loop and no pending automatic retry
// in this process.
func (o *Orchestrator) Wait(ctx context.Context, jobID string) (*core.ProcessingJob, error) {
	o.mu.Lock()
	r := o.live[jobID]
	o.mu.Unlock()
	if r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return o.stores.Jobs.Get(ctx, jobID)
}

// Recover returns running jobs that have no run loop in this process to
// queued, resetting their running step. It is meant for worker start,
// after a crash left jobs orphaned.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	jobs, err := o.stores.Jobs.List(ctx, storage.JobQuery{Statuses: []core.JobStatus{core.JobRunning}})
	if err != nil {
		return 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, job := range jobs {
		if _, ok := o.live[job.ID]; ok {
			continue
		}
		var events []core.ProgressEvent
		if s := job.RunningStep(); s != nil {
			events = append(events, core.ProgressEvent{Kind: core.EventStepReset, Step: s.Key, Message: "recovered"})
		}
		events = append(events, core.ProgressEvent{Kind: core.EventJobRecovered, At: o.now()})
		if _, err := o.rec.append(ctx, job.ID, events...); err != nil {
			return n, fmt.Errorf("recover job %s: %w", job.ID, err)
		}
		o.logger.Info("job recovered", "job", job.ID, "step", job.CurrentStep)
		n++
	}
	return n, nil
}

// Shutdown pauses every live job and waits for the run loops to exit.
// Pending automatic retries are dropped; the jobs stay queued. When ctx
// expires first, in-flight calls are hard-cancelled and Shutdown still
// waits for the loops to record their pause.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.draining = true
	var waiting []*runner
	for _, r := range o.live {
		if r.retry != nil {
			if r.retry.Stop() {
				o.retire(r)
				continue
			}
		}
		r.pause.Store(true)
		waiting = append(waiting, r)
	}
	o.mu.Unlock()

	var err error
	for _, r := range waiting {
		select {
		case <-r.done:
		case <-ctx.Done():
			err = ctx.Err()
			o.stopRoot()
			<-r.done
		}
	}
	o.logger.Info("orchestrator shut down", "paused", len(waiting))
	return err
}

// ActiveCount returns the number of jobs with a running loop.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, r := range o.live {
		if r.retry == nil {
			n++
		}
	}
	return n
}

// Get returns the current projection of a job.
func (o *Orchestrator) Get(ctx context.Context, jobID string) (*core.ProcessingJob, error) {
	return o.stores.Jobs.Get(ctx, jobID)
}

// Events returns the event log of a job.
func (o *Orchestrator) Events(ctx context.Context, jobID string) ([]core.ProgressEvent, error) {
	return o.stores.Jobs.Events(ctx, jobID)
}

// List returns jobs matching q.
func (o *Orchestrator) List(ctx context.Context, q storage.JobQuery) ([]*core.ProcessingJob, error) {
	return o.stores.Jobs.List(ctx, q)
}

// active reports whether any of jobs has a run loop. Caller holds o.mu.
func (o *Orchestrator) active(jobs []*core.ProcessingJob) error {
	for _, job := range jobs {
		if _, ok := o.live[job.ID]; ok {
			return fmt.Errorf("%w: %s", ErrJobActive, job.ID)
		}
	}
	return nil
}

// DeleteDocument removes a document with its jobs and chunks. Entities
// extracted from it are kept and detached.
func (o *Orchestrator) DeleteDocument(ctx context.Context, documentID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	jobs, err := o.stores.Jobs.List(ctx, storage.JobQuery{DocumentID: documentID})
	if err != nil {
		return err
	}
	if err := o.active(jobs); err != nil {
		return err
	}
	for _, job := range jobs {
		if err := o.stores.Jobs.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	chunks, err := o.stores.Vectors.DeleteForDocument(ctx, documentID)
	if err != nil {
		return err
	}
	detached, err := o.stores.Entities.DetachDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := o.stores.Documents.Delete(ctx, documentID); err != nil {
		return err
	}
	o.logger.Info("document deleted", "document", documentID, "jobs", len(jobs), "chunks", chunks, "entities_detached", detached)
	return nil
}

// DeleteProject removes every job, chunk, document and entity of a project.
func (o *Orchestrator) DeleteProject(ctx context.Context, projectID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	jobs, err := o.stores.Jobs.List(ctx, storage.JobQuery{ProjectID: projectID})
	if err != nil {
		return err
	}
	if err := o.active(jobs); err != nil {
		return err
	}
	for _, job := range jobs {
		if err := o.stores.Jobs.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	chunks, err := o.stores.Vectors.DeleteForProject(ctx, projectID)
	if err != nil {
		return err
	}
	entities, err := o.stores.Entities.DeleteProject(ctx, projectID)
	if err != nil {
		return err
	}
	docs, err := o.stores.Documents.ListForProject(ctx, projectID)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := o.stores.Documents.Delete(ctx, doc.ID); err != nil {
			return err
		}
	}
	o.logger.Info("project deleted", "project", projectID, "jobs", len(jobs), "documents", len(docs), "chunks", chunks, "entities", entities)
	return nil
}
