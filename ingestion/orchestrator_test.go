package ingestion

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/blueprint/ai"
	"github.com/poiesic/blueprint/ai/mock"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/extraction"
	"github.com/poiesic/blueprint/gateway"
	"github.com/poiesic/blueprint/storage"
	"github.com/poiesic/blueprint/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 8

var scripted = map[string]string{
	extraction.SchemaMaterials:   `{"materials": [{"name": "Gypsum Board", "room": "101", "confidence": 0.9}, {"name": "Sealant", "confidence": 0.4}]}`,
	extraction.SchemaRooms:       `{"rooms": [{"room_name": "Lobby", "room_number": "101", "confidence": 0.8}]}`,
	extraction.SchemaTradeScopes: `{"trades": [{"trade": "Drywall & Framing", "confidence": 0.85}]}`,
	extraction.SchemaMilestones:  `{"milestones": [{"name": "Framing Complete", "phase_order": 1, "confidence": 0.7}]}`,
}

type harness struct {
	orch   *Orchestrator
	stores *badger.Stores
	gen    *mock.MockGenerator
	emb    *mock.MockEmbedder
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	provider := mock.NewMockProvider(testDim)
	gw, err := gateway.New(provider, gateway.WithDimension(testDim), gateway.WithRetry(1, time.Millisecond))
	require.NoError(t, err)
	stores, err := badger.NewMemoryStores(testDim)
	require.NoError(t, err)
	engine, err := extraction.New(gw, stores.Entities)
	require.NoError(t, err)

	opts = append([]Option{WithRetryDelay(time.Millisecond), WithPoolSize(4)}, opts...)
	orch, err := New(Stores{
		Jobs:        stores.Jobs,
		Documents:   stores.Documents,
		Vectors:     stores.Vectors,
		Entities:    stores.Entities,
		DeadLetters: stores.DeadLetters,
	}, gw, engine, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		orch.Release()
		stores.Close()
	})

	gen := provider.GetMockGenerator()
	for task, resp := range scripted {
		gen.WithResponse(task, resp)
	}
	return &harness{orch: orch, stores: stores, gen: gen, emb: provider.GetMockEmbedder()}
}

// blockOn makes generation for task wait until release is closed or the
// call is cancelled. started is closed when the first such call begins.
func (h *harness) blockOn(task string) (started, release chan struct{}) {
	started, release = make(chan struct{}), make(chan struct{})
	var once sync.Once
	h.gen.WithGenerateFunc(func(ctx context.Context, req ai.GenerationRequest) (string, error) {
		if req.Task == task {
			once.Do(func() { close(started) })
			select {
			case <-release:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		return scripted[req.Task], nil
	})
	return started, release
}

func sampleDocument(id string) *core.Document {
	return &core.Document{
		ID:        id,
		ProjectID: "proj-1",
		Title:     "Tenant Improvement Set",
		Source:    "A-series.pdf",
		Pages: []core.Page{
			{Number: 1, Text: "GENERAL NOTES. All gypsum board partitions shall be 5/8 in. Type X unless noted otherwise."},
			{Number: 2, Text: "ROOM FINISH SCHEDULE. Room 101 Lobby: porcelain tile floor, painted gypsum board walls, ACT ceiling."},
			{Number: 3, Text: "DIVISION 09. Drywall contractor to provide metal stud framing, board, tape and Level 4 finish."},
		},
	}
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func (h *harness) run(t *testing.T, doc *core.Document) *core.ProcessingJob {
	t.Helper()
	ctx := context.Background()
	job, err := h.orch.Submit(ctx, doc)
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, job.ID)
	require.NoError(t, err)
	return h.wait(t, job.ID)
}

func (h *harness) wait(t *testing.T, jobID string) *core.ProcessingJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := h.orch.Wait(ctx, jobID)
	require.NoError(t, err)
	return job
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Stores{}, nil, nil)
	assert.ErrorIs(t, err, ErrJobStoreRequired)

	stores, err := badger.NewMemoryStores(testDim)
	require.NoError(t, err)
	defer stores.Close()
	all := Stores{stores.Jobs, stores.Documents, stores.Vectors, stores.Entities, stores.DeadLetters}

	_, err = New(all, nil, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)

	gw, err := gateway.New(mock.NewMockProvider(testDim), gateway.WithDimension(testDim))
	require.NoError(t, err)
	_, err = New(all, gw, nil)
	assert.ErrorIs(t, err, ErrEngineRequired)

	engine, err := extraction.New(gw, stores.Entities)
	require.NoError(t, err)
	_, err = New(all, gw, engine, WithMaxRetries(-1))
	assert.ErrorIs(t, err, ErrInvalidOption)
}

func TestSubmit(t *testing.T) {
	h := newHarness(t, WithMaxRetries(5))
	ctx := context.Background()

	_, err := h.orch.Submit(ctx, &core.Document{ID: "doc-1"})
	assert.ErrorIs(t, err, core.ErrInvalidDocument)

	job, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
	require.NoError(t, err)
	assert.Equal(t, core.JobQueued, job.Status)
	assert.Equal(t, 6, job.TotalSteps)
	assert.Equal(t, 5, job.MaxRetries)
	assert.True(t, job.CanRetry)
	assert.Equal(t, core.StepChunk, job.CurrentStep)

	doc, err := h.stores.Documents.Get(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, doc.Pages, 3)
}

func TestRun_CompletesThreePageDocument(t *testing.T) {
	var (
		mu       sync.Mutex
		progress []float64
	)
	h := newHarness(t, WithObserver(func(job *core.ProcessingJob) {
		mu.Lock()
		progress = append(progress, job.Progress)
		mu.Unlock()
	}))
	ctx := context.Background()

	job := h.run(t, sampleDocument("doc-1"))
	require.Equal(t, core.JobCompleted, job.Status, job.ErrorMessage)
	assert.Equal(t, 100.0, job.Progress)
	assert.Equal(t, 6, job.CompletedSteps)
	assert.NotNil(t, job.CompletedAt)
	assert.False(t, job.CanRetry)

	for _, s := range job.Steps {
		assert.Equal(t, core.StepCompleted, s.Status, s.Key)
	}
	chunk := job.Step(core.StepChunk)
	require.NotNil(t, chunk.Details.Chunking)
	assert.Equal(t, 3, chunk.Details.Chunking.Chunks)
	embed := job.Step(core.StepEmbed)
	assert.Equal(t, 3, embed.ItemsProcessed)
	require.NotNil(t, embed.Details.Embedding)
	assert.Equal(t, testDim, embed.Details.Embedding.Dimension)
	materials := job.Step(core.StepExtractMaterials).Details.Extraction
	require.NotNil(t, materials)
	assert.Equal(t, 2, materials.Entities)
	assert.Equal(t, 1, materials.LowConfidence)

	n, err := h.stores.Vectors.CountForDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	entities, err := h.stores.Entities.List(ctx, storage.EntityQuery{ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Len(t, entities, 5)
	assert.True(t, entities[0].Meta().PriorityReview, "priority review entities are listed first")
	for _, e := range entities {
		assert.Equal(t, job.ID, e.Meta().JobID)
	}

	var milestonePrompt string
	for _, req := range h.gen.Requests() {
		if req.Task == extraction.SchemaMilestones {
			milestonePrompt = req.Prompt
		}
	}
	assert.Contains(t, milestonePrompt, "- Drywall & Framing\n")

	events, err := h.orch.Events(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.EventJobCreated, events[0].Kind)
	assert.Equal(t, core.EventJobCompleted, events[len(events)-1].Kind)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}

	staged, err := h.stores.Jobs.StagedItems(ctx, job.ID, core.StepEmbed)
	require.NoError(t, err)
	assert.Empty(t, staged, "staging is cleared on completion")

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(progress); i++ {
		assert.GreaterOrEqual(t, progress[i], progress[i-1])
	}
}

func TestLogger_TagsComponentOnce(t *testing.T) {
	var buf syncBuffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := newHarness(t, WithLogger(logger))

	job := h.run(t, sampleDocument("doc-1"))
	require.Equal(t, core.JobCompleted, job.Status, job.ErrorMessage)

	components := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		require.Equal(t, 1, strings.Count(line, `"component":`), line)
		for _, c := range []string{"orchestrator", "executor"} {
			if strings.Contains(line, `"component":"`+c+`"`) {
				components[c] = true
			}
		}
	}
	assert.True(t, components["orchestrator"])
	assert.True(t, components["executor"])
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRun_DocumentWithoutText(t *testing.T) {
	h := newHarness(t)
	doc := &core.Document{ID: "doc-blank", ProjectID: "proj-1", Pages: []core.Page{{Number: 1, Text: "  \n "}}}

	job := h.run(t, doc)
	require.Equal(t, core.JobCompleted, job.Status)
	for _, s := range job.Steps {
		assert.Equal(t, core.StepSkipped, s.Status, s.Key)
	}
	assert.Equal(t, core.SkipReasonNoText, job.Step(core.StepChunk).Details.SkipReason)
	assert.Equal(t, core.SkipReasonNoChunks, job.Step(core.StepEmbed).Details.SkipReason)
	assert.Equal(t, 0, h.gen.CallCount(extraction.SchemaMaterials))
}

func TestRun_TransientFailuresExhaustRetries(t *testing.T) {
	h := newHarness(t)
	h.emb.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("status code: 503 service unavailable")
	})
	ctx := context.Background()

	job := h.run(t, sampleDocument("doc-1"))
	require.Equal(t, core.JobFailed, job.Status)
	assert.Equal(t, 4, job.RetryCount)
	assert.False(t, job.CanRetry)
	assert.Equal(t, core.StepEmbed, job.ErrorStep)
	assert.Contains(t, job.ErrorMessage, "503")
	assert.Equal(t, core.StepCompleted, job.Step(core.StepChunk).Status)
	assert.Equal(t, core.StepFailed, job.Step(core.StepEmbed).Status)

	events, err := h.orch.Events(ctx, job.ID)
	require.NoError(t, err)
	requeues, chunkStarts := 0, 0
	for _, ev := range events {
		if ev.Kind == core.EventJobRequeued {
			requeues++
			require.NotNil(t, ev.RetryAfter)
		}
		if ev.Kind == core.EventStepStarted && ev.Step == core.StepChunk {
			chunkStarts++
		}
	}
	assert.Equal(t, 3, requeues)
	assert.Equal(t, 1, chunkStarts, "only the failed step and later steps rerun")

	entries, err := h.orch.DeadLetters(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, job.ID, entries[0].JobID)
	assert.Equal(t, core.ReasonMaxRetriesExceeded, entries[0].Reason)
	assert.Equal(t, 4, entries[0].RetryCount)
	assert.Equal(t, core.StepEmbed, entries[0].FailedStep)
}

func TestRun_FatalErrorDeadLettersAndRequeue(t *testing.T) {
	h := newHarness(t)
	h.gen.WithResponse(extraction.SchemaRooms, `{"rooms": "not a list"}`)
	ctx := context.Background()

	job := h.run(t, sampleDocument("doc-1"))
	require.Equal(t, core.JobFailed, job.Status)
	assert.Equal(t, 1, job.RetryCount, "fatal errors are not retried")
	assert.Equal(t, core.StepExtractRooms, job.ErrorStep)

	count, err := h.orch.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	entries, err := h.orch.DeadLetters(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.ReasonInvalidInput, entries[0].Reason)

	h.gen.WithResponse(extraction.SchemaRooms, scripted[extraction.SchemaRooms])
	requeued, err := h.orch.Requeue(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobQueued, requeued.Status)
	assert.NotEqual(t, job.ID, requeued.ID)
	assert.Equal(t, "doc-1", requeued.DocumentID)

	_, err = h.orch.Requeue(ctx, entries[0].ID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)

	entry, err := h.stores.DeadLetters.Get(ctx, entries[0].ID)
	require.NoError(t, err)
	assert.True(t, entry.Processed)
	assert.Equal(t, requeued.ID, entry.RequeuedJobID)

	_, err = h.orch.Start(ctx, requeued.ID)
	require.NoError(t, err)
	done := h.wait(t, requeued.ID)
	assert.Equal(t, core.JobCompleted, done.Status, done.ErrorMessage)

	purged, err := h.orch.PurgeDeadLetters(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestRequeue_ConcurrentCallsCreateOneJob(t *testing.T) {
	h := newHarness(t)
	h.gen.WithResponse(extraction.SchemaRooms, `{"rooms": "not a list"}`)
	ctx := context.Background()
	job := h.run(t, sampleDocument("doc-1"))
	require.Equal(t, core.JobFailed, job.Status)
	entries, err := h.orch.DeadLetters(ctx, false, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	const callers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  []string
		rejected int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			requeued, err := h.orch.Requeue(ctx, entries[0].ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrAlreadyProcessed)
				rejected++
				return
			}
			created = append(created, requeued.ID)
		}()
	}
	wg.Wait()
	assert.Len(t, created, 1)
	assert.Equal(t, callers-1, rejected)

	jobs, err := h.orch.List(ctx, storage.JobQuery{DocumentID: "doc-1"})
	require.NoError(t, err)
	assert.Len(t, jobs, 2, "the failed job and one requeued job")
}

func TestCancel_DuringExtraction(t *testing.T) {
	h := newHarness(t, WithCancelGrace(time.Hour))
	started, release := h.blockOn(extraction.SchemaMaterials)
	ctx := context.Background()

	job, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, job.ID)
	require.NoError(t, err)
	waitFor(t, started)

	_, err = h.orch.Cancel(ctx, job.ID)
	require.NoError(t, err)
	close(release)

	job = h.wait(t, job.ID)
	require.Equal(t, core.JobCancelled, job.Status)
	assert.False(t, job.CanRetry)
	assert.Equal(t, 2, job.CompletedSteps)
	step := job.Step(core.StepExtractMaterials)
	assert.Equal(t, core.StepSkipped, step.Status)
	assert.Equal(t, core.SkipReasonCancelled, step.Details.SkipReason)
	assert.Equal(t, core.StepPending, job.Step(core.StepExtractRooms).Status)

	n, err := h.stores.Vectors.CountForDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "data written before the cancel is kept")
	materials, err := h.stores.Entities.List(ctx, storage.EntityQuery{Kind: core.KindMaterial})
	require.NoError(t, err)
	assert.Empty(t, materials)

	_, err = h.orch.Cancel(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestCancel_HardCancelsAfterGrace(t *testing.T) {
	h := newHarness(t, WithCancelGrace(10*time.Millisecond))
	started, _ := h.blockOn(extraction.SchemaMaterials)
	ctx := context.Background()

	job, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, job.ID)
	require.NoError(t, err)
	waitFor(t, started)

	_, err = h.orch.Cancel(ctx, job.ID)
	require.NoError(t, err)

	job = h.wait(t, job.ID)
	require.Equal(t, core.JobCancelled, job.Status)
	assert.Equal(t, core.SkipReasonCancelled, job.Step(core.StepExtractMaterials).Details.SkipReason)
	assert.Equal(t, 1, h.gen.CallCount(extraction.SchemaMaterials))
}

func TestCancel_QueuedJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
	require.NoError(t, err)

	job, err = h.orch.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCancelled, job.Status)

	_, err = h.orch.Start(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

// failEmbedsAfter makes every embed call wait until release is closed and
// then fail with failure. started is closed when the first call begins.
func (h *harness) failEmbedsAfter(failure error) (started, release chan struct{}) {
	started, release = make(chan struct{}), make(chan struct{})
	var once sync.Once
	h.emb.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		once.Do(func() { close(started) })
		<-release
		return nil, failure
	})
	return started, release
}

func TestCancel_StepFailsAfterRequest(t *testing.T) {
	for _, tc := range []struct {
		name    string
		failure error
	}{
		{"transient", errors.New("status code: 503 service unavailable")},
		{"fatal", errors.New("status code: 400 bad request")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, WithAutoRetry(false), WithCancelGrace(time.Hour))
			started, release := h.failEmbedsAfter(tc.failure)
			ctx := context.Background()

			job, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
			require.NoError(t, err)
			_, err = h.orch.Start(ctx, job.ID)
			require.NoError(t, err)
			waitFor(t, started)

			_, err = h.orch.Cancel(ctx, job.ID)
			require.NoError(t, err)
			close(release)

			job = h.wait(t, job.ID)
			require.Equal(t, core.JobCancelled, job.Status)
			assert.Zero(t, job.RetryCount)
			assert.False(t, job.CanRetry)
			assert.Nil(t, job.RetryAfter)
			assert.Equal(t, core.SkipReasonCancelled, job.Step(core.StepEmbed).Details.SkipReason)

			events, err := h.orch.Events(ctx, job.ID)
			require.NoError(t, err)
			for _, ev := range events {
				assert.NotEqual(t, core.EventJobRequeued, ev.Kind)
				assert.NotEqual(t, core.EventJobFailed, ev.Kind)
			}

			d, err := NewDispatcher(h.orch)
			require.NoError(t, err)
			n, err := d.Poll(ctx)
			require.NoError(t, err)
			assert.Zero(t, n, "a cancelled job is never started again")

			count, err := h.orch.DeadLetterCount(ctx)
			require.NoError(t, err)
			assert.Zero(t, count)
		})
	}
}

func TestPause_StepFailsAfterRequest(t *testing.T) {
	h := newHarness(t, WithAutoRetry(false))
	started, release := h.failEmbedsAfter(errors.New("status code: 503 service unavailable"))
	ctx := context.Background()

	job, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, job.ID)
	require.NoError(t, err)
	waitFor(t, started)

	_, err = h.orch.Pause(ctx, job.ID)
	require.NoError(t, err)
	close(release)

	job = h.wait(t, job.ID)
	require.Equal(t, core.JobPaused, job.Status)
	assert.Zero(t, job.RetryCount)
	assert.True(t, job.CanRetry)
	assert.Equal(t, core.StepPending, job.Step(core.StepEmbed).Status)

	h.emb.WithEmbedTextFunc(nil)
	_, err = h.orch.Resume(ctx, job.ID)
	require.NoError(t, err)
	job = h.wait(t, job.ID)
	assert.Equal(t, core.JobCompleted, job.Status, job.ErrorMessage)
	assert.Zero(t, job.RetryCount)
}

func TestStopFailed_AfterRecordedFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for _, tc := range []struct {
		stop StopReason
		want core.JobStatus
		step core.StepStatus
	}{
		{StopPause, core.JobPaused, core.StepPending},
		{StopCancel, core.JobCancelled, core.StepSkipped},
	} {
		t.Run(tc.stop.String(), func(t *testing.T) {
			job, err := h.orch.Submit(ctx, sampleDocument("doc-"+tc.stop.String()))
			require.NoError(t, err)
			job, err = h.stores.Jobs.Append(ctx, job.ID,
				core.ProgressEvent{Kind: core.EventJobStarted},
				core.ProgressEvent{Kind: core.EventStepStarted, Step: core.StepChunk},
				core.ProgressEvent{Kind: core.EventStepFailed, Step: core.StepChunk, Error: "status code: 503", Retryable: true})
			require.NoError(t, err)

			require.NoError(t, h.orch.stopFailed(ctx, job, core.StepChunk, tc.stop, errors.New("status code: 503")))
			job, err = h.orch.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, job.Status)
			assert.Equal(t, tc.step, job.Step(core.StepChunk).Status)
			assert.Zero(t, job.RetryCount)
		})
	}
}

func TestPauseResume_KeepsStagedWork(t *testing.T) {
	h := newHarness(t)
	started, release := h.blockOn(extraction.SchemaMaterials)
	ctx := context.Background()

	job, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, job.ID)
	require.NoError(t, err)
	waitFor(t, started)

	_, err = h.orch.Pause(ctx, job.ID)
	require.NoError(t, err)
	close(release)

	job = h.wait(t, job.ID)
	require.Equal(t, core.JobPaused, job.Status)
	require.NotNil(t, job.PausedAt)
	step := job.Step(core.StepExtractMaterials)
	assert.Equal(t, core.StepPending, step.Status)
	assert.Equal(t, 1, step.ItemsProcessed)

	_, err = h.orch.Pause(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = h.orch.Resume(ctx, job.ID)
	require.NoError(t, err)
	job = h.wait(t, job.ID)
	require.Equal(t, core.JobCompleted, job.Status, job.ErrorMessage)
	assert.Nil(t, job.PausedAt)
	assert.Equal(t, 1, h.gen.CallCount(extraction.SchemaMaterials), "staged windows are not extracted again")
	assert.Equal(t, 2, job.Step(core.StepExtractMaterials).Details.Extraction.Entities)
}

func TestPause_OrphanedRunningJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
	require.NoError(t, err)
	_, err = h.stores.Jobs.Append(ctx, job.ID,
		core.ProgressEvent{Kind: core.EventJobStarted},
		core.ProgressEvent{Kind: core.EventStepStarted, Step: core.StepChunk})
	require.NoError(t, err)

	job, err = h.orch.Pause(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobPaused, job.Status)
	assert.Equal(t, core.StepPending, job.Step(core.StepChunk).Status)
}

func TestRecover_OrphanedJobs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
	require.NoError(t, err)
	_, err = h.stores.Jobs.Append(ctx, job.ID,
		core.ProgressEvent{Kind: core.EventJobStarted},
		core.ProgressEvent{Kind: core.EventStepStarted, Step: core.StepChunk})
	require.NoError(t, err)

	n, err := h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err = h.orch.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobQueued, job.Status)
	assert.Equal(t, core.StepPending, job.Step(core.StepChunk).Status)

	n, err = h.orch.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.orch.Start(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, h.wait(t, job.ID).Status)
}

func TestShutdown_PausesLiveJobs(t *testing.T) {
	h := newHarness(t)
	started, _ := h.blockOn(extraction.SchemaMaterials)
	ctx := context.Background()

	job, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, job.ID)
	require.NoError(t, err)
	waitFor(t, started)

	sctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err = h.orch.Shutdown(sctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	job, err = h.orch.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobPaused, job.Status)
	assert.Equal(t, core.StepPending, job.Step(core.StepExtractMaterials).Status)
	assert.Zero(t, h.orch.ActiveCount())

	other, err := h.orch.Submit(ctx, sampleDocument("doc-2"))
	require.NoError(t, err)
	_, err = h.orch.Start(ctx, other.ID)
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestDispatcher_RespectsCapacity(t *testing.T) {
	h := newHarness(t, WithAutoRetry(false))
	started, release := h.blockOn(extraction.SchemaMaterials)
	ctx := context.Background()

	first, err := h.orch.Submit(ctx, sampleDocument("doc-1"))
	require.NoError(t, err)
	second, err := h.orch.Submit(ctx, sampleDocument("doc-2"))
	require.NoError(t, err)

	d, err := NewDispatcher(h.orch, WithMaxActive(1), WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	n, err := d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	waitFor(t, started)

	n, err = d.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "no capacity while a job is running")

	close(release)
	var runningID string
	for _, id := range []string{first.ID, second.ID} {
		job, err := h.orch.Get(ctx, id)
		require.NoError(t, err)
		if job.Status != core.JobQueued {
			runningID = id
		}
	}
	require.NotEmpty(t, runningID)
	assert.Equal(t, core.JobCompleted, h.wait(t, runningID).Status)

	n, err = d.Poll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, core.JobCompleted, h.wait(t, first.ID).Status)
	assert.Equal(t, core.JobCompleted, h.wait(t, second.ID).Status)
}

func TestDispatcher_WaitsForRetryAfter(t *testing.T) {
	h := newHarness(t, WithAutoRetry(false), WithRetryDelay(time.Hour))
	var calls sync.Map
	h.emb.WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
		if _, seen := calls.LoadOrStore(text, true); !seen {
			return nil, errors.New("connection reset by peer")
		}
		return mock.DeterministicVector(text, testDim), nil
	})
	ctx := context.Background()

	job := h.run(t, sampleDocument("doc-1"))
	require.Equal(t, core.JobQueued, job.Status)
	assert.Equal(t, 1, job.RetryCount)
	require.NotNil(t, job.RetryAfter)

	d, err := NewDispatcher(h.orch)
	require.NoError(t, err)
	n, err := d.Poll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "retry_after has not passed")
}

func TestDeleteDocument_Cascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	job := h.run(t, sampleDocument("doc-1"))
	require.Equal(t, core.JobCompleted, job.Status)

	require.NoError(t, h.orch.DeleteDocument(ctx, "doc-1"))

	_, err := h.orch.Get(ctx, job.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	n, err := h.stores.Vectors.CountForDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = h.stores.Documents.Get(ctx, "doc-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	entities, err := h.stores.Entities.List(ctx, storage.EntityQuery{ProjectID: "proj-1"})
	require.NoError(t, err)
	require.Len(t, entities, 5, "entities survive their document")
	for _, e := range entities {
		assert.Empty(t, e.Meta().DocumentID)
		assert.Empty(t, e.Meta().JobID)
	}
}

func TestDeleteProject_Cascades(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.Equal(t, core.JobCompleted, h.run(t, sampleDocument("doc-1")).Status)
	require.Equal(t, core.JobCompleted, h.run(t, sampleDocument("doc-2")).Status)

	require.NoError(t, h.orch.DeleteProject(ctx, "proj-1"))

	jobs, err := h.orch.List(ctx, storage.JobQuery{ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Empty(t, jobs)
	docs, err := h.stores.Documents.ListForProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Empty(t, docs)
	entities, err := h.stores.Entities.List(ctx, storage.EntityQuery{ProjectID: "proj-1"})
	require.NoError(t, err)
	assert.Empty(t, entities)
}

func TestProgressPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressPrinter(&buf, time.Hour)
	h := newHarness(t, WithObserver(p.Observe))

	job := h.run(t, sampleDocument("doc-1"))
	require.Equal(t, core.JobCompleted, job.Status)

	out := buf.String()
	assert.Contains(t, out, job.ID+": running")
	assert.Contains(t, out, "Generating Embeddings")
	assert.Contains(t, out, job.ID+": completed 6/6 steps (100.0%)")
	assert.True(t, strings.HasSuffix(out, "\n"))
}
