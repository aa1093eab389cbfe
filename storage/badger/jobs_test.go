package badger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createJob(t *testing.T, js *JobStore, jobID, documentID string, at time.Time) *core.ProcessingJob {
	t.Helper()
	plan := core.JobPlan{DocumentID: documentID, ProjectID: "proj-1", MaxRetries: 3, Steps: core.DefaultPlan()}
	job, err := js.Append(context.Background(), jobID, core.NewJobCreated(jobID, plan, at))
	require.NoError(t, err)
	return job
}

func TestJobStore_AppendAssignsSequence(t *testing.T) {
	ctx := context.Background()
	js := newTestStores(t).Jobs

	job := createJob(t, js, "job-1", "doc-1", time.Now().UTC())
	assert.Equal(t, uint64(1), job.Version)
	assert.Equal(t, core.JobQueued, job.Status)

	job, err := js.Append(ctx, "job-1",
		core.ProgressEvent{Kind: core.EventJobStarted},
		core.ProgressEvent{Kind: core.EventStepStarted, Step: core.StepChunk},
	)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), job.Version)
	assert.Equal(t, core.JobRunning, job.Status)

	events, err := js.Events(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, "job-1", ev.JobID)
		assert.False(t, ev.At.IsZero())
	}

	stored, err := js.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.Status, stored.Status)
	assert.Equal(t, core.StepRunning, stored.Step(core.StepChunk).Status)
}

func TestJobStore_RejectedEventWritesNothing(t *testing.T) {
	ctx := context.Background()
	js := newTestStores(t).Jobs
	createJob(t, js, "job-1", "doc-1", time.Now().UTC())

	// The second event is invalid: a queued job cannot complete.
	_, err := js.Append(ctx, "job-1",
		core.ProgressEvent{Kind: core.EventJobStarted},
		core.ProgressEvent{Kind: core.EventJobCompleted},
	)
	require.ErrorIs(t, err, core.ErrInvalidTransition)

	job, err := js.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobQueued, job.Status)
	assert.Equal(t, uint64(1), job.Version)

	events, err := js.Events(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestJobStore_EventBeforeCreate(t *testing.T) {
	js := newTestStores(t).Jobs
	_, err := js.Append(context.Background(), "ghost", core.ProgressEvent{Kind: core.EventJobStarted})
	require.ErrorIs(t, err, core.ErrInvalidEvent)

	_, err = js.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobStore_ConcurrentAppendsAreSerialized(t *testing.T) {
	ctx := context.Background()
	js := newTestStores(t).Jobs
	createJob(t, js, "job-1", "doc-1", time.Now().UTC())
	_, err := js.Append(ctx, "job-1",
		core.ProgressEvent{Kind: core.EventJobStarted},
		core.ProgressEvent{Kind: core.EventStepStarted, Step: core.StepChunk},
	)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := js.Append(ctx, "job-1", core.ProgressEvent{Kind: core.EventStepProgress, Step: core.StepChunk, Message: "tick"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	job, err := js.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(23), job.Version)

	events, err := js.Events(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, events, 23)
}

func TestJobStore_StageItems(t *testing.T) {
	ctx := context.Background()
	js := newTestStores(t).Jobs
	createJob(t, js, "job-1", "doc-1", time.Now().UTC())
	_, err := js.Append(ctx, "job-1",
		core.ProgressEvent{Kind: core.EventJobStarted},
		core.ProgressEvent{Kind: core.EventStepStarted, Step: core.StepChunk},
		core.ProgressEvent{Kind: core.EventStepCompleted, Step: core.StepChunk},
		core.ProgressEvent{Kind: core.EventStepStarted, Step: core.StepEmbed, ItemsTotal: 3},
	)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		job, err := js.StageItem(ctx, "job-1", core.StepEmbed, i, []byte(fmt.Sprintf("item-%d", i)),
			core.ProgressEvent{Kind: core.EventStepProgress, Step: core.StepEmbed, ItemsProcessed: i + 1})
		require.NoError(t, err)
		assert.Equal(t, i+1, job.Step(core.StepEmbed).ItemsProcessed)
	}

	// A rejected progress event leaves no staged payload behind.
	_, err = js.StageItem(ctx, "job-1", core.StepEmbed, 2, []byte("item-2"),
		core.ProgressEvent{Kind: core.EventStepProgress, Step: core.StepEmbed, ItemsProcessed: 1})
	require.ErrorIs(t, err, core.ErrInvalidEvent)

	items, err := js.StagedItems(ctx, "job-1", core.StepEmbed)
	require.NoError(t, err)
	assert.Equal(t, map[int][]byte{0: []byte("item-0"), 1: []byte("item-1")}, items)

	other, err := js.StagedItems(ctx, "job-1", core.StepChunk)
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, js.ClearStaged(ctx, "job-1", core.StepEmbed))
	items, err = js.StagedItems(ctx, "job-1", core.StepEmbed)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestJobStore_RebuildMatchesProjection(t *testing.T) {
	ctx := context.Background()
	js := newTestStores(t).Jobs
	createJob(t, js, "job-1", "doc-1", time.Now().UTC())
	want, err := js.Append(ctx, "job-1",
		core.ProgressEvent{Kind: core.EventJobStarted},
		core.ProgressEvent{Kind: core.EventStepStarted, Step: core.StepChunk},
		core.ProgressEvent{Kind: core.EventStepCompleted, Step: core.StepChunk},
	)
	require.NoError(t, err)

	got, err := js.Rebuild(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.CompletedSteps, got.CompletedSteps)
	assert.Equal(t, want.Progress, got.Progress)
	assert.Equal(t, want.CurrentStep, got.CurrentStep)
}

func TestJobStore_List(t *testing.T) {
	ctx := context.Background()
	js := newTestStores(t).Jobs
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	createJob(t, js, "job-b", "doc-1", base.Add(time.Minute))
	createJob(t, js, "job-a", "doc-1", base)
	createJob(t, js, "job-c", "doc-2", base.Add(2*time.Minute))
	_, err := js.Append(ctx, "job-c", core.ProgressEvent{Kind: core.EventJobCancelled})
	require.NoError(t, err)

	jobs, err := js.List(ctx, storage.JobQuery{})
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "job-a", jobs[0].ID)
	assert.Equal(t, "job-b", jobs[1].ID)

	jobs, err = js.List(ctx, storage.JobQuery{DocumentID: "doc-2"})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-c", jobs[0].ID)

	jobs, err = js.List(ctx, storage.JobQuery{Statuses: []core.JobStatus{core.JobQueued}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-a", jobs[0].ID)
}

func TestJobStore_ListDueBefore(t *testing.T) {
	ctx := context.Background()
	js := newTestStores(t).Jobs
	now := time.Now().UTC()

	createJob(t, js, "job-1", "doc-1", now)
	later := now.Add(time.Hour)
	_, err := js.Append(ctx, "job-1",
		core.ProgressEvent{Kind: core.EventJobStarted},
		core.ProgressEvent{Kind: core.EventStepStarted, Step: core.StepChunk},
		core.ProgressEvent{Kind: core.EventStepFailed, Step: core.StepChunk, Error: "timeout"},
		core.ProgressEvent{Kind: core.EventJobRequeued, Step: core.StepChunk, Error: "timeout", RetryAfter: &later},
	)
	require.NoError(t, err)
	createJob(t, js, "job-2", "doc-2", now)

	jobs, err := js.List(ctx, storage.JobQuery{Statuses: []core.JobStatus{core.JobQueued}, DueBefore: &now})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-2", jobs[0].ID)
}

func TestJobStore_DeleteJob(t *testing.T) {
	ctx := context.Background()
	js := newTestStores(t).Jobs
	createJob(t, js, "job-1", "doc-1", time.Now().UTC())
	createJob(t, js, "job-10", "doc-1", time.Now().UTC())
	_, err := js.Append(ctx, "job-1",
		core.ProgressEvent{Kind: core.EventJobStarted},
		core.ProgressEvent{Kind: core.EventStepStarted, Step: core.StepChunk},
	)
	require.NoError(t, err)
	_, err = js.StageItem(ctx, "job-1", core.StepChunk, 0, []byte("x"),
		core.ProgressEvent{Kind: core.EventStepProgress, Step: core.StepChunk})
	require.NoError(t, err)

	require.NoError(t, js.DeleteJob(ctx, "job-1"))

	_, err = js.Get(ctx, "job-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = js.Events(ctx, "job-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	items, err := js.StagedItems(ctx, "job-1", core.StepChunk)
	require.NoError(t, err)
	assert.Empty(t, items)

	events, err := js.Events(ctx, "job-10")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	assert.ErrorIs(t, js.DeleteJob(ctx, "job-1"), storage.ErrNotFound)
}
