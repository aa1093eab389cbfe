package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	t      *testing.T
	job    *ProcessingJob
	events []ProgressEvent
	now    time.Time
}

func newEventLog(t *testing.T, maxRetries int) *eventLog {
	l := &eventLog{t: t, job: &ProcessingJob{}, now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	l.must(NewJobCreated("job-1", JobPlan{DocumentID: "doc-1", ProjectID: "proj-1", MaxRetries: maxRetries, Steps: DefaultPlan()}, l.now))
	return l
}

func (l *eventLog) apply(ev ProgressEvent) error {
	l.now = l.now.Add(time.Second)
	if ev.JobID == "" {
		ev.JobID = "job-1"
	}
	if ev.At.IsZero() {
		ev.At = l.now
	}
	ev.Seq = uint64(len(l.events) + 1)
	if err := l.job.Apply(ev); err != nil {
		return err
	}
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) must(ev ProgressEvent) {
	l.t.Helper()
	require.NoError(l.t, l.apply(ev))
}

func (l *eventLog) runStep(key StepKey) {
	l.must(ProgressEvent{Kind: EventStepStarted, Step: key})
	l.must(ProgressEvent{Kind: EventStepCompleted, Step: key})
}

func TestJobCreated_Plan(t *testing.T) {
	l := newEventLog(t, 3)
	job := l.job

	assert.Equal(t, JobQueued, job.Status)
	assert.Equal(t, 6, job.TotalSteps)
	assert.Len(t, job.Steps, 6)
	assert.True(t, job.CanRetry)
	assert.Equal(t, StepChunk, job.CurrentStep)
	for i, s := range job.Steps {
		assert.Equal(t, i+1, s.Order)
		assert.Equal(t, StepPending, s.Status)
	}
}

func TestJob_ChunkStepAdvancesCurrentStep(t *testing.T) {
	l := newEventLog(t, 3)
	l.must(ProgressEvent{Kind: EventJobStarted})
	l.runStep(StepChunk)

	completed := 0
	for _, s := range l.job.Steps {
		if s.Status == StepCompleted {
			completed++
			assert.Equal(t, 1, s.Order)
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, StepEmbed, l.job.CurrentStep)
	assert.InDelta(t, 100.0/6, l.job.Progress, 0.001)
}

func TestJob_FullRunCompletes(t *testing.T) {
	l := newEventLog(t, 3)
	l.must(ProgressEvent{Kind: EventJobStarted})
	for _, spec := range DefaultPlan() {
		l.runStep(spec.Key)
	}
	l.must(ProgressEvent{Kind: EventJobCompleted})

	assert.Equal(t, JobCompleted, l.job.Status)
	assert.Equal(t, 6, l.job.CompletedSteps)
	assert.Equal(t, 100.0, l.job.Progress)
	assert.NotNil(t, l.job.CompletedAt)
	assert.Empty(t, l.job.CurrentStep)
}

func TestJob_NoQueuedToCompleted(t *testing.T) {
	l := newEventLog(t, 3)
	err := l.apply(ProgressEvent{Kind: EventJobCompleted})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, JobQueued, l.job.Status)
}

func TestJob_CompletionRequiresAllSteps(t *testing.T) {
	l := newEventLog(t, 3)
	l.must(ProgressEvent{Kind: EventJobStarted})
	l.runStep(StepChunk)
	require.ErrorIs(t, l.apply(ProgressEvent{Kind: EventJobCompleted}), ErrInvalidTransition)
}

func TestJob_StepOrderEnforced(t *testing.T) {
	l := newEventLog(t, 3)
	l.must(ProgressEvent{Kind: EventJobStarted})

	err := l.apply(ProgressEvent{Kind: EventStepStarted, Step: StepEmbed})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StepPending, l.job.Step(StepEmbed).Status)
}

func TestJob_StepRequiresRunningJob(t *testing.T) {
	l := newEventLog(t, 3)
	require.ErrorIs(t, l.apply(ProgressEvent{Kind: EventStepStarted, Step: StepChunk}), ErrInvalidTransition)
}

func TestJob_TransientRetryBudget(t *testing.T) {
	l := newEventLog(t, 3)
	l.must(ProgressEvent{Kind: EventJobStarted})
	l.runStep(StepChunk)

	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			l.must(ProgressEvent{Kind: EventJobStarted})
		}
		l.must(ProgressEvent{Kind: EventStepStarted, Step: StepEmbed})
		l.must(ProgressEvent{Kind: EventStepFailed, Step: StepEmbed, Error: "rate limited"})
		l.must(ProgressEvent{Kind: EventJobRequeued, Step: StepEmbed, Error: "rate limited"})

		assert.Equal(t, JobQueued, l.job.Status)
		assert.Equal(t, attempt, l.job.RetryCount)
		assert.True(t, l.job.CanRetry)
		assert.Equal(t, StepCompleted, l.job.Step(StepChunk).Status, "completed steps are not redone")
	}

	l.must(ProgressEvent{Kind: EventJobStarted})
	l.must(ProgressEvent{Kind: EventStepStarted, Step: StepEmbed})
	l.must(ProgressEvent{Kind: EventStepFailed, Step: StepEmbed, Error: "rate limited"})

	require.ErrorIs(t, l.apply(ProgressEvent{Kind: EventJobRequeued, Step: StepEmbed}), ErrInvalidTransition)
	l.must(ProgressEvent{Kind: EventJobFailed, Step: StepEmbed, Error: "rate limited"})

	assert.Equal(t, JobFailed, l.job.Status)
	assert.Equal(t, 4, l.job.RetryCount)
	assert.False(t, l.job.CanRetry)
	assert.Equal(t, StepEmbed, l.job.ErrorStep)
}

func TestJob_PauseResume(t *testing.T) {
	l := newEventLog(t, 3)
	require.ErrorIs(t, l.apply(ProgressEvent{Kind: EventJobPaused}), ErrInvalidTransition, "pause only while running")

	l.must(ProgressEvent{Kind: EventJobStarted})
	l.must(ProgressEvent{Kind: EventStepStarted, Step: StepChunk, ItemsTotal: 4})
	l.must(ProgressEvent{Kind: EventStepProgress, Step: StepChunk, ItemsTotal: 4, ItemsProcessed: 2})

	require.ErrorIs(t, l.apply(ProgressEvent{Kind: EventJobPaused}), ErrInvalidTransition, "step must reach a boundary first")

	l.must(ProgressEvent{Kind: EventStepReset, Step: StepChunk})
	l.must(ProgressEvent{Kind: EventJobPaused})
	assert.Equal(t, JobPaused, l.job.Status)
	assert.NotNil(t, l.job.PausedAt)
	assert.Equal(t, 2, l.job.Step(StepChunk).ItemsProcessed, "durable sub-item progress survives pause")

	l.must(ProgressEvent{Kind: EventJobResumed})
	assert.Equal(t, JobRunning, l.job.Status)
	assert.Nil(t, l.job.PausedAt)
	assert.Equal(t, StepChunk, l.job.NextStep().Key)
}

func TestJob_CancelMidStep(t *testing.T) {
	l := newEventLog(t, 3)
	l.must(ProgressEvent{Kind: EventJobStarted})
	l.runStep(StepChunk)
	l.runStep(StepEmbed)
	l.must(ProgressEvent{Kind: EventStepStarted, Step: StepExtractMaterials})
	l.must(ProgressEvent{Kind: EventStepSkipped, Step: StepExtractMaterials,
		Details: &StepDetails{SkipReason: SkipReasonCancelled}})
	l.must(ProgressEvent{Kind: EventJobCancelled})

	assert.Equal(t, JobCancelled, l.job.Status)
	assert.Equal(t, 2, l.job.CompletedSteps, "cancellation skip does not count as completed")
	assert.Equal(t, StepSkipped, l.job.Step(StepExtractMaterials).Status)
	assert.False(t, l.job.CanRetry)

	require.ErrorIs(t, l.apply(ProgressEvent{Kind: EventJobStarted}), ErrInvalidTransition, "cancelled is terminal")
}

func TestJob_ProgressNeverDecreases(t *testing.T) {
	l := newEventLog(t, 3)
	l.must(ProgressEvent{Kind: EventJobStarted})
	last := l.job.Progress
	check := func() {
		assert.GreaterOrEqual(t, l.job.Progress, last)
		assert.LessOrEqual(t, l.job.CompletedSteps, l.job.TotalSteps)
		last = l.job.Progress
	}
	l.runStep(StepChunk)
	check()
	l.must(ProgressEvent{Kind: EventStepStarted, Step: StepEmbed})
	l.must(ProgressEvent{Kind: EventStepFailed, Step: StepEmbed})
	l.must(ProgressEvent{Kind: EventJobRequeued, Step: StepEmbed})
	check()
	l.must(ProgressEvent{Kind: EventJobStarted})
	l.runStep(StepEmbed)
	check()
}

func TestJob_ItemsProcessedCannotRegress(t *testing.T) {
	l := newEventLog(t, 3)
	l.must(ProgressEvent{Kind: EventJobStarted})
	l.must(ProgressEvent{Kind: EventStepStarted, Step: StepChunk, ItemsTotal: 10})
	l.must(ProgressEvent{Kind: EventStepProgress, Step: StepChunk, ItemsProcessed: 5})
	require.ErrorIs(t, l.apply(ProgressEvent{Kind: EventStepProgress, Step: StepChunk, ItemsProcessed: 4}), ErrInvalidEvent)
	require.ErrorIs(t, l.apply(ProgressEvent{Kind: EventStepProgress, Step: StepChunk, ItemsProcessed: 11}), ErrInvalidTransition)
	assert.Equal(t, 5, l.job.Step(StepChunk).ItemsProcessed)
}

func TestReplay_MatchesIncrementalProjection(t *testing.T) {
	l := newEventLog(t, 3)
	l.must(ProgressEvent{Kind: EventJobStarted})
	l.runStep(StepChunk)
	l.must(ProgressEvent{Kind: EventStepStarted, Step: StepEmbed, ItemsTotal: 3})
	l.must(ProgressEvent{Kind: EventStepProgress, Step: StepEmbed, ItemsProcessed: 1})

	replayed, err := Replay(l.events)
	require.NoError(t, err)
	assert.Equal(t, l.job, replayed)
}

func TestReplay_Empty(t *testing.T) {
	_, err := Replay(nil)
	require.ErrorIs(t, err, ErrInvalidEvent)
}
