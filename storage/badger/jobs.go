package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
)

// JobStore implements storage.JobStore. A job's events, its projection and
// any staged sub-item results always change in the same transaction.
type JobStore struct {
	backend *Backend
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ storage.JobStore = (*JobStore)(nil)

// NewJobStore creates a JobStore on backend.
func NewJobStore(backend *Backend) *JobStore {
	return &JobStore{
		backend: backend,
		logger:  slog.Default().With("component", "job-store"),
		locks:   make(map[string]*sync.Mutex),
	}
}

// lock serializes writers of one job.
func (s *JobStore) lock(jobID string) func() {
	s.mu.Lock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func readJob(tx *badger.Txn, jobID string) (*core.ProcessingJob, error) {
	val, err := get(tx, makeJobKey(jobID))
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalRecord[core.ProcessingJob](val)
}

// appendTx folds events into the stored projection and writes both.
func appendTx(tx *badger.Txn, jobID string, events []core.ProgressEvent) (*core.ProcessingJob, error) {
	job, err := readJob(tx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		job = &core.ProcessingJob{}
	} else if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, ev := range events {
		if ev.JobID == "" {
			ev.JobID = jobID
		}
		if ev.JobID != jobID {
			return nil, fmt.Errorf("%w: event for %s appended to %s", core.ErrInvalidEvent, ev.JobID, jobID)
		}
		if ev.At.IsZero() {
			ev.At = now
		}
		ev.Seq = job.Version + 1
		if err := job.Apply(ev); err != nil {
			return nil, err
		}
		data, err := storage.MarshalRecord(ev)
		if err != nil {
			return nil, err
		}
		if err := tx.Set(makeJobEventKey(jobID, ev.Seq), data); err != nil {
			return nil, err
		}
	}

	data, err := storage.MarshalRecord(job)
	if err != nil {
		return nil, err
	}
	if err := tx.Set(makeJobKey(jobID), data); err != nil {
		return nil, err
	}
	return job, nil
}

// Append validates events against the job projection and persists them.
func (s *JobStore) Append(ctx context.Context, jobID string, events ...core.ProgressEvent) (*core.ProcessingJob, error) {
	if jobID == "" || strings.Contains(jobID, sep) {
		return nil, fmt.Errorf("%w: invalid job id %q", storage.ErrInvalidQuery, jobID)
	}
	unlock := s.lock(jobID)
	defer unlock()

	var job *core.ProcessingJob
	err := s.backend.Update(func(tx *badger.Txn) error {
		var err error
		job, err = appendTx(tx, jobID, events)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// StageItem stores a sub-item result and its progress event together.
func (s *JobStore) StageItem(ctx context.Context, jobID string, step core.StepKey, index int, payload []byte, ev core.ProgressEvent) (*core.ProcessingJob, error) {
	unlock := s.lock(jobID)
	defer unlock()

	var job *core.ProcessingJob
	err := s.backend.Update(func(tx *badger.Txn) error {
		var err error
		job, err = appendTx(tx, jobID, []core.ProgressEvent{ev})
		if err != nil {
			return err
		}
		return tx.Set(makeStageKey(jobID, step, index), payload)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// StagedItems returns a step's staged results keyed by sub-item index.
func (s *JobStore) StagedItems(ctx context.Context, jobID string, step core.StepKey) (map[int][]byte, error) {
	items := make(map[int][]byte)
	err := s.backend.View(func(tx *badger.Txn) error {
		return scan(tx, makeStagePrefix(jobID, step), true, func(key, val []byte) error {
			items[stageIndex(key)] = val
			return nil
		})
	})
	return items, err
}

// ClearStaged removes a step's staged results.
func (s *JobStore) ClearStaged(ctx context.Context, jobID string, step core.StepKey) error {
	return s.backend.Update(func(tx *badger.Txn) error {
		_, err := deletePrefix(tx, makeStagePrefix(jobID, step))
		return err
	})
}

// Get returns the current projection of a job.
func (s *JobStore) Get(ctx context.Context, jobID string) (*core.ProcessingJob, error) {
	var job *core.ProcessingJob
	err := s.backend.View(func(tx *badger.Txn) error {
		var err error
		job, err = readJob(tx, jobID)
		return err
	})
	return job, err
}

// Events returns a job's event log in sequence order.
func (s *JobStore) Events(ctx context.Context, jobID string) ([]core.ProgressEvent, error) {
	var events []core.ProgressEvent
	err := s.backend.View(func(tx *badger.Txn) error {
		return scan(tx, makeJobEventPrefix(jobID), true, func(_, val []byte) error {
			ev, err := storage.UnmarshalRecord[core.ProgressEvent](val)
			if err != nil {
				return err
			}
			events = append(events, *ev)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, storage.ErrNotFound
	}
	return events, nil
}

// Rebuild replays the event log and stores the resulting projection.
func (s *JobStore) Rebuild(ctx context.Context, jobID string) (*core.ProcessingJob, error) {
	unlock := s.lock(jobID)
	defer unlock()

	events, err := s.Events(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job, err := core.Replay(events)
	if err != nil {
		return nil, err
	}
	data, err := storage.MarshalRecord(job)
	if err != nil {
		return nil, err
	}
	if err := s.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeJobKey(jobID), data)
	}); err != nil {
		return nil, err
	}
	return job, nil
}

// List returns jobs matching q ordered by creation time.
func (s *JobStore) List(ctx context.Context, q storage.JobQuery) ([]*core.ProcessingJob, error) {
	var jobs []*core.ProcessingJob
	err := s.backend.View(func(tx *badger.Txn) error {
		return scan(tx, []byte(jobPrefix), true, func(_, val []byte) error {
			job, err := storage.UnmarshalRecord[core.ProcessingJob](val)
			if err != nil {
				return err
			}
			if matchesJob(job, q) {
				jobs = append(jobs, job)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(jobs, func(a, b *core.ProcessingJob) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	if q.Limit > 0 && len(jobs) > q.Limit {
		jobs = jobs[:q.Limit]
	}
	return jobs, nil
}

func matchesJob(job *core.ProcessingJob, q storage.JobQuery) bool {
	if q.ProjectID != "" && job.ProjectID != q.ProjectID {
		return false
	}
	if q.DocumentID != "" && job.DocumentID != q.DocumentID {
		return false
	}
	if len(q.Statuses) > 0 && !slices.Contains(q.Statuses, job.Status) {
		return false
	}
	if q.DueBefore != nil && job.RetryAfter != nil && job.RetryAfter.After(*q.DueBefore) {
		return false
	}
	return true
}

// DeleteJob removes a job, its event log and staged data.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	unlock := s.lock(jobID)
	defer unlock()

	err := s.backend.Update(func(tx *badger.Txn) error {
		if _, err := readJob(tx, jobID); err != nil {
			return err
		}
		if _, err := deletePrefix(tx, makeJobEventPrefix(jobID)); err != nil {
			return err
		}
		if _, err := deletePrefix(tx, makeJobStagePrefix(jobID)); err != nil {
			return err
		}
		return tx.Delete(makeJobKey(jobID))
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.locks, jobID)
	s.mu.Unlock()
	return nil
}
