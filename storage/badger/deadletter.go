package badger

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
)

// DeadLetterStore implements storage.DeadLetterStore.
type DeadLetterStore struct {
	backend *Backend
}

var _ storage.DeadLetterStore = (*DeadLetterStore)(nil)

// NewDeadLetterStore creates a DeadLetterStore on backend.
func NewDeadLetterStore(backend *Backend) *DeadLetterStore {
	return &DeadLetterStore{backend: backend}
}

func putDeadLetter(tx *badger.Txn, entry *core.DeadLetter) error {
	data, err := storage.MarshalRecord(entry)
	if err != nil {
		return err
	}
	return tx.Set(makeDeadLetterKey(entry.ID), data)
}

func readDeadLetter(tx *badger.Txn, id string) (*core.DeadLetter, error) {
	val, err := get(tx, makeDeadLetterKey(id))
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalRecord[core.DeadLetter](val)
}

// Add stores a new entry, assigning an id and timestamp when unset.
func (s *DeadLetterStore) Add(ctx context.Context, entry *core.DeadLetter) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return s.backend.Update(func(tx *badger.Txn) error {
		if _, err := get(tx, makeDeadLetterKey(entry.ID)); err == nil {
			return storage.ErrDuplicateKey
		}
		return putDeadLetter(tx, entry)
	})
}

// Get returns an entry by id.
func (s *DeadLetterStore) Get(ctx context.Context, id string) (*core.DeadLetter, error) {
	var entry *core.DeadLetter
	err := s.backend.View(func(tx *badger.Txn) error {
		var err error
		entry, err = readDeadLetter(tx, id)
		return err
	})
	return entry, err
}

func (s *DeadLetterStore) all() ([]*core.DeadLetter, error) {
	var entries []*core.DeadLetter
	err := s.backend.View(func(tx *badger.Txn) error {
		return scan(tx, []byte(deadPrefix), true, func(_, val []byte) error {
			entry, err := storage.UnmarshalRecord[core.DeadLetter](val)
			if err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	slices.SortFunc(entries, func(a, b *core.DeadLetter) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return entries, err
}

// List returns entries oldest first.
func (s *DeadLetterStore) List(ctx context.Context, includeProcessed bool, limit int) ([]*core.DeadLetter, error) {
	entries, err := s.all()
	if err != nil {
		return nil, err
	}
	if !includeProcessed {
		entries = slices.DeleteFunc(entries, func(e *core.DeadLetter) bool { return e.Processed })
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Count returns the number of unprocessed entries.
func (s *DeadLetterStore) Count(ctx context.Context) (int, error) {
	entries, err := s.List(ctx, false, 0)
	return len(entries), err
}

// MarkProcessed records that an entry was resolved, optionally by a requeue.
func (s *DeadLetterStore) MarkProcessed(ctx context.Context, id, requeuedJobID string, at time.Time) error {
	return s.backend.Update(func(tx *badger.Txn) error {
		entry, err := readDeadLetter(tx, id)
		if err != nil {
			return err
		}
		entry.Processed = true
		entry.ProcessedAt = &at
		entry.RequeuedJobID = requeuedJobID
		return putDeadLetter(tx, entry)
	})
}

// Purge removes processed entries created before olderThan.
func (s *DeadLetterStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	entries, err := s.all()
	if err != nil {
		return 0, err
	}
	n := 0
	err = s.backend.Update(func(tx *badger.Txn) error {
		n = 0
		for _, e := range entries {
			if e.Processed && e.CreatedAt.Before(olderThan) {
				if err := tx.Delete(makeDeadLetterKey(e.ID)); err != nil {
					return err
				}
				n++
			}
		}
		return nil
	})
	return n, err
}
