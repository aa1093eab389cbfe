package badger

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
)

// EntityStore implements storage.EntityStore. Entities are keyed by kind and
// id, with a secondary index by source document.
type EntityStore struct {
	backend *Backend
	logger  *slog.Logger
}

var _ storage.EntityStore = (*EntityStore)(nil)

// NewEntityStore creates an EntityStore on backend.
func NewEntityStore(backend *Backend) *EntityStore {
	return &EntityStore{
		backend: backend,
		logger:  slog.Default().With("component", "entity-store"),
	}
}

func readEntity(tx *badger.Txn, kind core.EntityKind, id string) (core.Entity, error) {
	val, err := get(tx, makeEntityKey(kind, id))
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalEntity(val)
}

func putEntity(tx *badger.Txn, e core.Entity) error {
	m := e.Meta()
	data, err := storage.MarshalEntity(e)
	if err != nil {
		return err
	}
	if err := tx.Set(makeEntityKey(m.Kind, m.ID), data); err != nil {
		return err
	}
	if m.DocumentID != "" {
		return tx.Set(makeEntityDocKey(m.DocumentID, m.Kind, m.ID), nil)
	}
	return nil
}

// ReplaceForDocument supersedes every entity of kind previously extracted
// from documentID.
func (s *EntityStore) ReplaceForDocument(ctx context.Context, kind core.EntityKind, documentID string, entities []core.Entity) error {
	if documentID == "" || strings.Contains(documentID, sep) {
		return fmt.Errorf("%w: invalid document id %q", storage.ErrInvalidQuery, documentID)
	}
	now := time.Now().UTC()
	for _, e := range entities {
		m := e.Meta()
		if m.Kind != kind {
			return fmt.Errorf("%w: %s entity in %s replace", core.ErrInvalidEntity, m.Kind, kind)
		}
		if m.DocumentID != documentID {
			return fmt.Errorf("%w: entity document %q does not match %q", core.ErrInvalidEntity, m.DocumentID, documentID)
		}
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		m.UpdatedAt = now
		if err := core.ValidateEntity(e); err != nil {
			return err
		}
	}

	err := s.backend.Update(func(tx *badger.Txn) error {
		prefix := makeEntityDocKindPrefix(documentID, kind)
		var stale []string
		if err := scan(tx, prefix, false, func(key, _ []byte) error {
			stale = append(stale, string(key[len(prefix):]))
			return nil
		}); err != nil {
			return err
		}
		for _, id := range stale {
			if err := tx.Delete(makeEntityKey(kind, id)); err != nil {
				return err
			}
			if err := tx.Delete(makeEntityDocKey(documentID, kind, id)); err != nil {
				return err
			}
		}
		for _, e := range entities {
			if err := putEntity(tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("replaced entities", "kind", kind, "document", documentID, "count", len(entities))
	return nil
}

// Get returns one entity.
func (s *EntityStore) Get(ctx context.Context, kind core.EntityKind, id string) (core.Entity, error) {
	var e core.Entity
	err := s.backend.View(func(tx *badger.Txn) error {
		var err error
		e, err = readEntity(tx, kind, id)
		return err
	})
	return e, err
}

// List returns entities matching q, priority-review entities first and then
// by ascending confidence.
func (s *EntityStore) List(ctx context.Context, q storage.EntityQuery) ([]core.Entity, error) {
	kinds := core.EntityKinds()
	if q.Kind != "" {
		kinds = []core.EntityKind{q.Kind}
	}

	var out []core.Entity
	err := s.backend.View(func(tx *badger.Txn) error {
		for _, kind := range kinds {
			if err := scan(tx, makeEntityKindPrefix(kind), true, func(_, val []byte) error {
				e, err := storage.UnmarshalEntity(val)
				if err != nil {
					return err
				}
				if matchesEntity(e.Meta(), q) {
					out = append(out, e)
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(out, compareEntities)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func matchesEntity(m *core.EntityMeta, q storage.EntityQuery) bool {
	switch {
	case q.ProjectID != "" && m.ProjectID != q.ProjectID:
		return false
	case q.DocumentID != "" && m.DocumentID != q.DocumentID:
		return false
	case q.JobID != "" && m.JobID != q.JobID:
		return false
	case q.State != "" && m.Review.State != q.State:
		return false
	case q.PriorityOnly && !m.PriorityReview:
		return false
	}
	return true
}

func compareEntities(a, b core.Entity) int {
	ma, mb := a.Meta(), b.Meta()
	if ma.PriorityReview != mb.PriorityReview {
		if ma.PriorityReview {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(ma.Confidence, mb.Confidence); c != 0 {
		return c
	}
	if c := cmp.Compare(ma.Kind, mb.Kind); c != 0 {
		return c
	}
	return cmp.Compare(ma.ID, mb.ID)
}

// UpdateReview applies fn to the entity's review and stores the result.
// Nothing is written when fn fails.
func (s *EntityStore) UpdateReview(ctx context.Context, kind core.EntityKind, id string, fn func(*core.Review) error) (core.Entity, error) {
	var e core.Entity
	err := s.backend.Update(func(tx *badger.Txn) error {
		var err error
		e, err = readEntity(tx, kind, id)
		if err != nil {
			return err
		}
		m := e.Meta()
		if err := fn(&m.Review); err != nil {
			return err
		}
		if err := m.Review.Validate(); err != nil {
			return err
		}
		m.UpdatedAt = time.Now().UTC()
		return putEntity(tx, e)
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DetachDocument clears the document and job references of every entity
// extracted from documentID.
func (s *EntityStore) DetachDocument(ctx context.Context, documentID string) (int, error) {
	n := 0
	err := s.backend.Update(func(tx *badger.Txn) error {
		n = 0
		prefix := makeEntityDocPrefix(documentID)
		var refs []string
		if err := scan(tx, prefix, false, func(key, _ []byte) error {
			refs = append(refs, string(key[len(prefix):]))
			return nil
		}); err != nil {
			return err
		}
		for _, ref := range refs {
			kind, id, ok := strings.Cut(ref, sep)
			if !ok {
				continue
			}
			e, err := readEntity(tx, core.EntityKind(kind), id)
			if err != nil {
				return err
			}
			m := e.Meta()
			m.DocumentID = ""
			m.JobID = ""
			m.UpdatedAt = time.Now().UTC()
			if err := putEntity(tx, e); err != nil {
				return err
			}
			if err := tx.Delete(makeEntityDocKey(documentID, core.EntityKind(kind), id)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// DeleteProject removes every entity belonging to projectID.
func (s *EntityStore) DeleteProject(ctx context.Context, projectID string) (int, error) {
	n := 0
	err := s.backend.Update(func(tx *badger.Txn) error {
		n = 0
		var doomed []core.Entity
		if err := scan(tx, []byte(entityPrefix), true, func(_, val []byte) error {
			e, err := storage.UnmarshalEntity(val)
			if err != nil {
				return err
			}
			if e.Meta().ProjectID == projectID {
				doomed = append(doomed, e)
			}
			return nil
		}); err != nil {
			return err
		}
		for _, e := range doomed {
			m := e.Meta()
			if err := tx.Delete(makeEntityKey(m.Kind, m.ID)); err != nil {
				return err
			}
			if m.DocumentID != "" {
				if err := tx.Delete(makeEntityDocKey(m.DocumentID, m.Kind, m.ID)); err != nil {
					return err
				}
			}
			n++
		}
		return nil
	})
	return n, err
}
