package badger

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
)

// DocumentStore implements storage.DocumentStore.
type DocumentStore struct {
	backend *Backend
}

var _ storage.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates a DocumentStore on backend.
func NewDocumentStore(backend *Backend) *DocumentStore {
	return &DocumentStore{backend: backend}
}

// Put stores or replaces a document.
func (s *DocumentStore) Put(ctx context.Context, doc *core.Document) error {
	if err := core.ValidateDocument(doc); err != nil {
		return err
	}
	if strings.Contains(doc.ID, sep) || strings.Contains(doc.ProjectID, sep) {
		return storage.ErrInvalidQuery
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	data, err := storage.MarshalRecord(doc)
	if err != nil {
		return err
	}
	return s.backend.Update(func(tx *badger.Txn) error {
		return tx.Set(makeDocumentKey(doc.ID), data)
	})
}

// Get returns a document by id.
func (s *DocumentStore) Get(ctx context.Context, id string) (*core.Document, error) {
	var doc *core.Document
	err := s.backend.View(func(tx *badger.Txn) error {
		val, err := get(tx, makeDocumentKey(id))
		if err != nil {
			return err
		}
		doc, err = storage.UnmarshalRecord[core.Document](val)
		return err
	})
	return doc, err
}

// ListForProject returns a project's documents, oldest first.
func (s *DocumentStore) ListForProject(ctx context.Context, projectID string) ([]*core.Document, error) {
	var docs []*core.Document
	err := s.backend.View(func(tx *badger.Txn) error {
		return scan(tx, []byte(documentPrefix), true, func(_, val []byte) error {
			doc, err := storage.UnmarshalRecord[core.Document](val)
			if err != nil {
				return err
			}
			if doc.ProjectID == projectID {
				docs = append(docs, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(docs, func(a, b *core.Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return docs, nil
}

// Delete removes a document. Deleting a missing document is not an error.
func (s *DocumentStore) Delete(ctx context.Context, id string) error {
	return s.backend.Update(func(tx *badger.Txn) error {
		return tx.Delete(makeDocumentKey(id))
	})
}
