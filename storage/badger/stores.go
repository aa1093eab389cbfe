package badger

import (
	"errors"
	"fmt"

	"github.com/poiesic/blueprint/storage"
)

// DefaultDimension is the vector dimension used when none is configured.
const DefaultDimension = 768

// Stores bundles every store of one badger database.
type Stores struct {
	Backend     *Backend
	Vectors     *VectorStore
	Jobs        *JobStore
	Entities    *EntityStore
	Documents   *DocumentStore
	DeadLetters *DeadLetterStore
}

type settings struct {
	dimension  int
	inMemory   bool
	vectorOpts []VectorOption
}

// Option configures Open.
type Option func(*settings) error

// WithDimension fixes the vector dimension of the store.
func WithDimension(dim int) Option {
	return func(s *settings) error {
		if dim <= 0 {
			return fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidQuery)
		}
		s.dimension = dim
		return nil
	}
}

// WithInMemory keeps the whole database in memory. The path is ignored.
func WithInMemory() Option {
	return func(s *settings) error {
		s.inMemory = true
		return nil
	}
}

// WithVectorOptions passes options through to the vector store.
func WithVectorOptions(opts ...VectorOption) Option {
	return func(s *settings) error {
		s.vectorOpts = append(s.vectorOpts, opts...)
		return nil
	}
}

// Open opens or creates the database at path and all stores on it.
func Open(path string, opts ...Option) (*Stores, error) {
	cfg := settings{dimension: DefaultDimension}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	backend, err := OpenBackend(path, cfg.inMemory)
	if err != nil {
		return nil, err
	}
	vectors, err := NewVectorStore(backend, cfg.dimension, cfg.vectorOpts...)
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &Stores{
		Backend:     backend,
		Vectors:     vectors,
		Jobs:        NewJobStore(backend),
		Entities:    NewEntityStore(backend),
		Documents:   NewDocumentStore(backend),
		DeadLetters: NewDeadLetterStore(backend),
	}, nil
}

// Close closes every store and the database.
func (s *Stores) Close() error {
	return errors.Join(s.Vectors.Close(), s.Backend.Close())
}
