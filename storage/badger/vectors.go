package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
)

const (
	DefaultLists  = 100
	DefaultProbes = 10

	// autoIndexFactor is the number of chunks per list at which the IVF
	// index is trained automatically.
	autoIndexFactor = 40
)

// VectorStore implements storage.VectorStore on badger with an IVF index.
type VectorStore struct {
	backend   *Backend
	dimension int
	lists     int
	probes    int
	autoIndex bool
	logger    *slog.Logger

	// writeMu is held shared by chunk writers and exclusively by index
	// builds, so no chunk is written against a stale set of centroids.
	writeMu sync.RWMutex

	indexMu   sync.RWMutex
	centroids [][]float32
}

var (
	_ storage.VectorStore  = (*VectorStore)(nil)
	_ storage.IndexBuilder = (*VectorStore)(nil)
)

// VectorOption configures a VectorStore.
type VectorOption func(*VectorStore) error

// WithIVF sets the number of inverted lists and how many are probed per search.
func WithIVF(lists, probes int) VectorOption {
	return func(s *VectorStore) error {
		if lists <= 0 || probes <= 0 {
			return fmt.Errorf("%w: lists and probes must be positive", storage.ErrInvalidQuery)
		}
		s.lists = lists
		s.probes = probes
		return nil
	}
}

// WithAutoIndex enables or disables training the index once the store
// holds lists×40 chunks.
func WithAutoIndex(enabled bool) VectorOption {
	return func(s *VectorStore) error {
		s.autoIndex = enabled
		return nil
	}
}

// NewVectorStore opens the vector store of backend with a fixed dimension.
// A backend created with a different dimension is a consistency error.
func NewVectorStore(backend *Backend, dimension int, opts ...VectorOption) (*VectorStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidQuery)
	}
	s := &VectorStore{
		backend:   backend,
		dimension: dimension,
		lists:     DefaultLists,
		probes:    DefaultProbes,
		autoIndex: true,
		logger:    slog.Default().With("component", "vector-store"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	err := backend.Update(func(tx *badger.Txn) error {
		val, err := get(tx, []byte(dimensionKey))
		if errors.Is(err, storage.ErrNotFound) {
			buf := make([]byte, 4)
			binary.BigEndian.PutUint32(buf, uint32(dimension))
			return tx.Set([]byte(dimensionKey), buf)
		}
		if err != nil {
			return err
		}
		if stored := int(binary.BigEndian.Uint32(val)); stored != dimension {
			return fmt.Errorf("%w: %w: store has dimension %d, configured %d",
				core.ErrConsistency, storage.ErrMigrationRequired, stored, dimension)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.loadCentroids(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dimension returns the fixed vector dimension.
func (s *VectorStore) Dimension() int {
	return s.dimension
}

// Close is a no-op; the backend owns the database handle.
func (s *VectorStore) Close() error {
	return nil
}

// Indexed reports whether the IVF index has been trained.
func (s *VectorStore) Indexed() bool {
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	return len(s.centroids) > 0
}

// UpsertChunks replaces the chunk set of a document in one transaction.
// Readers see either the previous set or the new one.
func (s *VectorStore) UpsertChunks(ctx context.Context, documentID string, chunks []*core.DocumentChunk) error {
	if err := storage.ValidateChunkSet(documentID, chunks, s.dimension); err != nil {
		return err
	}
	storage.PrepareChunks(chunks, time.Now().UTC())

	s.writeMu.RLock()
	s.indexMu.RLock()
	centroids := s.centroids
	s.indexMu.RUnlock()

	err := s.backend.Update(func(tx *badger.Txn) error {
		if _, err := s.deleteDocument(tx, documentID); err != nil {
			return err
		}
		for _, c := range chunks {
			if err := s.putChunk(tx, c, centroids); err != nil {
				return err
			}
		}
		return nil
	})
	s.writeMu.RUnlock()
	if err != nil {
		return err
	}

	s.logger.Debug("replaced document chunks", "document", documentID, "chunks", len(chunks))
	s.maybeBuildIndex(ctx)
	return nil
}

func (s *VectorStore) putChunk(tx *badger.Txn, c *core.DocumentChunk, centroids [][]float32) error {
	if err := tx.Set(makeChunkKey(c.ID), storage.MarshalChunk(c)); err != nil {
		return err
	}
	if err := tx.Set(makeChunkDocKey(c.DocumentID, c.ID), nil); err != nil {
		return err
	}
	if err := tx.Set(makeChunkProjKey(c.ProjectID, c.DocumentID, c.ID), nil); err != nil {
		return err
	}
	if len(centroids) == 0 {
		return nil
	}
	return setPosting(tx, nearestList(centroids, c.Embedding), c.ProjectID, c)
}

func setPosting(tx *badger.Txn, list uint32, projectID string, c *core.DocumentChunk) error {
	if err := tx.Set(makeListKey(list, projectID, c.ID), storage.MarshalVector(c.Embedding)); err != nil {
		return err
	}
	assign := make([]byte, 4, 4+len(projectID))
	binary.BigEndian.PutUint32(assign, list)
	assign = append(assign, projectID...)
	return tx.Set(makeAssignKey(c.ID), assign)
}

// removeChunk deletes a chunk and every index entry pointing at it.
func removeChunk(tx *badger.Txn, id core.ID) error {
	val, err := get(tx, makeChunkKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	chunk, err := storage.UnmarshalChunk(val)
	if err != nil {
		return err
	}

	keys := [][]byte{
		makeChunkKey(id),
		makeChunkDocKey(chunk.DocumentID, id),
		makeChunkProjKey(chunk.ProjectID, chunk.DocumentID, id),
	}
	assign, err := get(tx, makeAssignKey(id))
	switch {
	case err == nil:
		list := binary.BigEndian.Uint32(assign[:4])
		keys = append(keys, makeListKey(list, string(assign[4:]), id), makeAssignKey(id))
	case !errors.Is(err, storage.ErrNotFound):
		return err
	}

	for _, k := range keys {
		if err := tx.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *VectorStore) deleteDocument(tx *badger.Txn, documentID string) (int, error) {
	ids, err := collectIDs(tx, makeChunkDocPrefix(documentID))
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := removeChunk(tx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func collectIDs(tx *badger.Txn, prefix []byte) ([]core.ID, error) {
	var ids []core.ID
	err := scan(tx, prefix, false, func(key, _ []byte) error {
		ids = append(ids, idFromKeySuffix(key))
		return nil
	})
	return ids, err
}

// DeleteForDocument removes all chunks of a document.
func (s *VectorStore) DeleteForDocument(ctx context.Context, documentID string) (int, error) {
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()
	var n int
	err := s.backend.Update(func(tx *badger.Txn) error {
		var err error
		n, err = s.deleteDocument(tx, documentID)
		return err
	})
	return n, err
}

// DeleteForProject removes all chunks of a project.
func (s *VectorStore) DeleteForProject(ctx context.Context, projectID string) (int, error) {
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()
	var n int
	err := s.backend.Update(func(tx *badger.Txn) error {
		ids, err := collectIDs(tx, makeChunkProjPrefix(projectID))
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := removeChunk(tx, id); err != nil {
				return err
			}
		}
		n = len(ids)
		return nil
	})
	return n, err
}

// CountForDocument returns the number of chunks stored for a document.
func (s *VectorStore) CountForDocument(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.backend.View(func(tx *badger.Txn) error {
		return scan(tx, makeChunkDocPrefix(documentID), false, func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

func (s *VectorStore) count(tx *badger.Txn) (int, error) {
	n := 0
	err := scan(tx, []byte(chunkPrefix), false, func(_, _ []byte) error {
		n++
		return nil
	})
	return n, err
}

// Search returns the k chunks most similar to vector that satisfy filter.
func (s *VectorStore) Search(ctx context.Context, vector []float32, filter core.SearchFilter, k int) ([]core.ChunkMatch, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, store requires %d", core.ErrConsistency, len(vector), s.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	s.indexMu.RLock()
	centroids := s.centroids
	s.indexMu.RUnlock()

	var results []core.ChunkMatch
	err := s.backend.View(func(tx *badger.Txn) error {
		var err error
		switch {
		case filter.DocumentID != "":
			results, err = s.scanChunks(ctx, tx, makeChunkDocPrefix(filter.DocumentID), vector, filter)
		case len(centroids) > 0:
			results, err = s.probe(ctx, tx, centroids, vector, filter, k)
		case filter.ProjectID != "":
			results, err = s.scanChunks(ctx, tx, makeChunkProjPrefix(filter.ProjectID), vector, filter)
		default:
			results, err = s.scanAll(ctx, tx, vector, filter)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return topK(results, k), nil
}

// scanChunks scores every chunk referenced by an equality index prefix.
func (s *VectorStore) scanChunks(ctx context.Context, tx *badger.Txn, prefix []byte, vector []float32, filter core.SearchFilter) ([]core.ChunkMatch, error) {
	ids, err := collectIDs(tx, prefix)
	if err != nil {
		return nil, err
	}
	results := make([]core.ChunkMatch, 0, len(ids))
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := readChunk(tx, id)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(chunk) {
			continue
		}
		results = append(results, core.ChunkMatch{Chunk: chunk, Score: cosine(vector, chunk.Embedding)})
	}
	return results, nil
}

func (s *VectorStore) scanAll(ctx context.Context, tx *badger.Txn, vector []float32, filter core.SearchFilter) ([]core.ChunkMatch, error) {
	var results []core.ChunkMatch
	err := scan(tx, []byte(chunkPrefix), true, func(_, val []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		chunk, err := storage.UnmarshalChunk(val)
		if err != nil {
			return err
		}
		if filter.Matches(chunk) {
			results = append(results, core.ChunkMatch{Chunk: chunk, Score: cosine(vector, chunk.Embedding)})
		}
		return nil
	})
	return results, err
}

// probe scores the postings of the nearest lists and loads the best k chunks.
func (s *VectorStore) probe(ctx context.Context, tx *badger.Txn, centroids [][]float32, vector []float32, filter core.SearchFilter, k int) ([]core.ChunkMatch, error) {
	type hit struct {
		id    core.ID
		score float32
	}
	var hits []hit
	for _, list := range nearestLists(centroids, vector, s.probes) {
		prefix := makeListPrefix(list)
		if filter.ProjectID != "" {
			prefix = makeListProjectPrefix(list, filter.ProjectID)
		}
		err := scan(tx, prefix, true, func(key, val []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			emb, err := storage.UnmarshalVector(val)
			if err != nil {
				return err
			}
			hits = append(hits, hit{id: idFromKeySuffix(key), score: cosine(vector, emb)})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	slices.SortFunc(hits, func(a, b hit) int {
		return compareScore(a.score, b.score, uint64(a.id), uint64(b.id))
	})

	results := make([]core.ChunkMatch, 0, k)
	for _, h := range hits {
		if len(results) == k {
			break
		}
		chunk, err := readChunk(tx, h.id)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !filter.Matches(chunk) {
			continue
		}
		results = append(results, core.ChunkMatch{Chunk: chunk, Score: h.score})
	}
	return results, nil
}

func readChunk(tx *badger.Txn, id core.ID) (*core.DocumentChunk, error) {
	val, err := get(tx, makeChunkKey(id))
	if err != nil {
		return nil, err
	}
	return storage.UnmarshalChunk(val)
}

// topK sorts by score descending, breaking ties by chunk id, and truncates.
func topK(results []core.ChunkMatch, k int) []core.ChunkMatch {
	slices.SortFunc(results, func(a, b core.ChunkMatch) int {
		return compareScore(a.Score, b.Score, uint64(a.Chunk.ID), uint64(b.Chunk.ID))
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func compareScore(a, b float32, idA, idB uint64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	case idA < idB:
		return -1
	case idA > idB:
		return 1
	}
	return 0
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// cosine returns the cosine similarity of a and b, or 0 if either is zero.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
