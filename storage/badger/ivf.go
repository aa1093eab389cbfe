package badger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/dgraph-io/badger/v4"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
)

const (
	kmeansIterations = 10
	buildBatchSize   = 500
)

func encodeCentroids(centroids [][]float32) []byte {
	size := varint.Int.Size(len(centroids))
	for _, c := range centroids {
		size += storage.VectorMUS.Size(c)
	}
	buf := make([]byte, size)
	n := varint.Int.Marshal(len(centroids), buf)
	for _, c := range centroids {
		n += storage.VectorMUS.Marshal(c, buf[n:])
	}
	return buf
}

func decodeCentroids(data []byte) ([][]float32, error) {
	count, n, err := varint.Int.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: centroids: %w", storage.ErrSerializationFailed, err)
	}
	if count < 0 || count > len(data) {
		return nil, fmt.Errorf("%w: centroids", storage.ErrTruncatedData)
	}
	out := make([][]float32, count)
	for i := range out {
		v, m, err := storage.VectorMUS.Unmarshal(data[n:])
		if err != nil {
			return nil, fmt.Errorf("%w: centroid %d: %w", storage.ErrSerializationFailed, i, err)
		}
		n += m
		out[i] = v
	}
	return out, nil
}

func (s *VectorStore) loadCentroids() error {
	var centroids [][]float32
	err := s.backend.View(func(tx *badger.Txn) error {
		val, err := get(tx, []byte(centroidsKey))
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		centroids, err = decodeCentroids(val)
		return err
	})
	if err != nil {
		return err
	}
	s.indexMu.Lock()
	s.centroids = centroids
	s.indexMu.Unlock()
	if len(centroids) > 0 {
		s.logger.Debug("loaded ivf index", "lists", len(centroids))
	}
	return nil
}

// BuildIndex trains the IVF centroids on every stored vector and rewrites
// all postings. Searches fall back to exact scans while the build runs.
// lists <= 0 uses the configured list count.
func (s *VectorStore) BuildIndex(ctx context.Context, lists int) error {
	if lists <= 0 {
		lists = s.lists
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.indexMu.Lock()
	s.centroids = nil
	s.indexMu.Unlock()

	if err := s.backend.Update(func(tx *badger.Txn) error {
		err := tx.Delete([]byte(centroidsKey))
		return err
	}); err != nil {
		return err
	}
	for _, prefix := range []string{listPrefix, assignPrefix} {
		if err := s.clearPrefix(ctx, []byte(prefix)); err != nil {
			return err
		}
	}

	var chunks []*core.DocumentChunk
	err := s.backend.View(func(tx *badger.Txn) error {
		return scan(tx, []byte(chunkPrefix), true, func(_, val []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := storage.UnmarshalChunk(val)
			if err != nil {
				return err
			}
			chunks = append(chunks, c)
			return nil
		})
	})
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		s.logger.Info("no vectors to index")
		return nil
	}

	vectors := make([][]float32, len(chunks))
	for i, c := range chunks {
		vectors[i] = c.Embedding
	}
	centroids := kmeans(vectors, min(lists, len(vectors)), kmeansIterations)

	for start := 0; start < len(chunks); start += buildBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := chunks[start:min(start+buildBatchSize, len(chunks))]
		err := s.backend.Update(func(tx *badger.Txn) error {
			for _, c := range batch {
				if err := setPosting(tx, nearestList(centroids, c.Embedding), c.ProjectID, c); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if err := s.backend.Update(func(tx *badger.Txn) error {
		return tx.Set([]byte(centroidsKey), encodeCentroids(centroids))
	}); err != nil {
		return err
	}

	s.indexMu.Lock()
	s.centroids = centroids
	s.indexMu.Unlock()

	s.logger.Info("built ivf index", "lists", len(centroids), "vectors", len(chunks))
	return nil
}

func (s *VectorStore) clearPrefix(ctx context.Context, prefix []byte) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var removed int
		err := s.backend.Update(func(tx *badger.Txn) error {
			var keys [][]byte
			err := scan(tx, prefix, false, func(key, _ []byte) error {
				if len(keys) == buildBatchSize {
					return errBatchFull
				}
				keys = append(keys, key)
				return nil
			})
			if err != nil && !errors.Is(err, errBatchFull) {
				return err
			}
			for _, k := range keys {
				if err := tx.Delete(k); err != nil {
					return err
				}
			}
			removed = len(keys)
			return nil
		})
		if err != nil {
			return err
		}
		if removed < buildBatchSize {
			return nil
		}
	}
}

var errBatchFull = errors.New("batch full")

// maybeBuildIndex trains the index once enough chunks exist.
func (s *VectorStore) maybeBuildIndex(ctx context.Context) {
	if !s.autoIndex || s.Indexed() {
		return
	}
	var n int
	if err := s.backend.View(func(tx *badger.Txn) error {
		var err error
		n, err = s.count(tx)
		return err
	}); err != nil {
		s.logger.Warn("failed to count vectors", "err", err)
		return
	}
	if n < s.lists*autoIndexFactor {
		return
	}
	if err := s.BuildIndex(ctx, s.lists); err != nil {
		s.logger.Warn("automatic index build failed", "err", err)
	}
}

// nearestList returns the list whose centroid is closest to v.
func nearestList(centroids [][]float32, v []float32) uint32 {
	best, bestScore := 0, float32(math.Inf(-1))
	for i, c := range centroids {
		if score := dotProduct(c, v); score > bestScore {
			best, bestScore = i, score
		}
	}
	return uint32(best)
}

// nearestLists returns the n lists closest to v, nearest first.
func nearestLists(centroids [][]float32, v []float32, n int) []uint32 {
	order := make([]uint32, len(centroids))
	scores := make([]float32, len(centroids))
	for i, c := range centroids {
		order[i] = uint32(i)
		scores[i] = dotProduct(c, v)
	}
	slices.SortStableFunc(order, func(a, b uint32) int {
		return compareScore(scores[a], scores[b], uint64(a), uint64(b))
	})
	if len(order) > n {
		order = order[:n]
	}
	return order
}

// kmeans runs spherical k-means with deterministic initialization: the
// initial centroids are evenly spaced samples in input order.
func kmeans(vectors [][]float32, k, iterations int) [][]float32 {
	unit := make([][]float32, len(vectors))
	for i, v := range vectors {
		unit[i] = normalize(v)
	}

	centroids := make([][]float32, k)
	for i := range centroids {
		centroids[i] = slices.Clone(unit[i*len(unit)/k])
	}

	assign := make([]int, len(unit))
	for i := range assign {
		assign[i] = -1
	}
	dim := len(unit[0])

	for iter := 0; iter < iterations; iter++ {
		changed := false
		for i, v := range unit {
			if l := int(nearestList(centroids, v)); l != assign[i] {
				assign[i] = l
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for i := range sums {
			sums[i] = make([]float64, dim)
		}
		for i, v := range unit {
			l := assign[i]
			counts[l]++
			for d, x := range v {
				sums[l][d] += float64(x)
			}
		}
		for l := range centroids {
			if counts[l] == 0 {
				continue
			}
			next := make([]float32, dim)
			for d := range next {
				next[d] = float32(sums[l][d])
			}
			centroids[l] = normalize(next)
		}
	}
	return centroids
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) * inv)
	}
	return out
}
