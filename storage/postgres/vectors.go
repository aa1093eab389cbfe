package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
)

const (
	DefaultLists  = 100
	DefaultProbes = 10
)

var columns = []string{
	"id", "content", "embedding", "metadata", "project_id",
	"document_id", "page_number", "chunk_index", "source", "created_at",
}

// VectorStore implements storage.VectorStore on a pgx connection pool.
type VectorStore struct {
	pool      *pgxpool.Pool
	dimension int
	lists     int
	probes    int
	logger    *slog.Logger
}

var (
	_ storage.VectorStore  = (*VectorStore)(nil)
	_ storage.IndexBuilder = (*VectorStore)(nil)
)

// Option configures a VectorStore.
type Option func(*VectorStore) error

// WithIVF sets the ivfflat list count and ivfflat.probes.
func WithIVF(lists, probes int) Option {
	return func(s *VectorStore) error {
		if lists <= 0 || probes <= 0 {
			return fmt.Errorf("%w: lists and probes must be positive", storage.ErrInvalidQuery)
		}
		s.lists = lists
		s.probes = probes
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *VectorStore) error {
		s.logger = logger
		return nil
	}
}

// Open connects to dsn, creates the schema if needed and returns the store.
// A table created with a different dimension is a consistency error.
func Open(ctx context.Context, dsn string, dimension int, opts ...Option) (*VectorStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", storage.ErrInvalidQuery)
	}
	s := &VectorStore{
		dimension: dimension,
		lists:     DefaultLists,
		probes:    DefaultProbes,
		logger:    slog.Default().With("component", "pg-vector-store"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	// The extension must exist before pooled connections register its types.
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	err = migrate(ctx, conn, dimension, s.lists)
	conn.Close(ctx)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["application_name"] = "blueprint"
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	s.logger.Info("connected to postgres vector store", "dimension", dimension, "lists", s.lists, "probes", s.probes)
	return s, nil
}

// Dimension returns the fixed vector dimension.
func (s *VectorStore) Dimension() int {
	return s.dimension
}

// Close closes the connection pool.
func (s *VectorStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertChunks replaces the chunk set of a document in one transaction.
func (s *VectorStore) UpsertChunks(ctx context.Context, documentID string, chunks []*core.DocumentChunk) error {
	if err := storage.ValidateChunkSet(documentID, chunks, s.dimension); err != nil {
		return err
	}
	storage.PrepareChunks(chunks, time.Now().UTC())

	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
		rows[i] = []any{
			int64(c.ID), c.Content, pgvector.NewVector(c.Embedding), meta, c.ProjectID,
			c.DocumentID, c.PageNumber, c.ChunkIndex, c.Source, c.CreatedAt,
		}
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM `+tableName+` WHERE document_id = $1`, documentID); err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		n, err := tx.CopyFrom(ctx, pgx.Identifier{tableName}, columns, pgx.CopyFromRows(rows))
		if err != nil {
			return err
		}
		s.logger.Debug("replaced document chunks", "document", documentID, "chunks", n)
		return nil
	})
}

// Search returns the k chunks nearest to vector by cosine distance.
func (s *VectorStore) Search(ctx context.Context, vector []float32, filter core.SearchFilter, k int) ([]core.ChunkMatch, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, store requires %d", core.ErrConsistency, len(vector), s.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	var where []string
	args := []any{pgvector.NewVector(vector), k}
	if filter.ProjectID != "" {
		args = append(args, filter.ProjectID)
		where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if filter.DocumentID != "" {
		args = append(args, filter.DocumentID)
		where = append(where, fmt.Sprintf("document_id = $%d", len(args)))
	}
	query := `SELECT ` + strings.Join(columns, ", ") + `, 1 - (embedding <=> $1) AS score FROM ` + tableName
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY embedding <=> $1, id LIMIT $2`

	var results []core.ChunkMatch
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// SET does not take bind parameters.
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", s.probes)); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			m, err := scanMatch(rows)
			if err != nil {
				return err
			}
			results = append(results, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func scanMatch(rows pgx.Rows) (core.ChunkMatch, error) {
	var (
		c     core.DocumentChunk
		id    int64
		emb   pgvector.Vector
		meta  []byte
		score float64
	)
	if err := rows.Scan(&id, &c.Content, &emb, &meta, &c.ProjectID, &c.DocumentID,
		&c.PageNumber, &c.ChunkIndex, &c.Source, &c.CreatedAt, &score); err != nil {
		return core.ChunkMatch{}, err
	}
	if err := json.Unmarshal(meta, &c.Metadata); err != nil {
		return core.ChunkMatch{}, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	c.ID = core.ID(uint64(id))
	c.Embedding = emb.Slice()
	return core.ChunkMatch{Chunk: &c, Score: float32(score)}, nil
}

// DeleteForDocument removes all chunks of a document.
func (s *VectorStore) DeleteForDocument(ctx context.Context, documentID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+tableName+` WHERE document_id = $1`, documentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// DeleteForProject removes all chunks of a project.
func (s *VectorStore) DeleteForProject(ctx context.Context, projectID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+tableName+` WHERE project_id = $1`, projectID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// CountForDocument returns the number of chunks stored for a document.
func (s *VectorStore) CountForDocument(ctx context.Context, documentID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM `+tableName+` WHERE document_id = $1`, documentID).Scan(&n)
	return n, err
}

// BuildIndex recreates the ivfflat index with the given list count so its
// centroids reflect the current data. lists <= 0 keeps the configured count.
func (s *VectorStore) BuildIndex(ctx context.Context, lists int) error {
	if lists <= 0 {
		lists = s.lists
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DROP INDEX IF EXISTS `+indexName); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, createIndexStatement(lists))
		return err
	})
	if err != nil {
		return err
	}
	s.lists = lists
	s.logger.Info("rebuilt ivfflat index", "lists", lists)
	return nil
}
