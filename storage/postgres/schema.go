package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/poiesic/blueprint/core"
	"github.com/poiesic/blueprint/storage"
)

const (
	tableName = "document_embeddings"
	indexName = "document_embeddings_embedding_idx"
	metaTable = "blueprint_meta"
)

func schemaStatements(dimension int) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + metaTable + ` (
			key   text PRIMARY KEY,
			value text NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          bigint PRIMARY KEY,
			content     text NOT NULL,
			embedding   vector(%d) NOT NULL,
			metadata    jsonb NOT NULL DEFAULT '{}',
			project_id  text NOT NULL,
			document_id text NOT NULL,
			page_number integer NOT NULL,
			chunk_index integer NOT NULL,
			source      text NOT NULL DEFAULT '',
			created_at  timestamptz NOT NULL DEFAULT now(),
			UNIQUE (document_id, chunk_index)
		)`, tableName, dimension),
		`CREATE INDEX IF NOT EXISTS document_embeddings_project_idx ON ` + tableName + ` (project_id)`,
		`CREATE INDEX IF NOT EXISTS document_embeddings_document_idx ON ` + tableName + ` (document_id)`,
	}
}

func createIndexStatement(lists int) string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)`,
		indexName, tableName, lists)
}

// migrate creates the schema and checks the stored dimension.
func migrate(ctx context.Context, conn *pgx.Conn, dimension, lists int) error {
	if _, err := conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	for _, stmt := range schemaStatements(dimension) {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}

	var stored string
	err := conn.QueryRow(ctx, `SELECT value FROM `+metaTable+` WHERE key = 'dimension'`).Scan(&stored)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if _, err := conn.Exec(ctx, `INSERT INTO `+metaTable+` (key, value) VALUES ('dimension', $1)`, strconv.Itoa(dimension)); err != nil {
			return err
		}
	case err != nil:
		return err
	case stored != strconv.Itoa(dimension):
		return fmt.Errorf("%w: %w: table has dimension %s, configured %d",
			core.ErrConsistency, storage.ErrMigrationRequired, stored, dimension)
	}

	if _, err := conn.Exec(ctx, createIndexStatement(lists)); err != nil {
		return fmt.Errorf("create ivfflat index: %w", err)
	}
	return nil
}
