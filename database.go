// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package blueprint wires the document pipeline together: storage, the
// model gateway, extraction, job orchestration and question answering.
package blueprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/blueprint/ai"
	"github.com/poiesic/blueprint/ai/openai"
	"github.com/poiesic/blueprint/config"
	"github.com/poiesic/blueprint/extraction"
	"github.com/poiesic/blueprint/gateway"
	"github.com/poiesic/blueprint/ingestion"
	"github.com/poiesic/blueprint/qa"
	"github.com/poiesic/blueprint/storage"
	"github.com/poiesic/blueprint/storage/badger"
	"github.com/poiesic/blueprint/storage/postgres"
)

// ErrIndexUnsupported is returned by Reindex when the vector store has no
// rebuildable index.
var ErrIndexUnsupported = errors.New("vector store has no rebuildable index")

// Database owns every long-lived component of a blueprint process.
type Database struct {
	cfg          *config.Config
	stores       *badger.Stores
	vectors      storage.VectorStore
	provider     ai.Provider
	gateway      *gateway.Gateway
	engine       *extraction.Engine
	orchestrator *ingestion.Orchestrator
	qa           *qa.Service
	logger       *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	provider      ai.Provider
	logger        *slog.Logger
	ingestionOpts []ingestion.Option
}

// WithProvider replaces the OpenAI-compatible provider built from the
// configuration.
func WithProvider(p ai.Provider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = p
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// WithIngestionOptions appends orchestrator options after the ones derived
// from the configuration.
func WithIngestionOptions(opts ...ingestion.Option) DatabaseOption {
	return func(o *databaseOptions) {
		o.ingestionOpts = append(o.ingestionOpts, opts...)
	}
}

// NewDatabase opens storage and builds the pipeline described by cfg.
func NewDatabase(ctx context.Context, cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &databaseOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	storeOpts := []badger.Option{
		badger.WithDimension(cfg.AI.Dimensions),
		badger.WithVectorOptions(badger.WithIVF(cfg.Storage.IVFLists, cfg.Storage.IVFProbes)),
	}
	if cfg.Storage.InMemory {
		storeOpts = append(storeOpts, badger.WithInMemory())
	}
	stores, err := badger.Open(cfg.Storage.Path, storeOpts...)
	if err != nil {
		return nil, err
	}

	db := &Database{
		cfg:     cfg,
		stores:  stores,
		vectors: stores.Vectors,
		logger:  logger.With("component", "database"),
	}

	if cfg.Storage.VectorBackend == config.BackendPostgres {
		pg, err := postgres.Open(ctx, cfg.Storage.PostgresDSN, cfg.AI.Dimensions,
			postgres.WithIVF(cfg.Storage.IVFLists, cfg.Storage.IVFProbes),
			postgres.WithLogger(logger.With("component", "pg-vector-store")))
		if err != nil {
			stores.Close()
			return nil, err
		}
		db.vectors = pg
	}

	if err := db.build(options); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *Database) build(options *databaseOptions) error {
	cfg := db.cfg
	logger := options.logger

	db.provider = options.provider
	if db.provider == nil {
		provider, err := openai.NewProvider(cfg.AIConfig())
		if err != nil {
			return err
		}
		db.provider = provider
	}

	gw, err := gateway.New(db.provider,
		gateway.WithDimension(cfg.AI.Dimensions),
		gateway.WithConcurrency(cfg.Gateway.Concurrency),
		gateway.WithTimeout(cfg.Gateway.Timeout),
		gateway.WithRetry(cfg.Gateway.RetryAttempts, cfg.Gateway.RetryDelay),
		gateway.WithExtractAttempts(cfg.Gateway.ExtractAttempts),
		gateway.WithLogger(logger.With("component", "gateway")))
	if err != nil {
		return err
	}
	db.gateway = gw

	db.engine, err = extraction.New(gw, db.stores.Entities,
		extraction.WithConfidenceFloor(cfg.Extraction.ConfidenceFloor),
		extraction.WithLogger(logger.With("component", "extraction")))
	if err != nil {
		return err
	}

	p := cfg.Pipeline
	ingestionOpts := []ingestion.Option{
		ingestion.WithMaxRetries(p.MaxRetries),
		ingestion.WithRetryDelay(p.RetryDelay),
		ingestion.WithCancelGrace(p.CancelGrace),
		ingestion.WithAutoRetry(p.AutoRetry),
		ingestion.WithChunker(cfg.Chunking),
		ingestion.WithWindows(p.WindowSize, p.MinPageText),
		ingestion.WithLogger(logger),
	}
	if p.PoolSize > 0 {
		ingestionOpts = append(ingestionOpts, ingestion.WithPoolSize(p.PoolSize))
	}
	db.orchestrator, err = ingestion.New(ingestion.Stores{
		Jobs:        db.stores.Jobs,
		Documents:   db.stores.Documents,
		Vectors:     db.vectors,
		Entities:    db.stores.Entities,
		DeadLetters: db.stores.DeadLetters,
	}, gw, db.engine, append(ingestionOpts, options.ingestionOpts...)...)
	if err != nil {
		return err
	}

	qaOpts := []qa.Option{
		qa.WithTopK(cfg.QA.TopK),
		qa.WithMinSimilarity(cfg.QA.MinSimilarity),
		qa.WithLogger(logger.With("component", "qa")),
	}
	if cfg.QA.ContextLimit > 0 {
		qaOpts = append(qaOpts, qa.WithContextLimit(cfg.QA.ContextLimit))
	}
	db.qa, err = qa.New(gw, gw, db.vectors, qaOpts...)
	return err
}

// Close releases every component. Live jobs should be paused with
// Orchestrator().Shutdown first.
func (db *Database) Close() error {
	var errs []error
	if db.orchestrator != nil {
		db.orchestrator.Release()
	}
	if db.provider != nil {
		if err := db.provider.Close(); err != nil {
			db.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if db.vectors != db.stores.Vectors {
		if err := db.vectors.Close(); err != nil {
			db.logger.Error("error closing vector store", "err", err)
			errs = append(errs, err)
		}
	}
	if err := db.stores.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Config returns the configuration the database was built from.
func (db *Database) Config() *config.Config {
	return db.cfg
}

func (db *Database) Orchestrator() *ingestion.Orchestrator {
	return db.orchestrator
}

func (db *Database) Extraction() *extraction.Engine {
	return db.engine
}

func (db *Database) QA() *qa.Service {
	return db.qa
}

func (db *Database) Gateway() *gateway.Gateway {
	return db.gateway
}

func (db *Database) Documents() storage.DocumentStore {
	return db.stores.Documents
}

func (db *Database) Vectors() storage.VectorStore {
	return db.vectors
}

// SummarizeDocument produces a plan summary of a stored document.
func (db *Database) SummarizeDocument(ctx context.Context, documentID, instructions string) (*extraction.PlanSummary, error) {
	doc, err := db.stores.Documents.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return db.engine.SummarizePlan(ctx, doc, instructions)
}

// NewDispatcher creates a dispatcher using the configured poll interval and
// capacity. Later options override them.
func (db *Database) NewDispatcher(opts ...ingestion.DispatcherOption) (*ingestion.Dispatcher, error) {
	base := []ingestion.DispatcherOption{
		ingestion.WithPollInterval(db.cfg.Pipeline.PollInterval),
		ingestion.WithMaxActive(db.cfg.Pipeline.MaxActive),
	}
	return ingestion.NewDispatcher(db.orchestrator, append(base, opts...)...)
}

// Reindex rebuilds the approximate nearest neighbour index of the vector
// store. lists <= 0 uses the configured list count.
func (db *Database) Reindex(ctx context.Context, lists int) error {
	builder, ok := db.vectors.(storage.IndexBuilder)
	if !ok {
		return ErrIndexUnsupported
	}
	if lists <= 0 {
		lists = db.cfg.Storage.IVFLists
	}
	if err := builder.BuildIndex(ctx, lists); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	db.logger.Info("vector index rebuilt", "lists", lists)
	return nil
}
