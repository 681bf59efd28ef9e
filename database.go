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

// Package contractor wires configuration, storage and AI services into the
// components that ingest, search and extract contracts.
package contractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/ai/openai"
	"github.com/poiesic/contractor/chunker"
	"github.com/poiesic/contractor/config"
	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/extraction"
	"github.com/poiesic/contractor/ingestion"
	"github.com/poiesic/contractor/loader"
	"github.com/poiesic/contractor/reembed"
	"github.com/poiesic/contractor/retrieval"
	"github.com/poiesic/contractor/storage"
	"github.com/poiesic/contractor/storage/badger"
	"github.com/poiesic/contractor/storage/bolt"
)

// boltFileName is the database file created under DB_PATH for the bolt backend.
const boltFileName = "contractor.db"

type Database struct {
	cfg      *config.Config
	backend  storage.Backend
	index    *storage.Index
	docs     *storage.DocumentStore
	provider ai.AIProvider
	logger   *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	provider ai.AIProvider
	logger   *slog.Logger
	inMemory bool
}

// WithProvider replaces the OpenAI-compatible provider built from the config.
func WithProvider(p ai.AIProvider) DatabaseOption {
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

// WithInMemory keeps everything in an in-memory badger store, ignoring
// DB_BACKEND and DB_PATH.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// NewDatabase opens the configured storage backend and AI provider.
// A nil cfg means config.Default().
func NewDatabase(cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
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
	logger := options.logger

	backend, err := openBackend(cfg, options)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}

	index, err := storage.OpenIndex(backend,
		storage.WithMetric(core.Metric(cfg.SimilarityMetric)),
		storage.WithSearchMode(core.SearchMode(cfg.SearchMode)),
		storage.WithIndexTimeout(cfg.IndexTimeout),
		storage.WithIndexLogger(logger),
	)
	if err != nil {
		backend.Close()
		return nil, err
	}

	docs, err := storage.NewDocumentStore(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	provider := options.provider
	if provider == nil {
		if provider, err = openai.NewProvider(cfg.AIConfig()); err != nil {
			backend.Close()
			return nil, err
		}
	}

	logger.Info("database opened",
		"backend", backend.Name(),
		"path", cfg.DBPath,
		"metric", index.Metric(),
		"mode", index.Mode())

	return &Database{
		cfg:      cfg,
		backend:  backend,
		index:    index,
		docs:     docs,
		provider: provider,
		logger:   logger,
	}, nil
}

func openBackend(cfg *config.Config, options *databaseOptions) (storage.Backend, error) {
	if options.inMemory {
		return badger.OpenBackend("", true, badger.WithLogger(options.logger))
	}
	switch cfg.DBBackend {
	case config.BackendBolt:
		return bolt.OpenBackend(filepath.Join(cfg.DBPath, boltFileName))
	default:
		return badger.OpenBackend(cfg.DBPath, false, badger.WithLogger(options.logger))
	}
}

func (db *Database) Close() error {
	var errs []error
	if err := db.provider.Close(); err != nil {
		db.logger.Error("error closing AI provider", "err", err)
		errs = append(errs, err)
	}
	if err := db.backend.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (db *Database) Config() *config.Config {
	return db.cfg
}

func (db *Database) Index() *storage.Index {
	return db.index
}

func (db *Database) Documents() *storage.DocumentStore {
	return db.docs
}

func (db *Database) Provider() ai.AIProvider {
	return db.provider
}

func (db *Database) Logger() *slog.Logger {
	return db.logger
}

// NewOrchestrator builds an ingestion orchestrator from the config.
// Options are applied after the configured ones.
func (db *Database) NewOrchestrator(opts ...ingestion.Option) (*ingestion.Orchestrator, error) {
	chunks, err := chunker.New(
		chunker.WithMaxTokens(db.cfg.ChunkSize),
		chunker.WithOverlapTokens(db.cfg.ChunkOverlap),
	)
	if err != nil {
		return nil, err
	}
	reingest, err := ingestion.ParseReingestPolicy(db.cfg.ReingestPolicy)
	if err != nil {
		return nil, err
	}
	concurrent, err := ingestion.ParseConcurrencyPolicy(db.cfg.ConcurrentIngest)
	if err != nil {
		return nil, err
	}

	base := []ingestion.Option{
		ingestion.WithChunker(chunks),
		ingestion.WithReingestPolicy(reingest),
		ingestion.WithConcurrencyPolicy(concurrent),
		ingestion.WithRetryPolicy(db.cfg.RetryPolicy()),
		ingestion.WithPoolSize(db.cfg.Workers),
		ingestion.WithLogger(db.logger),
	}
	return ingestion.NewOrchestrator(db.index, db.docs, db.provider.Embedder(), append(base, opts...)...)
}

// NewRetriever builds a retriever that logs each query.
func (db *Database) NewRetriever(opts ...retrieval.Option) (*retrieval.Retriever, error) {
	base := []retrieval.Option{
		retrieval.WithDefaultTopK(db.cfg.TopKDefault),
		retrieval.WithMinScore(float32(db.cfg.MinScore)),
		retrieval.WithMonitor(retrieval.NewLogMonitor(db.logger)),
		retrieval.WithLogger(db.logger),
	}
	return retrieval.NewRetriever(db.index, db.provider.Embedder(), append(base, opts...)...)
}

// NewExtractor builds a field extractor. A nil searcher disables
// retrieval-augmented prompts.
func (db *Database) NewExtractor(searcher extraction.Searcher, opts ...extraction.Option) (*extraction.Extractor, error) {
	base := []extraction.Option{extraction.WithLogger(db.logger)}
	if searcher != nil {
		base = append(base, extraction.WithSearcher(searcher))
	}
	return extraction.NewExtractor(db.provider.Generator(), append(base, opts...)...)
}

// NewReembedder builds a reembedder over the index. Progress goes to w.
func (db *Database) NewReembedder(w io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(db.index, db.provider.Embedder(), &reembed.Config{
		BatchSize: db.cfg.EmbeddingBatchSize,
		Retry:     db.cfg.RetryPolicy(),
		Logger:    db.logger,
	}, w)
}

// LoadDocuments reads the configured corpus: the manifest when MANIFEST_PATH
// is set, otherwise the text files under DATA_DIR.
func (db *Database) LoadDocuments(ctx context.Context) ([]*core.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if db.cfg.ManifestPath != "" {
		db.logger.Info("loading manifest", "path", db.cfg.ManifestPath)
		return loader.LoadManifestFile(db.cfg.ManifestPath)
	}
	db.logger.Info("loading documents", "dir", db.cfg.DataDir)
	return loader.LoadDir(db.cfg.DataDir, loader.Options{})
}
