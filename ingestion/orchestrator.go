package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/chunker"
	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/storage"
)

// Orchestrator ingests documents into a vector index.
type Orchestrator struct {
	index       storage.VectorIndex
	docs        storage.DocumentRepository
	embedder    ai.Embedder
	chunker     *chunker.Chunker
	reingest    ReingestPolicy
	concurrency ConcurrencyPolicy
	retry       ai.RetryPolicy
	pool        *ants.Pool
	locks       *docLocks
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator) error

// WithChunker sets the chunker. Default is chunker.New() with default bounds.
func WithChunker(c *chunker.Chunker) Option {
	return func(o *Orchestrator) error {
		if c == nil {
			return fmt.Errorf("%w: chunker is nil", core.ErrConfiguration)
		}
		o.chunker = c
		return nil
	}
}

// WithReingestPolicy sets the policy for changed content. Default is ReingestReplace.
func WithReingestPolicy(p ReingestPolicy) Option {
	return func(o *Orchestrator) error {
		if _, err := ParseReingestPolicy(string(p)); err != nil {
			return err
		}
		o.reingest = p
		return nil
	}
}

// WithConcurrencyPolicy sets the policy for concurrent ingestion of one
// document. Default is ConcurrentWait.
func WithConcurrencyPolicy(p ConcurrencyPolicy) Option {
	return func(o *Orchestrator) error {
		if _, err := ParseConcurrencyPolicy(string(p)); err != nil {
			return err
		}
		o.concurrency = p
		return nil
	}
}

// WithRetryPolicy sets the policy for retrying index writes.
// Default is ai.DefaultRetryPolicy().
func WithRetryPolicy(p ai.RetryPolicy) Option {
	return func(o *Orchestrator) error {
		if err := p.Validate(); err != nil {
			return err
		}
		o.retry = p
		return nil
	}
}

// WithPoolSize sets the worker pool size for IngestBatch.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(o *Orchestrator) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if o.pool != nil {
			o.pool.Release()
		}
		o.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// NewOrchestrator creates an ingestion orchestrator.
func NewOrchestrator(index storage.VectorIndex, docs storage.DocumentRepository, embedder ai.Embedder, opts ...Option) (*Orchestrator, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if docs == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	c, err := chunker.New()
	if err != nil {
		return nil, err
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		index:       index,
		docs:        docs,
		embedder:    embedder,
		chunker:     c,
		reingest:    ReingestReplace,
		concurrency: ConcurrentWait,
		retry:       ai.DefaultRetryPolicy(),
		pool:        pool,
		locks:       newDocLocks(),
		logger:      slog.Default(),
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		if err := opt(o); err != nil {
			o.Release()
			return nil, err
		}
	}
	o.logger = o.logger.With("component", "ingestion")
	return o, nil
}

// Release releases the worker pool.
// The orchestrator should not be used after calling Release.
func (o *Orchestrator) Release() {
	if o.pool != nil {
		o.pool.Release()
	}
}

// Ingest chunks, embeds and publishes doc. Content identical to the live
// generation is a no-op that returns the existing chunk ids.
func (o *Orchestrator) Ingest(ctx context.Context, doc *core.Document) (*Outcome, error) {
	validationErr := core.ValidateDocument(doc)
	if validationErr != nil && !errors.Is(validationErr, core.ErrMalformedDocument) {
		return nil, validationErr
	}

	release, err := o.locks.acquire(ctx, doc.ID, o.concurrency == ConcurrentWait)
	if err != nil {
		return nil, err
	}
	defer release()

	logger := o.logger.With("document_id", doc.ID)

	rec, err := o.docs.GetDocument(ctx, doc.ID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		rec = &core.DocumentRecord{ID: doc.ID, CreatedAt: o.now()}
	case err != nil:
		return nil, err
	}

	hash := core.ContentHash(doc.Text)
	if validationErr == nil && rec.State == core.StateIndexed && rec.ContentHash == hash {
		logger.Debug("content unchanged", "generation", rec.Generation)
		return &Outcome{
			DocumentID: doc.ID,
			Status:     StatusUnchanged,
			Generation: rec.Generation,
			ChunkIDs:   slices.Clone(rec.ChunkIDs),
		}, nil
	}

	if rec.Generation > 0 && o.reingest == ReingestReject {
		return nil, fmt.Errorf("%w: %s", ErrDocumentExists, doc.ID)
	}

	// A record left mid-flight by a crash is failed before starting over.
	switch rec.State {
	case core.StatePending, core.StateChunking, core.StateEmbedding:
		logger.Warn("recovering interrupted ingestion", "state", rec.State, "pending_generation", rec.PendingGeneration)
		if err := rec.Transition(core.StateFailed); err != nil {
			return nil, err
		}
	}

	if err := rec.Transition(core.StatePending); err != nil {
		return nil, err
	}
	rec.PendingGeneration = o.nextGeneration(rec)
	rec.Source = doc.Metadata.Source
	rec.Error = ""
	if err := o.save(ctx, rec); err != nil {
		return nil, err
	}

	if validationErr != nil {
		return nil, o.fail(ctx, logger, rec, "validate", validationErr)
	}
	return o.run(ctx, logger, rec, doc, hash)
}

// run executes the chunk, embed, index and publish steps for a pending record.
func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, rec *core.DocumentRecord, doc *core.Document, hash string) (*Outcome, error) {
	gen := rec.PendingGeneration
	logger = logger.With("generation", gen)
	start := time.Now()

	if err := o.advance(ctx, rec, core.StateChunking); err != nil {
		return nil, o.fail(ctx, logger, rec, "chunk", err)
	}
	chunks, err := o.chunker.Split(doc.Text)
	if err != nil {
		return nil, o.fail(ctx, logger, rec, "chunk", err)
	}
	if len(chunks) == 0 {
		return nil, o.fail(ctx, logger, rec, "chunk", fmt.Errorf("%w: no chunks produced", core.ErrMalformedDocument))
	}

	if err := o.advance(ctx, rec, core.StateEmbedding); err != nil {
		return nil, o.fail(ctx, logger, rec, "embed", err)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := o.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, o.fail(ctx, logger, rec, "embed", err)
	}
	if len(vectors) != len(chunks) {
		return nil, o.fail(ctx, logger, rec, "embed", fmt.Errorf("%w: %w: expected %d, received %d",
			core.ErrEmbeddingProvider, ai.ErrVectorCountMismatch, len(chunks), len(vectors)))
	}

	entries := make([]*core.IndexEntry, len(chunks))
	ids := make([]core.ChunkID, len(chunks))
	for i, c := range chunks {
		c.ID = core.NewChunkID(doc.ID, gen, c.Seq)
		c.DocumentID = doc.ID
		c.Generation = gen
		ids[i] = c.ID
		entries[i] = &core.IndexEntry{Chunk: c, Source: doc.Metadata.Source, Vector: vectors[i]}
	}

	err = o.retry.Do(ctx, func(ctx context.Context) error {
		_, err := o.index.Upsert(ctx, entries)
		return err
	})
	if err != nil {
		return nil, o.fail(ctx, logger, rec, "index", err)
	}
	err = o.retry.Do(ctx, func(ctx context.Context) error {
		return o.index.Publish(ctx, doc.ID, gen)
	})
	if err != nil {
		return nil, o.fail(ctx, logger, rec, "publish", err)
	}

	// The new generation is live from here on.
	status := StatusCreated
	if rec.Generation > 0 {
		status = StatusUpdated
		if o.reingest == ReingestVersion {
			rec.History = append(rec.History, rec.Generation)
		}
	}
	if o.reingest != ReingestVersion {
		rec.History = nil
	}
	rec.Generation = gen
	rec.PendingGeneration = 0
	rec.ContentHash = hash
	rec.ChunkIDs = ids
	if err := rec.Transition(core.StateIndexed); err != nil {
		return nil, err
	}
	rec.UpdatedAt = o.now()
	if err := o.save(context.WithoutCancel(ctx), rec); err != nil {
		return nil, err
	}

	keep := append(slices.Clone(rec.History), gen)
	if removed, err := o.index.Purge(context.WithoutCancel(ctx), doc.ID, keep...); err != nil {
		logger.Warn("failed to purge superseded generations", "err", err)
	} else if removed > 0 {
		logger.Debug("purged superseded generations", "entries", removed)
	}

	logger.Info("document indexed", "status", status, "chunks", len(chunks), "duration", time.Since(start))
	return &Outcome{
		DocumentID: doc.ID,
		Status:     status,
		Generation: gen,
		ChunkIDs:   slices.Clone(ids),
	}, nil
}

func (o *Orchestrator) advance(ctx context.Context, rec *core.DocumentRecord, next core.DocumentState) error {
	if err := rec.Transition(next); err != nil {
		return err
	}
	return o.save(ctx, rec)
}

func (o *Orchestrator) save(ctx context.Context, rec *core.DocumentRecord) error {
	rec.UpdatedAt = o.now()
	return o.docs.PutDocument(ctx, rec)
}

// fail records cause against rec, removes the entries of the pending
// generation and returns a *core.DocumentError wrapping cause.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, rec *core.DocumentRecord, stage string, cause error) error {
	ctx = context.WithoutCancel(ctx)
	docErr := &core.DocumentError{ID: rec.ID, Stage: stage, Err: cause}
	logger.Error("ingestion failed", "stage", stage, "err", cause)

	if rec.PendingGeneration > 0 {
		keep := slices.Clone(rec.History)
		if rec.Generation > 0 {
			keep = append(keep, rec.Generation)
		}
		if _, err := o.index.Purge(ctx, rec.ID, keep...); err != nil {
			logger.Warn("failed to discard pending generation", "err", err)
		}
		rec.PendingGeneration = 0
	}

	if err := rec.Transition(core.StateFailed); err != nil {
		return errors.Join(docErr, err)
	}
	rec.Error = cause.Error()
	if err := o.save(ctx, rec); err != nil {
		return errors.Join(docErr, err)
	}
	return docErr
}

// nextGeneration is past every generation rec knows about, including one
// left behind by an interrupted attempt.
func (o *Orchestrator) nextGeneration(rec *core.DocumentRecord) int {
	gen := max(rec.Generation, rec.PendingGeneration)
	for _, h := range rec.History {
		gen = max(gen, h)
	}
	return gen + 1
}

// ProgressFunc receives batch progress after each document.
type ProgressFunc func(processed, total int, id core.DocumentID)

// Failure pairs a document with the error that stopped it.
type Failure struct {
	DocumentID core.DocumentID
	Err        error
}

// BatchResult collects the per-document results of IngestBatch.
type BatchResult struct {
	Outcomes []*Outcome
	Failures []Failure
}

// IngestBatch ingests docs on the worker pool. Documents interleave freely;
// a failure of one does not stop the others. The returned error is only set
// when the batch itself could not run.
func (o *Orchestrator) IngestBatch(ctx context.Context, docs []*core.Document, progress ProgressFunc) (*BatchResult, error) {
	result := &BatchResult{}
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		processed int
	)

	record := func(id core.DocumentID, out *Outcome, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			result.Failures = append(result.Failures, Failure{DocumentID: id, Err: err})
		} else {
			result.Outcomes = append(result.Outcomes, out)
		}
		processed++
		if progress != nil {
			progress(processed, len(docs), id)
		}
	}

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return result, err
		}
		wg.Add(1)
		err := o.pool.Submit(func() {
			defer wg.Done()
			out, err := o.Ingest(ctx, doc)
			var id core.DocumentID
			if doc != nil {
				id = doc.ID
			}
			record(id, out, err)
		})
		if err != nil {
			wg.Done()
			wg.Wait()
			return result, fmt.Errorf("submit ingestion task: %w", err)
		}
	}
	wg.Wait()

	o.logger.Info("batch ingested", "documents", len(docs), "succeeded", len(result.Outcomes), "failed", len(result.Failures))
	return result, nil
}

// Delete removes every generation of a document and its record.
func (o *Orchestrator) Delete(ctx context.Context, id core.DocumentID) (int, error) {
	release, err := o.locks.acquire(ctx, id, true)
	if err != nil {
		return 0, err
	}
	defer release()

	_, getErr := o.docs.GetDocument(ctx, id)
	if getErr != nil && !errors.Is(getErr, storage.ErrNotFound) {
		return 0, getErr
	}

	var removed int
	err = o.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		removed, err = o.index.Purge(ctx, id)
		return err
	})
	if err != nil {
		return 0, err
	}
	if getErr != nil && removed == 0 {
		return 0, getErr
	}
	if err := o.docs.DeleteDocument(ctx, id); err != nil {
		return removed, err
	}
	o.logger.Info("document deleted", "document_id", id, "entries", removed)
	return removed, nil
}

// Status returns the record of one document.
func (o *Orchestrator) Status(ctx context.Context, id core.DocumentID) (*core.DocumentRecord, error) {
	return o.docs.GetDocument(ctx, id)
}

// List returns every document record ordered by id.
func (o *Orchestrator) List(ctx context.Context) ([]*core.DocumentRecord, error) {
	return o.docs.ListDocuments(ctx)
}

// Reset removes every document and index entry. It fails with
// ErrIngestionInProgress while any document operation holds its lock.
func (o *Orchestrator) Reset(ctx context.Context) error {
	release, err := o.locks.exclusive()
	if err != nil {
		return err
	}
	defer release()

	if err := o.index.Reset(ctx); err != nil {
		return err
	}
	if err := o.docs.ResetDocuments(ctx); err != nil {
		return err
	}
	o.logger.Info("all documents removed")
	return nil
}
