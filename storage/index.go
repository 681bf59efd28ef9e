package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/poiesic/contractor/core"
)

// Bucket names used by the index.
const (
	entriesBucket = "entries"
	liveBucket    = "live"
	metaBucket    = "meta"

	metaMetric    = "metric"
	metaDimension = "dimension"
)

// DefaultIndexTimeout bounds every index operation.
const DefaultIndexTimeout = 10 * time.Second

// record is a cached entry with its precomputed norm and LSH signature.
type record struct {
	entry *core.IndexEntry
	norm  float32
	sig   uint32
}

// Index is the VectorIndex implementation shared by every Backend. All
// entries are cached in memory and every mutation is written through to the
// backend before the cache changes. Search is exact by default; approximate
// mode narrows candidates with random hyperplane hashing before exact scoring.
type Index struct {
	backend Backend
	metric  core.Metric
	mode    core.SearchMode
	timeout time.Duration
	lshBits int
	logger  *slog.Logger

	mu        sync.RWMutex
	dimension int
	entries   map[core.ChunkID]*record
	byDoc     map[core.DocumentID]map[core.ChunkID]struct{}
	live      map[core.DocumentID]int
	lsh       *lshTable
}

// IndexOption configures an Index.
type IndexOption func(*Index) error

// WithMetric sets the metric used when the index is created. Opening an
// existing index with a different metric fails.
func WithMetric(m core.Metric) IndexOption {
	return func(ix *Index) error {
		if err := core.ValidateMetric(m); err != nil {
			return err
		}
		ix.metric = m
		return nil
	}
}

// WithSearchMode selects exact (default) or approximate search.
func WithSearchMode(m core.SearchMode) IndexOption {
	return func(ix *Index) error {
		if err := core.ValidateSearchMode(m); err != nil {
			return err
		}
		ix.mode = m
		return nil
	}
}

// WithIndexTimeout bounds each index operation.
func WithIndexTimeout(d time.Duration) IndexOption {
	return func(ix *Index) error {
		if d <= 0 {
			return fmt.Errorf("%w: index timeout must be positive", core.ErrConfiguration)
		}
		ix.timeout = d
		return nil
	}
}

// WithLSHBits sets the signature width for approximate search (1..32).
func WithLSHBits(n int) IndexOption {
	return func(ix *Index) error {
		if n < 1 || n > 32 {
			return fmt.Errorf("%w: lsh bits must be within [1,32], got %d", core.ErrConfiguration, n)
		}
		ix.lshBits = n
		return nil
	}
}

// WithIndexLogger sets the logger.
func WithIndexLogger(logger *slog.Logger) IndexOption {
	return func(ix *Index) error {
		ix.logger = logger
		return nil
	}
}

// OpenIndex loads the index stored in backend, creating it with the
// configured metric when the backend is empty.
func OpenIndex(backend Backend, opts ...IndexOption) (*Index, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: backend is required", core.ErrConfiguration)
	}
	ix := &Index{
		backend: backend,
		metric:  core.MetricCosine,
		mode:    core.SearchExact,
		timeout: DefaultIndexTimeout,
		lshBits: defaultLSHBits,
		logger:  slog.Default(),
		entries: make(map[core.ChunkID]*record),
		byDoc:   make(map[core.DocumentID]map[core.ChunkID]struct{}),
		live:    make(map[core.DocumentID]int),
	}
	for _, opt := range opts {
		if err := opt(ix); err != nil {
			return nil, err
		}
	}
	ix.logger = ix.logger.With("component", "vector-index", "backend", backend.Name())

	if err := ix.load(); err != nil {
		return nil, err
	}
	ix.logger.Debug("index opened", "metric", ix.metric, "mode", ix.mode, "dimension", ix.dimension, "entries", len(ix.entries))
	return ix, nil
}

func (ix *Index) load() error {
	return ix.backend.WithTx(func(tx Tx) error {
		stored, err := tx.Get(metaBucket, []byte(metaMetric))
		switch {
		case errors.Is(err, ErrNotFound):
			if err := tx.Put(metaBucket, []byte(metaMetric), []byte(ix.metric)); err != nil {
				return unavailable("write metric", err)
			}
		case err != nil:
			return unavailable("read metric", err)
		case core.Metric(stored) != ix.metric:
			return fmt.Errorf("%w: %w: index was created with %q, configured %q",
				core.ErrConfiguration, ErrMetricMismatch, stored, ix.metric)
		}

		if raw, err := tx.Get(metaBucket, []byte(metaDimension)); err == nil {
			if ix.dimension, err = strconv.Atoi(string(raw)); err != nil {
				return fmt.Errorf("%w: dimension: %w", ErrSerializationFailed, err)
			}
		} else if !errors.Is(err, ErrNotFound) {
			return unavailable("read dimension", err)
		}
		if ix.dimension > 0 {
			ix.initLSH()
		}

		err = tx.ForEach(entriesBucket, func(_, value []byte) error {
			entry, err := UnmarshalEntry(value)
			if err != nil {
				return err
			}
			ix.cache(entry)
			return nil
		})
		if err != nil {
			return err
		}

		return tx.ForEach(liveBucket, func(key, value []byte) error {
			gen, err := strconv.Atoi(string(value))
			if err != nil {
				return fmt.Errorf("%w: live generation of %s: %w", ErrSerializationFailed, key, err)
			}
			ix.live[core.DocumentID(key)] = gen
			return nil
		})
	}, true)
}

// run executes fn with the index timeout. A timed out operation keeps
// running to completion in the background so the cache never diverges from
// the backend; the caller gets a retryable core.ErrIndexUnavailable.
func (ix *Index) run(ctx context.Context, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, ix.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			ix.logger.Warn("index operation timed out", "op", op, "timeout", ix.timeout)
			return fmt.Errorf("%w: %s: %w", core.ErrIndexUnavailable, op, ctx.Err())
		}
		return ctx.Err()
	}
}

func unavailable(op string, err error) error {
	if errors.Is(err, core.ErrIndexUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", core.ErrIndexUnavailable, op, err)
}

// Metric returns the similarity metric fixed at creation.
func (ix *Index) Metric() core.Metric {
	return ix.metric
}

// Mode returns the search mode.
func (ix *Index) Mode() core.SearchMode {
	return ix.mode
}

// Upsert inserts or replaces entries by chunk id.
func (ix *Index) Upsert(ctx context.Context, entries []*core.IndexEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	for _, e := range entries {
		if err := core.ValidateEntry(e); err != nil {
			return 0, err
		}
	}

	var written int
	err := ix.run(ctx, "upsert", func() error {
		ix.mu.Lock()
		defer ix.mu.Unlock()

		dim := ix.dimension
		if dim == 0 {
			dim = len(entries[0].Vector)
		}
		for _, e := range entries {
			if len(e.Vector) != dim {
				return fmt.Errorf("%w: chunk %s has %d dimensions, index has %d",
					ErrDimensionMismatch, e.ID, len(e.Vector), dim)
			}
		}

		err := ix.backend.WithTx(func(tx Tx) error {
			if ix.dimension == 0 {
				if err := tx.Put(metaBucket, []byte(metaDimension), []byte(strconv.Itoa(dim))); err != nil {
					return unavailable("write dimension", err)
				}
			}
			for _, e := range entries {
				data, err := MarshalEntry(e)
				if err != nil {
					return err
				}
				if err := tx.Put(entriesBucket, []byte(e.ID), data); err != nil {
					return unavailable("write entry", err)
				}
			}
			return nil
		}, true)
		if err != nil {
			return err
		}

		if ix.dimension == 0 {
			ix.dimension = dim
			ix.initLSH()
		}
		for _, e := range entries {
			ix.uncache(e.ID)
			ix.cache(cloneEntry(e))
		}
		written = len(entries)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// Search returns the best visible entries for vector.
func (ix *Index) Search(ctx context.Context, vector []float32, topK int, filter core.Filter) ([]core.ScoredEntry, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidQuery)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidQuery, topK)
	}

	var results []core.ScoredEntry
	err := ix.run(ctx, "search", func() error {
		ix.mu.RLock()
		defer ix.mu.RUnlock()

		if ix.liveCountLocked() == 0 {
			return core.ErrEmptyIndex
		}
		if len(vector) != ix.dimension {
			return fmt.Errorf("%w: query has %d dimensions, index has %d", ErrDimensionMismatch, len(vector), ix.dimension)
		}

		qnorm := norm(vector)
		var candidates []*record
		if ix.mode == core.SearchApproximate && ix.lsh != nil {
			candidates = ix.visible(ix.lsh.candidates(vector, ix.entries), filter)
			if len(candidates) < topK {
				ix.logger.Debug("approximate search short of candidates, scanning", "candidates", len(candidates), "topK", topK)
				candidates = nil
			}
		}
		if candidates == nil {
			candidates = ix.visible(ix.all(), filter)
		}

		results = make([]core.ScoredEntry, 0, len(candidates))
		for _, r := range candidates {
			results = append(results, core.ScoredEntry{
				Entry: r.entry,
				Score: ix.score(vector, qnorm, r),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	SortScored(results)
	if len(results) > topK {
		results = results[:topK]
	}
	// Cached entries are never mutated in place, so copying outside the lock is safe.
	for i := range results {
		results[i].Entry = cloneEntry(results[i].Entry)
	}
	return results, nil
}

// SortScored orders hits by descending score, then ascending chunk id.
func SortScored(results []core.ScoredEntry) {
	slices.SortFunc(results, func(a, b core.ScoredEntry) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		switch {
		case a.Entry.ID < b.Entry.ID:
			return -1
		case a.Entry.ID > b.Entry.ID:
			return 1
		}
		return 0
	})
}

func (ix *Index) score(query []float32, qnorm float32, r *record) float32 {
	dot := dotProduct(query, r.entry.Vector)
	if ix.metric == core.MetricInnerProduct {
		return dot
	}
	if qnorm == 0 || r.norm == 0 {
		return 0
	}
	return dot / (qnorm * r.norm)
}

func (ix *Index) all() []*record {
	out := make([]*record, 0, len(ix.entries))
	for _, r := range ix.entries {
		out = append(out, r)
	}
	return out
}

// visible keeps records of published generations that pass filter.
func (ix *Index) visible(in []*record, filter core.Filter) []*record {
	out := in[:0:0]
	for _, r := range in {
		gen, ok := ix.live[r.entry.DocumentID]
		if !ok || gen != r.entry.Generation || !filter.Matches(r.entry.DocumentID) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Delete removes entries by id. Unknown ids are ignored.
func (ix *Index) Delete(ctx context.Context, ids []core.ChunkID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var removed int
	err := ix.run(ctx, "delete", func() error {
		ix.mu.Lock()
		defer ix.mu.Unlock()
		var err error
		removed, err = ix.deleteLocked(ids)
		return err
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (ix *Index) deleteLocked(ids []core.ChunkID) (int, error) {
	present := make([]core.ChunkID, 0, len(ids))
	for _, id := range ids {
		if _, ok := ix.entries[id]; ok {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return 0, nil
	}
	err := ix.backend.WithTx(func(tx Tx) error {
		for _, id := range present {
			if err := tx.Delete(entriesBucket, []byte(id)); err != nil {
				return unavailable("delete entry", err)
			}
		}
		return nil
	}, true)
	if err != nil {
		return 0, err
	}
	for _, id := range present {
		ix.uncache(id)
	}
	return len(present), nil
}

// Get returns one entry by id.
func (ix *Index) Get(ctx context.Context, id core.ChunkID) (*core.IndexEntry, error) {
	var entry *core.IndexEntry
	err := ix.run(ctx, "get", func() error {
		ix.mu.RLock()
		defer ix.mu.RUnlock()
		r, ok := ix.entries[id]
		if !ok {
			return fmt.Errorf("%w: chunk %s", ErrNotFound, id)
		}
		entry = cloneEntry(r.entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Publish makes gen the visible generation of doc. The generation must have
// at least one stored entry.
func (ix *Index) Publish(ctx context.Context, doc core.DocumentID, gen int) error {
	return ix.run(ctx, "publish", func() error {
		ix.mu.Lock()
		defer ix.mu.Unlock()

		found := false
		for id := range ix.byDoc[doc] {
			if ix.entries[id].entry.Generation == gen {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: no entries for %s generation %d", ErrNotFound, doc, gen)
		}

		err := ix.backend.WithTx(func(tx Tx) error {
			return tx.Put(liveBucket, []byte(doc), []byte(strconv.Itoa(gen)))
		}, true)
		if err != nil {
			return unavailable("publish", err)
		}
		ix.live[doc] = gen
		return nil
	})
}

// Purge removes every generation of doc not in keep.
func (ix *Index) Purge(ctx context.Context, doc core.DocumentID, keep ...int) (int, error) {
	var removed int
	err := ix.run(ctx, "purge", func() error {
		ix.mu.Lock()
		defer ix.mu.Unlock()

		var ids []core.ChunkID
		for id := range ix.byDoc[doc] {
			if !slices.Contains(keep, ix.entries[id].entry.Generation) {
				ids = append(ids, id)
			}
		}
		var err error
		if removed, err = ix.deleteLocked(ids); err != nil {
			return err
		}

		if gen, ok := ix.live[doc]; ok && !slices.Contains(keep, gen) {
			err := ix.backend.WithTx(func(tx Tx) error {
				return tx.Delete(liveBucket, []byte(doc))
			}, true)
			if err != nil {
				return unavailable("unpublish", err)
			}
			delete(ix.live, doc)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// LiveCount returns the number of entries visible to Search.
func (ix *Index) LiveCount(ctx context.Context) (int, error) {
	var n int
	err := ix.run(ctx, "count", func() error {
		ix.mu.RLock()
		defer ix.mu.RUnlock()
		n = ix.liveCountLocked()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (ix *Index) liveCountLocked() int {
	n := 0
	for doc, gen := range ix.live {
		for id := range ix.byDoc[doc] {
			if ix.entries[id].entry.Generation == gen {
				n++
			}
		}
	}
	return n
}

// Stats reports index shape and size.
func (ix *Index) Stats(ctx context.Context) (IndexStats, error) {
	var stats IndexStats
	err := ix.run(ctx, "stats", func() error {
		ix.mu.RLock()
		defer ix.mu.RUnlock()
		stats = IndexStats{
			Backend:   ix.backend.Name(),
			Metric:    ix.metric,
			Mode:      ix.mode,
			Dimension: ix.dimension,
			Entries:   len(ix.entries),
			Live:      ix.liveCountLocked(),
			Documents: len(ix.live),
		}
		return nil
	})
	if err != nil {
		return IndexStats{}, err
	}
	return stats, nil
}

// Snapshot returns copies of every stored entry ordered by chunk id.
func (ix *Index) Snapshot(ctx context.Context) ([]*core.IndexEntry, error) {
	var out []*core.IndexEntry
	err := ix.run(ctx, "snapshot", func() error {
		ix.mu.RLock()
		defer ix.mu.RUnlock()
		out = make([]*core.IndexEntry, 0, len(ix.entries))
		for _, r := range ix.entries {
			out = append(out, cloneEntry(r.entry))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(out, func(a, b *core.IndexEntry) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out, nil
}

// Replace swaps the full entry set in one transaction. The new entries fix
// a new dimension; publications are kept.
func (ix *Index) Replace(ctx context.Context, entries []*core.IndexEntry) error {
	dim := 0
	for _, e := range entries {
		if err := core.ValidateEntry(e); err != nil {
			return err
		}
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return fmt.Errorf("%w: chunk %s has %d dimensions, expected %d", ErrDimensionMismatch, e.ID, len(e.Vector), dim)
		}
	}

	return ix.run(ctx, "replace", func() error {
		ix.mu.Lock()
		defer ix.mu.Unlock()

		err := ix.backend.WithTx(func(tx Tx) error {
			if err := tx.DeleteBucket(entriesBucket); err != nil {
				return unavailable("clear entries", err)
			}
			if err := tx.Delete(metaBucket, []byte(metaDimension)); err != nil {
				return unavailable("clear dimension", err)
			}
			if dim > 0 {
				if err := tx.Put(metaBucket, []byte(metaDimension), []byte(strconv.Itoa(dim))); err != nil {
					return unavailable("write dimension", err)
				}
			}
			for _, e := range entries {
				data, err := MarshalEntry(e)
				if err != nil {
					return err
				}
				if err := tx.Put(entriesBucket, []byte(e.ID), data); err != nil {
					return unavailable("write entry", err)
				}
			}
			return nil
		}, true)
		if err != nil {
			return err
		}

		ix.entries = make(map[core.ChunkID]*record, len(entries))
		ix.byDoc = make(map[core.DocumentID]map[core.ChunkID]struct{})
		ix.dimension = dim
		ix.lsh = nil
		if dim > 0 {
			ix.initLSH()
		}
		for _, e := range entries {
			ix.cache(cloneEntry(e))
		}
		return nil
	})
}

// Reset removes every entry and publication. The metric is kept.
func (ix *Index) Reset(ctx context.Context) error {
	return ix.run(ctx, "reset", func() error {
		ix.mu.Lock()
		defer ix.mu.Unlock()

		err := ix.backend.WithTx(func(tx Tx) error {
			for _, b := range []string{entriesBucket, liveBucket} {
				if err := tx.DeleteBucket(b); err != nil {
					return err
				}
			}
			return tx.Delete(metaBucket, []byte(metaDimension))
		}, true)
		if err != nil {
			return unavailable("reset", err)
		}

		ix.entries = make(map[core.ChunkID]*record)
		ix.byDoc = make(map[core.DocumentID]map[core.ChunkID]struct{})
		ix.live = make(map[core.DocumentID]int)
		ix.dimension = 0
		ix.lsh = nil
		ix.logger.Info("index reset")
		return nil
	})
}

// cache adds an entry to the in-memory maps. Caller holds the write lock.
func (ix *Index) cache(e *core.IndexEntry) {
	r := &record{entry: e, norm: norm(e.Vector)}
	if ix.lsh != nil {
		r.sig = ix.lsh.signature(e.Vector)
		ix.lsh.add(r.sig, e.ID)
	}
	ix.entries[e.ID] = r
	ids, ok := ix.byDoc[e.DocumentID]
	if !ok {
		ids = make(map[core.ChunkID]struct{})
		ix.byDoc[e.DocumentID] = ids
	}
	ids[e.ID] = struct{}{}
}

// uncache removes an entry from the in-memory maps. Caller holds the write lock.
func (ix *Index) uncache(id core.ChunkID) {
	r, ok := ix.entries[id]
	if !ok {
		return
	}
	if ix.lsh != nil {
		ix.lsh.remove(r.sig, id)
	}
	delete(ix.entries, id)
	if ids := ix.byDoc[r.entry.DocumentID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(ix.byDoc, r.entry.DocumentID)
		}
	}
}

func (ix *Index) initLSH() {
	if ix.mode != core.SearchApproximate || ix.dimension == 0 {
		return
	}
	ix.lsh = newLSHTable(ix.lshBits, ix.dimension)
	for _, r := range ix.entries {
		r.sig = ix.lsh.signature(r.entry.Vector)
		ix.lsh.add(r.sig, r.entry.ID)
	}
}

func cloneEntry(e *core.IndexEntry) *core.IndexEntry {
	c := *e
	c.Vector = slices.Clone(e.Vector)
	return &c
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := len(a)
	if len(b) < minLen {
		minLen = len(b)
	}
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func norm(v []float32) float32 {
	return float32(math.Sqrt(float64(dotProduct(v, v))))
}

var _ VectorIndex = (*Index)(nil)
