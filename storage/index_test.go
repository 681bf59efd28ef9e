package storage_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/storage"
	"github.com/poiesic/contractor/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIndex(t *testing.T, opts ...storage.IndexOption) (*storage.Index, *badger.Backend) {
	t.Helper()
	backend, err := badger.NewMemoryBackend()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	ix, err := storage.OpenIndex(backend, opts...)
	require.NoError(t, err)
	return ix, backend
}

func entry(doc core.DocumentID, gen, seq int, text string, vector ...float32) *core.IndexEntry {
	return &core.IndexEntry{
		Chunk: core.Chunk{
			ID:         core.NewChunkID(doc, gen, seq),
			DocumentID: doc,
			Generation: gen,
			Seq:        seq,
			Text:       text,
		},
		Source: string(doc) + ".txt",
		Vector: vector,
	}
}

func publish(t *testing.T, ix *storage.Index, doc core.DocumentID, gen int, entries ...*core.IndexEntry) {
	t.Helper()
	ctx := context.Background()
	n, err := ix.Upsert(ctx, entries)
	require.NoError(t, err)
	require.Equal(t, len(entries), n)
	require.NoError(t, ix.Publish(ctx, doc, gen))
}

func TestSearch_EmptyIndex(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)

	_, err := ix.Search(ctx, []float32{1, 0}, 3, core.Filter{})
	assert.ErrorIs(t, err, core.ErrEmptyIndex)

	// Stored but unpublished entries are still invisible.
	_, err = ix.Upsert(ctx, []*core.IndexEntry{entry("a", 1, 0, "x", 1, 0)})
	require.NoError(t, err)
	_, err = ix.Search(ctx, []float32{1, 0}, 3, core.Filter{})
	assert.ErrorIs(t, err, core.ErrEmptyIndex)
}

func TestSearch_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)

	publish(t, ix, "a", 1,
		entry("a", 1, 0, "rent", 1, 0, 0),
		entry("a", 1, 1, "term", 0, 1, 0),
		entry("a", 1, 2, "notice", 0, 0, 1),
	)

	for i, want := range []string{"rent", "term", "notice"} {
		q := make([]float32, 3)
		q[i] = 1
		hits, err := ix.Search(ctx, q, 1, core.Filter{})
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, want, hits[0].Entry.Text)
		assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	}
}

func TestSearch_OrderAndTieBreak(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)

	publish(t, ix, "b", 1, entry("b", 1, 0, "b0", 1, 1))
	publish(t, ix, "a", 1,
		entry("a", 1, 1, "a1", 1, 1),
		entry("a", 1, 0, "a0", 1, 0),
	)

	for range 5 {
		hits, err := ix.Search(ctx, []float32{1, 1}, 3, core.Filter{})
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, []core.ChunkID{"a#g000001#000001", "b#g000001#000000", "a#g000001#000000"},
			[]core.ChunkID{hits[0].Entry.ID, hits[1].Entry.ID, hits[2].Entry.ID})
		assert.Equal(t, hits[0].Score, hits[1].Score)
		assert.Greater(t, hits[1].Score, hits[2].Score)
	}
}

func TestSearch_TopKAndFilter(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)

	for i := range 10 {
		doc := core.DocumentID(fmt.Sprintf("doc%d", i))
		publish(t, ix, doc, 1, entry(doc, 1, 0, string(doc), 1, float32(i)))
	}

	hits, err := ix.Search(ctx, []float32{1, 9}, 3, core.Filter{})
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	hits, err = ix.Search(ctx, []float32{1, 9}, 10, core.Filter{DocumentIDs: []core.DocumentID{"doc2", "doc4"}})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.Contains(t, []core.DocumentID{"doc2", "doc4"}, h.Entry.DocumentID)
	}
}

func TestSearch_InvalidQuery(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)
	publish(t, ix, "a", 1, entry("a", 1, 0, "x", 1, 0))

	_, err := ix.Search(ctx, nil, 1, core.Filter{})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	_, err = ix.Search(ctx, []float32{1, 0}, 0, core.Filter{})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)
	_, err = ix.Search(ctx, []float32{1, 0, 0}, 1, core.Filter{})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)
}

func TestInnerProductMetric(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t, storage.WithMetric(core.MetricInnerProduct))

	publish(t, ix, "a", 1,
		entry("a", 1, 0, "short", 1, 0),
		entry("a", 1, 1, "long", 3, 0),
	)

	hits, err := ix.Search(ctx, []float32{1, 0}, 2, core.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "long", hits[0].Entry.Text)
	assert.InDelta(t, 3.0, hits[0].Score, 1e-6)
	assert.Equal(t, core.MetricInnerProduct, ix.Metric())
}

func TestMetricFixedAtCreation(t *testing.T) {
	ix, backend := newIndex(t, storage.WithMetric(core.MetricInnerProduct))
	require.NotNil(t, ix)

	_, err := storage.OpenIndex(backend, storage.WithMetric(core.MetricCosine))
	assert.ErrorIs(t, err, core.ErrConfiguration)
	assert.ErrorIs(t, err, storage.ErrMetricMismatch)

	_, err = storage.OpenIndex(backend, storage.WithMetric(core.MetricInnerProduct))
	assert.NoError(t, err)

	_, err = storage.OpenIndex(backend, storage.WithMetric("euclid"))
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)

	_, err := ix.Upsert(ctx, []*core.IndexEntry{entry("a", 1, 0, "x", 1, 0, 0)})
	require.NoError(t, err)

	_, err = ix.Upsert(ctx, []*core.IndexEntry{entry("a", 1, 1, "y", 1, 0)})
	assert.ErrorIs(t, err, storage.ErrDimensionMismatch)

	_, err = ix.Upsert(ctx, []*core.IndexEntry{entry("a", 1, 1, "y")})
	assert.ErrorIs(t, err, core.ErrInvalidEntry)
}

func TestUpsert_ReplacesByID(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)

	publish(t, ix, "a", 1, entry("a", 1, 0, "old", 1, 0))
	_, err := ix.Upsert(ctx, []*core.IndexEntry{entry("a", 1, 0, "new", 0, 1)})
	require.NoError(t, err)

	got, err := ix.Get(ctx, core.NewChunkID("a", 1, 0))
	require.NoError(t, err)
	assert.Equal(t, "new", got.Text)

	stats, err := ix.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 2, stats.Dimension)
	assert.Equal(t, "badger", stats.Backend)
}

func TestGenerations_PublishAndPurge(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)

	publish(t, ix, "a", 1, entry("a", 1, 0, "v1", 1, 0))

	_, err := ix.Upsert(ctx, []*core.IndexEntry{entry("a", 2, 0, "v2", 1, 0)})
	require.NoError(t, err)

	hits, err := ix.Search(ctx, []float32{1, 0}, 5, core.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v1", hits[0].Entry.Text, "unpublished generation is invisible")

	require.NoError(t, ix.Publish(ctx, "a", 2))
	hits, err = ix.Search(ctx, []float32{1, 0}, 5, core.Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "v2", hits[0].Entry.Text)

	removed, err := ix.Purge(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	stats, err := ix.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, 1, stats.Live)
	assert.Equal(t, 1, stats.Documents)

	removed, err = ix.Purge(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	n, err := ix.LiveCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublish_UnknownGeneration(t *testing.T) {
	ix, _ := newIndex(t)
	err := ix.Publish(context.Background(), "a", 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete_Idempotent(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)
	publish(t, ix, "a", 1, entry("a", 1, 0, "x", 1, 0), entry("a", 1, 1, "y", 0, 1))

	ids := []core.ChunkID{core.NewChunkID("a", 1, 0)}
	n, err := ix.Delete(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = ix.Delete(ctx, ids)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = ix.Get(ctx, ids[0])
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIndexReload(t *testing.T) {
	ctx := context.Background()
	ix, backend := newIndex(t)
	publish(t, ix, "a", 3, entry("a", 3, 0, "x", 1, 0), entry("a", 3, 1, "y", 0, 1))

	reopened, err := storage.OpenIndex(backend)
	require.NoError(t, err)

	stats, err := reopened.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Live)
	assert.Equal(t, 2, stats.Dimension)

	hits, err := reopened.Search(ctx, []float32{0, 1}, 1, core.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "y", hits[0].Entry.Text)
}

func TestSnapshotAndReplace(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)
	publish(t, ix, "b", 1, entry("b", 1, 0, "b", 1, 0, 0))
	publish(t, ix, "a", 1, entry("a", 1, 0, "a", 0, 1, 0))

	snap, err := ix.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	assert.Equal(t, core.DocumentID("a"), snap[0].DocumentID)

	for i, e := range snap {
		e.Vector = []float32{float32(i), 1}
	}
	require.NoError(t, ix.Replace(ctx, snap))

	hits, err := ix.Search(ctx, []float32{0, 1}, 1, core.Filter{})
	require.NoError(t, err)
	assert.Equal(t, "a", hits[0].Entry.Text, "publications survive a replace")

	stats, err := ix.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Dimension)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	ix, _ := newIndex(t)
	publish(t, ix, "a", 1, entry("a", 1, 0, "x", 1, 0))

	require.NoError(t, ix.Reset(ctx))
	_, err := ix.Search(ctx, []float32{1, 0}, 1, core.Filter{})
	assert.ErrorIs(t, err, core.ErrEmptyIndex)

	// The dimension is free again after a reset.
	publish(t, ix, "a", 1, entry("a", 1, 0, "x", 1, 0, 0))
}

func TestApproximateSearch(t *testing.T) {
	ctx := context.Background()
	exact, _ := newIndex(t)
	approx, _ := newIndex(t, storage.WithSearchMode(core.SearchApproximate), storage.WithLSHBits(8))
	assert.Equal(t, core.SearchApproximate, approx.Mode())

	rng := rand.New(rand.NewPCG(1, 2))
	var entries []*core.IndexEntry
	for i := range 200 {
		v := make([]float32, 16)
		for j := range v {
			v[j] = float32(rng.NormFloat64())
		}
		entries = append(entries, entry("doc", 1, i, fmt.Sprint(i), v...))
	}
	publish(t, exact, "doc", 1, entries...)
	publish(t, approx, "doc", 1, entries...)

	for _, probe := range []int{0, 57, 199} {
		q := entries[probe].Vector
		want, err := exact.Search(ctx, q, 1, core.Filter{})
		require.NoError(t, err)
		got, err := approx.Search(ctx, q, 1, core.Filter{})
		require.NoError(t, err)
		assert.Equal(t, want[0].Entry.ID, got[0].Entry.ID)
	}

	// Asking for more than any bucket holds falls back to a full scan.
	got, err := approx.Search(ctx, entries[0].Vector, 200, core.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 200)
}

func TestOptionsValidate(t *testing.T) {
	backend, err := badger.NewMemoryBackend()
	require.NoError(t, err)
	defer backend.Close()

	for _, opt := range []storage.IndexOption{
		storage.WithSearchMode("fuzzy"),
		storage.WithIndexTimeout(0),
		storage.WithLSHBits(33),
	} {
		_, err := storage.OpenIndex(backend, opt)
		assert.ErrorIs(t, err, core.ErrConfiguration)
	}

	_, err = storage.OpenIndex(nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

// slowBackend delays every transaction while slow is set.
type slowBackend struct {
	storage.Backend
	slow  atomic.Bool
	delay time.Duration
}

func (b *slowBackend) WithTx(fn func(tx storage.Tx) error, isWrite bool) error {
	if b.slow.Load() {
		time.Sleep(b.delay)
	}
	return b.Backend.WithTx(fn, isWrite)
}

func TestIndexTimeout(t *testing.T) {
	ctx := context.Background()
	inner, err := badger.NewMemoryBackend()
	require.NoError(t, err)
	defer inner.Close()

	backend := &slowBackend{Backend: inner, delay: 200 * time.Millisecond}
	ix, err := storage.OpenIndex(backend, storage.WithIndexTimeout(20*time.Millisecond))
	require.NoError(t, err)

	backend.slow.Store(true)
	_, err = ix.Upsert(ctx, []*core.IndexEntry{entry("a", 1, 0, "x", 1, 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrIndexUnavailable)
	assert.True(t, core.IsTransient(err))

	// The timed out write still lands.
	backend.slow.Store(false)
	assert.Eventually(t, func() bool {
		_, err := ix.Get(ctx, core.NewChunkID("a", 1, 0))
		return err == nil
	}, time.Second, 10*time.Millisecond)
}

func TestCancelledContext(t *testing.T) {
	ix, _ := newIndex(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ix.Upsert(ctx, []*core.IndexEntry{entry("a", 1, 0, "x", 1, 0)})
	assert.ErrorIs(t, err, context.Canceled)
}
