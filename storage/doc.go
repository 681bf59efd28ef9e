// Package storage holds the vector index and document records.
//
// Everything is kept in a Backend, a small bucketed key/value interface with
// transactions. storage/badger and storage/bolt implement it; Index and
// DocumentStore are written once against it.
//
// # Index
//
// Index caches every entry in memory and writes each mutation through to the
// backend before touching the cache. The similarity metric is recorded when
// the index is created and an index cannot be reopened with another one. The
// vector dimension is fixed by the first upsert.
//
// Entries carry the generation they were written in. Search only sees the
// generation published for each document, so re-ingesting a document writes
// a new generation next to the old one and swaps with Publish:
//
//	ix.Upsert(ctx, next)           // generation 2, not yet visible
//	ix.Publish(ctx, doc, 2)        // readers switch atomically
//	ix.Purge(ctx, doc, 2)          // drop generation 1
//
// Search is exact by default. WithSearchMode(core.SearchApproximate) narrows
// candidates with random hyperplane hashing and falls back to a full scan when
// the probe finds too few.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	ix, err := storage.OpenIndex(backend, storage.WithMetric(core.MetricCosine))
//	docs, err := storage.NewDocumentStore(backend)
//
// Tests can use badger.NewMemoryBackend().
package storage
