package storage

import (
	"context"

	"github.com/poiesic/contractor/core"
)

// Tx is a key/value transaction over named buckets.
// Values passed to ForEach callbacks are only valid inside the callback.
type Tx interface {
	// Get returns a copy of the value, or ErrNotFound.
	Get(bucket string, key []byte) ([]byte, error)

	// Put stores value under key, creating the bucket if needed.
	Put(bucket string, key, value []byte) error

	// Delete removes key. Missing keys are not an error.
	Delete(bucket string, key []byte) error

	// ForEach visits every key in bucket in ascending key order.
	ForEach(bucket string, fn func(key, value []byte) error) error

	// DeleteBucket removes every key in bucket.
	DeleteBucket(bucket string) error
}

// Backend is a durable key/value store the index and document records live in.
type Backend interface {
	// WithTx executes fn within a transaction. A write transaction commits
	// when fn returns nil and is discarded otherwise.
	WithTx(fn func(tx Tx) error, isWrite bool) error

	// Name identifies the backend kind, e.g. "badger".
	Name() string

	// Close closes the storage backend and releases resources.
	Close() error
}

// IndexStats summarises a vector index.
type IndexStats struct {
	Backend   string          `json:"backend"`
	Metric    core.Metric     `json:"metric"`
	Mode      core.SearchMode `json:"mode"`
	Dimension int             `json:"dimension"`
	Entries   int             `json:"entries"`   // All stored entries, including tombstoned generations
	Live      int             `json:"live"`      // Entries visible to search
	Documents int             `json:"documents"` // Documents with a published generation
}

// VectorIndex stores chunk vectors and answers nearest-neighbour queries.
// Only entries of a document's published generation are visible to Search.
// Implementations must be safe for concurrent use.
type VectorIndex interface {
	// Upsert inserts or replaces entries by chunk id and returns how many were written.
	// Every vector must match the index dimension, fixed by the first upsert.
	Upsert(ctx context.Context, entries []*core.IndexEntry) (int, error)

	// Search returns up to topK visible entries passing filter, ordered by
	// descending raw score then ascending chunk id.
	// Returns core.ErrEmptyIndex when nothing is visible at all.
	Search(ctx context.Context, vector []float32, topK int, filter core.Filter) ([]core.ScoredEntry, error)

	// Delete removes entries by id and returns how many existed.
	Delete(ctx context.Context, ids []core.ChunkID) (int, error)

	// Get returns one entry, visible or not, or ErrNotFound.
	Get(ctx context.Context, id core.ChunkID) (*core.IndexEntry, error)

	// Publish atomically makes generation gen the visible one for doc.
	Publish(ctx context.Context, doc core.DocumentID, gen int) error

	// Purge removes the entries of every generation of doc not listed in keep.
	// With no keep list the document is removed from the index entirely.
	Purge(ctx context.Context, doc core.DocumentID, keep ...int) (int, error)

	// LiveCount returns the number of entries visible to Search.
	LiveCount(ctx context.Context) (int, error)

	// Stats reports index shape and size.
	Stats(ctx context.Context) (IndexStats, error)

	// Snapshot returns every stored entry ordered by chunk id.
	Snapshot(ctx context.Context) ([]*core.IndexEntry, error)

	// Replace swaps the full entry set, resetting the dimension. Published
	// generations are kept. Used when re-embedding with a new model.
	Replace(ctx context.Context, entries []*core.IndexEntry) error

	// Reset removes every entry and publication.
	Reset(ctx context.Context) error

	// Metric returns the similarity metric fixed at creation.
	Metric() core.Metric
}

// DocumentRepository persists the ingestion orchestrator's document records.
type DocumentRepository interface {
	// GetDocument returns a record or ErrNotFound.
	GetDocument(ctx context.Context, id core.DocumentID) (*core.DocumentRecord, error)

	// PutDocument creates or replaces a record.
	PutDocument(ctx context.Context, rec *core.DocumentRecord) error

	// DeleteDocument removes a record. Missing records are not an error.
	DeleteDocument(ctx context.Context, id core.DocumentID) error

	// ListDocuments returns every record ordered by id.
	ListDocuments(ctx context.Context) ([]*core.DocumentRecord, error)

	// ResetDocuments removes every record.
	ResetDocuments(ctx context.Context) error
}
