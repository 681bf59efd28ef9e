package reembed

import (
	"context"

	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/storage"
)

// DefaultBatchSize is the number of entries embedded per request.
const DefaultBatchSize = 50

// EntryIterator walks a snapshot of the index in fixed size batches.
type EntryIterator struct {
	index     storage.VectorIndex
	batchSize int
}

// NewEntryIterator creates an iterator. A non-positive batchSize means DefaultBatchSize.
func NewEntryIterator(index storage.VectorIndex, batchSize int) *EntryIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &EntryIterator{index: index, batchSize: batchSize}
}

// Snapshot returns the entries to iterate, ordered by chunk id.
func (it *EntryIterator) Snapshot(ctx context.Context) ([]*core.IndexEntry, error) {
	return it.index.Snapshot(ctx)
}

// ForEach calls fn with consecutive batches of entries, stopping at the
// first error. Cancellation is checked between batches.
func (it *EntryIterator) ForEach(ctx context.Context, entries []*core.IndexEntry, fn func([]*core.IndexEntry) error) error {
	for i := 0; i < len(entries); i += it.batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(i+it.batchSize, len(entries))
		if err := fn(entries[i:end]); err != nil {
			return err
		}
	}
	return nil
}
