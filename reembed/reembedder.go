package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/storage"
)

// Config holds re-embedding settings.
type Config struct {
	BatchSize int            // Entries per embedding request
	Retry     ai.RetryPolicy // Retry policy for each batch
	Logger    *slog.Logger
}

// DefaultConfig returns default settings.
func DefaultConfig() *Config {
	return &Config{
		BatchSize: DefaultBatchSize,
		Retry:     ai.DefaultRetryPolicy(),
	}
}

// Summary describes a completed run.
type Summary struct {
	Entries      int
	OldDimension int
	NewDimension int
	Elapsed      time.Duration
}

// Reembedder regenerates every vector in an index.
type Reembedder struct {
	index     storage.VectorIndex
	iterator  *EntryIterator
	processor *BatchProcessor
	progress  *ProgressTracker
	w         io.Writer
	logger    *slog.Logger
}

// NewReembedder creates a reembedder. A nil config uses DefaultConfig and
// a nil progress writer runs silently.
func NewReembedder(index storage.VectorIndex, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Retry.Validate(); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = io.Discard
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reembedder{
		index:     index,
		iterator:  NewEntryIterator(index, config.BatchSize),
		processor: NewBatchProcessor(embedder, config.Retry),
		progress:  NewProgressTracker(progress),
		w:         progress,
		logger:    logger.With("component", "reembed"),
	}, nil
}

// Run re-embeds every entry and swaps them into the index in one step.
// The index is left untouched if any batch fails. Run takes no document
// locks, so it must not overlap with any other index writer. Entries
// written after the snapshot are lost when the snapshot is swapped in.
func (r *Reembedder) Run(ctx context.Context) (*Summary, error) {
	stats, err := r.index.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("read index stats: %w", err)
	}
	entries, err := r.iterator.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot index: %w", err)
	}

	summary := &Summary{Entries: len(entries), OldDimension: stats.Dimension}
	if len(entries) == 0 {
		fmt.Fprintln(r.w, "Index is empty, nothing to re-embed")
		return summary, nil
	}

	r.logger.Info("re-embedding index", "entries", len(entries), "dimension", stats.Dimension)
	r.progress.Start(len(entries))

	dim := 0
	err = r.iterator.ForEach(ctx, entries, func(batch []*core.IndexEntry) error {
		if err := r.processor.Process(ctx, batch); err != nil {
			return err
		}
		for _, e := range batch {
			if dim == 0 {
				dim = len(e.Vector)
			}
			if len(e.Vector) != dim {
				return fmt.Errorf("%w: %d and %d", ErrMixedDimensions, dim, len(e.Vector))
			}
		}
		r.progress.Add(len(batch))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("re-embed failed after %d of %d entries: %w", r.progress.Processed(), len(entries), err)
	}
	r.progress.Finish()

	if err := r.index.Replace(ctx, entries); err != nil {
		return nil, fmt.Errorf("replace index entries: %w", err)
	}

	summary.NewDimension = dim
	summary.Elapsed = r.progress.Elapsed()
	fmt.Fprintf(r.w, "Re-embedded %d entries in %v\n", summary.Entries, summary.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(r.w, "Dimension: %d -> %d\n", summary.OldDimension, summary.NewDimension)
	r.logger.Info("re-embed complete",
		"entries", summary.Entries,
		"old_dimension", summary.OldDimension,
		"new_dimension", summary.NewDimension,
		"elapsed", summary.Elapsed)
	return summary, nil
}
