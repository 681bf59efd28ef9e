package reembed

import (
	"context"
	"fmt"

	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/core"
)

// BatchProcessor embeds the text of a batch of entries.
type BatchProcessor struct {
	embedder ai.Embedder
	retry    ai.RetryPolicy
}

// NewBatchProcessor creates a batch processor.
func NewBatchProcessor(embedder ai.Embedder, retry ai.RetryPolicy) *BatchProcessor {
	return &BatchProcessor{embedder: embedder, retry: retry}
}

// Process replaces each entry's vector in place. Entries are not written
// to the index.
func (bp *BatchProcessor) Process(ctx context.Context, entries []*core.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = e.Text
	}

	var vectors [][]float32
	err := bp.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("embed batch of %d: %w", len(entries), err)
	}
	if len(vectors) != len(entries) {
		return fmt.Errorf("%w: expected %d, got %d", ai.ErrVectorCountMismatch, len(entries), len(vectors))
	}

	for i := range entries {
		entries[i].Vector = vectors[i]
	}
	return nil
}
