package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/core"
)

// Embedder implements ai.Embedder using OpenAI-compatible embedding APIs.
// Texts are sent in batches of Config.BatchSize, one request per batch.
type Embedder struct {
	embedder  embeddings.Embedder
	batchSize int
	calls     *caller
	logger    *slog.Logger
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	return newEmbedderWithClient(client, config)
}

// newEmbedderWithClient wraps any langchaingo embedding client.
func newEmbedderWithClient(client embeddings.EmbedderClient, config *ai.Config) (*Embedder, error) {
	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(config.BatchSize),
	)
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("component", "openai-embedder")
	return &Embedder{
		embedder:  embedder,
		batchSize: config.BatchSize,
		calls:     newCaller(config, logger),
		logger:    logger,
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts generates vector embeddings for multiple text strings, batch by batch.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	e.logger.Debug("generating embeddings for texts", "count", len(texts), "batchSize", e.batchSize)

	// The langchaingo embedder rewrites its input slice in place.
	work := make([]string, len(texts))
	copy(work, texts)

	out := make([][]float32, 0, len(texts))
	for i, batch := range embeddings.BatchTexts(work, e.batchSize) {
		var vectors [][]float32
		err := e.calls.do(ctx, "embed", func(ctx context.Context) error {
			var err error
			vectors, err = e.embedder.EmbedDocuments(ctx, batch)
			return err
		})
		if err != nil {
			e.logger.Error("failed to generate embeddings", "batch", i, "count", len(batch), "err", err)
			return nil, err
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: %w: sent %d texts, got %d vectors",
				core.ErrEmbeddingProvider, ai.ErrVectorCountMismatch, len(batch), len(vectors))
		}
		out = append(out, vectors...)
	}

	return out, nil
}

var _ ai.Embedder = (*Embedder)(nil)
