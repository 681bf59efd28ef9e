package ai

import "context"

// Embedder converts text into fixed-length vectors.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string,
	// typically a query.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings.
	// Implementations batch requests to the provider. The returned slice
	// contains one embedding per input, in input order.
	// Provider failures are reported as core.ErrEmbeddingProvider.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces text completions. Extraction uses it with JSON output.
type Generator interface {
	// Generate sends a system instruction and a user prompt and returns the
	// model's reply verbatim.
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// AIProvider aggregates the AI services used by the service.
type AIProvider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Generator returns the text generation service.
	// The returned Generator is safe for concurrent use.
	Generator() Generator

	// Name identifies the provider and its models for status reporting.
	Name() string

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
