package reembed

import "errors"

var (
	// ErrIndexRequired is returned when no vector index is provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrEmbedderRequired is returned when no embedder is provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrMixedDimensions is returned when one run produces vectors of different lengths.
	ErrMixedDimensions = errors.New("embedder returned vectors of different dimensions")
)
