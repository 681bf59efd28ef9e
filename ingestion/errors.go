package ingestion

import "errors"

var (
	// ErrIndexRequired is returned when a vector index is not provided.
	ErrIndexRequired = errors.New("vector index required")

	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrDocumentExists is returned when a changed document is re-ingested under ReingestReject.
	ErrDocumentExists = errors.New("document already exists")

	// ErrIngestionInProgress is returned under ConcurrentReject when the document is being ingested.
	ErrIngestionInProgress = errors.New("ingestion already in progress")

	// ErrResetInProgress is returned when a document operation starts while Reset runs.
	ErrResetInProgress = errors.New("reset in progress")
)
