package ingestion

import (
	"fmt"

	"github.com/poiesic/contractor/core"
)

// ReingestPolicy decides what happens when an indexed document arrives with
// different content.
type ReingestPolicy string

const (
	// ReingestReplace publishes the new generation and purges older ones.
	ReingestReplace ReingestPolicy = "replace"
	// ReingestVersion publishes the new generation and keeps older ones hidden.
	ReingestVersion ReingestPolicy = "version"
	// ReingestReject fails with ErrDocumentExists.
	ReingestReject ReingestPolicy = "reject"
)

// ParseReingestPolicy validates s.
func ParseReingestPolicy(s string) (ReingestPolicy, error) {
	switch p := ReingestPolicy(s); p {
	case ReingestReplace, ReingestVersion, ReingestReject:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown reingest policy %q", core.ErrConfiguration, s)
}

// ConcurrencyPolicy decides what a second ingestion of a document in flight does.
type ConcurrencyPolicy string

const (
	// ConcurrentWait blocks until the in-flight ingestion finishes.
	ConcurrentWait ConcurrencyPolicy = "wait"
	// ConcurrentReject fails with ErrIngestionInProgress.
	ConcurrentReject ConcurrencyPolicy = "reject"
)

// ParseConcurrencyPolicy validates s.
func ParseConcurrencyPolicy(s string) (ConcurrencyPolicy, error) {
	switch p := ConcurrencyPolicy(s); p {
	case ConcurrentWait, ConcurrentReject:
		return p, nil
	}
	return "", fmt.Errorf("%w: unknown concurrency policy %q", core.ErrConfiguration, s)
}

// Status summarises what an ingestion did.
type Status string

const (
	StatusCreated   Status = "created"
	StatusUpdated   Status = "updated"
	StatusUnchanged Status = "unchanged"
)

// Outcome is the result of ingesting one document.
type Outcome struct {
	DocumentID core.DocumentID `json:"document_id"`
	Status     Status          `json:"status"`
	Generation int             `json:"generation"`
	ChunkIDs   []core.ChunkID  `json:"chunk_ids"`
}
