// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by every package. Callers test with errors.Is.
var (
	// ErrConfiguration indicates bad parameters. Fatal at startup.
	ErrConfiguration = errors.New("configuration error")

	// ErrEmbeddingProvider indicates the embedding or generation provider failed.
	// Transient: retried with backoff, surfaced once attempts are exhausted.
	ErrEmbeddingProvider = errors.New("embedding provider error")

	// ErrIndexUnavailable indicates the vector index could not be reached.
	// Transient: retried, surfaced as service unavailable.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrEmptyIndex indicates a search against an index with no live entries.
	ErrEmptyIndex = errors.New("index is empty")

	// ErrNoMatch indicates entries exist but none passed the filter or threshold.
	ErrNoMatch = errors.New("no matching entries")

	// ErrMalformedDocument indicates a document that cannot be ingested.
	ErrMalformedDocument = errors.New("malformed document")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidEntry indicates an IndexEntry failed validation.
	ErrInvalidEntry = errors.New("invalid index entry")

	// ErrInvalidQuery indicates a Query failed validation.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidChunkID indicates a chunk id that does not parse.
	ErrInvalidChunkID = errors.New("invalid chunk id")

	// ErrInvalidTransition indicates a disallowed document state change.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrEmptyContent indicates the text field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrEmptyVector indicates an entry without an embedding.
	ErrEmptyVector = errors.New("vector cannot be empty")

	// ErrCorruptRecord indicates an encoded record with an impossible length prefix.
	ErrCorruptRecord = errors.New("corrupt record")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrEmbeddingProvider) ||
		errors.Is(err, ErrIndexUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// DocumentError records which document failed, in which stage, and why.
type DocumentError struct {
	ID    DocumentID
	Stage string
	Err   error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %s: %s: %v", e.ID, e.Stage, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}
