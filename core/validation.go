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
	"fmt"
	"strings"
)

// ValidateDocument checks a document before ingestion. Blank text is a
// malformed document rather than a validation failure so the orchestrator
// can record it against the document.
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}

	if doc.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidDocument)
	}

	if strings.Contains(string(doc.ID), chunkIDSep) {
		return fmt.Errorf("%w: id %q contains %q", ErrInvalidDocument, doc.ID, chunkIDSep)
	}

	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("%w: %w", ErrMalformedDocument, ErrEmptyContent)
	}

	return nil
}

// ValidateEntry checks an index entry before upsert.
func ValidateEntry(entry *IndexEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry is nil", ErrInvalidEntry)
	}

	if _, _, _, err := entry.ID.Parse(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	if len(entry.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidEntry, ErrEmptyVector)
	}

	return nil
}

// ValidateQuery checks a retrieval query. TopK of zero means "use the default".
func ValidateQuery(q *Query) error {
	if q == nil {
		return fmt.Errorf("%w: query is nil", ErrInvalidQuery)
	}

	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidQuery, ErrEmptyContent)
	}

	if q.TopK < 0 {
		return fmt.Errorf("%w: top_k must not be negative, got %d", ErrInvalidQuery, q.TopK)
	}

	if q.MinScore < 0 || q.MinScore > 1 {
		return fmt.Errorf("%w: min_score must be within [0,1], got %v", ErrInvalidQuery, q.MinScore)
	}

	if q.Neighbors < 0 {
		return fmt.Errorf("%w: neighbors must not be negative, got %d", ErrInvalidQuery, q.Neighbors)
	}

	return nil
}

// ValidateMetric reports whether m is a supported similarity metric.
func ValidateMetric(m Metric) error {
	if m != MetricCosine && m != MetricInnerProduct {
		return fmt.Errorf("%w: unknown similarity metric %q", ErrConfiguration, m)
	}
	return nil
}

// ValidateSearchMode reports whether m is a supported search mode.
func ValidateSearchMode(m SearchMode) error {
	if m != SearchExact && m != SearchApproximate {
		return fmt.Errorf("%w: unknown search mode %q", ErrConfiguration, m)
	}
	return nil
}
