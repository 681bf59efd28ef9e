// Package reembed rebuilds every vector in the index with the configured
// embedder, for use after the embedding model changes.
//
// Entries are read from an index snapshot, embedded in batches, and written
// back in a single Replace that also resets the index dimension. Published
// generations and chunk ids are preserved, so document records stay valid.
// The index must not be written to while a run is in progress.
package reembed
