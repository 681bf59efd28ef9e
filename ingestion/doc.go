// Package ingestion turns documents into published index entries.
//
// The Orchestrator drives each document through
// Pending -> Chunking -> Embedding -> Indexed, recording every step in a
// storage.DocumentRepository. Each attempt writes its chunks under a fresh
// generation, so readers keep seeing the previous version until Publish
// swaps them over; superseded generations are purged afterwards or kept as
// history under ReingestVersion.
//
// Ingestions of the same document are serialised. Different documents run
// concurrently, and IngestBatch spreads a batch over a worker pool.
package ingestion
