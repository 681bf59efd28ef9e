package core

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// DocumentID identifies a contract document.
// It is derived from the document's source path or from its content.
type DocumentID string

// IDFromContent generates a deterministic DocumentID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) DocumentID {
	return DocumentID(ContentHash(text))
}

// ContentHash returns the hex encoded 64-bit BLAKE2b digest of text.
func ContentHash(text string) string {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// IDFromSource derives a DocumentID from a source path. Path separators are
// normalised so the same file yields the same id on every platform.
func IDFromSource(source string) DocumentID {
	clean := filepath.ToSlash(filepath.Clean(source))
	clean = strings.TrimPrefix(clean, "./")
	clean = unsafeIDChars.ReplaceAllString(clean, "_")
	return DocumentID(strings.Trim(clean, "_"))
}

// IDFromManifestRow builds the id used for spreadsheet style manifests:
// doc_<row>_<name>, with the name sanitised and capped at 30 characters.
func IDFromManifestRow(row int, name string) DocumentID {
	safe := unsafeIDChars.ReplaceAllString(strings.TrimSpace(name), "_")
	if len(safe) > 30 {
		safe = safe[:30]
	}
	return DocumentID(fmt.Sprintf("doc_%d_%s", row, safe))
}

// ChunkID identifies one chunk of one ingestion generation of a document.
// Lexical order matches (document, generation, sequence) order.
type ChunkID string

// chunkIDSep never appears in ids produced by the helpers above.
const chunkIDSep = "#"

// NewChunkID formats the id for chunk seq of generation gen of doc.
func NewChunkID(doc DocumentID, gen, seq int) ChunkID {
	return ChunkID(fmt.Sprintf("%s%sg%06d%s%06d", doc, chunkIDSep, gen, chunkIDSep, seq))
}

// Parse splits a chunk id back into its parts.
func (id ChunkID) Parse() (doc DocumentID, gen, seq int, err error) {
	parts := strings.Split(string(id), chunkIDSep)
	if len(parts) < 3 {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidChunkID, id)
	}
	n := len(parts)
	genPart, seqPart := parts[n-2], parts[n-1]
	if !strings.HasPrefix(genPart, "g") {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidChunkID, id)
	}
	if gen, err = strconv.Atoi(genPart[1:]); err != nil {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidChunkID, id)
	}
	if seq, err = strconv.Atoi(seqPart); err != nil {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidChunkID, id)
	}
	return DocumentID(strings.Join(parts[:n-2], chunkIDSep)), gen, seq, nil
}

// Metadata describes where a document came from.
type Metadata struct {
	Source     string            `json:"source,omitempty"`
	IngestedAt time.Time         `json:"ingested_at"`
	Extra      map[string]string `json:"extra,omitempty"` // Optional metadata (e.g., "file_name", "row")
}

// Document is a normalised contract text ready for chunking.
type Document struct {
	ID       DocumentID `json:"id"`
	Text     string     `json:"text"`
	Metadata Metadata   `json:"metadata"`
}

// Chunk is a span of a document's text. Start and End are byte offsets into
// the parent text, Overlap is the number of bytes shared with the previous chunk.
type Chunk struct {
	ID         ChunkID    `json:"id"`
	DocumentID DocumentID `json:"document_id"`
	Generation int        `json:"generation"`
	Seq        int        `json:"seq"`
	Text       string     `json:"text"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Overlap    int        `json:"overlap"`
}

// IndexEntry is a chunk with its embedding, as held by the vector index.
type IndexEntry struct {
	Chunk
	Source string    `json:"source,omitempty"`
	Vector []float32 `json:"vector"`
}

// Filter restricts a search. An empty filter matches every live entry.
type Filter struct {
	DocumentIDs []DocumentID `json:"document_ids,omitempty"`
}

// Matches reports whether doc passes the filter.
func (f Filter) Matches(doc DocumentID) bool {
	if len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == doc {
			return true
		}
	}
	return false
}

// Query is a transient retrieval request.
type Query struct {
	Text      string
	TopK      int
	Filter    Filter
	MinScore  float32 // Normalised score threshold in [0,1]
	Neighbors int     // Adjacent chunks to attach to each hit
}

// ScoredEntry is a raw index hit. Score is the metric's raw similarity.
type ScoredEntry struct {
	Entry *IndexEntry
	Score float32
}

// ScoredChunk is a ranked retrieval hit with its score normalised to [0,1].
type ScoredChunk struct {
	Chunk    Chunk
	Source   string
	Score    float32
	Distance float32
	Context  []Chunk // Neighbouring chunks of the same document, in sequence order
}

// RetrievalResult is ordered by descending score, ties by ascending chunk id.
type RetrievalResult struct {
	Results   []ScoredChunk
	QueryEcho string
}

// DocumentRecord is the ingestion orchestrator's view of a document.
type DocumentRecord struct {
	ID                DocumentID    `json:"id"`
	State             DocumentState `json:"state"`
	Generation        int           `json:"generation"`         // Live generation, 0 when never indexed
	PendingGeneration int           `json:"pending_generation"` // Generation being written, 0 when idle
	ContentHash       string        `json:"content_hash"`
	ChunkIDs          []ChunkID     `json:"chunk_ids"`
	Source            string        `json:"source,omitempty"`
	Error             string        `json:"error,omitempty"`
	History           []int         `json:"history,omitempty"` // Retained superseded generations
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Metric is the similarity function of a vector index.
type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricInnerProduct Metric = "inner_product"
)

// SearchMode selects exact or approximate nearest-neighbour search.
type SearchMode string

const (
	SearchExact       SearchMode = "exact"
	SearchApproximate SearchMode = "approximate"
)
