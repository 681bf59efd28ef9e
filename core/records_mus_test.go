package core

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestIndexEntryMUS_SizeMatchesEncoding(t *testing.T) {
	entry := IndexEntry{
		Chunk: Chunk{
			ID:         NewChunkID("lease", 3, 12),
			DocumentID: "lease",
			Generation: 3,
			Seq:        12,
			Text:       "Rent is payable in advance.",
			Start:      4096,
			End:        4123,
			Overlap:    200,
		},
		Source: "leases/2025.txt",
		Vector: []float32{0.5, -1, 2.25},
	}

	size := IndexEntryMUS.Size(entry)
	buf := make([]byte, size)
	if n := IndexEntryMUS.Marshal(entry, buf); n != size {
		t.Fatalf("Marshal() wrote %d bytes, Size() = %d", n, size)
	}
	if n, err := IndexEntryMUS.Skip(buf); err != nil || n != size {
		t.Fatalf("Skip() = %d, %v; want %d", n, err, size)
	}
	decoded, n, err := IndexEntryMUS.Unmarshal(buf)
	if err != nil || n != size {
		t.Fatalf("Unmarshal() = %d, %v; want %d", n, err, size)
	}
	if !reflect.DeepEqual(entry, decoded) {
		t.Errorf("Unmarshal() = %+v, want %+v", decoded, entry)
	}
}

func TestDocumentRecordMUS_Timestamps(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 30, 0, 123456789, time.FixedZone("CET", 3600))
	rec := DocumentRecord{
		ID:                "lease",
		State:             StateEmbedding,
		Generation:        2,
		PendingGeneration: 3,
		ChunkIDs:          []ChunkID{NewChunkID("lease", 2, 0), NewChunkID("lease", 2, 1)},
		Source:            "lease.txt",
		Error:             "previous attempt failed",
		History:           []int{1, 2},
		CreatedAt:         created,
	}

	buf := make([]byte, DocumentRecordMUS.Size(rec))
	DocumentRecordMUS.Marshal(rec, buf)
	decoded, _, err := DocumentRecordMUS.Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	want := created.UTC().Truncate(time.Microsecond)
	if !decoded.CreatedAt.Equal(want) || decoded.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt = %v, want %v", decoded.CreatedAt, want)
	}
	if !decoded.UpdatedAt.IsZero() {
		t.Errorf("UpdatedAt = %v, want zero", decoded.UpdatedAt)
	}
	decoded.CreatedAt = rec.CreatedAt
	if !reflect.DeepEqual(rec, decoded) {
		t.Errorf("Unmarshal() = %+v, want %+v", decoded, rec)
	}
}

func TestSliceMUS_RejectsImpossibleLength(t *testing.T) {
	buf := make([]byte, generationsMUS.Size([]int{1, 2, 3}))
	generationsMUS.Marshal([]int{1, 2, 3}, buf)

	// Drop the elements but keep the count of three.
	_, _, err := generationsMUS.Unmarshal(buf[:1])
	if !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("Unmarshal() error = %v, want ErrCorruptRecord", err)
	}
	if _, err := generationsMUS.Skip(buf[:1]); !errors.Is(err, ErrCorruptRecord) {
		t.Errorf("Skip() error = %v, want ErrCorruptRecord", err)
	}
}
