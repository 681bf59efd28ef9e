package core

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// Serializers for the records persisted by the storage layer. Integers are
// varint encoded, vector components are fixed-width floats and timestamps
// are stored as UTC microseconds.
var (
	ChunkMUS          = chunkMUS{}
	IndexEntryMUS     = indexEntryMUS{}
	DocumentRecordMUS = documentRecordMUS{}
)

type serializer[T any] interface {
	Marshal(v T, bs []byte) int
	Unmarshal(bs []byte) (T, int, error)
	Size(v T) int
	Skip(bs []byte) (int, error)
}

type stringMUS[T ~string] struct{}

func (stringMUS[T]) Marshal(v T, bs []byte) int { return ord.String.Marshal(string(v), bs) }

func (stringMUS[T]) Unmarshal(bs []byte) (T, int, error) {
	s, n, err := ord.String.Unmarshal(bs)
	return T(s), n, err
}

func (stringMUS[T]) Size(v T) int { return ord.String.Size(string(v)) }

func (stringMUS[T]) Skip(bs []byte) (int, error) { return ord.String.Skip(bs) }

type timeMUS struct{}

func (timeMUS) Marshal(v time.Time, bs []byte) int {
	return varint.Int64.Marshal(v.UnixMicro(), bs)
}

func (timeMUS) Unmarshal(bs []byte) (time.Time, int, error) {
	us, n, err := varint.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	return time.UnixMicro(us).UTC(), n, nil
}

func (timeMUS) Size(v time.Time) int { return varint.Int64.Size(v.UnixMicro()) }

func (timeMUS) Skip(bs []byte) (int, error) { return varint.Int64.Skip(bs) }

// sliceMUS writes a varint length followed by the elements. Empty slices
// decode as nil.
type sliceMUS[T any] struct {
	elem serializer[T]
}

func (s sliceMUS[T]) Marshal(v []T, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, e := range v {
		n += s.elem.Marshal(e, bs[n:])
	}
	return
}

func (s sliceMUS[T]) Unmarshal(bs []byte) (v []T, n int, err error) {
	length, n, err := s.length(bs)
	if err != nil || length == 0 {
		return nil, n, err
	}
	v = make([]T, length)
	var n1 int
	for i := range v {
		v[i], n1, err = s.elem.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return nil, n, err
		}
	}
	return v, n, nil
}

func (s sliceMUS[T]) Size(v []T) (size int) {
	size = varint.Int.Size(len(v))
	for _, e := range v {
		size += s.elem.Size(e)
	}
	return
}

func (s sliceMUS[T]) Skip(bs []byte) (n int, err error) {
	length, n, err := s.length(bs)
	if err != nil {
		return n, err
	}
	var n1 int
	for range length {
		n1, err = s.elem.Skip(bs[n:])
		n += n1
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// length reads the element count. Every element takes at least one byte,
// so a count beyond the remaining input is rejected before allocating.
func (s sliceMUS[T]) length(bs []byte) (int, int, error) {
	length, n, err := varint.Int.Unmarshal(bs)
	if err != nil {
		return 0, n, err
	}
	if length < 0 || length > len(bs)-n {
		return 0, n, ErrCorruptRecord
	}
	return length, n, nil
}

var (
	chunkIDMUS       = stringMUS[ChunkID]{}
	documentIDMUS    = stringMUS[DocumentID]{}
	documentStateMUS = stringMUS[DocumentState]{}
	timestampMUS     = timeMUS{}
	vectorMUS        = sliceMUS[float32]{elem: raw.Float32}
	chunkIDsMUS      = sliceMUS[ChunkID]{elem: chunkIDMUS}
	generationsMUS   = sliceMUS[int]{elem: varint.Int}
)

type chunkMUS struct{}

func (chunkMUS) Marshal(v Chunk, bs []byte) (n int) {
	n = chunkIDMUS.Marshal(v.ID, bs)
	n += documentIDMUS.Marshal(v.DocumentID, bs[n:])
	n += varint.Int.Marshal(v.Generation, bs[n:])
	n += varint.Int.Marshal(v.Seq, bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += varint.Int.Marshal(v.Start, bs[n:])
	n += varint.Int.Marshal(v.End, bs[n:])
	return n + varint.Int.Marshal(v.Overlap, bs[n:])
}

func (chunkMUS) Unmarshal(bs []byte) (v Chunk, n int, err error) {
	v.ID, n, err = chunkIDMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.DocumentID, n1, err = documentIDMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	for _, field := range []*int{&v.Generation, &v.Seq} {
		*field, n1, err = varint.Int.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	v.Text, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	for _, field := range []*int{&v.Start, &v.End, &v.Overlap} {
		*field, n1, err = varint.Int.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func (chunkMUS) Size(v Chunk) int {
	return chunkIDMUS.Size(v.ID) +
		documentIDMUS.Size(v.DocumentID) +
		varint.Int.Size(v.Generation) +
		varint.Int.Size(v.Seq) +
		ord.String.Size(v.Text) +
		varint.Int.Size(v.Start) +
		varint.Int.Size(v.End) +
		varint.Int.Size(v.Overlap)
}

func (chunkMUS) Skip(bs []byte) (n int, err error) {
	skips := []func([]byte) (int, error){
		chunkIDMUS.Skip, documentIDMUS.Skip, varint.Int.Skip, varint.Int.Skip,
		ord.String.Skip, varint.Int.Skip, varint.Int.Skip, varint.Int.Skip,
	}
	return skipAll(bs, skips)
}

type indexEntryMUS struct{}

func (indexEntryMUS) Marshal(v IndexEntry, bs []byte) (n int) {
	n = ChunkMUS.Marshal(v.Chunk, bs)
	n += ord.String.Marshal(v.Source, bs[n:])
	return n + vectorMUS.Marshal(v.Vector, bs[n:])
}

func (indexEntryMUS) Unmarshal(bs []byte) (v IndexEntry, n int, err error) {
	v.Chunk, n, err = ChunkMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.Source, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.Vector, n1, err = vectorMUS.Unmarshal(bs[n:])
	n += n1
	return
}

func (indexEntryMUS) Size(v IndexEntry) int {
	return ChunkMUS.Size(v.Chunk) + ord.String.Size(v.Source) + vectorMUS.Size(v.Vector)
}

func (indexEntryMUS) Skip(bs []byte) (int, error) {
	return skipAll(bs, []func([]byte) (int, error){ChunkMUS.Skip, ord.String.Skip, vectorMUS.Skip})
}

type documentRecordMUS struct{}

func (documentRecordMUS) Marshal(v DocumentRecord, bs []byte) (n int) {
	n = documentIDMUS.Marshal(v.ID, bs)
	n += documentStateMUS.Marshal(v.State, bs[n:])
	n += varint.Int.Marshal(v.Generation, bs[n:])
	n += varint.Int.Marshal(v.PendingGeneration, bs[n:])
	n += ord.String.Marshal(v.ContentHash, bs[n:])
	n += chunkIDsMUS.Marshal(v.ChunkIDs, bs[n:])
	n += ord.String.Marshal(v.Source, bs[n:])
	n += ord.String.Marshal(v.Error, bs[n:])
	n += generationsMUS.Marshal(v.History, bs[n:])
	n += timestampMUS.Marshal(v.CreatedAt, bs[n:])
	return n + timestampMUS.Marshal(v.UpdatedAt, bs[n:])
}

func (documentRecordMUS) Unmarshal(bs []byte) (v DocumentRecord, n int, err error) {
	v.ID, n, err = documentIDMUS.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.State, n1, err = documentStateMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	for _, field := range []*int{&v.Generation, &v.PendingGeneration} {
		*field, n1, err = varint.Int.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	v.ContentHash, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.ChunkIDs, n1, err = chunkIDsMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	for _, field := range []*string{&v.Source, &v.Error} {
		*field, n1, err = ord.String.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	v.History, n1, err = generationsMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	for _, field := range []*time.Time{&v.CreatedAt, &v.UpdatedAt} {
		*field, n1, err = timestampMUS.Unmarshal(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}

func (documentRecordMUS) Size(v DocumentRecord) int {
	return documentIDMUS.Size(v.ID) +
		documentStateMUS.Size(v.State) +
		varint.Int.Size(v.Generation) +
		varint.Int.Size(v.PendingGeneration) +
		ord.String.Size(v.ContentHash) +
		chunkIDsMUS.Size(v.ChunkIDs) +
		ord.String.Size(v.Source) +
		ord.String.Size(v.Error) +
		generationsMUS.Size(v.History) +
		timestampMUS.Size(v.CreatedAt) +
		timestampMUS.Size(v.UpdatedAt)
}

func (documentRecordMUS) Skip(bs []byte) (int, error) {
	return skipAll(bs, []func([]byte) (int, error){
		documentIDMUS.Skip, documentStateMUS.Skip, varint.Int.Skip, varint.Int.Skip,
		ord.String.Skip, chunkIDsMUS.Skip, ord.String.Skip, ord.String.Skip,
		generationsMUS.Skip, timestampMUS.Skip, timestampMUS.Skip,
	})
}

func skipAll(bs []byte, skips []func([]byte) (int, error)) (n int, err error) {
	var n1 int
	for _, skip := range skips {
		n1, err = skip(bs[n:])
		n += n1
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
