package storage

import (
	"math/rand/v2"

	"github.com/poiesic/contractor/core"
)

const (
	defaultLSHBits = 16
	lshSeed        = 0x636f6e7472616374
)

// lshTable buckets vectors by the signs of their projections onto random
// hyperplanes. Vectors at a small angle tend to share a signature, so probing
// the query's bucket and its one-bit neighbours finds most near neighbours
// without scoring every entry. Recall drops as the number of bits grows and
// as neighbours sit closer to a hyperplane; callers fall back to a full scan
// when the probe finds fewer than topK candidates.
type lshTable struct {
	planes  [][]float32
	buckets map[uint32]map[core.ChunkID]struct{}
}

// newLSHTable builds planes from a fixed seed so signatures are stable
// across restarts for the same dimension.
func newLSHTable(bits, dim int) *lshTable {
	rng := rand.New(rand.NewPCG(lshSeed, uint64(dim)))
	planes := make([][]float32, bits)
	for i := range planes {
		p := make([]float32, dim)
		for j := range p {
			p[j] = float32(rng.NormFloat64())
		}
		planes[i] = p
	}
	return &lshTable{
		planes:  planes,
		buckets: make(map[uint32]map[core.ChunkID]struct{}),
	}
}

func (t *lshTable) signature(v []float32) uint32 {
	var sig uint32
	for i, p := range t.planes {
		if dotProduct(p, v) >= 0 {
			sig |= 1 << uint(i)
		}
	}
	return sig
}

func (t *lshTable) add(sig uint32, id core.ChunkID) {
	b, ok := t.buckets[sig]
	if !ok {
		b = make(map[core.ChunkID]struct{})
		t.buckets[sig] = b
	}
	b[id] = struct{}{}
}

func (t *lshTable) remove(sig uint32, id core.ChunkID) {
	if b, ok := t.buckets[sig]; ok {
		delete(b, id)
		if len(b) == 0 {
			delete(t.buckets, sig)
		}
	}
}

// candidates returns the records in the query's bucket and every bucket one bit away.
func (t *lshTable) candidates(query []float32, entries map[core.ChunkID]*record) []*record {
	sig := t.signature(query)
	probes := make([]uint32, 0, len(t.planes)+1)
	probes = append(probes, sig)
	for i := range t.planes {
		probes = append(probes, sig^(1<<uint(i)))
	}

	var out []*record
	for _, p := range probes {
		for id := range t.buckets[p] {
			if r, ok := entries[id]; ok {
				out = append(out, r)
			}
		}
	}
	return out
}
