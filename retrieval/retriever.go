package retrieval

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/core"
	"github.com/poiesic/contractor/storage"
)

// DefaultTopK is used when neither the query nor the retriever sets one.
const DefaultTopK = 3

// Retriever runs semantic queries over a vector index.
type Retriever struct {
	index    storage.VectorIndex
	embedder ai.Embedder
	topK     int
	minScore float32
	monitor  Monitor
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithDefaultTopK sets the result count for queries that do not set one.
func WithDefaultTopK(k int) Option {
	return func(r *Retriever) error {
		if k <= 0 {
			return fmt.Errorf("%w: default top_k must be positive, got %d", core.ErrConfiguration, k)
		}
		r.topK = k
		return nil
	}
}

// WithMinScore sets the normalised score threshold for queries that do not set one.
func WithMinScore(s float32) Option {
	return func(r *Retriever) error {
		if s < 0 || s > 1 {
			return fmt.Errorf("%w: min score must be within [0,1], got %v", core.ErrConfiguration, s)
		}
		r.minScore = s
		return nil
	}
}

// WithMonitor installs a Monitor. Default is a no-op.
func WithMonitor(m Monitor) Option {
	return func(r *Retriever) error {
		if m == nil {
			m = &noopMonitor{}
		}
		r.monitor = m
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRetriever creates a new retriever.
func NewRetriever(index storage.VectorIndex, embedder ai.Embedder, opts ...Option) (*Retriever, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Retriever{
		index:    index,
		embedder: embedder,
		topK:     DefaultTopK,
		monitor:  &noopMonitor{},
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.logger = r.logger.With("component", "retrieval")
	return r, nil
}

// Query returns the chunks most similar to q.Text.
func (r *Retriever) Query(ctx context.Context, q core.Query) (result *core.RetrievalResult, err error) {
	start := time.Now()
	r.monitor.Start(q)
	defer func() {
		r.monitor.Finish(result, err, time.Since(start))
	}()

	if err := core.ValidateQuery(&q); err != nil {
		return nil, err
	}

	topK := q.TopK
	if topK == 0 {
		topK = r.topK
	}
	minScore := q.MinScore
	if minScore == 0 {
		minScore = r.minScore
	}

	live, err := r.index.LiveCount(ctx)
	if err != nil {
		return nil, err
	}
	if live == 0 {
		return nil, core.ErrEmptyIndex
	}

	step := time.Now()
	vector, err := r.embedder.EmbedText(ctx, q.Text)
	if err != nil {
		r.logger.Error("error generating embedding for query", "err", err)
		return nil, err
	}
	r.monitor.AfterEmbedding(len(vector), time.Since(step))

	step = time.Now()
	hits, err := r.index.Search(ctx, vector, topK, q.Filter)
	if err != nil {
		if !errors.Is(err, core.ErrEmptyIndex) {
			r.logger.Error("error searching index", "err", err)
		}
		return nil, err
	}
	r.monitor.AfterSearch(hits, time.Since(step))

	metric := r.index.Metric()
	result = &core.RetrievalResult{QueryEcho: q.Text}
	for _, hit := range hits {
		score := Normalize(metric, hit.Score)
		if score < minScore {
			continue
		}
		sc := core.ScoredChunk{
			Chunk:    hit.Entry.Chunk,
			Source:   hit.Entry.Source,
			Score:    score,
			Distance: 1 - score,
		}
		if q.Neighbors > 0 {
			if sc.Context, err = r.neighbours(ctx, hit.Entry.Chunk, q.Neighbors); err != nil {
				return nil, err
			}
		}
		result.Results = append(result.Results, sc)
	}

	if len(result.Results) == 0 {
		return nil, core.ErrNoMatch
	}
	// Normalisation can saturate distinct raw scores to the same value.
	slices.SortStableFunc(result.Results, compareScored)
	return result, nil
}

// compareScored orders by descending normalised score, then ascending chunk id.
func compareScored(a, b core.ScoredChunk) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return cmp.Compare(a.Chunk.ID, b.Chunk.ID)
}

// neighbours returns up to radius chunks on each side of c from the same
// document generation, in sequence order.
func (r *Retriever) neighbours(ctx context.Context, c core.Chunk, radius int) ([]core.Chunk, error) {
	var out []core.Chunk
	for seq := c.Seq - radius; seq <= c.Seq+radius; seq++ {
		if seq < 0 || seq == c.Seq {
			continue
		}
		entry, err := r.index.Get(ctx, core.NewChunkID(c.DocumentID, c.Generation, seq))
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, entry.Chunk)
	}
	slices.SortFunc(out, func(a, b core.Chunk) int { return a.Seq - b.Seq })
	return out, nil
}

// Normalize maps a raw similarity to [0,1].
func Normalize(metric core.Metric, raw float32) float32 {
	var s float64
	if metric == core.MetricInnerProduct {
		s = 1 / (1 + math.Exp(-float64(raw)))
	} else {
		s = (float64(raw) + 1) / 2
	}
	return float32(math.Min(1, math.Max(0, s)))
}
