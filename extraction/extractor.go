package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/core"
)

const (
	// MinTextLength is the shortest contract text accepted, in characters.
	MinTextLength = 10

	// DefaultTopK is the number of similar chunks added to the prompt.
	DefaultTopK = 3

	snippetLength = 200
	maxAttempts   = 3
)

// Searcher finds chunks similar to a query. *retrieval.Retriever implements it.
type Searcher interface {
	Query(ctx context.Context, q core.Query) (*core.RetrievalResult, error)
}

// Result is the outcome of one extraction.
type Result struct {
	Message           string             `json:"message"`
	SourceTextSnippet string             `json:"source_text_snippet"`
	Data              *Details           `json:"extracted_data"`
	RAGEnabled        bool               `json:"rag_enabled"`
	Contexts          []core.ScoredChunk `json:"-"`
	Error             string             `json:"error,omitempty"`
}

// Extractor turns contract text into Details.
type Extractor struct {
	generator ai.Generator
	searcher  Searcher
	topK      int
	logger    *slog.Logger
}

// Option configures an Extractor.
type Option func(*Extractor) error

// WithSearcher enables retrieval of similar chunks.
func WithSearcher(s Searcher) Option {
	return func(e *Extractor) error {
		e.searcher = s
		return nil
	}
}

// WithTopK sets how many similar chunks are added to the prompt.
func WithTopK(k int) Option {
	return func(e *Extractor) error {
		if k <= 0 {
			return fmt.Errorf("%w: top k must be positive, got %d", core.ErrConfiguration, k)
		}
		e.topK = k
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) error {
		e.logger = logger
		return nil
	}
}

// NewExtractor creates an Extractor over generator.
func NewExtractor(generator ai.Generator, opts ...Option) (*Extractor, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	e := &Extractor{
		generator: generator,
		topK:      DefaultTopK,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.logger = e.logger.With("component", "extractor")
	return e, nil
}

// Extract pulls contract fields out of text. With useRAG set and a searcher
// configured, similar chunks are retrieved first; an empty index or no match
// only means the prompt carries no examples.
func (e *Extractor) Extract(ctx context.Context, text string, useRAG bool) (*Result, error) {
	if utf8.RuneCountInString(text) < MinTextLength {
		return nil, fmt.Errorf("%w: need at least %d characters", ErrTextTooShort, MinTextLength)
	}

	result := &Result{
		SourceTextSnippet: snippet(text),
		RAGEnabled:        useRAG,
	}

	if useRAG && e.searcher != nil {
		contexts, err := e.similar(ctx, text)
		if err != nil {
			return nil, err
		}
		result.Contexts = contexts
	}

	prompt := buildPrompt(text, result.Contexts)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		reply, err := e.generator.Generate(ctx, systemPrompt, prompt)
		if err != nil {
			e.logger.Error("generation failed", "attempt", attempt, "err", err)
			return nil, err
		}

		obj, err := parseReply(reply)
		if err == nil {
			err = validateObject(obj)
		}
		if err != nil {
			lastErr = err
			e.logger.Warn("error parsing extraction reply",
				"attempt", attempt,
				"reply", reply,
				"err", err)
			continue
		}

		result.Data = normalizeDetails(obj)
		result.Message = "Contract details extracted successfully."
		e.logger.Info("extraction complete", "attempt", attempt, "examples", len(result.Contexts))
		return result, nil
	}

	e.logger.Error("failed to parse extraction reply after retries", "err", lastErr)
	result.Message = "Failed to extract structured details."
	result.Error = lastErr.Error()
	return result, nil
}

func (e *Extractor) similar(ctx context.Context, text string) ([]core.ScoredChunk, error) {
	res, err := e.searcher.Query(ctx, core.Query{Text: text, TopK: e.topK})
	switch {
	case errors.Is(err, core.ErrEmptyIndex), errors.Is(err, core.ErrNoMatch):
		e.logger.Warn("no similar contracts available", "reason", err)
		return nil, nil
	case err != nil:
		return nil, err
	}
	for i, hit := range res.Results {
		e.logger.Debug("similar contract",
			"rank", i+1,
			"chunk", hit.Chunk.ID,
			"source", hit.Source,
			"distance", hit.Distance)
	}
	return res.Results, nil
}

func snippet(text string) string {
	r := []rune(text)
	if len(r) > snippetLength {
		r = r[:snippetLength]
	}
	return string(r) + "..."
}
