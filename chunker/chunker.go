// Package chunker splits normalised document text into overlapping chunks
// sized for embedding model limits.
//
// A token is a maximal run of non-whitespace characters. Windows prefer to
// end on a paragraph break, then on a sentence end, and fall back to a hard
// cut only when no boundary fits. Chunk spans carry the whitespace that
// follows their last token, so concatenating the spans while skipping each
// chunk's Overlap prefix reproduces the input exactly.
package chunker

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/poiesic/contractor/core"
)

const (
	// DefaultMaxTokens is the default window size.
	DefaultMaxTokens = 200
	// DefaultOverlapTokens is the default number of tokens repeated across a seam.
	DefaultOverlapTokens = 40
)

// Chunker carries a window configuration.
type Chunker struct {
	maxTokens     int
	overlapTokens int
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithMaxTokens sets the window size.
func WithMaxTokens(n int) Option {
	return func(c *Chunker) error {
		c.maxTokens = n
		return nil
	}
}

// WithOverlapTokens sets how many tokens consecutive chunks share.
func WithOverlapTokens(n int) Option {
	return func(c *Chunker) error {
		c.overlapTokens = n
		return nil
	}
}

// New creates a Chunker. Invalid bounds fail with core.ErrConfiguration.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		maxTokens:     DefaultMaxTokens,
		overlapTokens: DefaultOverlapTokens,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if err := validateBounds(c.maxTokens, c.overlapTokens); err != nil {
		return nil, err
	}
	return c, nil
}

// MaxTokens returns the configured window size.
func (c *Chunker) MaxTokens() int { return c.maxTokens }

// OverlapTokens returns the configured overlap.
func (c *Chunker) OverlapTokens() int { return c.overlapTokens }

// Split chunks text with the configured bounds.
func (c *Chunker) Split(text string) ([]core.Chunk, error) {
	return Chunk(text, c.maxTokens, c.overlapTokens)
}

func validateBounds(maxTokens, overlapTokens int) error {
	if maxTokens <= 0 {
		return fmt.Errorf("%w: max tokens must be positive, got %d", core.ErrConfiguration, maxTokens)
	}
	if overlapTokens < 0 {
		return fmt.Errorf("%w: overlap tokens must not be negative, got %d", core.ErrConfiguration, overlapTokens)
	}
	if overlapTokens >= maxTokens {
		return fmt.Errorf("%w: overlap tokens (%d) must be less than max tokens (%d)",
			core.ErrConfiguration, overlapTokens, maxTokens)
	}
	return nil
}

type token struct {
	start, end int
}

// Chunk splits text into windows of at most maxTokens tokens, each starting
// overlapTokens tokens before the previous one ended. Returned chunks have
// Seq, Text, Start, End and Overlap set; ids are assigned by the caller.
// Text without any token yields no chunks.
func Chunk(text string, maxTokens, overlapTokens int) ([]core.Chunk, error) {
	if err := validateBounds(maxTokens, overlapTokens); err != nil {
		return nil, err
	}

	toks := tokenize(text)
	n := len(toks)
	if n == 0 {
		return nil, nil
	}
	sentence, paragraph := boundaries(text, toks)

	var chunks []core.Chunk
	prevEnd := 0
	for s := 0; ; {
		e := s + maxTokens
		if e >= n {
			e = n
		} else {
			e = cut(sentence, paragraph, s, e, overlapTokens)
		}

		start := 0
		if s > 0 {
			start = toks[s].start
		}
		end := len(text)
		if e < n {
			end = toks[e].start
		}
		overlap := 0
		if len(chunks) > 0 {
			overlap = prevEnd - start
		}

		chunks = append(chunks, core.Chunk{
			Seq:     len(chunks),
			Text:    text[start:end],
			Start:   start,
			End:     end,
			Overlap: overlap,
		})

		if e == n {
			return chunks, nil
		}
		prevEnd = end
		s = e - overlapTokens
	}
}

// cut picks the number of tokens (exclusive end index) for the window
// starting at s whose hard limit is e. Any cut must stay past s+overlap so
// the next window makes progress.
func cut(sentence, paragraph []bool, s, e, overlap int) int {
	floor := s + overlap
	half := s + (e-s)/2
	if half < floor {
		half = floor
	}
	for c := e; c > half; c-- {
		if paragraph[c-1] {
			return c
		}
	}
	for c := e; c > floor; c-- {
		if sentence[c-1] {
			return c
		}
	}
	return e
}

func tokenize(text string) []token {
	var toks []token
	start := -1
	for i, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				toks = append(toks, token{start, i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		toks = append(toks, token{start, len(text)})
	}
	return toks
}

// boundaries marks tokens that end a sentence and tokens followed by a
// paragraph break.
func boundaries(text string, toks []token) (sentence, paragraph []bool) {
	sentence = make([]bool, len(toks))
	paragraph = make([]bool, len(toks))
	for i, t := range toks {
		word := strings.TrimRight(text[t.start:t.end], "\"')]}”’")
		if r, _ := utf8.DecodeLastRuneInString(word); strings.ContainsRune(".!?;", r) {
			sentence[i] = true
		}
		if i+1 < len(toks) && strings.Count(text[t.end:toks[i+1].start], "\n") >= 2 {
			paragraph[i] = true
			sentence[i] = true
		}
	}
	return sentence, paragraph
}
