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

package openai

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/poiesic/contractor/ai"
)

// Provider serves embeddings and generations from OpenAI-compatible endpoints.
type Provider struct {
	config    *ai.Config
	embedder  *Embedder
	generator *Generator
	closed    atomic.Bool
	logger    *slog.Logger
}

var _ ai.AIProvider = (*Provider)(nil)

// NewProvider validates config and builds the embedder and generator.
// Both share the config's rate limit and retry settings but keep separate
// limiters, so extraction traffic does not starve ingestion.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	generator, err := newGenerator(config)
	if err != nil {
		return nil, fmt.Errorf("generator: %w", err)
	}

	p := &Provider{
		config:    config,
		embedder:  embedder,
		generator: generator,
		logger:    slog.Default().With("component", "openai-provider"),
	}
	p.logger.Debug("provider ready",
		"embedding_host", config.EmbeddingHost,
		"embedding_model", config.EmbeddingModel,
		"generative_model", config.GenerativeModel,
		"batch_size", config.BatchSize)
	return p, nil
}

func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Name reports the embedding endpoint and both models.
func (p *Provider) Name() string {
	return fmt.Sprintf("%s (embedding %s, generation %s)",
		p.config.EmbeddingHost, p.config.EmbeddingModel, p.config.GenerativeModel)
}

// Close is idempotent. The HTTP clients underneath hold no resources that
// need releasing.
func (p *Provider) Close() error {
	if p.closed.CompareAndSwap(false, true) {
		p.logger.Debug("provider closed")
	}
	return nil
}
