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

package ai

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/poiesic/contractor/core"
)

// MaxBatchSize is the largest embedding batch providers accept.
const MaxBatchSize = 100

// Config holds configuration for AI provider services.
type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// GenerationHost is the base URL for the text generation service API.
	GenerationHost string

	// APIKey is sent as the bearer token. Local servers ignore it.
	APIKey string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "nomic-embed-text", "text-embedding-3-small"
	EmbeddingModel string

	// GenerativeModel is the model identifier used for field extraction.
	// Example: "qwen2.5:7b", "gpt-4o-mini"
	GenerativeModel string

	// BatchSize bounds the number of texts per embedding request (1..100).
	BatchSize int

	// RequestsPerSecond and Burst configure the provider request limiter.
	RequestsPerSecond float64
	Burst             int

	// Timeout bounds each provider call.
	Timeout time.Duration

	// Temperature is used for generation.
	Temperature float64

	// Retry governs retries of transient provider failures.
	Retry RetryPolicy
}

// ConfigOption is a functional option for configuring Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithGenerationHost sets the generation service host URL.
func WithGenerationHost(host string) ConfigOption {
	return func(c *Config) {
		c.GenerationHost = host
	}
}

// WithHost sets both embedding and generation hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.GenerationHost = host
	}
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithEmbeddingModel sets the embedding model name.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithGenerativeModel sets the generation model name.
func WithGenerativeModel(model string) ConfigOption {
	return func(c *Config) {
		c.GenerativeModel = model
	}
}

// WithBatchSize sets the embedding batch size.
func WithBatchSize(n int) ConfigOption {
	return func(c *Config) {
		c.BatchSize = n
	}
}

// WithRateLimit sets the provider request rate and burst.
func WithRateLimit(rps float64, burst int) ConfigOption {
	return func(c *Config) {
		c.RequestsPerSecond = rps
		c.Burst = burst
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithRetryPolicy sets the retry policy.
func WithRetryPolicy(p RetryPolicy) ConfigOption {
	return func(c *Config) {
		c.Retry = p
	}
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingHost:     defaultHost,
		GenerationHost:    defaultHost,
		APIKey:            "none",
		EmbeddingModel:    "nomic-embed-text",
		GenerativeModel:   "qwen2.5:7b",
		BatchSize:         50,
		RequestsPerSecond: 5,
		Burst:             5,
		Timeout:           30 * time.Second,
		Temperature:       0.2,
		Retry:             DefaultRetryPolicy(),
	}
}

// NewConfig creates a new Config with the given options applied to defaults.
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures host URLs end with /v1 for OpenAI-compatible APIs.
func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.GenerationHost = normalizeHost(c.GenerationHost)
}

func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate normalizes the hosts and checks every field, reporting all
// problems at once as a core.ErrConfiguration.
func (c *Config) Validate() error {
	c.Normalize()

	var errs []error
	if c.EmbeddingHost == "" {
		errs = append(errs, errors.New("EmbeddingHost is required"))
	}
	if c.GenerationHost == "" {
		errs = append(errs, errors.New("GenerationHost is required"))
	}
	if c.EmbeddingModel == "" {
		errs = append(errs, errors.New("EmbeddingModel is required"))
	}
	if c.GenerativeModel == "" {
		errs = append(errs, errors.New("GenerativeModel is required"))
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("BatchSize must be between 1 and %d, got %d", MaxBatchSize, c.BatchSize))
	}
	if c.RequestsPerSecond <= 0 || c.Burst < 1 {
		errs = append(errs, errors.New("RequestsPerSecond and Burst must be positive"))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("Timeout must be positive"))
	}
	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: ai config: %w", core.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}
