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
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/contractor/ai"
	"github.com/poiesic/contractor/core"
)

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
// Replies are requested in JSON mode.
type Generator struct {
	client      llms.Model
	temperature float64
	calls       *caller
	logger      *slog.Logger
}

// newGenerator is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.GenerativeModel),
	)
	if err != nil {
		return nil, err
	}

	return newGeneratorWithModel(client, config), nil
}

func newGeneratorWithModel(model llms.Model, config *ai.Config) *Generator {
	logger := slog.Default().With("component", "openai-generator")
	return &Generator{
		client:      model,
		temperature: config.Temperature,
		calls:       newCaller(config, logger),
		logger:      logger,
	}
}

// NewGenerator creates a new generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate sends the system instruction and prompt and returns the first choice.
func (g *Generator) Generate(ctx context.Context, system, prompt string) (string, error) {
	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(system),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt),
			},
		},
	}

	var response *llms.ContentResponse
	err := g.calls.do(ctx, "generate", func(ctx context.Context) error {
		var err error
		response, err = g.client.GenerateContent(ctx, content, llms.WithTemperature(g.temperature), llms.WithJSONMode())
		return err
	})
	if err != nil {
		g.logger.Error("failed to generate content", "err", err)
		return "", err
	}

	if response == nil || len(response.Choices) < 1 {
		return "", fmt.Errorf("%w: no choices returned from model", core.ErrEmbeddingProvider)
	}

	g.logger.Debug("generated content", "length", len(response.Choices[0].Content))
	return response.Choices[0].Content, nil
}

var _ ai.Generator = (*Generator)(nil)
