package mock

import (
	"context"
	"sync"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, Generate returns Reply.
	GenerateFunc func(ctx context.Context, system, prompt string) (string, error)

	// Reply is the default response.
	Reply string

	mu      sync.Mutex
	prompts []string
}

// NewMockGenerator creates a mock generator that answers with an empty JSON object.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{Reply: "{}"}
}

// Generate records the prompt and returns the scripted reply.
func (m *MockGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, system, prompt)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return m.Reply, nil
}

// Prompts returns the prompts received so far.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
