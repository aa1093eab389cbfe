package mock

import (
	"context"
	"sync"

	"github.com/poiesic/blueprint/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by GenerateJSON if set.
	GenerateFunc func(ctx context.Context, req ai.GenerationRequest) (string, error)

	mu        sync.Mutex
	responses map[string]string
	calls     map[string]int
	requests  []ai.GenerationRequest
}

// NewMockGenerator creates a generator that answers "{}" until scripted.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		responses: make(map[string]string),
		calls:     make(map[string]int),
	}
}

// WithResponse scripts the raw response returned for a task.
func (m *MockGenerator) WithResponse(task, response string) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[task] = response
	return m
}

// WithGenerateFunc replaces the scripted responses entirely.
func (m *MockGenerator) WithGenerateFunc(fn func(ctx context.Context, req ai.GenerationRequest) (string, error)) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GenerateFunc = fn
	return m
}

// GenerateJSON returns the scripted response for req.Task.
func (m *MockGenerator) GenerateJSON(ctx context.Context, req ai.GenerationRequest) (string, error) {
	m.mu.Lock()
	m.calls[req.Task]++
	m.requests = append(m.requests, req)
	fn := m.GenerateFunc
	resp, ok := m.responses[req.Task]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if fn != nil {
		return fn(ctx, req)
	}
	if !ok {
		return "{}", nil
	}
	return resp, nil
}

// CallCount returns the number of calls made for a task.
func (m *MockGenerator) CallCount(task string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[task]
}

// Requests returns a copy of every request received, in call order.
func (m *MockGenerator) Requests() []ai.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ai.GenerationRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Reset clears recorded calls, scripted responses and the override.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = make(map[string]string)
	m.calls = make(map[string]int)
	m.requests = nil
	m.GenerateFunc = nil
}
