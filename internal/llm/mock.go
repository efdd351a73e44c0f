// File: internal/llm/mock.go
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
)

// MockLLMClient is a scriptable LLMClient for tests. Responses are consumed
// FIFO; GenerateFunc, when set, takes precedence over the queue.
type MockLLMClient struct {
	mu        sync.Mutex
	requests  []schemas.GenerationRequest
	responses []string
	closed    bool

	// GenerateFunc, when non-nil, handles every call.
	GenerateFunc func(ctx context.Context, req schemas.GenerationRequest) (string, error)
	// Err, when set, fails every call that GenerateFunc does not handle.
	Err error
}

// NewMockLLMClient returns a mock that replays the given responses in order.
func NewMockLLMClient(responses ...string) *MockLLMClient {
	return &MockLLMClient{responses: responses}
}

// Enqueue appends responses to the replay queue.
func (m *MockLLMClient) Enqueue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, responses...)
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, req)
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.responses) == 0 {
		return "", fmt.Errorf("mock llm: no queued response")
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *MockLLMClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Requests returns a copy of every request seen so far.
func (m *MockLLMClient) Requests() []schemas.GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.GenerationRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Closed reports whether Close has been called.
func (m *MockLLMClient) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockEmbeddingClient is a scriptable EmbeddingClient for tests. Without an
// EmbedFunc it produces a deterministic vector per text so ranking code has
// something stable to chew on.
type MockEmbeddingClient struct {
	mu    sync.Mutex
	calls [][]string

	// EmbedFunc, when non-nil, handles every call.
	EmbedFunc func(ctx context.Context, texts []string) ([][]float32, error)
	// Err, when set, fails every call that EmbedFunc does not handle.
	Err error
}

func (m *MockEmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]string(nil), texts...))

	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, texts)
	}
	if m.Err != nil {
		return nil, m.Err
	}

	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 1}
	}
	return out, nil
}

// Calls returns a copy of every Embed invocation's input texts.
func (m *MockEmbeddingClient) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	for i, call := range m.calls {
		out[i] = append([]string(nil), call...)
	}
	return out
}
