package threatmap

import (
	"context"
	"strings"
	"sync"

	"github.com/AnandaIndraTan/CERBERUS/api/schemas"
)

// MockCall is one recorded statement issued against the mock client.
type MockCall struct {
	Kind   string // "read" or "write"
	Cypher string
	Params map[string]any
}

// MockGraphClient is an in-memory schemas.GraphClient for tests. It records
// every statement and answers through configurable handlers; with no handler
// set it returns empty results.
type MockGraphClient struct {
	mu    sync.Mutex
	calls []MockCall

	ConnectErr error
	CloseErr   error

	// ReadHandler and WriteHandler, when set, script the response for a
	// statement. A nil *GraphResult from a handler is upgraded to an empty
	// result.
	ReadHandler  func(cypher string, params map[string]any) (*schemas.GraphResult, error)
	WriteHandler func(cypher string, params map[string]any) (*schemas.GraphResult, error)

	connected bool
}

// NewMockGraphClient creates an unconnected mock client.
func NewMockGraphClient() *MockGraphClient {
	return &MockGraphClient{}
}

func (m *MockGraphClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ConnectErr != nil {
		return m.ConnectErr
	}
	m.connected = true
	return nil
}

func (m *MockGraphClient) ExecuteRead(ctx context.Context, cypher string, params map[string]any) (*schemas.GraphResult, error) {
	return m.execute("read", m.ReadHandler, cypher, params)
}

func (m *MockGraphClient) ExecuteWrite(ctx context.Context, cypher string, params map[string]any) (*schemas.GraphResult, error) {
	return m.execute("write", m.WriteHandler, cypher, params)
}

func (m *MockGraphClient) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return m.CloseErr
}

func (m *MockGraphClient) execute(kind string, handler func(string, map[string]any) (*schemas.GraphResult, error), cypher string, params map[string]any) (*schemas.GraphResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, MockCall{Kind: kind, Cypher: cypher, Params: params})
	m.mu.Unlock()

	if handler == nil {
		return &schemas.GraphResult{}, nil
	}
	result, err := handler(cypher, params)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = &schemas.GraphResult{}
	}
	return result, nil
}

// Calls returns a copy of every recorded statement in issue order.
func (m *MockGraphClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// WriteCyphers returns the text of every write statement, in order.
func (m *MockGraphClient) WriteCyphers() []string {
	var out []string
	for _, call := range m.Calls() {
		if call.Kind == "write" {
			out = append(out, call.Cypher)
		}
	}
	return out
}

// CountWritesContaining reports how many write statements contain the
// given fragment.
func (m *MockGraphClient) CountWritesContaining(fragment string) int {
	n := 0
	for _, cypher := range m.WriteCyphers() {
		if strings.Contains(cypher, fragment) {
			n++
		}
	}
	return n
}

// Reset forgets all recorded calls but keeps the configured handlers.
func (m *MockGraphClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
