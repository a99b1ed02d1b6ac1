package providers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const MockName = "mock"

// MockReply is one scripted outcome of a mock generation.
type MockReply struct {
	Text string
	Err  error
}

// MockGenerator is a Generator for testing. Replies are scripted per model
// and consumed in order; the last reply of a script repeats.
type MockGenerator struct {
	// Configurable behavior
	Latency      time.Duration
	ResponseText string
	Script       map[string][]MockReply

	mu       sync.Mutex
	calls    map[string]int
	requests []GenerateRequest

	requestCount atomic.Int64
}

// NewMockGenerator creates a mock that answers every model with "mock response".
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{
		ResponseText: "mock response",
		Script:       make(map[string][]MockReply),
		calls:        make(map[string]int),
	}
}

// Name returns the client identifier.
func (m *MockGenerator) Name() string {
	return MockName
}

// On scripts the replies for model.
func (m *MockGenerator) On(model string, replies ...MockReply) *MockGenerator {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Script[model] = replies
	return m
}

// Generate returns the next scripted reply for req.Model.
func (m *MockGenerator) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	m.requestCount.Add(1)

	if m.Latency > 0 {
		if err := SleepContext(ctx, m.Latency); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	n := m.calls[req.Model]
	m.calls[req.Model] = n + 1
	m.requests = append(m.requests, *req)
	script := m.Script[req.Model]
	m.mu.Unlock()

	reply := MockReply{Text: m.ResponseText}
	if len(script) > 0 {
		reply = script[min(n, len(script)-1)]
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	return &GenerateResult{
		Text:         reply.Text,
		Model:        req.Model,
		InputTokens:  len(req.Prompt) / 4,
		OutputTokens: len(reply.Text) / 4,
		Latency:      m.Latency,
	}, nil
}

// For lets the mock act as its own Resolver.
func (m *MockGenerator) For(model string) (Generator, error) {
	return m, nil
}

// Calls returns how many times model was requested.
func (m *MockGenerator) Calls(model string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[model]
}

// Requests returns a copy of every request received.
func (m *MockGenerator) Requests() []GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GenerateRequest(nil), m.requests...)
}

// RequestCount returns the total number of requests.
func (m *MockGenerator) RequestCount() int64 {
	return m.requestCount.Load()
}

var (
	_ Generator = (*MockGenerator)(nil)
	_ Resolver  = (*MockGenerator)(nil)
)
