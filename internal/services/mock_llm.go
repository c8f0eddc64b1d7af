package services

import (
	"context"
	"sync"

	"github.com/jwebster45206/tavern-phone/pkg/chat"
)

// MockLLM is a mock implementation of LLMService for testing
type MockLLM struct {
	ChatFunc func(ctx context.Context, messages []chat.ChatMessage) (string, error)
	// Response is returned when ChatFunc is nil.
	Response string

	// Track calls for testing
	Calls [][]chat.ChatMessage

	mu sync.Mutex // protects all fields above
}

var _ LLMService = (*MockLLM)(nil)

// NewMockLLM creates a mock that always answers response.
func NewMockLLM(response string) *MockLLM {
	return &MockLLM{Response: response}
}

// Chat mocks a completion. The lock is not held while ChatFunc runs so a
// blocking ChatFunc can be aborted.
func (m *MockLLM) Chat(ctx context.Context, messages []chat.ChatMessage) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, messages)
	fn, resp := m.ChatFunc, m.Response
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages)
	}
	return resp, nil
}

// CallCount returns the number of Chat calls so far.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the messages of the most recent call, or nil.
func (m *MockLLM) LastCall() []chat.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return m.Calls[len(m.Calls)-1]
}
