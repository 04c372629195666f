package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cadre-oss/memchat/internal/config"
	"github.com/cadre-oss/memchat/internal/provider"
	"github.com/cadre-oss/memchat/internal/telemetry"
)

// MockProvider implements provider.Provider for testing.
type MockProvider struct {
	mu         sync.Mutex
	Responses  []*provider.Response // queued responses, consumed in order
	Calls      []*provider.CompletionRequest
	ShouldFail bool
	FailErr    error
	FailOnCall int // fail only the n-th call (1-based) when set
	Delay      time.Duration
	idx        int
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.Response, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.ShouldFail || (m.FailOnCall > 0 && len(m.Calls) == m.FailOnCall) {
		if m.FailErr != nil {
			return nil, m.FailErr
		}
		return nil, fmt.Errorf("mock provider error")
	}

	if m.idx >= len(m.Responses) {
		return &provider.Response{
			Content:    "default mock response",
			StopReason: "end_turn",
		}, nil
	}

	resp := m.Responses[m.idx]
	m.idx++
	return resp, nil
}

// CallCount returns the number of Complete calls made (thread-safe).
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil.
func (m *MockProvider) LastCall() *provider.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return m.Calls[len(m.Calls)-1]
}

// Call returns the i-th request (0-based).
func (m *MockProvider) Call(i int) *provider.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[i]
}

// TextResponse is a final model answer.
func TextResponse(content string) *provider.Response {
	return &provider.Response{Content: content, StopReason: "end_turn"}
}

// ToolResponse requests the given tool calls. Each call is id, name and
// JSON arguments.
func ToolResponse(calls ...[3]string) *provider.Response {
	resp := &provider.Response{StopReason: "tool_use"}
	for _, c := range calls {
		resp.ToolCalls = append(resp.ToolCalls, provider.ToolCall{ID: c[0], Name: c[1], Input: json.RawMessage(c[2])})
	}
	return resp
}

// TestLogger returns a logger suitable for tests (verbose, no file output).
func TestLogger() *telemetry.Logger {
	return telemetry.NewLogger(true)
}

// TestConfig returns a minimal config for testing.
func TestConfig() *config.Config {
	return &config.Config{
		Name: "test-project",
		Provider: config.ProviderConfig{
			Name:       "anthropic",
			Model:      "mock-model",
			MaxTokens:  1024,
			Timeout:    "5m",
			MaxRetries: 1,
		},
		Embedding: config.EmbeddingConfig{
			Provider:   "hash",
			Dimensions: 64,
		},
		Memory: config.MemoryConfig{
			Driver:      "chromem",
			PrimeLimit:  10,
			PrimeWindow: 3,
		},
		State: config.StateConfig{
			Driver: "memory",
		},
		Agent: config.AgentConfig{
			DefaultUserID: "default_user",
			SystemPrompt:  "You are a test assistant.",
			MaxIterations: 25,
		},
		Logging: config.LoggingConfig{
			Level:  "debug",
			Format: "text",
		},
	}
}
