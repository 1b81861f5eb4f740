package completion

import (
	"context"
	"fmt"
	"sync"
)

// MockCompleter implements [Completer] for testing.
//
// Responses are served in call order. When Func is set it takes precedence and
// is called for every request. All requests are recorded and can be inspected
// with [MockCompleter.Requests]. MockCompleter is safe for concurrent use.
//
//	mock := &MockCompleter{Responses: []string{"first", "second"}}
type MockCompleter struct {
	// Responses are returned in order, one per call.
	Responses []string

	// Errors maps a zero-based call index to an error returned for that call.
	Errors map[int]error

	// Func, when set, computes the response for each request.
	Func func(ctx context.Context, req Request) (string, error)

	mu       sync.Mutex
	recorded []Request
}

// Complete records req and returns the scripted response.
func (m *MockCompleter) Complete(ctx context.Context, req Request) (string, error) {
	m.mu.Lock()
	idx := len(m.recorded)
	m.recorded = append(m.recorded, req)
	fn := m.Func
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err, ok := m.Errors[idx]; ok {
		return "", err
	}
	if idx >= len(m.Responses) {
		return "", fmt.Errorf("MockCompleter: no response scripted for call %d", idx)
	}
	return m.Responses[idx], nil
}

// Requests returns a copy of all recorded requests in call order.
func (m *MockCompleter) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.recorded))
	copy(out, m.recorded)
	return out
}

// Calls returns the number of recorded requests.
func (m *MockCompleter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.recorded)
}
