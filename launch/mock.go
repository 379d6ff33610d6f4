package launch

import (
	"context"
	"sync"

	pipeline "github.com/gdevenyi/pydpiper"
)

// Mock is a configurable Launcher for tests.
type Mock struct {
	mu sync.Mutex

	// LaunchFunc is called by Launch if set.
	LaunchFunc func(ctx context.Context, n int, capacity pipeline.Capacity) error

	// LaunchCalls records the parameters of every Launch call.
	LaunchCalls []LaunchCall
}

// LaunchCall records the parameters of one Launch call.
type LaunchCall struct {
	N        int
	Capacity pipeline.Capacity
}

// Compile-time check that Mock implements Launcher.
var _ Launcher = (*Mock)(nil)

// NewMock creates a Mock with empty call history.
func NewMock() *Mock {
	return &Mock{}
}

// Launch implements Launcher. Without LaunchFunc it records and succeeds.
func (m *Mock) Launch(ctx context.Context, n int, capacity pipeline.Capacity) error {
	m.mu.Lock()
	m.LaunchCalls = append(m.LaunchCalls, LaunchCall{N: n, Capacity: capacity})
	m.mu.Unlock()

	if m.LaunchFunc != nil {
		return m.LaunchFunc(ctx, n, capacity)
	}
	return nil
}

// Calls returns a snapshot of the recorded Launch calls.
func (m *Mock) Calls() []LaunchCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LaunchCall(nil), m.LaunchCalls...)
}

// Launched returns the total number of workers requested so far.
func (m *Mock) Launched() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, c := range m.LaunchCalls {
		total += c.N
	}
	return total
}
