package transport

import (
	"context"
	"sync"

	pipeline "github.com/gdevenyi/pydpiper"
)

// MockClient is a configurable mock implementation of Client for tests.
// Behavior is injected through the Func fields; every call is recorded.
type MockClient struct {
	mu sync.Mutex

	// RegisterFunc is called by Register if set.
	RegisterFunc func(ctx context.Context, capacity pipeline.Capacity) (string, error)

	// HeartbeatFunc is called by Heartbeat if set.
	HeartbeatFunc func(ctx context.Context, workerID string, running []int) (pipeline.HeartbeatAck, error)

	// PullFunc is called by Pull if set.
	PullFunc func(ctx context.Context, workerID string, free pipeline.Capacity) (pipeline.Assignment, error)

	// ReportFunc is called by Report if set.
	ReportFunc func(ctx context.Context, workerID string, ordinal int, outcome pipeline.Outcome) error

	// UnregisterFunc is called by Unregister if set.
	UnregisterFunc func(ctx context.Context, workerID string) error

	// Call tracking
	RegisterCalls   []pipeline.Capacity
	HeartbeatCalls  []HeartbeatCall
	PullCalls       []PullCall
	ReportCalls     []ReportCall
	UnregisterCalls []string
}

// HeartbeatCall records the parameters of one Heartbeat call.
type HeartbeatCall struct {
	WorkerID string
	Running  []int
}

// PullCall records the parameters of one Pull call.
type PullCall struct {
	WorkerID string
	Free     pipeline.Capacity
}

// ReportCall records the parameters of one Report call.
type ReportCall struct {
	WorkerID string
	Ordinal  int
	Outcome  pipeline.Outcome
}

// Compile-time check that MockClient implements Client.
var _ Client = (*MockClient)(nil)

// NewMockClient creates a MockClient with empty call history. Without
// injected Funcs it behaves as a coordinator with no work: Register returns
// "mock-worker", Pull returns PullWait, everything else succeeds.
func NewMockClient() *MockClient {
	return &MockClient{}
}

// Register implements Client.
func (m *MockClient) Register(ctx context.Context, capacity pipeline.Capacity) (string, error) {
	m.mu.Lock()
	m.RegisterCalls = append(m.RegisterCalls, capacity)
	m.mu.Unlock()

	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, capacity)
	}
	return "mock-worker", nil
}

// Heartbeat implements Client.
func (m *MockClient) Heartbeat(ctx context.Context, workerID string, running []int) (pipeline.HeartbeatAck, error) {
	m.mu.Lock()
	m.HeartbeatCalls = append(m.HeartbeatCalls, HeartbeatCall{WorkerID: workerID, Running: append([]int(nil), running...)})
	m.mu.Unlock()

	if m.HeartbeatFunc != nil {
		return m.HeartbeatFunc(ctx, workerID, running)
	}
	return pipeline.HeartbeatAck{}, nil
}

// Pull implements Client.
func (m *MockClient) Pull(ctx context.Context, workerID string, free pipeline.Capacity) (pipeline.Assignment, error) {
	m.mu.Lock()
	m.PullCalls = append(m.PullCalls, PullCall{WorkerID: workerID, Free: free})
	m.mu.Unlock()

	if m.PullFunc != nil {
		return m.PullFunc(ctx, workerID, free)
	}
	return pipeline.Assignment{Command: pipeline.PullWait}, nil
}

// Report implements Client.
func (m *MockClient) Report(ctx context.Context, workerID string, ordinal int, outcome pipeline.Outcome) error {
	m.mu.Lock()
	m.ReportCalls = append(m.ReportCalls, ReportCall{WorkerID: workerID, Ordinal: ordinal, Outcome: outcome})
	m.mu.Unlock()

	if m.ReportFunc != nil {
		return m.ReportFunc(ctx, workerID, ordinal, outcome)
	}
	return nil
}

// Unregister implements Client.
func (m *MockClient) Unregister(ctx context.Context, workerID string) error {
	m.mu.Lock()
	m.UnregisterCalls = append(m.UnregisterCalls, workerID)
	m.mu.Unlock()

	if m.UnregisterFunc != nil {
		return m.UnregisterFunc(ctx, workerID)
	}
	return nil
}
