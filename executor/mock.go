package executor

import (
	"context"
	"sync"
	"time"

	pipeline "github.com/gdevenyi/pydpiper"
)

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	mu sync.Mutex

	// StartFunc is called by Start if set.
	StartFunc func(ctx context.Context, stage *pipeline.Stage) (Process, error)

	// StartCalls records each started stage.
	StartCalls []*pipeline.Stage

	nextPID int
}

// Compile-time check that MockRunner implements Runner.
var _ Runner = (*MockRunner)(nil)

// NewMockRunner creates a MockRunner with empty call history. Without
// StartFunc, Start returns a FakeProcess that succeeds immediately.
func NewMockRunner() *MockRunner {
	return &MockRunner{nextPID: 1000}
}

// Start implements Runner.
func (m *MockRunner) Start(ctx context.Context, stage *pipeline.Stage) (Process, error) {
	m.mu.Lock()
	m.StartCalls = append(m.StartCalls, stage)
	m.nextPID++
	pid := m.nextPID
	m.mu.Unlock()

	if m.StartFunc != nil {
		return m.StartFunc(ctx, stage)
	}
	return NewFakeProcess(pid, pipeline.OutcomeSucceeded, 0), nil
}

// FakeProcess is a scriptable Process for tests: it exits with the given
// outcome after a fixed delay, or when terminated.
type FakeProcess struct {
	pid     int
	outcome pipeline.Outcome
	delay   time.Duration

	mu         sync.Mutex
	terminated bool
	killCh     chan struct{}
}

// Compile-time check that FakeProcess implements Process.
var _ Process = (*FakeProcess)(nil)

// NewFakeProcess builds a FakeProcess that yields outcome after delay.
func NewFakeProcess(pid int, outcome pipeline.Outcome, delay time.Duration) *FakeProcess {
	return &FakeProcess{pid: pid, outcome: outcome, delay: delay, killCh: make(chan struct{})}
}

// PID implements Process.
func (p *FakeProcess) PID() int { return p.pid }

// Wait implements Process.
func (p *FakeProcess) Wait() pipeline.Outcome {
	select {
	case <-time.After(p.delay):
		return p.outcome
	case <-p.killCh:
		return pipeline.OutcomeFailed
	}
}

// Terminate implements Process. It records the call and unblocks Wait with a
// failed outcome, as a killed child would.
func (p *FakeProcess) Terminate(grace time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.terminated {
		p.terminated = true
		close(p.killCh)
	}
}

// Terminated reports whether Terminate was called.
func (p *FakeProcess) Terminated() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.terminated
}
