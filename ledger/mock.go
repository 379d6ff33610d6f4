package ledger

import (
	"context"
	"sync"

	pipeline "github.com/gdevenyi/pydpiper"
)

// Mock is a configurable in-memory Ledger for tests. It records calls and
// allows injecting behavior for error paths.
type Mock struct {
	mu sync.Mutex

	// RecordFunc is called by Record if set.
	RecordFunc func(ctx context.Context, entry pipeline.LedgerEntry) error

	// LoadFunc is called by Load if set.
	LoadFunc func(ctx context.Context) (map[pipeline.Fingerprint]bool, error)

	// RecordCalls holds every entry passed to Record.
	RecordCalls []pipeline.LedgerEntry

	// LoadCalls counts Load invocations.
	LoadCalls int

	// Closed reports whether Close was called.
	Closed bool

	entries map[pipeline.Fingerprint]bool
}

// NewMock creates a Mock whose default behavior is a working in-memory ledger.
func NewMock() *Mock {
	return &Mock{entries: make(map[pipeline.Fingerprint]bool)}
}

// Record implements Ledger.
func (m *Mock) Record(ctx context.Context, entry pipeline.LedgerEntry) error {
	m.mu.Lock()
	m.RecordCalls = append(m.RecordCalls, entry)
	fn := m.RecordFunc
	if fn == nil && entry.Outcome == pipeline.OutcomeSucceeded {
		m.entries[entry.Fingerprint] = true
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, entry)
	}
	return nil
}

// Load implements Ledger.
func (m *Mock) Load(ctx context.Context) (map[pipeline.Fingerprint]bool, error) {
	m.mu.Lock()
	m.LoadCalls++
	fn := m.LoadFunc
	out := make(map[pipeline.Fingerprint]bool, len(m.entries))
	for fp := range m.entries {
		out[fp] = true
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return out, nil
}

// Close implements Ledger.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Seed pre-populates the mock with successful fingerprints, as if a prior
// run had recorded them.
func (m *Mock) Seed(fps ...pipeline.Fingerprint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, fp := range fps {
		m.entries[fp] = true
	}
}
