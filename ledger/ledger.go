// Package ledger defines the durable completion ledger: an append-only
// record of finished stage fingerprints that lets a restarted coordinator
// skip recomputation of completed work.
package ledger

import (
	"context"

	pipeline "github.com/gdevenyi/pydpiper"
)

// Ledger persists stage completions across coordinator restarts. It is not
// the authoritative runtime status; the in-memory stage graph is. The ledger
// only seeds the graph at startup.
//
// Implementations must flush Record durably before returning: a crash between
// stage execution and the ledger write must at worst recompute the stage,
// never silently presume it done. The ledger has a single writer (the
// coordinator), so implementations need not serialize concurrent Records.
type Ledger interface {
	// Record appends a completion entry and flushes it to durable storage.
	Record(ctx context.Context, entry pipeline.LedgerEntry) error

	// Load returns the fingerprints of every recorded successful stage.
	// Stale entries from abandoned runs are harmless; they simply never
	// match a fingerprint in the current graph.
	Load(ctx context.Context) (map[pipeline.Fingerprint]bool, error)

	// Close releases the underlying storage.
	Close() error
}
