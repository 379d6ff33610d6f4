// Package file implements the completion ledger as an append-only JSON-lines
// file, synced to disk after every record. Suitable for local disks and NFS.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/ledger"
)

// Ledger is a file-backed ledger.Ledger. One entry per line, JSON encoded.
// A truncated final line (crash mid-write) is treated as absent, which at
// worst recomputes that one stage.
type Ledger struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Compile-time check that Ledger implements ledger.Ledger.
var _ ledger.Ledger = (*Ledger)(nil)

// Open opens or creates the ledger file at path.
func Open(path string) (*Ledger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", path, err)
	}
	return &Ledger{path: path, f: f}, nil
}

// Record appends the entry and fsyncs before returning, so the coordinator
// never acknowledges a completion the disk has not seen.
func (l *Ledger) Record(ctx context.Context, entry pipeline.LedgerEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding ledger entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("appending to ledger %s: %w", l.path, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("syncing ledger %s: %w", l.path, err)
	}
	return nil
}

// Load scans the whole file and returns the successful fingerprints.
// A missing file is an empty ledger, not an error.
func (l *Ledger) Load(ctx context.Context) (map[pipeline.Fingerprint]bool, error) {
	out := make(map[pipeline.Fingerprint]bool)

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening ledger %s: %w", l.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry pipeline.LedgerEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// Torn final write from a crash; everything before it is intact.
			break
		}
		if entry.Outcome == pipeline.OutcomeSucceeded {
			out[entry.Fingerprint] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", l.path, err)
	}
	return out, nil
}

// Close closes the underlying file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}
