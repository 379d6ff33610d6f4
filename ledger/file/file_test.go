package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/gdevenyi/pydpiper"
)

func TestLedger_RecordAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ledger")
	ctx := context.Background()

	led, err := Open(path)
	require.NoError(t, err)

	entries := []pipeline.LedgerEntry{
		{Fingerprint: "aaa", Outcome: pipeline.OutcomeSucceeded, Timestamp: time.Now()},
		{Fingerprint: "bbb", Outcome: pipeline.OutcomeSucceeded, Timestamp: time.Now()},
	}
	for _, e := range entries {
		require.NoError(t, led.Record(ctx, e))
	}
	require.NoError(t, led.Close())

	// A fresh handle sees everything the old one recorded.
	led, err = Open(path)
	require.NoError(t, err)
	defer led.Close()

	loaded, err := led.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[pipeline.Fingerprint]bool{"aaa": true, "bbb": true}, loaded)
}

func TestLedger_LoadMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-written.ledger")

	led, err := Open(path)
	require.NoError(t, err)
	defer led.Close()
	require.NoError(t, os.Remove(path))

	loaded, err := led.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLedger_IgnoresFailedOutcomes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ledger")
	ctx := context.Background()

	led, err := Open(path)
	require.NoError(t, err)
	defer led.Close()

	require.NoError(t, led.Record(ctx, pipeline.LedgerEntry{Fingerprint: "ok", Outcome: pipeline.OutcomeSucceeded}))
	require.NoError(t, led.Record(ctx, pipeline.LedgerEntry{Fingerprint: "bad", Outcome: pipeline.OutcomeFailed}))

	loaded, err := led.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[pipeline.Fingerprint]bool{"ok": true}, loaded)
}

func TestLedger_ToleratesTornFinalLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ledger")
	ctx := context.Background()

	led, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, led.Record(ctx, pipeline.LedgerEntry{Fingerprint: "intact", Outcome: pipeline.OutcomeSucceeded}))
	require.NoError(t, led.Close())

	// Simulate a crash mid-append.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"fingerprint":"torn","outc`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	led, err = Open(path)
	require.NoError(t, err)
	defer led.Close()

	loaded, err := led.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[pipeline.Fingerprint]bool{"intact": true}, loaded)
}

func TestLedger_AppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.ledger")
	ctx := context.Background()

	led, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, led.Record(ctx, pipeline.LedgerEntry{Fingerprint: "first", Outcome: pipeline.OutcomeSucceeded}))
	require.NoError(t, led.Close())

	led, err = Open(path)
	require.NoError(t, err)
	defer led.Close()
	require.NoError(t, led.Record(ctx, pipeline.LedgerEntry{Fingerprint: "second", Outcome: pipeline.OutcomeSucceeded}))

	loaded, err := led.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
}
