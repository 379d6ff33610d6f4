package sqldb

import (
	"context"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/gdevenyi/pydpiper"
)

func TestDialectForDriver(t *testing.T) {
	d, err := DialectForDriver("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)

	d, err = DialectForDriver("postgres")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	d, err = DialectForDriver("mysql")
	require.NoError(t, err)
	assert.Equal(t, DialectMySQL, d)

	_, err = DialectForDriver("oracle")
	assert.Error(t, err)
}

func TestLedger_RecordAndLoad(t *testing.T) {
	ctx := context.Background()

	led, err := Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	defer led.Close()

	require.NoError(t, led.Record(ctx, pipeline.LedgerEntry{
		Fingerprint: "aaa", Outcome: pipeline.OutcomeSucceeded, Timestamp: time.Now(),
	}))
	require.NoError(t, led.Record(ctx, pipeline.LedgerEntry{
		Fingerprint: "bbb", Outcome: pipeline.OutcomeFailed, Timestamp: time.Now(),
	}))

	loaded, err := led.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[pipeline.Fingerprint]bool{"aaa": true}, loaded)
}

func TestLedger_DuplicateRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()

	led, err := Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	defer led.Close()

	entry := pipeline.LedgerEntry{Fingerprint: "aaa", Outcome: pipeline.OutcomeSucceeded, Timestamp: time.Now()}
	require.NoError(t, led.Record(ctx, entry))
	require.NoError(t, led.Record(ctx, entry))

	loaded, err := led.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 1)
}

func TestLedger_EmptyDatabase(t *testing.T) {
	ctx := context.Background()

	led, err := Open(ctx, "sqlite3", ":memory:")
	require.NoError(t, err)
	defer led.Close()

	loaded, err := led.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "oracle", "dsn")
	assert.Error(t, err)
}
