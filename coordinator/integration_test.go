package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/coordinator"
	"github.com/gdevenyi/pydpiper/executor"
	"github.com/gdevenyi/pydpiper/graph"
	ledgerfile "github.com/gdevenyi/pydpiper/ledger/file"
	"github.com/gdevenyi/pydpiper/transport/httprpc"
)

// buildTouchPipeline declares a diamond of real shell commands: every stage
// appends its name to a shared trace file, so completion order is checkable.
func buildTouchPipeline(t *testing.T, dir string) *graph.Graph {
	t.Helper()
	trace := filepath.Join(dir, "trace")
	b := graph.NewBuilder()
	touch := func(name string, deps ...int) int {
		return b.Add(graph.StageSpec{
			Command: []string{"sh", "-c", fmt.Sprintf("echo %s >> %s", name, trace)},
			Outputs: []string{trace},
			Deps:    deps,
			Hints:   pipeline.ResourceHints{MemoryGB: 1},
		})
	}
	a := touch("a")
	bb := touch("b", a)
	c := touch("c", a)
	touch("d", bb, c)

	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func runPipeline(t *testing.T, g *graph.Graph, ledgerPath string, workers int) pipeline.Summary {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	led, err := ledgerfile.Open(ledgerPath)
	require.NoError(t, err)
	defer led.Close()

	coord, err := coordinator.New(coordinator.Config{
		Graph:            g,
		Ledger:           led,
		RetryLimit:       1,
		HeartbeatTimeout: 5 * time.Second,
		CheckInterval:    20 * time.Millisecond,
		DrainGrace:       5 * time.Second,
	})
	require.NoError(t, err)

	srv, err := httprpc.NewServer(coord, "127.0.0.1:0")
	require.NoError(t, err)
	srv.Start()
	defer srv.Shutdown(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		exec, err := executor.New(executor.Config{
			Client:            httprpc.NewClient(srv.Addr()),
			Capacity:          pipeline.Capacity{Slots: 2, MemoryGB: 8},
			LogDir:            t.TempDir(),
			PollInterval:      10 * time.Millisecond,
			HeartbeatInterval: 20 * time.Millisecond,
			IdleTimeout:       -1,
		})
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			// A worker that arrives after the run already finished is
			// rejected at registration; that is a clean outcome here.
			if err := exec.Run(ctx); err != nil && !errors.Is(err, pipeline.ErrNotDispatching) {
				t.Errorf("executor exited with error: %v", err)
			}
		}()
	}

	summary, err := coord.Run(ctx)
	require.NoError(t, err)
	wg.Wait()
	return summary
}

func TestPipeline_EndToEndOverHTTP(t *testing.T) {
	dir := t.TempDir()
	g := buildTouchPipeline(t, dir)

	summary := runPipeline(t, g, filepath.Join(dir, "run.ledger"), 2)

	assert.True(t, summary.OK())
	assert.Equal(t, 4, summary.Succeeded)

	// Dependency order: a first, d last.
	data, err := os.ReadFile(filepath.Join(dir, "trace"))
	require.NoError(t, err)
	lines := string(data)
	assert.Equal(t, byte('a'), lines[0])
	assert.Equal(t, "d\n", lines[len(lines)-2:])
}

func TestPipeline_ResumeSkipsCompletedStages(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := filepath.Join(dir, "run.ledger")

	first := runPipeline(t, buildTouchPipeline(t, dir), ledgerPath, 1)
	require.True(t, first.OK())

	// The same pipeline again: everything is already in the ledger.
	second := runPipeline(t, buildTouchPipeline(t, dir), ledgerPath, 1)

	assert.True(t, second.OK())
	assert.Equal(t, 4, second.SkippedFromLedger)

	// No stage re-executed, so the trace file did not grow.
	data, err := os.ReadFile(filepath.Join(dir, "trace"))
	require.NoError(t, err)
	assert.Len(t, string(data), 8) // "a\nb\nc\nd\n" in some order
}

func TestPipeline_PermanentFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	b := graph.NewBuilder()
	bad := b.Add(graph.StageSpec{
		Command: []string{"sh", "-c", "exit 1"},
		Hints:   pipeline.ResourceHints{MemoryGB: 1},
	})
	b.Add(graph.StageSpec{
		Command: []string{"sh", "-c", "echo never >> " + filepath.Join(dir, "never")},
		Deps:    []int{bad},
		Hints:   pipeline.ResourceHints{MemoryGB: 1},
	})
	g, err := b.Build()
	require.NoError(t, err)

	summary := runPipeline(t, g, filepath.Join(dir, "run.ledger"), 1)

	assert.False(t, summary.OK())
	assert.Equal(t, 1, summary.PermanentlyFailed)
	assert.Equal(t, 1, summary.Unreachable)

	_, err = os.Stat(filepath.Join(dir, "never"))
	assert.True(t, os.IsNotExist(err))
}
