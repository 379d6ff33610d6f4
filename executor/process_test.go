package executor

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

func TestProcessRunner_CapturesOutputWithHeader(t *testing.T) {
	dir := t.TempDir()
	r := &ProcessRunner{LogDir: dir}
	stage := &pipeline.Stage{
		Ordinal: 5,
		Command: []string{"sh", "-c", "echo stage output"},
	}

	proc, err := r.Start(context.Background(), stage)
	require.NoError(t, err)
	assert.Greater(t, proc.PID(), 0)
	assert.Equal(t, pipeline.OutcomeSucceeded, proc.Wait())

	data, err := os.ReadFile(filepath.Join(dir, "stage-5.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Stage 5 running on ")
	assert.Contains(t, string(data), "sh -c echo stage output")
	assert.Contains(t, string(data), "stage output")
}

func TestProcessRunner_ExplicitLogPath(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "custom.log")
	r := &ProcessRunner{}
	stage := &pipeline.Stage{
		Ordinal: 0,
		Command: []string{"sh", "-c", "echo custom"},
		LogPath: logPath,
	}

	proc, err := r.Start(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeSucceeded, proc.Wait())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "custom")
}

func TestProcessRunner_NonzeroExitFails(t *testing.T) {
	r := &ProcessRunner{LogDir: t.TempDir()}
	stage := &pipeline.Stage{Ordinal: 0, Command: []string{"sh", "-c", "exit 3"}}

	proc, err := r.Start(context.Background(), stage)
	require.NoError(t, err)
	assert.Equal(t, pipeline.OutcomeFailed, proc.Wait())
}

func TestProcessRunner_EmptyCommand(t *testing.T) {
	r := &ProcessRunner{LogDir: t.TempDir()}

	_, err := r.Start(context.Background(), &pipeline.Stage{Ordinal: 0})
	assert.ErrorContains(t, err, "empty command")
}

func TestProcessRunner_MissingBinary(t *testing.T) {
	r := &ProcessRunner{LogDir: t.TempDir()}
	stage := &pipeline.Stage{Ordinal: 0, Command: []string{"/no/such/binary"}}

	_, err := r.Start(context.Background(), stage)
	assert.Error(t, err)
}

func TestProcess_TerminateStopsLongCommand(t *testing.T) {
	r := &ProcessRunner{LogDir: t.TempDir()}
	stage := &pipeline.Stage{Ordinal: 0, Command: []string{"sleep", "60"}}

	proc, err := r.Start(context.Background(), stage)
	require.NoError(t, err)

	done := make(chan pipeline.Outcome, 1)
	go func() { done <- proc.Wait() }()

	proc.Terminate(2 * time.Second)

	select {
	case outcome := <-done:
		assert.Equal(t, pipeline.OutcomeFailed, outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("terminated process did not exit")
	}
}
