package httprpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/transport"
)

// startPair serves the given mock over a real listener and returns a client
// dialing it.
func startPair(t *testing.T, svc transport.Client) *Client {
	t.Helper()
	srv, err := NewServer(svc, "127.0.0.1:0")
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() {
		require.NoError(t, srv.Shutdown(context.Background()))
	})
	return NewClient(srv.Addr())
}

func TestRoundTrip_Register(t *testing.T) {
	mock := transport.NewMockClient()
	mock.RegisterFunc = func(ctx context.Context, capacity pipeline.Capacity) (string, error) {
		assert.Equal(t, pipeline.Capacity{Slots: 2, MemoryGB: 12}, capacity)
		return "worker-1", nil
	}
	client := startPair(t, mock)

	id, err := client.Register(context.Background(), pipeline.Capacity{Slots: 2, MemoryGB: 12})
	require.NoError(t, err)
	assert.Equal(t, "worker-1", id)
}

func TestRoundTrip_Heartbeat(t *testing.T) {
	mock := transport.NewMockClient()
	mock.HeartbeatFunc = func(ctx context.Context, workerID string, running []int) (pipeline.HeartbeatAck, error) {
		assert.Equal(t, "worker-1", workerID)
		assert.Equal(t, []int{4, 9}, running)
		return pipeline.HeartbeatAck{Drain: true}, nil
	}
	client := startPair(t, mock)

	ack, err := client.Heartbeat(context.Background(), "worker-1", []int{4, 9})
	require.NoError(t, err)
	assert.True(t, ack.Drain)
}

func TestRoundTrip_PullRunStage(t *testing.T) {
	stage := &pipeline.Stage{
		Ordinal: 3,
		Command: []string{"mincblur", "-fwhm", "2", "in.mnc"},
		Hints:   pipeline.ResourceHints{MemoryGB: 4, Slots: 2},
		LogPath: "/logs/stage-3.log",
	}
	mock := transport.NewMockClient()
	mock.PullFunc = func(ctx context.Context, workerID string, free pipeline.Capacity) (pipeline.Assignment, error) {
		assert.Equal(t, pipeline.Capacity{Slots: 2, MemoryGB: 8}, free)
		return pipeline.Assignment{Command: pipeline.PullRunStage, Stage: stage}, nil
	}
	client := startPair(t, mock)

	a, err := client.Pull(context.Background(), "worker-1", pipeline.Capacity{Slots: 2, MemoryGB: 8})
	require.NoError(t, err)
	require.Equal(t, pipeline.PullRunStage, a.Command)
	require.NotNil(t, a.Stage)

	// The wire carries what the worker needs to execute and account for the
	// stage; graph structure stays behind.
	assert.Equal(t, 3, a.Stage.Ordinal)
	assert.Equal(t, stage.Command, a.Stage.Command)
	assert.Equal(t, 4.0, a.Stage.Hints.MemoryGB)
	assert.Equal(t, 2, a.Stage.Hints.Slots)
	assert.Equal(t, "/logs/stage-3.log", a.Stage.LogPath)
}

func TestRoundTrip_PullWaitHasNoStage(t *testing.T) {
	client := startPair(t, transport.NewMockClient())

	a, err := client.Pull(context.Background(), "worker-1", pipeline.Capacity{Slots: 1, MemoryGB: 8})
	require.NoError(t, err)
	assert.Equal(t, pipeline.PullWait, a.Command)
	assert.Nil(t, a.Stage)
}

func TestRoundTrip_Report(t *testing.T) {
	mock := transport.NewMockClient()
	client := startPair(t, mock)

	require.NoError(t, client.Report(context.Background(), "worker-1", 5, pipeline.OutcomeFailed))

	require.Len(t, mock.ReportCalls, 1)
	assert.Equal(t, transport.ReportCall{WorkerID: "worker-1", Ordinal: 5, Outcome: pipeline.OutcomeFailed}, mock.ReportCalls[0])
}

func TestRoundTrip_Unregister(t *testing.T) {
	mock := transport.NewMockClient()
	client := startPair(t, mock)

	require.NoError(t, client.Unregister(context.Background(), "worker-1"))
	assert.Equal(t, []string{"worker-1"}, mock.UnregisterCalls)
}

func TestRoundTrip_SentinelErrorsSurvive(t *testing.T) {
	mock := transport.NewMockClient()
	mock.HeartbeatFunc = func(ctx context.Context, workerID string, running []int) (pipeline.HeartbeatAck, error) {
		return pipeline.HeartbeatAck{}, pipeline.ErrUnknownWorker
	}
	mock.RegisterFunc = func(ctx context.Context, capacity pipeline.Capacity) (string, error) {
		return "", pipeline.ErrNotDispatching
	}
	mock.ReportFunc = func(ctx context.Context, workerID string, ordinal int, outcome pipeline.Outcome) error {
		return pipeline.ErrStageNotFound
	}
	client := startPair(t, mock)
	ctx := context.Background()

	_, err := client.Heartbeat(ctx, "w", nil)
	assert.ErrorIs(t, err, pipeline.ErrUnknownWorker)

	_, err = client.Register(ctx, pipeline.Capacity{Slots: 1})
	assert.ErrorIs(t, err, pipeline.ErrNotDispatching)

	err = client.Report(ctx, "w", 0, pipeline.OutcomeSucceeded)
	assert.ErrorIs(t, err, pipeline.ErrStageNotFound)
}

func TestRoundTrip_OpaqueErrorKeepsMessage(t *testing.T) {
	mock := transport.NewMockClient()
	mock.RegisterFunc = func(ctx context.Context, capacity pipeline.Capacity) (string, error) {
		return "", errors.New("ledger unavailable")
	}
	client := startPair(t, mock)

	_, err := client.Register(context.Background(), pipeline.Capacity{Slots: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledger unavailable")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewClient("127.0.0.1:1") // nothing listens here

	_, err := client.Register(context.Background(), pipeline.Capacity{Slots: 1})
	assert.Error(t, err)
}

func TestNewClient_AcceptsURLsAndHostPorts(t *testing.T) {
	assert.Equal(t, "http://coordinator:8034", NewClient("coordinator:8034").baseURL)
	assert.Equal(t, "http://coordinator:8034", NewClient("http://coordinator:8034").baseURL)
	assert.Equal(t, "https://coordinator:8034", NewClient("https://coordinator:8034").baseURL)
}
