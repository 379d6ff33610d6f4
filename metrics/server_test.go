package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServer("127.0.0.1:0")
	require.NoError(t, err)
	server.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	})
	return server
}

func TestNewServer_BindsListener(t *testing.T) {
	server, err := NewServer("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Shutdown(context.Background())

	assert.NotEmpty(t, server.Addr())
	assert.NotEqual(t, "127.0.0.1:0", server.Addr())
}

func TestNewServer_InvalidAddress(t *testing.T) {
	_, err := NewServer("256.256.256.256:0")
	assert.Error(t, err)
}

func TestServer_StartAndShutdown(t *testing.T) {
	server, err := NewServer("127.0.0.1:0")
	require.NoError(t, err)
	addr := server.Addr()

	server.Start()
	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
	assert.NoError(t, server.Err())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))

	time.Sleep(100 * time.Millisecond)
	_, err = http.Get("http://" + addr + "/metrics")
	assert.Error(t, err)
}

func TestServer_ExposesPipelineMetrics(t *testing.T) {
	server := startServer(t)

	NewCollector("server-test-pipeline").IncStagesSucceeded()

	resp, err := http.Get("http://" + server.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "pydpiper_stages_succeeded_total")
}
