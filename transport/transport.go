// Package transport defines the RPC boundary between workers and the
// coordinator. The operation contracts live here; the wire protocol is an
// implementation detail of the concrete transport. httprpc provides a
// JSON-over-HTTP transport; for single-process runs and tests the
// coordinator itself satisfies Client, so no wire transport is needed.
package transport

import (
	"context"

	pipeline "github.com/gdevenyi/pydpiper"
)

// Client is a worker's connection to the coordinator.
//
// All calls block only on the network round-trip, never on stage execution.
// The coordinator's shutdown instruction travels back on this same surface:
// Pull may return PullShutdown and HeartbeatAck may carry Drain, so a worker
// learns it should stop without a reverse connection.
type Client interface {
	// Register announces a new worker and its capacity. Returns the
	// coordinator-assigned worker id.
	Register(ctx context.Context, capacity pipeline.Capacity) (string, error)

	// Heartbeat reports liveness and the ordinals currently running on the
	// worker. Returns pipeline.ErrUnknownWorker if the coordinator no longer
	// recognizes the worker, in which case the worker should shut down.
	Heartbeat(ctx context.Context, workerID string, running []int) (pipeline.HeartbeatAck, error)

	// Pull asks for one runnable stage that fits the worker's free capacity.
	Pull(ctx context.Context, workerID string, free pipeline.Capacity) (pipeline.Assignment, error)

	// Report delivers the outcome of one stage attempt. A successful return
	// means the coordinator has durably recorded the result.
	Report(ctx context.Context, workerID string, ordinal int, outcome pipeline.Outcome) error

	// Unregister removes the worker on clean shutdown. It doubles as the
	// shutdown acknowledgement while the coordinator drains.
	Unregister(ctx context.Context, workerID string) error
}
