// Package lifecycle manages a worker's registration and liveness signalling
// against the coordinator, keeping the heartbeat cadence independent of
// whatever work the worker is doing.
package lifecycle

import (
	"context"
	"errors"
	"time"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/transport"
)

// Config holds configuration for the lifecycle Manager.
type Config struct {
	// Client is the connection to the coordinator (required).
	Client transport.Client

	// HeartbeatInterval is the interval between heartbeats (default: 10s).
	HeartbeatInterval time.Duration

	// ContactGrace is how long unanswered heartbeats are tolerated before
	// the worker is considered cut off (default: 30s).
	ContactGrace time.Duration

	// Running reports the stage ordinals currently executing, included in
	// each heartbeat (optional).
	Running func() []int

	// OnDrain is invoked when a heartbeat ack asks the worker to drain
	// (optional).
	OnDrain func()

	// Logger is for observability (optional).
	Logger pipeline.Logger
}

// Manager handles registration, the heartbeat loop, and deregistration for
// a single worker.
type Manager struct {
	config   Config
	workerID string
}

// New creates a lifecycle Manager, applying defaults for zero-valued
// intervals.
func New(cfg Config) *Manager {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 10 * time.Second
	}
	if cfg.ContactGrace == 0 {
		cfg.ContactGrace = 30 * time.Second
	}
	return &Manager{config: cfg}
}

// Register announces the worker and stores the assigned worker id.
func (m *Manager) Register(ctx context.Context, capacity pipeline.Capacity) (string, error) {
	id, err := m.config.Client.Register(ctx, capacity)
	if err != nil {
		return "", err
	}
	m.workerID = id
	return id, nil
}

// StartHeartbeat runs the heartbeat loop until the context is cancelled or
// contact with the coordinator is lost. It returns nil on cancellation,
// pipeline.ErrUnknownWorker if the coordinator rejects the worker, and
// pipeline.ErrServerUnreachable after ContactGrace of failed beats.
func (m *Manager) StartHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	var lostSince time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var running []int
			if m.config.Running != nil {
				running = m.config.Running()
			}

			ack, err := m.config.Client.Heartbeat(ctx, m.workerID, running)
			if err != nil {
				if errors.Is(err, pipeline.ErrUnknownWorker) {
					if m.config.Logger != nil {
						m.config.Logger.Warn(ctx, "heartbeat rejected", "workerID", m.workerID)
					}
					return pipeline.ErrUnknownWorker
				}
				if lostSince.IsZero() {
					lostSince = time.Now()
				}
				if time.Since(lostSince) > m.config.ContactGrace {
					if m.config.Logger != nil {
						m.config.Logger.Error(ctx, "heartbeats unanswered past grace period", "workerID", m.workerID, "error", err)
					}
					return pipeline.ErrServerUnreachable
				}
				if m.config.Logger != nil {
					m.config.Logger.Warn(ctx, "heartbeat failed, will retry", "workerID", m.workerID, "error", err)
				}
				continue
			}
			lostSince = time.Time{}

			if ack.Drain && m.config.OnDrain != nil {
				m.config.OnDrain()
			}
			if m.config.Logger != nil {
				m.config.Logger.Debug(ctx, "heartbeat sent", "workerID", m.workerID, "running", len(running))
			}
		}
	}
}

// Unregister removes the worker from the coordinator. Callers must stop the
// heartbeat loop first so no beat races the record's removal.
func (m *Manager) Unregister(ctx context.Context) error {
	return m.config.Client.Unregister(ctx, m.workerID)
}

// WorkerID returns the stored worker id.
func (m *Manager) WorkerID() string {
	return m.workerID
}
