package executor

import (
	"context"
	"time"

	pipeline "github.com/gdevenyi/pydpiper"
)

// Process is a handle on one spawned stage command. The executor records the
// process id so it can forcibly terminate the child on every exit path.
type Process interface {
	// PID returns the operating-system process id.
	PID() int

	// Wait blocks until the process exits and returns the outcome
	// (succeeded on exit status zero, failed otherwise, including kills).
	// Wait must be called exactly once.
	Wait() pipeline.Outcome

	// Terminate asks the process to stop and escalates to a hard kill after
	// the grace period. Best-effort; it does not block past the grace.
	Terminate(grace time.Duration)
}

// Runner spawns stage commands as child processes.
// This interface allows for mock implementations in tests.
type Runner interface {
	Start(ctx context.Context, stage *pipeline.Stage) (Process, error)
}
