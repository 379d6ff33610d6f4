// Package launch defines the collaborator that places new worker processes
// on infrastructure. The coordinator only asks for "n more workers with
// capacity c"; queue submission mechanics (SGE, PBS, Slurm wrappers) live
// behind this interface and are supplied per deployment.
package launch

import (
	"context"

	pipeline "github.com/gdevenyi/pydpiper"
)

// Launcher starts worker processes that will register with the coordinator.
type Launcher interface {
	// Launch requests n additional workers with the given capacity. It
	// returns once the launch has been submitted; registration arrives later
	// through the transport, if at all. Launch failures are not fatal to the
	// run, only to pool growth.
	Launch(ctx context.Context, n int, capacity pipeline.Capacity) error
}
