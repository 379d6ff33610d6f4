package pipeline

import "errors"

var (
	// ErrUnknownWorker indicates the worker id is not registered with the
	// coordinator, or was already marked dead. A worker receiving this from
	// a heartbeat or pull should shut itself down.
	ErrUnknownWorker = errors.New("unknown worker")

	// ErrStageNotFound indicates the stage ordinal does not exist in the graph.
	ErrStageNotFound = errors.New("stage not found")

	// ErrNotDispatching indicates the coordinator is not accepting the call
	// in its current run state (for example, a pull before Run has started).
	ErrNotDispatching = errors.New("coordinator is not dispatching")

	// ErrGraphCycle indicates the stage graph contains a dependency cycle.
	// Fatal at construction time; no execution begins.
	ErrGraphCycle = errors.New("stage graph contains a cycle")

	// ErrDanglingDependency indicates a stage depends on an ordinal that is
	// not part of the graph. Fatal at construction time.
	ErrDanglingDependency = errors.New("stage depends on unknown stage")

	// ErrServerUnreachable indicates the worker lost contact with the
	// coordinator for longer than its grace period.
	ErrServerUnreachable = errors.New("coordinator unreachable")
)
