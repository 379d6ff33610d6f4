package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Fingerprint is the stable identity of a stage, derived from its command and
// declared inputs. It is used for ledger matching across runs; the ordinal
// index identifies a stage within a single run.
type Fingerprint string

// ComputeFingerprint derives a stage fingerprint from the command tokens and
// declared input files. The same command over the same inputs always yields
// the same fingerprint, regardless of when or where the graph was built.
func ComputeFingerprint(command, inputs []string) Fingerprint {
	h := sha256.New()
	for _, tok := range command {
		h.Write([]byte(tok))
		h.Write([]byte{0})
	}
	h.Write([]byte{0xff})
	for _, in := range inputs {
		h.Write([]byte(in))
		h.Write([]byte{0})
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// StageStatus represents the lifecycle state of a stage within a run.
type StageStatus string

const (
	// StagePending indicates the stage is waiting on unfinished dependencies.
	StagePending StageStatus = "pending"

	// StageRunnable indicates all dependencies have succeeded and the stage
	// is waiting to be assigned to a worker.
	StageRunnable StageStatus = "runnable"

	// StageAssigned indicates the stage has been handed to a worker but the
	// worker has not yet confirmed execution started.
	StageAssigned StageStatus = "assigned"

	// StageRunning indicates a worker is executing the stage's command.
	StageRunning StageStatus = "running"

	// StageSucceeded indicates the stage's command exited zero.
	StageSucceeded StageStatus = "succeeded"

	// StageFailed indicates the most recent attempt failed. Transient: the
	// coordinator either requeues the stage or marks it permanently failed.
	StageFailed StageStatus = "failed"

	// StagePermanentlyFailed indicates the retry budget is exhausted.
	// Terminal.
	StagePermanentlyFailed StageStatus = "permanently_failed"

	// StageUnreachable indicates a transitive dependency permanently failed,
	// so the stage can never run. Terminal.
	StageUnreachable StageStatus = "unreachable"
)

// Terminal reports whether the status can never change again.
func (s StageStatus) Terminal() bool {
	return s == StageSucceeded || s == StagePermanentlyFailed || s == StageUnreachable
}

// ResourceHints carries the approximate resources a stage was declared to
// need when the graph was built. Hints are immutable once the graph is
// constructed; they are never recomputed at dispatch time.
type ResourceHints struct {
	// MemoryGB is the approximate memory the stage needs, in gigabytes.
	MemoryGB float64

	// Slots is the number of execution slots (processes) the stage occupies
	// on a worker. Zero means one.
	Slots int

	// Walltime is the expected run time, used only as a hint for placement
	// on walltime-limited queues.
	Walltime time.Duration
}

// EffectiveSlots returns the slot count with the zero-means-one default applied.
func (h ResourceHints) EffectiveSlots() int {
	if h.Slots == 0 {
		return 1
	}
	return h.Slots
}

// Stage is one unit of work: an opaque command plus its declared files and
// dependencies. The structure is immutable after graph construction; only
// the per-stage status held by the graph mutates.
type Stage struct {
	// Ordinal is the stage's index in declaration order, unique within a run.
	Ordinal int

	// Fingerprint is the stable cross-run identity used for ledger matching.
	Fingerprint Fingerprint

	// Command is the executable invocation, as argv tokens. The pipeline core
	// does not interpret it.
	Command []string

	// Inputs are the declared input files.
	Inputs []string

	// Outputs are the declared output files.
	Outputs []string

	// Deps are the ordinals of stages that must succeed before this one runs.
	Deps []int

	// Hints are the declared resource requirements.
	Hints ResourceHints

	// LogPath is where the stage's combined stdout/stderr is appended.
	// Empty means the executor picks a path under its log directory.
	LogPath string
}

// Capacity describes how much work a worker can hold at once.
type Capacity struct {
	// Slots is the number of stages the worker runs concurrently.
	Slots int `yaml:"slots" json:"slots"`

	// MemoryGB is the total memory available for stages, in gigabytes.
	MemoryGB float64 `yaml:"memory_gb" json:"memory_gb"`
}

// Fits reports whether a stage with the given hints fits in this capacity.
func (c Capacity) Fits(h ResourceHints) bool {
	return h.EffectiveSlots() <= c.Slots && h.MemoryGB <= c.MemoryGB
}

// WorkerState represents the coordinator's view of a worker's lifecycle.
type WorkerState string

const (
	// WorkerActive indicates the worker is registered and heartbeating.
	WorkerActive WorkerState = "active"

	// WorkerDraining indicates the worker was told to stop pulling new work.
	WorkerDraining WorkerState = "draining"

	// WorkerDead indicates the worker missed its heartbeat window or
	// deregistered. Terminal.
	WorkerDead WorkerState = "dead"
)

// WorkerInfo is the coordinator-owned record for a registered worker. The
// worker process keeps its own local view; this record is authoritative for
// scheduling decisions.
type WorkerInfo struct {
	// ID is the unique identifier assigned at registration.
	ID string

	// Capacity is the capacity the worker declared when registering.
	Capacity Capacity

	// State is the worker's lifecycle state.
	State WorkerState

	// LastHeartbeat is the last time the worker reported liveness.
	LastHeartbeat time.Time

	// RegisteredAt is when the worker registered.
	RegisteredAt time.Time

	// Assigned are the ordinals of stages currently held by the worker.
	Assigned []int
}

// Outcome is the tagged result of one stage attempt, reported by a worker.
type Outcome string

const (
	// OutcomeSucceeded indicates the stage command exited zero.
	OutcomeSucceeded Outcome = "succeeded"

	// OutcomeFailed indicates a nonzero exit, a spawn error, or a kill.
	OutcomeFailed Outcome = "failed"
)

// PullCommand tells a worker what to do after a pull request.
type PullCommand string

const (
	// PullRunStage instructs the worker to run the attached stage.
	PullRunStage PullCommand = "run_stage"

	// PullWait indicates no stage is runnable right now; poll again later.
	PullWait PullCommand = "wait"

	// PullShutdown instructs the worker to shut down; the run is draining.
	PullShutdown PullCommand = "shutdown"
)

// Assignment is the coordinator's response to a worker's pull request.
type Assignment struct {
	// Command says whether to run a stage, wait, or shut down.
	Command PullCommand

	// Stage is set only when Command is PullRunStage.
	Stage *Stage
}

// HeartbeatAck is the coordinator's response to a heartbeat.
type HeartbeatAck struct {
	// Drain is set when the coordinator wants the worker to stop accepting
	// new work and shut down once its in-flight stages finish.
	Drain bool
}

// LedgerEntry is one durable record of a completed stage.
type LedgerEntry struct {
	// Fingerprint identifies the stage across runs.
	Fingerprint Fingerprint `json:"fingerprint"`

	// Outcome is the recorded result.
	Outcome Outcome `json:"outcome"`

	// Timestamp is when the entry was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// Summary is the coordinator's end-of-run report.
type Summary struct {
	// Total is the number of stages in the graph.
	Total int

	// Succeeded is the number of stages that ended Succeeded, including
	// those seeded from the ledger.
	Succeeded int

	// SkippedFromLedger is the number of stages seeded Succeeded from a
	// prior run's ledger without executing.
	SkippedFromLedger int

	// Retried is the number of stages that succeeded after at least one
	// failed attempt.
	Retried int

	// PermanentlyFailed is the number of stages that exhausted their retry
	// budget.
	PermanentlyFailed int

	// Unreachable is the number of stages skipped because a transitive
	// dependency permanently failed.
	Unreachable int
}

// OK reports whether no stage was lost to permanent failure. A false return
// maps to a nonzero process exit code even though the run reached its
// finished state.
func (s Summary) OK() bool {
	return s.PermanentlyFailed == 0 && s.Unreachable == 0
}
