// Package executor implements the worker process: it registers with the
// coordinator, pulls runnable stages, runs their commands as child
// processes, reports outcomes, and manages its own idle, drain and shutdown
// lifecycle. Stage commands are the only truly parallel compute; the
// executor's own loop is event driven.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/lifecycle"
	"github.com/gdevenyi/pydpiper/transport"
)

// State is the executor's local lifecycle state.
type State string

const (
	// StateIdle means no stage is running; the executor polls for work.
	StateIdle State = "idle"

	// StateRunning means at least one child process is executing a stage.
	StateRunning State = "running"

	// StateDraining means no new work is accepted; in-flight stages finish.
	StateDraining State = "draining"

	// StateShuttingDown means the executor is exiting; children are killed.
	StateShuttingDown State = "shutting_down"
)

const (
	// DefaultPollInterval is the default wait between work requests.
	DefaultPollInterval = 5 * time.Second

	// DefaultHeartbeatInterval is the default time between heartbeats.
	DefaultHeartbeatInterval = 10 * time.Second

	// DefaultIdleTimeout is how long an executor sits idle before
	// terminating itself to stop hogging cluster resources.
	DefaultIdleTimeout = time.Minute

	// DefaultKillGrace is the default SIGTERM-to-SIGKILL escalation window.
	DefaultKillGrace = 5 * time.Second

	// DefaultContactGrace is how long coordinator silence is tolerated
	// before the executor assumes the run is gone and exits.
	DefaultContactGrace = 30 * time.Second
)

// errCoordinatorShutdown signals that a pull returned PullShutdown.
var errCoordinatorShutdown = errors.New("coordinator requested shutdown")

// Config configures an Executor.
type Config struct {
	// Client is the connection to the coordinator (required).
	Client transport.Client

	// Runner spawns stage commands (default: ProcessRunner over LogDir).
	Runner Runner

	// Capacity is the declared capacity (default: 1 slot, 6 GB).
	Capacity pipeline.Capacity

	// LogDir receives per-stage log files for the default runner.
	LogDir string

	// PollInterval is the wait between work requests while idle.
	PollInterval time.Duration

	// HeartbeatInterval is the time between liveness reports. Heartbeats are
	// independent of work activity: they continue through long stages.
	HeartbeatInterval time.Duration

	// IdleTimeout shuts the executor down after continuous idleness with no
	// work offered. Negative disables.
	IdleTimeout time.Duration

	// MaxLifetime drains the executor after a fixed time since startup, for
	// batch queues with walltime limits. Draining lets the current stages
	// finish; it never aborts in-flight work. Zero means unlimited.
	MaxLifetime time.Duration

	// KillGrace is the SIGTERM-to-SIGKILL window for forced termination.
	KillGrace time.Duration

	// ContactGrace bounds how long coordinator unreachability is tolerated.
	ContactGrace time.Duration

	// Logger is for observability (optional).
	Logger pipeline.Logger
}

type result struct {
	ordinal int
	outcome pipeline.Outcome
	hints   pipeline.ResourceHints
}

// Executor is one worker process. Create with New, drive with Run.
type Executor struct {
	cfg Config

	mu        sync.Mutex
	id        string
	state     State
	children  map[int]Process
	hints     map[int]pipeline.ResourceHints
	freeSlots int
	freeMem   float64
	idleSince time.Time
	drain     bool

	wake    chan struct{}
	results chan result
}

// New creates an Executor with defaults applied for zero-valued settings.
func New(cfg Config) (*Executor, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("executor: Client is required")
	}
	if cfg.Capacity.Slots == 0 {
		cfg.Capacity.Slots = 1
	}
	if cfg.Capacity.MemoryGB == 0 {
		cfg.Capacity.MemoryGB = 6
	}
	if cfg.Runner == nil {
		cfg.Runner = &ProcessRunner{LogDir: cfg.LogDir, Logger: cfg.Logger}
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.KillGrace == 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	if cfg.ContactGrace == 0 {
		cfg.ContactGrace = DefaultContactGrace
	}

	return &Executor{
		cfg:      cfg,
		state:    StateIdle,
		children: make(map[int]Process),
		hints:    make(map[int]pipeline.ResourceHints),
		wake:     make(chan struct{}, 1),
		results:  make(chan result, cfg.Capacity.Slots),
	}, nil
}

// State returns the executor's current lifecycle state.
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// WorkerID returns the coordinator-assigned id, or "" before registration.
func (e *Executor) WorkerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

// ChildPIDs returns the process ids of all running stage commands.
func (e *Executor) ChildPIDs() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	pids := make([]int, 0, len(e.children))
	for _, p := range e.children {
		pids = append(pids, p.PID())
	}
	return pids
}

// RequestShutdown makes the executor exit, forcibly terminating any running
// children. Used by signal handlers for local interrupts.
func (e *Executor) RequestShutdown() {
	e.mu.Lock()
	e.state = StateShuttingDown
	e.mu.Unlock()
	e.wakeUp()
}

// RequestDrain makes the executor stop pulling new work and exit once the
// current stages finish.
func (e *Executor) RequestDrain() {
	e.setDrain()
}

// Run registers, heartbeats, and executes stages until the coordinator sends
// shutdown, a timeout fires, or ctx is cancelled (returning ctx.Err()).
// Every exit path kills remaining children and attempts to unregister.
func (e *Executor) Run(ctx context.Context) error {
	manager := lifecycle.New(lifecycle.Config{
		Client:            e.cfg.Client,
		HeartbeatInterval: e.cfg.HeartbeatInterval,
		ContactGrace:      e.cfg.ContactGrace,
		Running:           e.runningOrdinals,
		OnDrain:           e.setDrain,
		Logger:            e.cfg.Logger,
	})

	id, err := manager.Register(ctx, e.cfg.Capacity)
	if err != nil {
		return fmt.Errorf("registering with coordinator: %w", err)
	}

	e.mu.Lock()
	e.id = id
	e.freeSlots = e.cfg.Capacity.Slots
	e.freeMem = e.cfg.Capacity.MemoryGB
	e.idleSince = time.Now()
	e.mu.Unlock()

	if e.cfg.Logger != nil {
		e.cfg.Logger.Info(ctx, "registered with coordinator", "workerID", id,
			"slots", e.cfg.Capacity.Slots, "memGB", e.cfg.Capacity.MemoryGB)
	}

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	var hbDone sync.WaitGroup
	hbDone.Add(1)
	go func() {
		defer hbDone.Done()
		// Rejection or prolonged silence means the run is over or we have
		// been replaced; either way the executor must not spin.
		if err := manager.StartHeartbeat(hbCtx); err != nil {
			e.RequestShutdown()
		}
	}()

	runErr := e.mainLoop(ctx)

	// Stop heartbeating before unregistering so no beat races the removal
	// of our record on the coordinator.
	stopHeartbeat()
	hbDone.Wait()

	e.killChildren(ctx)

	unregCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Unregister(unregCtx); err != nil && e.cfg.Logger != nil {
		e.cfg.Logger.Warn(ctx, "unregister failed", "workerID", id, "error", err)
	}

	e.mu.Lock()
	e.state = StateShuttingDown
	e.mu.Unlock()

	if e.cfg.Logger != nil {
		e.cfg.Logger.Info(ctx, "executor shut down", "workerID", id)
	}
	return runErr
}

func (e *Executor) mainLoop(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	start := time.Now()
	var contactLost time.Time

	for {
		e.mu.Lock()
		state := e.state
		drain := e.drain
		busy := len(e.children) > 0
		idleSince := e.idleSince
		e.mu.Unlock()

		if state == StateShuttingDown {
			return nil
		}
		if drain && !busy {
			if e.cfg.Logger != nil {
				e.cfg.Logger.Info(ctx, "drained, exiting")
			}
			return nil
		}

		if !drain && e.cfg.MaxLifetime > 0 && time.Since(start) > e.cfg.MaxLifetime {
			if e.cfg.Logger != nil {
				e.cfg.Logger.Info(ctx, "max lifetime reached, no longer accepting work")
			}
			e.setDrain()
			continue
		}

		if !drain && !busy && e.cfg.IdleTimeout > 0 && time.Since(idleSince) > e.cfg.IdleTimeout {
			if e.cfg.Logger != nil {
				e.cfg.Logger.Warn(ctx, "idle timeout exceeded, terminating to free resources",
					"idle", time.Since(idleSince))
			}
			return nil
		}

		if !drain {
			if err := e.fill(ctx, &contactLost); err != nil {
				if errors.Is(err, errCoordinatorShutdown) {
					return nil
				}
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-e.results:
			e.handleResult(ctx, r, &contactLost)
		case <-e.wake:
		case <-ticker.C:
		}
	}
}

// fill pulls stages until capacity is exhausted or the coordinator has
// nothing runnable that fits.
func (e *Executor) fill(ctx context.Context, contactLost *time.Time) error {
	for {
		e.mu.Lock()
		free := pipeline.Capacity{Slots: e.freeSlots, MemoryGB: e.freeMem}
		drain := e.drain
		id := e.id
		e.mu.Unlock()

		if drain || free.Slots <= 0 {
			return nil
		}

		assignment, err := e.cfg.Client.Pull(ctx, id, free)
		if err != nil {
			return e.handleContactError(ctx, err, contactLost)
		}
		*contactLost = time.Time{}

		switch assignment.Command {
		case pipeline.PullShutdown:
			if e.cfg.Logger != nil {
				e.cfg.Logger.Info(ctx, "shutdown command from coordinator")
			}
			return errCoordinatorShutdown
		case pipeline.PullRunStage:
			e.startStage(ctx, assignment.Stage, contactLost)
		default:
			return nil // wait
		}
	}
}

func (e *Executor) startStage(ctx context.Context, stage *pipeline.Stage, contactLost *time.Time) {
	proc, err := e.cfg.Runner.Start(ctx, stage)
	if err != nil {
		if e.cfg.Logger != nil {
			e.cfg.Logger.Error(ctx, "failed to spawn stage", "stage", stage.Ordinal, "error", err)
		}
		e.report(ctx, stage.Ordinal, pipeline.OutcomeFailed, contactLost)
		return
	}

	e.mu.Lock()
	e.children[stage.Ordinal] = proc
	e.hints[stage.Ordinal] = stage.Hints
	e.freeSlots -= stage.Hints.EffectiveSlots()
	e.freeMem -= stage.Hints.MemoryGB
	if e.state == StateIdle {
		e.state = StateRunning
	}
	e.mu.Unlock()

	if e.cfg.Logger != nil {
		e.cfg.Logger.Info(ctx, "running stage", "stage", stage.Ordinal, "pid", proc.PID())
	}

	go func() {
		outcome := proc.Wait()
		e.results <- result{ordinal: stage.Ordinal, outcome: outcome, hints: stage.Hints}
	}()
}

// handleResult returns the stage's resources to the pool, reports the
// outcome, and resets the idle clock.
func (e *Executor) handleResult(ctx context.Context, r result, contactLost *time.Time) {
	e.mu.Lock()
	delete(e.children, r.ordinal)
	delete(e.hints, r.ordinal)
	e.freeSlots += r.hints.EffectiveSlots()
	e.freeMem += r.hints.MemoryGB
	if len(e.children) == 0 {
		if e.state == StateRunning {
			e.state = StateIdle
		}
		e.idleSince = time.Now()
	}
	e.mu.Unlock()

	if e.cfg.Logger != nil {
		e.cfg.Logger.Info(ctx, "stage finished", "stage", r.ordinal, "outcome", r.outcome)
	}
	e.report(ctx, r.ordinal, r.outcome, contactLost)
	e.wakeUp()
}

// report delivers an outcome, retrying briefly. An undeliverable success is
// safe: the coordinator's heartbeat supervision recovers the stage.
func (e *Executor) report(ctx context.Context, ordinal int, outcome pipeline.Outcome, contactLost *time.Time) {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = e.cfg.Client.Report(ctx, e.WorkerID(), ordinal, outcome)
		if err == nil {
			*contactLost = time.Time{}
			return
		}
		if errors.Is(err, pipeline.ErrUnknownWorker) || errors.Is(err, pipeline.ErrStageNotFound) {
			// The coordinator moved on without us; nothing left to deliver.
			return
		}
		if ctx.Err() != nil {
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
	if e.cfg.Logger != nil {
		e.cfg.Logger.Error(ctx, "could not report stage outcome", "stage", ordinal, "error", err)
	}
	if contactLost.IsZero() {
		*contactLost = time.Now()
	}
}

func (e *Executor) handleContactError(ctx context.Context, err error, contactLost *time.Time) error {
	if errors.Is(err, pipeline.ErrUnknownWorker) {
		if e.cfg.Logger != nil {
			e.cfg.Logger.Warn(ctx, "coordinator no longer knows this worker, exiting")
		}
		return errCoordinatorShutdown
	}
	if contactLost.IsZero() {
		*contactLost = time.Now()
	}
	if time.Since(*contactLost) > e.cfg.ContactGrace {
		if e.cfg.Logger != nil {
			e.cfg.Logger.Error(ctx, "coordinator unreachable past grace period, exiting", "error", err)
		}
		return pipeline.ErrServerUnreachable
	}
	if e.cfg.Logger != nil {
		e.cfg.Logger.Warn(ctx, "coordinator call failed, will retry", "error", err)
	}
	return nil
}

// runningOrdinals snapshots the ordinals of currently executing stages for
// inclusion in heartbeats.
func (e *Executor) runningOrdinals() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	running := make([]int, 0, len(e.children))
	for ordinal := range e.children {
		running = append(running, ordinal)
	}
	return running
}

func (e *Executor) setDrain() {
	e.mu.Lock()
	if !e.drain {
		e.drain = true
		if e.state != StateShuttingDown {
			e.state = StateDraining
		}
	}
	e.mu.Unlock()
	e.wakeUp()
}

// killChildren forcibly terminates every remaining child by its recorded
// process id. Runs on every exit path so no orphaned compute is left behind.
func (e *Executor) killChildren(ctx context.Context) {
	e.mu.Lock()
	procs := make([]Process, 0, len(e.children))
	ordinals := make([]int, 0, len(e.children))
	for ordinal, p := range e.children {
		procs = append(procs, p)
		ordinals = append(ordinals, ordinal)
	}
	e.mu.Unlock()

	if len(procs) == 0 {
		return
	}
	if e.cfg.Logger != nil {
		e.cfg.Logger.Warn(ctx, "terminating running stages", "stages", ordinals)
	}

	var wg sync.WaitGroup
	for _, p := range procs {
		wg.Add(1)
		go func(p Process) {
			defer wg.Done()
			p.Terminate(e.cfg.KillGrace)
		}(p)
	}
	wg.Wait()
}

func (e *Executor) wakeUp() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
