// Package coordinator implements the single authority over one pipeline run:
// it owns the stage graph and the worker table, hands out runnable stages,
// applies the retry policy, supervises worker liveness, and appends to the
// completion ledger. All mutation happens under one mutex, so concurrent
// pulls can never receive the same stage.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/graph"
	"github.com/gdevenyi/pydpiper/launch"
	"github.com/gdevenyi/pydpiper/ledger"
	"github.com/gdevenyi/pydpiper/metrics"
	"github.com/gdevenyi/pydpiper/transport"
)

// RunState is the coordinator's phase within one run.
type RunState string

const (
	// StateInitializing covers ledger load and graph seeding.
	StateInitializing RunState = "initializing"

	// StateDispatching is the main phase: workers pull and report.
	StateDispatching RunState = "dispatching"

	// StateDraining stops new assignments and signals workers to shut down.
	StateDraining RunState = "draining"

	// StateFinished means the summary is final and the run is over.
	StateFinished RunState = "finished"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// Graph is the validated stage graph to execute (required).
	Graph *graph.Graph

	// Ledger is the durable completion ledger (required).
	Ledger ledger.Ledger

	// Launcher requests additional workers from the cluster (optional).
	// Without one the pool never grows beyond what registers on its own.
	Launcher launch.Launcher

	// TargetWorkers is the pool size the coordinator tries to reach
	// opportunistically. Dispatch starts regardless of how many have
	// registered. Zero disables launching.
	TargetWorkers int

	// WorkerCapacity is the capacity requested for launched workers
	// (default: 1 slot, 6 GB).
	WorkerCapacity pipeline.Capacity

	// MaxFailedWorkers is how many dead workers may be replaced before the
	// coordinator stops relaunching (default: 2).
	MaxFailedWorkers int

	// RetryLimit is the number of retries after a stage's first failure
	// (default: 2, i.e. 3 attempts total). Negative means no retries.
	RetryLimit int

	// HeartbeatTimeout is the silence after which a worker is declared dead
	// (default: 30s).
	HeartbeatTimeout time.Duration

	// CheckInterval is how often liveness is scanned (default: 5s).
	CheckInterval time.Duration

	// LaunchGrace is how long a requested worker launch counts toward the
	// pool before it is presumed lost and its slot re-requested. Batch
	// queues can hold submissions for a while before the worker registers
	// (default: 2m).
	LaunchGrace time.Duration

	// DrainGrace bounds the wait for shutdown acknowledgements (default: 20s).
	DrainGrace time.Duration

	// DisableHeartbeatMonitor turns off dead-worker detection. A crashed
	// worker will then hang the run; useful only for debugging.
	DisableHeartbeatMonitor bool

	// Logger is for observability (optional).
	Logger pipeline.Logger

	// Metrics is an optional metrics collector.
	Metrics *metrics.Collector
}

type workerRecord struct {
	info     pipeline.WorkerInfo
	assigned map[int]bool
	drain    bool // targeted shutdown request
}

// Coordinator drives one pipeline run. It satisfies transport.Client, so a
// worker in the same process can talk to it directly while remote workers go
// through a wire transport serving the same instance.
type Coordinator struct {
	cfg Config

	mu          sync.Mutex
	state       RunState
	graph       *graph.Graph
	workers     map[string]*workerRecord
	deadWorkers int // counted toward the relaunch budget

	// pendingLaunches holds one expiry per requested worker that has not
	// registered yet, so repeated supervision ticks do not re-request the
	// same deficit.
	pendingLaunches []time.Time

	completeCh   chan struct{}
	completeOnce sync.Once
	startedAt    map[int]time.Time // assignment start per ordinal, for duration metrics
}

// Compile-time check that Coordinator implements the RPC surface.
var _ transport.Client = (*Coordinator)(nil)

// New creates a Coordinator with defaults applied for zero-valued settings.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("coordinator: Graph is required")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("coordinator: Ledger is required")
	}
	if cfg.WorkerCapacity.Slots == 0 {
		cfg.WorkerCapacity.Slots = 1
	}
	if cfg.WorkerCapacity.MemoryGB == 0 {
		cfg.WorkerCapacity.MemoryGB = 6
	}
	if cfg.MaxFailedWorkers == 0 {
		cfg.MaxFailedWorkers = 2
	}
	if cfg.RetryLimit == 0 {
		cfg.RetryLimit = 2
	}
	if cfg.RetryLimit < 0 {
		cfg.RetryLimit = 0
	}
	if cfg.HeartbeatTimeout == 0 {
		cfg.HeartbeatTimeout = 30 * time.Second
	}
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 5 * time.Second
	}
	if cfg.LaunchGrace == 0 {
		cfg.LaunchGrace = 2 * time.Minute
	}
	if cfg.DrainGrace == 0 {
		cfg.DrainGrace = 20 * time.Second
	}

	return &Coordinator{
		cfg:        cfg,
		state:      StateInitializing,
		graph:      cfg.Graph,
		workers:    make(map[string]*workerRecord),
		completeCh: make(chan struct{}),
		startedAt:  make(map[int]time.Time),
	}, nil
}

// State returns the coordinator's current run state.
func (c *Coordinator) State() RunState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress returns completed and total stage counts.
func (c *Coordinator) Progress() (done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.graph.Progress()
}

// Workers returns a snapshot of the worker table.
func (c *Coordinator) Workers() []pipeline.WorkerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]pipeline.WorkerInfo, 0, len(c.workers))
	for _, w := range c.workers {
		info := w.info
		info.Assigned = make([]int, 0, len(w.assigned))
		for ord := range w.assigned {
			info.Assigned = append(info.Assigned, ord)
		}
		out = append(out, info)
	}
	return out
}

// Run executes the pipeline: seed from the ledger, dispatch until the graph
// is complete or ctx is cancelled, drain workers, and return the summary.
// A run containing permanently failed stages still returns a summary and a
// nil error; Summary.OK distinguishes the two.
func (c *Coordinator) Run(ctx context.Context) (pipeline.Summary, error) {
	prior, err := c.cfg.Ledger.Load(ctx)
	if err != nil {
		return pipeline.Summary{}, fmt.Errorf("loading completion ledger: %w", err)
	}

	c.mu.Lock()
	seeded := c.graph.Seed(prior)
	c.state = StateDispatching
	complete := c.graph.IsComplete()
	done, total := c.graph.Progress()
	c.mu.Unlock()

	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(ctx, "dispatch starting", "stages", total, "seededFromLedger", seeded)
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.AddStagesSkipped(seeded)
	}

	if complete {
		c.signalComplete()
	} else {
		c.growPool(ctx)
		c.dispatchLoop(ctx)
	}

	c.drain(ctx)

	c.mu.Lock()
	c.state = StateFinished
	summary := c.graph.Summary()
	done, total = c.graph.Progress()
	c.mu.Unlock()

	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(ctx, "run finished",
			"completed", done, "total", total,
			"succeeded", summary.Succeeded,
			"skipped", summary.SkippedFromLedger,
			"retried", summary.Retried,
			"permanentlyFailed", summary.PermanentlyFailed,
			"unreachable", summary.Unreachable)
	}
	return summary, nil
}

// dispatchLoop blocks until the graph completes or ctx is cancelled,
// running heartbeat supervision on each tick.
func (c *Coordinator) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if c.cfg.Logger != nil {
				c.cfg.Logger.Warn(ctx, "interrupt received, draining early")
			}
			return
		case <-c.completeCh:
			return
		case <-ticker.C:
			c.supervise(ctx)
		}
	}
}

// supervise is the periodic self-check: declare silent workers dead, fail
// the stages they held, and top up the pool.
func (c *Coordinator) supervise(ctx context.Context) {
	c.mu.Lock()
	if !c.cfg.DisableHeartbeatMonitor {
		now := time.Now()
		for _, w := range c.workers {
			if w.info.State == pipeline.WorkerDead {
				continue
			}
			if now.Sub(w.info.LastHeartbeat) > c.cfg.HeartbeatTimeout {
				if c.cfg.Logger != nil {
					c.cfg.Logger.Warn(ctx, "worker missed heartbeat window, marking dead",
						"workerID", w.info.ID,
						"lastHeartbeat", w.info.LastHeartbeat,
						"silence", now.Sub(w.info.LastHeartbeat))
				}
				c.markDeadLocked(ctx, w, true)
			}
		}
	}
	done, total := c.graph.Progress()
	c.updateGaugesLocked()
	c.mu.Unlock()

	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(ctx, "progress", "completed", done, "total", total)
	}
	c.growPool(ctx)
}

// growPool asks the launcher for enough workers to reach the target size,
// unless the relaunch budget is exhausted. Launches already requested count
// toward the pool until they register or their grace expires, so a slow
// queue does not get the same deficit submitted on every tick.
func (c *Coordinator) growPool(ctx context.Context) {
	if c.cfg.Launcher == nil || c.cfg.TargetWorkers <= 0 {
		return
	}

	c.mu.Lock()
	if c.state != StateDispatching || c.deadWorkers > c.cfg.MaxFailedWorkers {
		c.mu.Unlock()
		return
	}
	c.expirePendingLocked(time.Now())
	deficit := c.cfg.TargetWorkers - c.liveWorkersLocked() - len(c.pendingLaunches)
	if deficit <= 0 {
		c.mu.Unlock()
		return
	}
	expiry := time.Now().Add(c.cfg.LaunchGrace)
	for i := 0; i < deficit; i++ {
		c.pendingLaunches = append(c.pendingLaunches, expiry)
	}
	c.mu.Unlock()

	if err := c.cfg.Launcher.Launch(ctx, deficit, c.cfg.WorkerCapacity); err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Error(ctx, "worker launch failed", "requested", deficit, "error", err)
		}
		c.mu.Lock()
		c.dropPendingLocked(deficit)
		c.mu.Unlock()
	}
}

func (c *Coordinator) expirePendingLocked(now time.Time) {
	keep := c.pendingLaunches[:0]
	for _, expiry := range c.pendingLaunches {
		if expiry.After(now) {
			keep = append(keep, expiry)
		}
	}
	c.pendingLaunches = keep
}

func (c *Coordinator) dropPendingLocked(n int) {
	if n > len(c.pendingLaunches) {
		n = len(c.pendingLaunches)
	}
	c.pendingLaunches = c.pendingLaunches[:len(c.pendingLaunches)-n]
}

// drain transitions to Draining, signals shutdown through pulls and
// heartbeat acks, and waits (bounded) for workers to unregister.
func (c *Coordinator) drain(ctx context.Context) {
	c.mu.Lock()
	if c.state == StateFinished {
		c.mu.Unlock()
		return
	}
	c.state = StateDraining
	live := c.liveWorkersLocked()
	c.mu.Unlock()

	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(ctx, "draining", "liveWorkers", live)
	}
	if live == 0 {
		return
	}

	deadline := time.Now().Add(c.cfg.DrainGrace)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		live = c.liveWorkersLocked()
		c.mu.Unlock()
		if live == 0 {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	if c.cfg.Logger != nil {
		c.cfg.Logger.Warn(ctx, "drain grace expired with workers still connected", "liveWorkers", live)
	}
}

// RequestShutdown tells one worker to stop accepting work and shut down once
// its in-flight stages finish. Delivery happens on the worker's next
// heartbeat or pull.
func (c *Coordinator) RequestShutdown(workerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[workerID]
	if !ok || w.info.State == pipeline.WorkerDead {
		return pipeline.ErrUnknownWorker
	}
	w.drain = true
	w.info.State = pipeline.WorkerDraining
	return nil
}

func (c *Coordinator) signalComplete() {
	c.completeOnce.Do(func() { close(c.completeCh) })
}

func (c *Coordinator) liveWorkersLocked() int {
	n := 0
	for _, w := range c.workers {
		if w.info.State != pipeline.WorkerDead {
			n++
		}
	}
	return n
}

// markDeadLocked declares a worker dead and treats every stage it held as a
// transient failure, charged against each stage's retry budget.
func (c *Coordinator) markDeadLocked(ctx context.Context, w *workerRecord, countFailure bool) {
	if w.info.State == pipeline.WorkerDead {
		return
	}
	w.info.State = pipeline.WorkerDead
	if countFailure {
		c.deadWorkers++
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.IncWorkersLost()
		}
	}

	for ordinal := range w.assigned {
		delete(w.assigned, ordinal)
		c.failStageLocked(ctx, ordinal)
	}
	c.checkCompleteLocked()
}

// failStageLocked applies the retry policy to one failed attempt.
func (c *Coordinator) failStageLocked(ctx context.Context, ordinal int) {
	delete(c.startedAt, ordinal)
	attempts, err := c.graph.MarkFailed(ordinal)
	if err != nil {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Error(ctx, "failure report for stage in unexpected status", "stage", ordinal, "error", err)
		}
		return
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.IncStagesFailed()
	}

	if attempts <= c.cfg.RetryLimit {
		if c.cfg.Logger != nil {
			c.cfg.Logger.Info(ctx, "requeueing failed stage", "stage", ordinal, "attempts", attempts)
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.IncStageRetries()
		}
		if err := c.graph.Requeue(ordinal); err != nil && c.cfg.Logger != nil {
			c.cfg.Logger.Error(ctx, "requeue rejected", "stage", ordinal, "error", err)
		}
		return
	}

	if c.cfg.Logger != nil {
		c.cfg.Logger.Error(ctx, "stage permanently failed", "stage", ordinal, "attempts", attempts)
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.IncStagesPermanentlyFailed()
	}
	if err := c.graph.MarkPermanentlyFailed(ordinal); err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Error(ctx, "permanent-failure transition rejected", "stage", ordinal, "error", err)
	}
}

func (c *Coordinator) checkCompleteLocked() {
	if c.graph.IsComplete() {
		c.signalComplete()
	}
}

func (c *Coordinator) updateGaugesLocked() {
	if c.cfg.Metrics == nil {
		return
	}
	c.cfg.Metrics.SetActiveWorkers(c.liveWorkersLocked())
	c.cfg.Metrics.SetRunnableStages(len(c.graph.Runnable()))
}

// Register implements the worker-facing RPC surface. It adds a worker record
// in Active state and returns the assigned worker id.
func (c *Coordinator) Register(ctx context.Context, capacity pipeline.Capacity) (string, error) {
	if capacity.Slots <= 0 {
		capacity.Slots = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDraining || c.state == StateFinished {
		return "", pipeline.ErrNotDispatching
	}

	// A registration fulfils the oldest outstanding launch request, if any.
	if len(c.pendingLaunches) > 0 {
		c.pendingLaunches = c.pendingLaunches[1:]
	}

	id := uuid.New().String()
	now := time.Now()
	c.workers[id] = &workerRecord{
		info: pipeline.WorkerInfo{
			ID:            id,
			Capacity:      capacity,
			State:         pipeline.WorkerActive,
			LastHeartbeat: now,
			RegisteredAt:  now,
		},
		assigned: make(map[int]bool),
	}

	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(ctx, "worker registered", "workerID", id, "slots", capacity.Slots, "memGB", capacity.MemoryGB)
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.IncWorkersRegistered()
	}
	c.updateGaugesLocked()
	return id, nil
}

// Heartbeat records worker liveness and confirms which assigned stages are
// actually running. The ack tells the worker whether to drain.
func (c *Coordinator) Heartbeat(ctx context.Context, workerID string, running []int) (pipeline.HeartbeatAck, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[workerID]
	if !ok || w.info.State == pipeline.WorkerDead {
		return pipeline.HeartbeatAck{}, pipeline.ErrUnknownWorker
	}
	w.info.LastHeartbeat = time.Now()

	for _, ordinal := range running {
		if w.assigned[ordinal] {
			c.graph.MarkRunning(ordinal)
		}
	}

	return pipeline.HeartbeatAck{Drain: c.state == StateDraining || w.drain}, nil
}

// Pull atomically selects the lowest-ordinal runnable stage fitting the
// worker's free capacity and assigns it. Returns PullWait when nothing fits
// and PullShutdown once the run is draining (or the worker was told to).
func (c *Coordinator) Pull(ctx context.Context, workerID string, free pipeline.Capacity) (pipeline.Assignment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[workerID]
	if !ok || w.info.State == pipeline.WorkerDead {
		return pipeline.Assignment{}, pipeline.ErrUnknownWorker
	}
	w.info.LastHeartbeat = time.Now()

	if c.state == StateDraining || c.state == StateFinished || w.drain {
		return pipeline.Assignment{Command: pipeline.PullShutdown}, nil
	}
	if c.state != StateDispatching {
		return pipeline.Assignment{}, pipeline.ErrNotDispatching
	}

	ordinal, ok := c.graph.NextRunnable(free)
	if !ok {
		return pipeline.Assignment{Command: pipeline.PullWait}, nil
	}

	if err := c.graph.Assign(ordinal, workerID); err != nil {
		return pipeline.Assignment{}, err
	}
	w.assigned[ordinal] = true
	c.startedAt[ordinal] = time.Now()

	stage, err := c.graph.Stage(ordinal)
	if err != nil {
		return pipeline.Assignment{}, err
	}

	if c.cfg.Logger != nil {
		c.cfg.Logger.Debug(ctx, "stage assigned", "stage", ordinal, "workerID", workerID)
	}
	c.updateGaugesLocked()
	return pipeline.Assignment{Command: pipeline.PullRunStage, Stage: stage}, nil
}

// Report consumes a stage outcome. For a success the ledger entry is flushed
// before the graph acknowledges the completion, so a crash cannot presume an
// unrecorded stage done; for a failure the retry policy decides between
// requeue and permanent failure.
func (c *Coordinator) Report(ctx context.Context, workerID string, ordinal int, outcome pipeline.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[workerID]
	if !ok || w.info.State == pipeline.WorkerDead {
		return pipeline.ErrUnknownWorker
	}
	w.info.LastHeartbeat = time.Now()

	if !w.assigned[ordinal] {
		// Stale report: the worker was declared dead and the stage moved on.
		return fmt.Errorf("stage %d is not assigned to worker %s: %w", ordinal, workerID, pipeline.ErrStageNotFound)
	}
	delete(w.assigned, ordinal)

	if started, ok := c.startedAt[ordinal]; ok {
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ObserveStageDuration(time.Since(started))
		}
		delete(c.startedAt, ordinal)
	}

	if outcome != pipeline.OutcomeSucceeded {
		c.failStageLocked(ctx, ordinal)
		c.checkCompleteLocked()
		c.updateGaugesLocked()
		return nil
	}

	stage, err := c.graph.Stage(ordinal)
	if err != nil {
		return err
	}

	// Durability barrier: the ledger write precedes the graph transition.
	entry := pipeline.LedgerEntry{
		Fingerprint: stage.Fingerprint,
		Outcome:     pipeline.OutcomeSucceeded,
		Timestamp:   time.Now(),
	}
	if err := c.cfg.Ledger.Record(ctx, entry); err != nil {
		// The stage stays assigned; the worker retries the report, and a
		// worker-death fallback recomputes it. Never acknowledged unrecorded.
		w.assigned[ordinal] = true
		return fmt.Errorf("recording completion of stage %d: %w", ordinal, err)
	}

	newlyRunnable, err := c.graph.MarkSucceeded(ordinal)
	if err != nil {
		return err
	}

	if c.cfg.Logger != nil {
		done, total := c.graph.Progress()
		c.cfg.Logger.Info(ctx, "stage succeeded", "stage", ordinal, "workerID", workerID,
			"completed", done, "total", total, "nowRunnable", len(newlyRunnable))
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.IncStagesSucceeded()
	}

	c.checkCompleteLocked()
	c.updateGaugesLocked()
	return nil
}

// Unregister removes a worker on clean shutdown. Any stage it still held is
// treated as a transient failure, but a clean exit does not count toward the
// relaunch budget.
func (c *Coordinator) Unregister(ctx context.Context, workerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	w, ok := c.workers[workerID]
	if !ok {
		return pipeline.ErrUnknownWorker
	}
	if c.cfg.Logger != nil {
		c.cfg.Logger.Info(ctx, "worker unregistered", "workerID", workerID)
	}
	c.markDeadLocked(ctx, w, false)
	c.updateGaugesLocked()
	return nil
}
