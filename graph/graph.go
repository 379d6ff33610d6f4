package graph

import (
	"fmt"
	"sort"

	pipeline "github.com/gdevenyi/pydpiper"
)

type node struct {
	stage      *pipeline.Stage
	status     pipeline.StageStatus
	remaining  int // dependencies not yet succeeded
	attempts   int // assignments so far, including the current one
	worker     string
	dependents []int
}

// Graph is the stage graph for one run. It is not safe for concurrent use:
// the coordinator owns it and serializes every mutation behind its own lock.
// The runnable set is maintained incrementally as statuses change; there is
// no full rescan on the hot path.
type Graph struct {
	nodes    []*node
	runnable []int // ordinals, sorted ascending

	completed   int // stages in a terminal status
	succeeded   int
	skipped     int // seeded from the ledger
	retried     int // succeeded after at least one failure
	permFailed  int
	unreachable int
}

// Len returns the number of stages in the graph.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Stage returns the stage with the given ordinal.
func (g *Graph) Stage(ordinal int) (*pipeline.Stage, error) {
	nd, err := g.node(ordinal)
	if err != nil {
		return nil, err
	}
	return nd.stage, nil
}

// Status returns the current status of a stage.
func (g *Graph) Status(ordinal int) (pipeline.StageStatus, error) {
	nd, err := g.node(ordinal)
	if err != nil {
		return "", err
	}
	return nd.status, nil
}

// Attempts returns how many times a stage has been assigned so far.
func (g *Graph) Attempts(ordinal int) (int, error) {
	nd, err := g.node(ordinal)
	if err != nil {
		return 0, err
	}
	return nd.attempts, nil
}

// AssignedWorker returns the id of the worker currently holding the stage,
// or "" if none.
func (g *Graph) AssignedWorker(ordinal int) (string, error) {
	nd, err := g.node(ordinal)
	if err != nil {
		return "", err
	}
	return nd.worker, nil
}

// Runnable returns a sorted snapshot of the ordinals currently runnable.
func (g *Graph) Runnable() []int {
	out := make([]int, len(g.runnable))
	copy(out, g.runnable)
	return out
}

// NextRunnable returns the lowest-ordinal runnable stage whose resource hints
// fit the given capacity. The second return is false when nothing fits.
// Declaration order makes the choice deterministic and reproducible.
func (g *Graph) NextRunnable(free pipeline.Capacity) (int, bool) {
	for _, ordinal := range g.runnable {
		if free.Fits(g.nodes[ordinal].stage.Hints) {
			return ordinal, true
		}
	}
	return 0, false
}

// Assign transitions a runnable stage to assigned, recording the worker and
// counting the attempt. Only runnable stages can be assigned; this is what
// keeps two concurrent pulls from receiving the same stage.
func (g *Graph) Assign(ordinal int, workerID string) error {
	nd, err := g.node(ordinal)
	if err != nil {
		return err
	}
	if nd.status != pipeline.StageRunnable {
		return fmt.Errorf("stage %d is %s, not runnable", ordinal, nd.status)
	}
	g.removeRunnable(ordinal)
	nd.status = pipeline.StageAssigned
	nd.worker = workerID
	nd.attempts++
	return nil
}

// MarkRunning transitions an assigned stage to running. Running is reachable
// only via assigned; any other current status is left untouched.
func (g *Graph) MarkRunning(ordinal int) error {
	nd, err := g.node(ordinal)
	if err != nil {
		return err
	}
	if nd.status == pipeline.StageAssigned {
		nd.status = pipeline.StageRunning
	}
	return nil
}

// MarkSucceeded transitions an assigned or running stage to succeeded,
// decrements its dependents' remaining-dependency counters, and returns the
// ordinals that became runnable as a result.
func (g *Graph) MarkSucceeded(ordinal int) ([]int, error) {
	nd, err := g.node(ordinal)
	if err != nil {
		return nil, err
	}
	if nd.status != pipeline.StageAssigned && nd.status != pipeline.StageRunning {
		return nil, fmt.Errorf("stage %d is %s, cannot succeed", ordinal, nd.status)
	}
	if nd.attempts > 1 {
		g.retried++
	}
	return g.complete(nd), nil
}

// Seed marks every pending stage whose fingerprint appears in fingerprints
// as succeeded without execution, propagating dependency counts exactly as a
// real completion would. It returns the number of stages seeded. Seed is
// meant to be called once, before dispatch, with the loaded ledger.
func (g *Graph) Seed(fingerprints map[pipeline.Fingerprint]bool) int {
	seeded := 0
	for _, nd := range g.nodes {
		if !fingerprints[nd.stage.Fingerprint] {
			continue
		}
		// A fingerprint match seeds regardless of how many deps are still
		// outstanding; only stages already past runnable are left alone.
		if nd.status != pipeline.StagePending && nd.status != pipeline.StageRunnable {
			continue
		}
		if nd.status == pipeline.StageRunnable {
			g.removeRunnable(nd.stage.Ordinal)
		}
		g.skipped++
		g.complete(nd)
		seeded++
	}
	return seeded
}

// complete finalizes a success, updates counters, and wakes dependents.
func (g *Graph) complete(nd *node) []int {
	nd.status = pipeline.StageSucceeded
	nd.worker = ""
	g.succeeded++
	g.completed++

	var nowRunnable []int
	for _, dep := range nd.dependents {
		dn := g.nodes[dep]
		dn.remaining--
		if dn.remaining == 0 && dn.status == pipeline.StagePending {
			// Seeded dependents handle their own completion.
			dn.status = pipeline.StageRunnable
			g.insertRunnable(dep)
			nowRunnable = append(nowRunnable, dep)
		}
	}
	return nowRunnable
}

// MarkFailed records a failed attempt for an assigned or running stage and
// returns the attempt count so far. The stage is left in the transient
// failed status; the caller decides between Requeue and
// MarkPermanentlyFailed.
func (g *Graph) MarkFailed(ordinal int) (int, error) {
	nd, err := g.node(ordinal)
	if err != nil {
		return 0, err
	}
	if nd.status != pipeline.StageAssigned && nd.status != pipeline.StageRunning {
		return 0, fmt.Errorf("stage %d is %s, cannot fail", ordinal, nd.status)
	}
	nd.status = pipeline.StageFailed
	nd.worker = ""
	return nd.attempts, nil
}

// Requeue returns a failed stage to the runnable set for another attempt.
// Its dependencies all succeeded already, so it is immediately assignable.
func (g *Graph) Requeue(ordinal int) error {
	nd, err := g.node(ordinal)
	if err != nil {
		return err
	}
	if nd.status != pipeline.StageFailed {
		return fmt.Errorf("stage %d is %s, cannot requeue", ordinal, nd.status)
	}
	nd.status = pipeline.StageRunnable
	g.insertRunnable(ordinal)
	return nil
}

// MarkPermanentlyFailed makes a failed stage terminal and marks every
// transitive dependent unreachable. Unreachable stages never become runnable
// and count as completed for run-termination purposes.
func (g *Graph) MarkPermanentlyFailed(ordinal int) error {
	nd, err := g.node(ordinal)
	if err != nil {
		return err
	}
	if nd.status != pipeline.StageFailed {
		return fmt.Errorf("stage %d is %s, cannot mark permanently failed", ordinal, nd.status)
	}
	nd.status = pipeline.StagePermanentlyFailed
	g.permFailed++
	g.completed++

	stack := append([]int(nil), nd.dependents...)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		dn := g.nodes[i]
		if dn.status.Terminal() {
			continue
		}
		// Dependents of a never-succeeded stage can only be pending.
		dn.status = pipeline.StageUnreachable
		g.unreachable++
		g.completed++
		stack = append(stack, dn.dependents...)
	}
	return nil
}

// IsComplete reports whether every stage is in a terminal status.
func (g *Graph) IsComplete() bool {
	return g.completed == len(g.nodes)
}

// Progress returns how many stages have reached a terminal status, and the
// total.
func (g *Graph) Progress() (done, total int) {
	return g.completed, len(g.nodes)
}

// Summary builds the end-of-run report from the graph's counters.
func (g *Graph) Summary() pipeline.Summary {
	return pipeline.Summary{
		Total:             len(g.nodes),
		Succeeded:         g.succeeded,
		SkippedFromLedger: g.skipped,
		Retried:           g.retried,
		PermanentlyFailed: g.permFailed,
		Unreachable:       g.unreachable,
	}
}

func (g *Graph) node(ordinal int) (*node, error) {
	if ordinal < 0 || ordinal >= len(g.nodes) {
		return nil, fmt.Errorf("ordinal %d: %w", ordinal, pipeline.ErrStageNotFound)
	}
	return g.nodes[ordinal], nil
}

func (g *Graph) insertRunnable(ordinal int) {
	i := sort.SearchInts(g.runnable, ordinal)
	g.runnable = append(g.runnable, 0)
	copy(g.runnable[i+1:], g.runnable[i:])
	g.runnable[i] = ordinal
}

func (g *Graph) removeRunnable(ordinal int) {
	i := sort.SearchInts(g.runnable, ordinal)
	if i < len(g.runnable) && g.runnable[i] == ordinal {
		g.runnable = append(g.runnable[:i], g.runnable[i+1:]...)
	}
}
