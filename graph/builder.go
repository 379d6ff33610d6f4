// Package graph holds the stage dependency graph for one pipeline run: the
// DAG structure, per-stage status, and the incrementally maintained runnable
// set. The structure is immutable after Build; only statuses mutate, and the
// coordinator serializes all mutation.
package graph

import (
	"fmt"

	pipeline "github.com/gdevenyi/pydpiper"
)

// StageSpec describes one stage to add to a Builder. Dependencies reference
// ordinals returned by earlier (or later) Add calls.
type StageSpec struct {
	Command []string
	Inputs  []string
	Outputs []string
	Deps    []int
	Hints   pipeline.ResourceHints
	LogPath string
}

// Builder accumulates stage declarations and validates them into a Graph.
type Builder struct {
	specs []StageSpec
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add declares a stage and returns its ordinal. Ordinals are assigned in
// declaration order and determine the deterministic assignment order among
// simultaneously runnable stages.
func (b *Builder) Add(spec StageSpec) int {
	b.specs = append(b.specs, spec)
	return len(b.specs) - 1
}

// Len returns the number of stages declared so far.
func (b *Builder) Len() int {
	return len(b.specs)
}

// Build validates the declared stages and constructs the Graph.
// Returns pipeline.ErrDanglingDependency if a stage references an ordinal
// outside the graph, and pipeline.ErrGraphCycle if the dependency relation
// is cyclic. Malformation is fatal here; execution never begins on a bad
// graph, and acyclicity is not re-checked at runtime.
func (b *Builder) Build() (*Graph, error) {
	n := len(b.specs)
	nodes := make([]*node, n)

	for i, spec := range b.specs {
		deps := dedupe(spec.Deps)
		for _, d := range deps {
			if d < 0 || d >= n {
				return nil, fmt.Errorf("stage %d: dependency %d: %w", i, d, pipeline.ErrDanglingDependency)
			}
			if d == i {
				return nil, fmt.Errorf("stage %d depends on itself: %w", i, pipeline.ErrGraphCycle)
			}
		}

		stage := &pipeline.Stage{
			Ordinal:     i,
			Fingerprint: pipeline.ComputeFingerprint(spec.Command, spec.Inputs),
			Command:     spec.Command,
			Inputs:      spec.Inputs,
			Outputs:     spec.Outputs,
			Deps:        deps,
			Hints:       spec.Hints,
			LogPath:     spec.LogPath,
		}

		nodes[i] = &node{
			stage:     stage,
			status:    pipeline.StagePending,
			remaining: len(deps),
		}
	}

	// Reverse edges for completion propagation.
	for i, nd := range nodes {
		for _, d := range nd.stage.Deps {
			nodes[d].dependents = append(nodes[d].dependents, i)
		}
	}

	if err := checkAcyclic(nodes); err != nil {
		return nil, err
	}

	g := &Graph{nodes: nodes}
	for i, nd := range nodes {
		if nd.remaining == 0 {
			nd.status = pipeline.StageRunnable
			g.runnable = append(g.runnable, i)
		}
	}

	return g, nil
}

// checkAcyclic runs Kahn's algorithm over the dependency edges. It runs once
// at construction; the graph structure never changes afterwards.
func checkAcyclic(nodes []*node) error {
	indegree := make([]int, len(nodes))
	for i, nd := range nodes {
		indegree[i] = len(nd.stage.Deps)
	}

	queue := make([]int, 0, len(nodes))
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}

	visited := 0
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range nodes[i].dependents {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if visited != len(nodes) {
		return pipeline.ErrGraphCycle
	}
	return nil
}

func dedupe(deps []int) []int {
	if len(deps) < 2 {
		return append([]int(nil), deps...)
	}
	seen := make(map[int]bool, len(deps))
	out := make([]int, 0, len(deps))
	for _, d := range deps {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	return out
}
