package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/gdevenyi/pydpiper"
)

func TestBuilder_OrdinalsFollowDeclarationOrder(t *testing.T) {
	b := NewBuilder()

	first := b.Add(StageSpec{Command: []string{"echo", "a"}})
	second := b.Add(StageSpec{Command: []string{"echo", "b"}})

	assert.Equal(t, 0, first)
	assert.Equal(t, 1, second)
	assert.Equal(t, 2, b.Len())
}

func TestBuild_InitialRunnableAreDependencyFree(t *testing.T) {
	b := NewBuilder()
	b.Add(StageSpec{Command: []string{"echo", "a"}})
	b.Add(StageSpec{Command: []string{"echo", "b"}, Deps: []int{0}})
	b.Add(StageSpec{Command: []string{"echo", "c"}})
	b.Add(StageSpec{Command: []string{"echo", "d"}, Deps: []int{1, 2}})

	g, err := b.Build()
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, g.Runnable())

	status, err := g.Status(1)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StagePending, status)
	status, err = g.Status(3)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StagePending, status)
}

func TestBuild_DanglingDependency(t *testing.T) {
	b := NewBuilder()
	b.Add(StageSpec{Command: []string{"echo", "a"}, Deps: []int{5}})

	g, err := b.Build()

	assert.Nil(t, g)
	assert.ErrorIs(t, err, pipeline.ErrDanglingDependency)
}

func TestBuild_NegativeDependency(t *testing.T) {
	b := NewBuilder()
	b.Add(StageSpec{Command: []string{"echo", "a"}, Deps: []int{-1}})

	_, err := b.Build()

	assert.ErrorIs(t, err, pipeline.ErrDanglingDependency)
}

func TestBuild_SelfDependency(t *testing.T) {
	b := NewBuilder()
	b.Add(StageSpec{Command: []string{"echo", "a"}, Deps: []int{0}})

	_, err := b.Build()

	assert.ErrorIs(t, err, pipeline.ErrGraphCycle)
}

func TestBuild_Cycle(t *testing.T) {
	b := NewBuilder()
	b.Add(StageSpec{Command: []string{"echo", "a"}, Deps: []int{2}})
	b.Add(StageSpec{Command: []string{"echo", "b"}, Deps: []int{0}})
	b.Add(StageSpec{Command: []string{"echo", "c"}, Deps: []int{1}})

	g, err := b.Build()

	assert.Nil(t, g)
	assert.ErrorIs(t, err, pipeline.ErrGraphCycle)
}

func TestBuild_DuplicateDepsCountedOnce(t *testing.T) {
	b := NewBuilder()
	b.Add(StageSpec{Command: []string{"echo", "a"}})
	b.Add(StageSpec{Command: []string{"echo", "b"}, Deps: []int{0, 0, 0}})

	g, err := b.Build()
	require.NoError(t, err)

	// One success of stage 0 must be enough to make stage 1 runnable.
	require.NoError(t, g.Assign(0, "w"))
	nowRunnable, err := g.MarkSucceeded(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, nowRunnable)
}

func TestBuild_EmptyGraphIsComplete(t *testing.T) {
	g, err := NewBuilder().Build()
	require.NoError(t, err)

	assert.Equal(t, 0, g.Len())
	assert.True(t, g.IsComplete())
}
