package graph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePipelineFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_BuildsGraph(t *testing.T) {
	path := writePipelineFile(t, `
stages:
  - command: ["minc_average", "in1.mnc", "in2.mnc", "avg.mnc"]
    inputs: ["in1.mnc", "in2.mnc"]
    outputs: ["avg.mnc"]
    memory_gb: 4
  - command: ["mincblur", "avg.mnc", "blur.mnc"]
    inputs: ["avg.mnc"]
    outputs: ["blur.mnc"]
    deps: [0]
    slots: 2
    walltime: 30m
`)

	g, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())

	stage, err := g.Stage(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"minc_average", "in1.mnc", "in2.mnc", "avg.mnc"}, stage.Command)
	assert.Equal(t, 4.0, stage.Hints.MemoryGB)
	assert.NotEmpty(t, stage.Fingerprint)

	stage, err = g.Stage(1)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, stage.Deps)
	assert.Equal(t, 2, stage.Hints.Slots)

	assert.Equal(t, []int{0}, g.Runnable())
}

func TestLoadFile_EmptyDefinition(t *testing.T) {
	path := writePipelineFile(t, "stages: []\n")

	_, err := LoadFile(path)
	assert.ErrorContains(t, err, "no stages")
}

func TestLoadFile_MissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadFile_InvalidDependency(t *testing.T) {
	path := writePipelineFile(t, `
stages:
  - command: ["echo", "a"]
    deps: [7]
`)

	_, err := LoadFile(path)
	assert.Error(t, err)
}
