package graph

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	pipeline "github.com/gdevenyi/pydpiper"
)

// fileStage is the YAML shape of one stage declaration.
type fileStage struct {
	Command  []string      `yaml:"command"`
	Inputs   []string      `yaml:"inputs"`
	Outputs  []string      `yaml:"outputs"`
	Deps     []int         `yaml:"deps"`
	MemoryGB float64       `yaml:"memory_gb"`
	Slots    int           `yaml:"slots"`
	Walltime time.Duration `yaml:"walltime"`
	LogPath  string        `yaml:"log_path"`
}

type pipelineFile struct {
	Stages []fileStage `yaml:"stages"`
}

// LoadFile reads a YAML pipeline definition and builds the validated graph.
// Dependencies reference stage indices within the same file. This is a
// convenience entry point; programmatic graph builders use Builder directly.
func LoadFile(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline definition: %w", err)
	}

	var pf pipelineFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing pipeline definition %s: %w", path, err)
	}
	if len(pf.Stages) == 0 {
		return nil, fmt.Errorf("pipeline definition %s declares no stages", path)
	}

	b := NewBuilder()
	for _, s := range pf.Stages {
		b.Add(StageSpec{
			Command: s.Command,
			Inputs:  s.Inputs,
			Outputs: s.Outputs,
			Deps:    s.Deps,
			Hints: pipeline.ResourceHints{
				MemoryGB: s.MemoryGB,
				Slots:    s.Slots,
				Walltime: s.Walltime,
			},
			LogPath: s.LogPath,
		})
	}
	return b.Build()
}
