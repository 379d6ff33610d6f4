// Package httprpc is a JSON-over-HTTP implementation of the worker/
// coordinator transport. One POST endpoint per operation; unknown workers
// map to 410 Gone so a preempted-and-replaced worker fails fast.
package httprpc

import pipeline "github.com/gdevenyi/pydpiper"

type registerRequest struct {
	Capacity pipeline.Capacity `json:"capacity"`
}

type registerResponse struct {
	WorkerID string `json:"worker_id"`
}

type heartbeatRequest struct {
	WorkerID string `json:"worker_id"`
	Running  []int  `json:"running,omitempty"`
}

type heartbeatResponse struct {
	Drain bool `json:"drain"`
}

type pullRequest struct {
	WorkerID string            `json:"worker_id"`
	Free     pipeline.Capacity `json:"free"`
}

type wireStage struct {
	Ordinal  int      `json:"ordinal"`
	Command  []string `json:"command"`
	MemoryGB float64  `json:"memory_gb"`
	Slots    int      `json:"slots"`
	LogPath  string   `json:"log_path"`
}

type pullResponse struct {
	Command pipeline.PullCommand `json:"command"`
	Stage   *wireStage           `json:"stage,omitempty"`
}

type reportRequest struct {
	WorkerID string           `json:"worker_id"`
	Ordinal  int              `json:"ordinal"`
	Outcome  pipeline.Outcome `json:"outcome"`
}

type unregisterRequest struct {
	WorkerID string `json:"worker_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// toWireStage strips a stage down to what the worker needs: identity, the
// command, resource occupancy, and the log path. Dependency structure stays
// on the coordinator.
func toWireStage(s *pipeline.Stage) *wireStage {
	if s == nil {
		return nil
	}
	return &wireStage{
		Ordinal:  s.Ordinal,
		Command:  s.Command,
		MemoryGB: s.Hints.MemoryGB,
		Slots:    s.Hints.EffectiveSlots(),
		LogPath:  s.LogPath,
	}
}

func fromWireStage(w *wireStage) *pipeline.Stage {
	if w == nil {
		return nil
	}
	return &pipeline.Stage{
		Ordinal: w.Ordinal,
		Command: w.Command,
		Hints:   pipeline.ResourceHints{MemoryGB: w.MemoryGB, Slots: w.Slots},
		LogPath: w.LogPath,
	}
}
