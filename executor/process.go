package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	pipeline "github.com/gdevenyi/pydpiper"
)

// ProcessRunner runs stage commands with os/exec, appending combined output
// to the stage's log file.
type ProcessRunner struct {
	// LogDir is where log files go for stages without an explicit LogPath
	// (default: current directory).
	LogDir string

	// Logger is for observability (optional).
	Logger pipeline.Logger
}

// Compile-time check that ProcessRunner implements Runner.
var _ Runner = (*ProcessRunner)(nil)

// Start opens the stage log, writes the attempt header, and spawns the
// command. The child's stdout and stderr both go to the log.
func (r *ProcessRunner) Start(ctx context.Context, stage *pipeline.Stage) (Process, error) {
	if len(stage.Command) == 0 {
		return nil, fmt.Errorf("stage %d has an empty command", stage.Ordinal)
	}

	logPath := stage.LogPath
	if logPath == "" {
		dir := r.LogDir
		if dir == "" {
			dir = "."
		}
		logPath = filepath.Join(dir, fmt.Sprintf("stage-%d.log", stage.Ordinal))
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening stage log %s: %w", logPath, err)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	fmt.Fprintf(f, "Stage %d running on %s at %s:\n%s\n",
		stage.Ordinal, host, time.Now().Format(time.RFC3339), strings.Join(stage.Command, " "))

	cmd := exec.Command(stage.Command[0], stage.Command[1:]...)
	cmd.Stdout = f
	cmd.Stderr = f

	if err := cmd.Start(); err != nil {
		f.Close()
		return nil, fmt.Errorf("spawning stage %d: %w", stage.Ordinal, err)
	}

	if r.Logger != nil {
		r.Logger.Debug(ctx, "stage command started", "stage", stage.Ordinal, "pid", cmd.Process.Pid, "log", logPath)
	}

	return &osProcess{cmd: cmd, logFile: f, done: make(chan struct{})}, nil
}

type osProcess struct {
	cmd     *exec.Cmd
	logFile *os.File
	done    chan struct{}
	once    sync.Once
}

func (p *osProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Wait() pipeline.Outcome {
	err := p.cmd.Wait()
	p.logFile.Close()
	close(p.done)
	if err != nil {
		return pipeline.OutcomeFailed
	}
	return pipeline.OutcomeSucceeded
}

// Terminate sends SIGTERM and escalates to SIGKILL after the grace period.
// Safe to call while Wait is blocked in another goroutine.
func (p *osProcess) Terminate(grace time.Duration) {
	p.once.Do(func() {
		p.cmd.Process.Signal(syscall.SIGTERM)
		select {
		case <-p.done:
		case <-time.After(grace):
			p.cmd.Process.Kill()
		}
	})
}
