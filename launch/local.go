package launch

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"

	pipeline "github.com/gdevenyi/pydpiper"
)

// Local launches executor processes on the coordinator's own host. Used for
// single-machine runs and for clusters where the batch system has already
// allocated the node to us.
type Local struct {
	// Binary is the executor executable, e.g. "pipeline-executor".
	Binary string

	// Args are passed to every launched executor, e.g. the server address.
	// Capacity flags are appended by Launch.
	Args []string

	// Logger is for observability (optional).
	Logger pipeline.Logger
}

// Compile-time check that Local implements Launcher.
var _ Launcher = (*Local)(nil)

// Launch starts n executor processes as children. Each child is reaped in
// the background; its exit does not affect the coordinator, which notices
// worker loss through heartbeats instead.
func (l *Local) Launch(ctx context.Context, n int, capacity pipeline.Capacity) error {
	for i := 0; i < n; i++ {
		args := append(append([]string(nil), l.Args...),
			"-slots", strconv.Itoa(capacity.Slots),
			"-mem", strconv.FormatFloat(capacity.MemoryGB, 'f', -1, 64),
		)
		cmd := exec.Command(l.Binary, args...)
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("launching executor %d of %d: %w", i+1, n, err)
		}

		if l.Logger != nil {
			l.Logger.Info(ctx, "launched local executor", "pid", cmd.Process.Pid, "slots", capacity.Slots, "memGB", capacity.MemoryGB)
		}

		go cmd.Wait()
	}
	return nil
}
