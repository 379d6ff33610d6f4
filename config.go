package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the file-configurable settings for the coordinator
// binary. Zero values are replaced with defaults by the coordinator itself.
type ServerConfig struct {
	// ListenAddr is the address the coordinator's RPC server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// MetricsAddr is the address of the optional Prometheus metrics server.
	// Empty disables the metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`

	// LedgerPath is the path of the file-backed completion ledger. Ignored
	// when LedgerDSN is set.
	LedgerPath string `yaml:"ledger_path"`

	// LedgerDriver selects a database/sql driver for the ledger
	// ("sqlite3", "postgres" or "mysql"). Empty means the file ledger.
	LedgerDriver string `yaml:"ledger_driver"`

	// LedgerDSN is the database connection string for a SQL-backed ledger.
	LedgerDSN string `yaml:"ledger_dsn"`

	// TargetWorkers is the worker pool size the coordinator tries to reach
	// opportunistically. Dispatch starts with however many have registered.
	TargetWorkers int `yaml:"target_workers"`

	// WorkerCapacity is the capacity requested for launched workers.
	WorkerCapacity Capacity `yaml:"worker_capacity"`

	// MaxFailedWorkers is how many dead workers are replaced before the
	// coordinator stops relaunching.
	MaxFailedWorkers int `yaml:"max_failed_workers"`

	// RetryLimit is the number of retries after a stage's first failed
	// attempt.
	RetryLimit int `yaml:"retry_limit"`

	// HeartbeatTimeout is how long a worker may go silent before it is
	// declared dead.
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`

	// CheckInterval is how often worker liveness is scanned.
	CheckInterval time.Duration `yaml:"check_interval"`

	// LaunchGrace is how long a submitted worker launch is counted toward
	// the pool before being presumed lost and re-requested.
	LaunchGrace time.Duration `yaml:"launch_grace"`

	// DrainGrace bounds how long the coordinator waits for workers to
	// acknowledge shutdown before exiting anyway.
	DrainGrace time.Duration `yaml:"drain_grace"`

	// MonitorHeartbeats can be set false to disable dead-worker detection.
	// Disabling it can hang the run if a worker crashes.
	MonitorHeartbeats *bool `yaml:"monitor_heartbeats"`
}

// ExecutorConfig holds the file-configurable settings for the executor binary.
type ExecutorConfig struct {
	// ServerAddr is the coordinator's RPC address.
	ServerAddr string `yaml:"server_addr"`

	// Capacity is the worker's declared capacity.
	Capacity Capacity `yaml:"capacity"`

	// LogDir is where per-stage log files are written.
	LogDir string `yaml:"log_dir"`

	// PollInterval is how often an idle worker asks for work.
	PollInterval time.Duration `yaml:"poll_interval"`

	// HeartbeatInterval is how often the worker reports liveness.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// IdleTimeout is how long the worker may sit idle with no work offered
	// before terminating itself to free cluster resources.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxLifetime is how long after startup the worker stops accepting new
	// work and drains. Zero means unlimited.
	MaxLifetime time.Duration `yaml:"max_lifetime"`

	// KillGrace is how long a child process gets between SIGTERM and SIGKILL.
	KillGrace time.Duration `yaml:"kill_grace"`

	// ContactGrace is how long the worker tolerates an unreachable
	// coordinator before shutting itself down.
	ContactGrace time.Duration `yaml:"contact_grace"`
}

// Config is the top-level YAML configuration shared by both binaries.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Executor ExecutorConfig `yaml:"executor"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return cfg, nil
}
