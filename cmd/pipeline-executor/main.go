// Command pipeline-executor runs one worker: it registers with a
// pipeline-server, pulls stages, runs their commands as child processes, and
// reports outcomes until the server tells it to shut down or it times out
// idle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/executor"
	"github.com/gdevenyi/pydpiper/transport/httprpc"
)

func main() {
	var (
		serverAddr = flag.String("server", "", "coordinator RPC address, host:port (required)")
		configPath = flag.String("config", "", "optional YAML configuration file")
		slots      = flag.Int("slots", 0, "number of concurrent stages (default 1)")
		mem        = flag.Float64("mem", 0, "memory capacity in GB (default 6)")
		logDir     = flag.String("logdir", "", "directory for per-stage log files (default the working directory)")
		lifetime   = flag.Duration("lifetime", 0, "drain after this long since startup, e.g. 47h (0 means unlimited)")
		idle       = flag.Duration("idle", 0, "exit after this long idle with no work offered (default 1m)")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logger := pipeline.NewStdLogger(*verbose)
	ctx := context.Background()

	var cfg pipeline.ExecutorConfig
	if *configPath != "" {
		fileCfg, err := pipeline.LoadConfig(*configPath)
		if err != nil {
			logger.Error(ctx, "cannot load configuration", "path", *configPath, "error", err)
			os.Exit(2)
		}
		cfg = fileCfg.Executor
	}

	// Flags win over the configuration file.
	if *serverAddr != "" {
		cfg.ServerAddr = *serverAddr
	}
	if cfg.ServerAddr == "" {
		fmt.Fprintln(os.Stderr, "pipeline-executor: -server is required")
		flag.Usage()
		os.Exit(2)
	}
	if *slots != 0 {
		cfg.Capacity.Slots = *slots
	}
	if *mem != 0 {
		cfg.Capacity.MemoryGB = *mem
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if *lifetime != 0 {
		cfg.MaxLifetime = *lifetime
	}
	if *idle != 0 {
		cfg.IdleTimeout = *idle
	}

	exec, err := executor.New(executor.Config{
		Client:            httprpc.NewClient(cfg.ServerAddr),
		Capacity:          cfg.Capacity,
		LogDir:            cfg.LogDir,
		PollInterval:      cfg.PollInterval,
		HeartbeatInterval: cfg.HeartbeatInterval,
		IdleTimeout:       cfg.IdleTimeout,
		MaxLifetime:       cfg.MaxLifetime,
		KillGrace:         cfg.KillGrace,
		ContactGrace:      cfg.ContactGrace,
		Logger:            logger,
	})
	if err != nil {
		logger.Error(ctx, "cannot create executor", "error", err)
		os.Exit(2)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn(ctx, "shutdown signal received, terminating stages")
		cancel()
	}()

	if err := exec.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "executor exited with error", "error", err)
		os.Exit(1)
	}
}
