// Command pipeline-server runs the coordinator for one pipeline: it loads
// the stage graph from a YAML definition, opens the completion ledger,
// serves the worker RPC endpoints, and optionally launches local executors.
//
// Exit code 0 means every stage succeeded (or was skipped from the ledger);
// a nonzero exit means the run ended with permanently failed or unreachable
// stages, or with an interrupt.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	pipeline "github.com/gdevenyi/pydpiper"
	"github.com/gdevenyi/pydpiper/coordinator"
	"github.com/gdevenyi/pydpiper/graph"
	"github.com/gdevenyi/pydpiper/launch"
	"github.com/gdevenyi/pydpiper/ledger"
	ledgerfile "github.com/gdevenyi/pydpiper/ledger/file"
	"github.com/gdevenyi/pydpiper/ledger/sqldb"
	"github.com/gdevenyi/pydpiper/metrics"
	"github.com/gdevenyi/pydpiper/transport/httprpc"
)

func main() {
	var (
		pipelinePath   = flag.String("pipeline", "", "path of the YAML pipeline definition (required)")
		configPath     = flag.String("config", "", "optional YAML configuration file")
		listenAddr     = flag.String("listen", "", "worker RPC listen address (default :8034)")
		metricsAddr    = flag.String("metrics", "", "Prometheus metrics address (empty disables)")
		ledgerPath     = flag.String("ledger", "", "file-backed completion ledger path (default <pipeline>.ledger)")
		ledgerDriver   = flag.String("ledger-driver", "", "SQL ledger driver: sqlite3, postgres or mysql (empty uses the file ledger)")
		ledgerDSN      = flag.String("ledger-dsn", "", "SQL ledger connection string")
		workers        = flag.Int("workers", 0, "number of local executors to launch (0 means workers register on their own)")
		executorBinary = flag.String("executor", "pipeline-executor", "executor binary for locally launched workers")
		slots          = flag.Int("slots", 0, "slots per launched worker")
		mem            = flag.Float64("mem", 0, "memory in GB per launched worker")
		retryLimit     = flag.Int("retries", 0, "retries per stage after the first failure (default 2, negative disables)")
		verbose        = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	logger := pipeline.NewStdLogger(*verbose)
	ctx := context.Background()

	if *pipelinePath == "" {
		fmt.Fprintln(os.Stderr, "pipeline-server: -pipeline is required")
		flag.Usage()
		os.Exit(2)
	}

	var cfg pipeline.ServerConfig
	if *configPath != "" {
		fileCfg, err := pipeline.LoadConfig(*configPath)
		if err != nil {
			logger.Error(ctx, "cannot load configuration", "path", *configPath, "error", err)
			os.Exit(2)
		}
		cfg = fileCfg.Server
	}

	// Flags win over the configuration file.
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8034"
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if *ledgerPath != "" {
		cfg.LedgerPath = *ledgerPath
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = *pipelinePath + ".ledger"
	}
	if *ledgerDriver != "" {
		cfg.LedgerDriver = *ledgerDriver
	}
	if *ledgerDSN != "" {
		cfg.LedgerDSN = *ledgerDSN
	}
	if *workers != 0 {
		cfg.TargetWorkers = *workers
	}
	if *slots != 0 {
		cfg.WorkerCapacity.Slots = *slots
	}
	if *mem != 0 {
		cfg.WorkerCapacity.MemoryGB = *mem
	}
	if *retryLimit != 0 {
		cfg.RetryLimit = *retryLimit
	}

	g, err := graph.LoadFile(*pipelinePath)
	if err != nil {
		logger.Error(ctx, "cannot load pipeline definition", "path", *pipelinePath, "error", err)
		os.Exit(2)
	}

	led, err := openLedger(ctx, cfg)
	if err != nil {
		logger.Error(ctx, "cannot open completion ledger", "error", err)
		os.Exit(2)
	}
	defer led.Close()

	var collector *metrics.Collector
	if cfg.MetricsAddr != "" {
		collector = metrics.NewCollector(*pipelinePath)
		metricsSrv, err := metrics.NewServer(cfg.MetricsAddr)
		if err != nil {
			logger.Error(ctx, "cannot bind metrics listener", "addr", cfg.MetricsAddr, "error", err)
			os.Exit(2)
		}
		metricsSrv.Start()
		logger.Info(ctx, "serving metrics", "addr", metricsSrv.Addr())
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Shutdown(shutCtx)
		}()
	}

	var launcher launch.Launcher
	if cfg.TargetWorkers > 0 {
		launcher = &launch.Local{
			Binary: *executorBinary,
			Args:   []string{"-server", dialAddr(cfg.ListenAddr)},
			Logger: logger,
		}
	}

	coordCfg := coordinator.Config{
		Graph:            g,
		Ledger:           led,
		Launcher:         launcher,
		TargetWorkers:    cfg.TargetWorkers,
		WorkerCapacity:   cfg.WorkerCapacity,
		MaxFailedWorkers: cfg.MaxFailedWorkers,
		RetryLimit:       cfg.RetryLimit,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
		CheckInterval:    cfg.CheckInterval,
		LaunchGrace:      cfg.LaunchGrace,
		DrainGrace:       cfg.DrainGrace,
		Logger:           logger,
		Metrics:          collector,
	}
	if cfg.MonitorHeartbeats != nil && !*cfg.MonitorHeartbeats {
		coordCfg.DisableHeartbeatMonitor = true
	}

	coord, err := coordinator.New(coordCfg)
	if err != nil {
		logger.Error(ctx, "cannot create coordinator", "error", err)
		os.Exit(2)
	}

	rpc, err := httprpc.NewServer(coord, cfg.ListenAddr)
	if err != nil {
		logger.Error(ctx, "cannot bind RPC listener", "addr", cfg.ListenAddr, "error", err)
		os.Exit(2)
	}
	rpc.Start()
	logger.Info(ctx, "serving worker RPC", "addr", rpc.Addr())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn(ctx, "shutdown signal received, draining")
		cancel()
	}()

	summary, err := coord.Run(runCtx)

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	rpc.Shutdown(shutCtx)
	shutCancel()

	if err != nil {
		logger.Error(ctx, "run failed", "error", err)
		os.Exit(1)
	}

	fmt.Printf("pipeline finished: %d/%d succeeded (%d from ledger, %d retried, %d permanently failed, %d unreachable)\n",
		summary.Succeeded, summary.Total,
		summary.SkippedFromLedger, summary.Retried,
		summary.PermanentlyFailed, summary.Unreachable)

	if !summary.OK() || runCtx.Err() != nil {
		os.Exit(1)
	}
}

// dialAddr turns a listen address into one launched executors can dial:
// a bare ":port" becomes "localhost:port".
func dialAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}

// openLedger picks the SQL ledger when a driver is configured, otherwise the
// append-only file ledger.
func openLedger(ctx context.Context, cfg pipeline.ServerConfig) (ledger.Ledger, error) {
	if cfg.LedgerDriver != "" {
		if cfg.LedgerDSN == "" {
			return nil, fmt.Errorf("ledger driver %q configured without a DSN", cfg.LedgerDriver)
		}
		return sqldb.Open(ctx, cfg.LedgerDriver, cfg.LedgerDSN)
	}
	return ledgerfile.Open(cfg.LedgerPath)
}
