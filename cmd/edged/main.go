package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/edgedb/internal/config"
	"github.com/kartikbazzad/edgedb/internal/logger"
	"github.com/kartikbazzad/edgedb/internal/metrics"
	"github.com/kartikbazzad/edgedb/internal/pool"
	"github.com/kartikbazzad/edgedb/internal/scheduler"
	"github.com/kartikbazzad/edgedb/internal/sqlite"
	"github.com/kartikbazzad/edgedb/internal/types"
)

var rootCmd = &cobra.Command{
	Use:           "edged",
	Short:         "Edge database execution core",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var flags struct {
	configPath  string
	dbPath      string
	driver      string
	workers     int
	txnTimeout  time.Duration
	logLevel    string
	logFormat   string
	metricsAddr string
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "Path to config file (yaml, toml or json)")
	pf.StringVar(&flags.dbPath, "db-path", "", "Database file (default iku.db)")
	pf.StringVar(&flags.driver, "driver", "", "SQLite driver: sqlite (pure Go) or sqlite3 (cgo)")
	pf.IntVar(&flags.workers, "workers", 0, "Number of workers (0 = number of CPUs)")
	pf.DurationVar(&flags.txnTimeout, "txn-timeout", 0, "Interactive transaction timeout (default 5s)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: DEBUG, INFO, WARN, ERROR")
	pf.StringVar(&flags.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(shellCmd(), execCmd(), benchCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig layers defaults, the config file, EDGED_ environment
// variables and finally explicitly set flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if err := config.Load(flags.configPath, config.EnvPrefix, cfg); err != nil {
		return nil, err
	}

	pf := cmd.Flags()
	if pf.Changed("db-path") {
		cfg.Engine.Path = flags.dbPath
	}
	if pf.Changed("driver") {
		cfg.Engine.Driver = flags.driver
	}
	if pf.Changed("workers") {
		cfg.Pool.Workers = flags.workers
	}
	if pf.Changed("txn-timeout") {
		cfg.Pool.TxnTimeout = flags.txnTimeout
	}
	if pf.Changed("log-level") {
		cfg.Log.Level = flags.logLevel
	}
	if pf.Changed("log-format") {
		cfg.Log.Format = flags.logFormat
	}
	if pf.Changed("metrics-addr") {
		cfg.Metrics.Addr = flags.metricsAddr
	}
	return cfg, cfg.Validate()
}

// engine is a running pool with its scheduler.
type engine struct {
	cfg      *config.Config
	log      *logger.Logger
	pool     *pool.WorkerPool
	sched    *scheduler.Scheduler
	shutdown *pool.GracefulShutdown
	metrics  *http.Server
}

func startEngine(cmd *cobra.Command) (*engine, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newEngine(cfg)
}

func newEngine(cfg *config.Config) (*engine, error) {
	log := logger.New(os.Stderr, logger.Options{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	}).With("component", "edged")

	log.Info("Opening %s with driver %s", cfg.Engine.Path, cfg.Engine.Driver)
	p, jobs, err := pool.NewWorkerPool(&cfg.Pool, sqlite.NewFactory(cfg.Engine, log), log)
	if err != nil {
		return nil, fmt.Errorf("failed to start worker pool: %w", err)
	}

	sched := scheduler.New(jobs, log)
	sched.Start()

	e := &engine{
		cfg:      cfg,
		log:      log,
		pool:     p,
		sched:    sched,
		shutdown: pool.NewGracefulShutdown(p, sched.Drain, log),
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		e.metrics = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := e.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Metrics server failed: %v", err)
			}
		}()
		log.Info("Serving metrics on %s/metrics", cfg.Metrics.Addr)
	}

	return e, nil
}

// submit runs sql for endpoint and returns the responder it was submitted
// with, plus the first outcome.
func (e *engine) submit(ctx context.Context, ep types.Endpoint, sql string) (pool.ChanResponder, types.Message, error) {
	resp := make(pool.ChanResponder, 2)
	if err := e.sched.Submit(ep, sql, resp); err != nil {
		return nil, types.Message{}, err
	}
	select {
	case m := <-resp:
		return resp, m, nil
	case <-ctx.Done():
		return resp, types.Message{}, ctx.Err()
	}
}

func (e *engine) Close() error {
	err := e.shutdown.Shutdown()
	if err == nil {
		e.sched.Stop()
	}
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.metrics.Shutdown(ctx)
	}
	return err
}
