package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dbgate/internal/api"
	"dbgate/internal/config"
	"dbgate/internal/connection"
	"dbgate/internal/database"
	"dbgate/internal/logger"
	"dbgate/internal/metrics"
	"dbgate/internal/version"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	dbName := flag.String("db", "", "Database to use, required when several are configured")
	query := flag.String("query", "", "Statement to execute")
	params := flag.String("params", "", "Statement parameters as a JSON array")
	noRetry := flag.Bool("no-retry", false, "Execute the statement exactly once")
	health := flag.Bool("health", false, "Check the health of every configured database")
	serve := flag.Bool("serve", false, "Serve metrics and health over HTTP and check health periodically")
	interval := flag.Duration("interval", 30*time.Second, "Health check interval in serve mode")
	timeout := flag.Duration("timeout", time.Minute, "Overall timeout for -query and -health")
	flag.Parse()

	// Show version if requested
	if *showVersion {
		info := version.GetInfo()
		fmt.Println(info.String())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(&cfg.Log)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	reg := prometheus.NewRegistry()
	var opts []database.Option
	if cfg.Metrics.Enabled {
		opts = append(opts, database.WithObserver(metrics.New(reg, cfg.Metrics.Namespace)))
	}

	conns, err := connection.New(cfg, log, opts...)
	if err != nil {
		log.Fatal("Failed to create connections", zap.Error(err))
	}
	defer func() {
		for _, err := range conns.Close() {
			log.Error("Close error", zap.Error(err))
		}
	}()

	switch {
	case *serve:
		err = runServe(cfg, conns, reg, *interval, log)
	case *health:
		err = runHealth(conns, *timeout)
	case *query != "":
		err = runQuery(conns, *dbName, *query, *params, *noRetry, *timeout)
	default:
		flag.Usage()
		return
	}

	if err != nil {
		log.Error("Command failed", zap.Error(err))
		_ = log.Sync()
		_ = conns.Close()
		os.Exit(1)
	}
}

// runQuery executes one statement and prints its result
func runQuery(conns *connection.Connections, name, query, rawParams string, noRetry bool, timeout time.Duration) error {
	if name == "" {
		names := conns.Names()
		if len(names) != 1 {
			return fmt.Errorf("-db is required, configured databases: %v", names)
		}
		name = names[0]
	}

	client, err := conns.Get(name)
	if err != nil {
		return err
	}

	var params []any
	if rawParams != "" {
		if err := json.Unmarshal([]byte(rawParams), &params); err != nil {
			return fmt.Errorf("invalid -params: %w", err)
		}
	}

	var execOpts []database.ExecOption
	if noRetry {
		execOpts = append(execOpts, database.WithoutRetry())
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := client.Execute(ctx, query, params, execOpts...)
	if err != nil {
		return err
	}
	return printJSON(res)
}

// runHealth checks every database and fails if any is unhealthy
func runHealth(conns *connection.Connections, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Uninitialized clients report unknown, so open them first
	initErr := conns.InitializeAll(ctx)

	results, err := conns.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if err := printJSON(results); err != nil {
		return err
	}

	for name, res := range results {
		if !res.Status.Serving() {
			return errors.Join(initErr, fmt.Errorf("database %s is %s", name, res.Status))
		}
	}
	return initErr
}

// runServe exposes the HTTP endpoints and runs health checks until interrupted
func runServe(cfg *config.Config, conns *connection.Connections, reg *prometheus.Registry, interval time.Duration, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := conns.InitializeAll(ctx); err != nil {
		log.Warn("Some databases failed to initialize", zap.Error(err))
	}

	router := api.NewRouter(cfg, conns, reg, log)
	server := &http.Server{
		Addr:              cfg.Metrics.Address,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in background
	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server",
			zap.String("address", cfg.Metrics.Address),
			zap.Bool("metrics", cfg.Metrics.Enabled),
			zap.String("metrics_path", cfg.Metrics.Path))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Handle signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := conns.HealthCheck(ctx); err != nil {
				log.Error("Health check failed", zap.Error(err))
			}
		case err := <-serveErr:
			return fmt.Errorf("http server error: %w", err)
		case sig := <-sigChan:
			log.Info("Received signal", zap.String("signal", sig.String()))

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			return server.Shutdown(shutdownCtx)
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
