package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/loomgate/loomgate/internal/config"
	"github.com/loomgate/loomgate/internal/healthcheck"
	"github.com/loomgate/loomgate/internal/httpserver"
	"github.com/loomgate/loomgate/internal/logging"
	"github.com/loomgate/loomgate/internal/metrics"
	"github.com/loomgate/loomgate/internal/wasmrt"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "loomgate.yaml", "Path to configuration file")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logOutput := flag.String("log-output", "stdout", "Log output: stdout, stderr, or a file path")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("loomgate %s\n", version)
		os.Exit(0)
	}

	logger, closer, err := logging.New(logging.Config{Level: *logLevel, Output: *logOutput})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	logging.SetGlobal(logger)
	defer logger.Sync()

	if err := run(logger, *configPath); err != nil {
		logger.Fatal("fatal startup error", zap.Error(err))
	}
}

func run(logger *zap.Logger, configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loader := config.NewLoader(wasmrt.EngineConfig{Mode: "compiler"})
	cfg, err := loader.Load(ctx, configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	defer func() {
		if cerr := cfg.Close(context.Background()); cerr != nil {
			logger.Warn("error closing module runtimes", zap.Error(cerr))
		}
	}()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	var scheduler *healthcheck.Scheduler
	if cfg.HealthCheck != nil {
		scheduler = healthcheck.New(logger)
		scheduler.Schedule(cfg.Route.Path, cfg.HealthCheck, m)
		scheduler.Start()
		defer func() { <-scheduler.Stop().Done() }()
	}

	srv := httpserver.New(&cfg.Route, logger, m, metrics.Handler(reg))

	addr := ":" + strconv.Itoa(int(cfg.Config.Expose))
	logger.Info("starting loomgate",
		zap.String("addr", addr),
		zap.String("route", cfg.Route.Path),
		zap.Int("pipeline_steps", len(cfg.Route.Pipeline)))

	return httpserver.ListenAndServe(ctx, addr, srv)
}
