// Package main implements the entry point for the DAQStreams node: a
// data acquisition pipeline that reads sensor frames from serial, TCP,
// UDP and MQTT transports, demultiplexes them into per-channel streams
// and runs windowed signal processing with results published to
// JetStream and WebSocket consumers.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"github.com/c360/daqstreams/config"
	"github.com/c360/daqstreams/engine"
	"github.com/c360/daqstreams/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "daqstreams"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting DAQStreams",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cfg.LogLevel != "" && cliCfg.LogLevel == defaultLogLevel {
		logger = setupLogger(cfg.LogLevel, cliCfg.LogFormat)
		slog.SetDefault(logger)
	}

	if cliCfg.Validate {
		if _, err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
		slog.Info("Configuration is valid")
		return nil
	}

	registry := metric.NewMetricsRegistry()
	eng, err := engine.New(engine.Deps{
		Config:          cfg,
		MetricsRegistry: registry,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		port, perr := bindPort(cfg.Metrics.Bind)
		if perr != nil {
			return fmt.Errorf("metrics bind: %w", perr)
		}
		metricsServer = metric.NewServer(port, "/metrics", registry)
		go func() {
			if serr := metricsServer.Start(); serr != nil {
				slog.Debug("metrics server exited", "error", serr)
			}
		}()
		slog.Info("Metrics server listening", "address", metricsServer.Address())
	}

	return runWithSignalHandling(eng, cliCfg, metricsServer)
}

// runWithSignalHandling starts the engine, reloads configuration on
// SIGHUP and shuts down on SIGINT or SIGTERM.
func runWithSignalHandling(eng *engine.Engine, cliCfg *CLIConfig, metricsServer *metric.Server) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	slog.Info("DAQStreams started")

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigs)

	for {
		sig := <-sigs
		if sig == syscall.SIGHUP {
			slog.Info("Received SIGHUP, reloading configuration",
				"config_path", cliCfg.ConfigPath)
			cfg, err := config.Load(cliCfg.ConfigPath)
			if err != nil {
				slog.Error("Reload aborted, config unreadable", "error", err)
				continue
			}
			if err := eng.Reload(cfg, cliCfg.ShutdownTimeout); err != nil {
				slog.Error("Reload failed, previous configuration kept", "error", err)
				continue
			}
			slog.Info("Configuration reloaded", "version", eng.Snapshot().Version())
			continue
		}

		slog.Info("Received shutdown signal", "signal", sig.String())
		break
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			slog.Warn("Metrics server stop reported error", "error", err)
		}
	}
	if err := eng.Stop(cliCfg.ShutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("DAQStreams shutdown complete")
	return nil
}

// bindPort extracts the port from a host:port bind address. A bare port
// number is accepted too.
func bindPort(bind string) (int, error) {
	if bind == "" {
		return 0, nil
	}
	if _, portStr, err := net.SplitHostPort(bind); err == nil {
		return strconv.Atoi(portStr)
	}
	return strconv.Atoi(bind)
}
