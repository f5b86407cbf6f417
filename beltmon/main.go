package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/itohio/beltmon/pkg/checkpoint"
	"github.com/itohio/beltmon/pkg/config"
	"github.com/itohio/beltmon/pkg/dataserv"
	"github.com/itohio/beltmon/pkg/metric"
	"github.com/itohio/beltmon/pkg/monitor"
	"github.com/itohio/beltmon/pkg/obvy"
	"github.com/itohio/beltmon/pkg/sensorlog"
)

func main() {
	var (
		configFlag      = flag.String("config", "config.yaml", "Configuration file path")
		logFlag         = flag.String("log", "", "Sensor log override (e.g., SensorLog.csv)")
		mockFlag        = flag.Bool("mock", false, "Use a simulated rig instead of the sensor log")
		addrFlag        = flag.String("addr", "", "Data server address override (e.g., :9120)")
		checkpointFlag  = flag.String("checkpoint", "", "Checkpoint database path override")
		jsonFlag        = flag.Bool("log-json", false, "Log in JSON")
		verboseFlag     = flag.Bool("v", false, "Verbose (debug) logging")
		writeConfigFlag = flag.String("write-config", "", "Write the effective configuration to this file and exit")
	)
	flag.Parse()

	setupLogging(*jsonFlag, *verboseFlag)

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("path", *configFlag), slog.Any("error", err))
		os.Exit(1)
	}

	// Command line overrides
	if *logFlag != "" {
		cfg.Source.Path = *logFlag
	}
	if *addrFlag != "" {
		cfg.Server.Addr = *addrFlag
	}
	if *checkpointFlag != "" {
		cfg.Checkpoint.Path = *checkpointFlag
	}

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.Poll.TickBudget > cfg.Poll.Interval {
		slog.Warn("Tick budget exceeds poll interval",
			slog.Duration("budget", cfg.Poll.TickBudget),
			slog.Duration("interval", cfg.Poll.Interval))
	}

	if *writeConfigFlag != "" {
		if err := cfg.Save(*writeConfigFlag); err != nil {
			slog.Error("Failed to save configuration", slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("Configuration written", slog.String("path", *writeConfigFlag))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *mockFlag); err != nil {
		slog.Error("Stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func setupLogging(asJSON, verbose bool) {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if asJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(ctx context.Context, cfg *config.Config, useMock bool) error {
	shutdownTracing, err := obvy.Init(ctx, cfg.Telemetry.Exporter)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("Tracing shutdown failed", slog.Any("error", err))
		}
	}()

	// Create source
	var src sensorlog.Source
	if useMock {
		src = sensorlog.NewMock(&cfg.Mock, time.Now())
	} else {
		src = sensorlog.NewFile(cfg.Source.Path, cfg.Source.MaxChunkBytes)
	}

	reg, metrics := metric.NewRegistry()
	opts := []monitor.Option{monitor.WithMetrics(metrics)}

	if cfg.Checkpoint.Path != "" {
		store, err := checkpoint.Open(cfg.Checkpoint.Path)
		if err != nil {
			return fmt.Errorf("failed to open checkpoint: %w", err)
		}
		defer store.Close()
		opts = append(opts, monitor.WithCheckpoint(store))
	}

	mon := monitor.New(cfg, src, opts...)

	if cfg.Server.Addr != "" {
		srv := dataserv.New(cfg.Server.Addr, mon, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("Could not start data server", slog.Any("error", err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
				slog.Warn("Data server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	if cfg.Source.Watch && !useMock {
		w, err := sensorlog.NewWatcher(cfg.Source.Path)
		if err != nil {
			slog.Warn("File watching disabled", slog.Any("error", err))
		} else {
			defer w.Close()
			go w.Run(ctx, mon.Trigger)
		}
	}

	slog.Info("Monitoring",
		slog.String("source", src.Name()),
		slog.Duration("interval", cfg.Poll.Interval),
		slog.Duration("window", cfg.Window.Width))

	mon.Run(ctx)

	slog.Info("Stopped", slog.Int("cycles", mon.Snapshot().Cycles))
	return nil
}
