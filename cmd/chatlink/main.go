package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"ChatLink/internal/app"
	"ChatLink/internal/config"
	"ChatLink/internal/telemetry"
)

func main() {
	cfg, err := config.Parse(os.Args[0], os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger, closeLog, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// A second interrupt during shutdown kills the process.
	context.AfterFunc(ctx, stop)

	tracer, meter, shutdown, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
		os.Exit(1)
	}
	defer shutdown()

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}
	logger.Info("starting chatlink", "base_url", cfg.BaseURL, "poll_interval", cfg.PollInterval())

	client, err := app.New(cfg, os.Stdin, os.Stdout,
		app.WithLogger(logger),
		app.WithTracer(tracer),
		app.WithMeter(meter),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize chatlink: %v\n", err)
		os.Exit(1)
	}

	if err := client.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
