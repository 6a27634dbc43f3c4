// Command crossmix plays a configured score through the realtime mixing
// engine, or renders it to a WAV file.
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

	"github.com/MrWong99/crossmix/internal/app"
	"github.com/MrWong99/crossmix/internal/config"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "crossmix.yaml", "path to the YAML configuration file")
	renderPath := flag.String("render", "", "render the score to this WAV file instead of playing it")
	seconds := flag.Float64("seconds", 10, "length of the render in seconds")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "crossmix: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "crossmix: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("crossmix starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"sample_rate", cfg.Engine.SampleRate,
		"channels", cfg.Engine.OutputChannels,
		"voices", len(cfg.Score),
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []app.Option{app.WithLogger(logger, level), app.WithVersion(version)}
	if *watch && *renderPath == "" {
		opts = append(opts, app.WithConfigPath(*configPath))
	}
	application, err := app.New(ctx, cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *renderPath != "" {
		return render(ctx, application, *renderPath, time.Duration(*seconds*float64(time.Second)))
	}

	slog.Info("playing; press Ctrl+C to stop")
	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func render(ctx context.Context, a *app.App, path string, d time.Duration) int {
	f, err := os.Create(path)
	if err != nil {
		slog.Error("failed to create output file", "path", path, "err", err)
		return 1
	}
	renderErr := a.Render(ctx, f, d)
	closeErr := f.Close()
	_ = a.Shutdown(context.Background())
	if err := errors.Join(renderErr, closeErr); err != nil {
		slog.Error("render failed", "path", path, "err", err)
		return 1
	}
	slog.Info("render complete", "path", path, "duration", d)
	return 0
}
