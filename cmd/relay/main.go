package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/studiowire/relay/internal/config"
	"github.com/studiowire/relay/internal/connection"
	"github.com/studiowire/relay/internal/registry"
	"github.com/studiowire/relay/internal/router"
	"github.com/studiowire/relay/internal/server"
	"github.com/studiowire/relay/internal/sweeper"
	"github.com/studiowire/relay/internal/version"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"sweep_interval", cfg.Sweep.Interval,
		"max_buffered_bytes", cfg.Routing.MaxBufferedBytes,
	)

	// Create context cancelled on shutdown signals
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Registry is the single shared aggregate; everything else gets it
	// by reference.
	reg := registry.New(logger)

	rt := router.New(router.Config{
		MaxBufferedBytes: cfg.Routing.MaxBufferedBytes,
	}, reg, logger)

	srv := server.New(server.Config{
		Port: cfg.Server.Port,
		Connection: connection.Config{
			WriteTimeout:  cfg.Connection.WriteTimeout,
			PongWait:      cfg.Connection.PongWait,
			PingInterval:  cfg.Connection.PingInterval,
			ReadLimit:     cfg.Connection.ReadLimit,
			SendQueueSize: cfg.Connection.SendQueueSize,
		},
	}, reg, rt, logger)

	swp := sweeper.New(sweeper.Config{
		Interval: cfg.Sweep.Interval,
	}, reg, rt, logger)

	if err := swp.Start(ctx); err != nil {
		logger.Error("failed to start sweeper", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(srv.Start)

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn("server shutdown error", "error", err)
		}
		return swp.Stop(shutdownCtx)
	})

	logger.Info("relay running",
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port),
	)

	if err := g.Wait(); err != nil {
		logger.Error("relay exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("relay stopped")
}
