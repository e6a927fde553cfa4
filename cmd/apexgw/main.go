// Command apexgw runs the API gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apexgw/apexgw/internal/config"
	"github.com/apexgw/apexgw/internal/gateway"
	"github.com/apexgw/apexgw/internal/observability"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "apexgw: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gw, err := gateway.New(cfg, gateway.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}
	defer func() { _ = gw.Close() }()

	watcher, err := config.NewWatcher(configPath, func(next *config.GatewayConfig) {
		// Only the route table reloads at runtime; backend wiring changes
		// require a restart.
		gw.ApplyRoutes(next.Routes)
	}, config.WithWatcherLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Start(); err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Stop()

	server := gateway.NewServer(gw, cfg.Listen, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", observability.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}
