package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/garyjia/shipment-workflow/internal/config"
	"github.com/garyjia/shipment-workflow/internal/container"
	httpAdapter "github.com/garyjia/shipment-workflow/internal/interfaces/http"
	"github.com/garyjia/shipment-workflow/pkg/utils"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	envFile := flag.String("env", ".env", "Optional dotenv file")
	flag.Parse()

	// Local .env is optional; real environment wins
	if err := gotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	if _, err := os.Stat(*configPath); errors.Is(err, os.ErrNotExist) {
		*configPath = ""
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := utils.NewLogger(cfg.ToLoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting shipment workflow service",
		zap.Int("port", cfg.Server.Port),
		zap.String("lock_driver", cfg.Lock.Driver),
		zap.Bool("enforce_stage_order", cfg.Workflow.EnforceStageOrder))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Container shutdown error", zap.Error(err))
		}
	}()

	health := func(ctx context.Context) (bool, interface{}) {
		status := c.Health(ctx)
		return status.Overall, status
	}

	server := httpAdapter.NewServer(
		cfg.ToServerConfig(),
		c.Services().Transitions,
		health,
		utils.NewKeyValueLogger(logger),
	)

	// Blocks until a signal arrives or the listener fails
	if err := server.Start(ctx); err != nil {
		logger.Error("HTTP server stopped with error", zap.Error(err))
		return
	}

	logger.Info("Server exited successfully")
}
