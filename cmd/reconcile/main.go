package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/garyjia/shipment-workflow/internal/config"
	"github.com/garyjia/shipment-workflow/internal/container"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/worker"
	"github.com/garyjia/shipment-workflow/pkg/utils"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	batch := flag.Int("batch", 0, "Max staged rows per stage (0 uses worker.reconcile_batch_size)")
	minAge := flag.Duration("min-age", 0, "Only reconcile rows staged longer than this (0 uses worker.reconcile_min_age)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Overall timeout")
	flag.Parse()

	_ = gotenv.Load()

	if _, err := os.Stat(*configPath); errors.Is(err, os.ErrNotExist) {
		*configPath = ""
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(cfg.ToLoggerConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	c, err := container.NewContainer(cfg.ToContainerConfig(), logger, container.WithoutWorkers())
	if err != nil {
		logger.Fatal("Failed to create container", zap.Error(err))
	}
	if err := c.Start(ctx); err != nil {
		logger.Fatal("Failed to start container", zap.Error(err))
	}
	defer c.Close()

	workerCfg := worker.ReconcileWorkerConfig{
		BatchSize: cfg.Worker.ReconcileBatchSize,
		MinAge:    cfg.Worker.ReconcileMinAge,
		Timeout:   *timeout,
	}
	if *batch > 0 {
		workerCfg.BatchSize = *batch
	}
	if *minAge > 0 {
		workerCfg.MinAge = *minAge
	}

	w := worker.NewEvidenceReconcileWorker(workerCfg, c.Services().Evidence, logger)
	result := w.RunOnce(ctx)

	fmt.Printf("Scanned:  %d\n", result.Scanned)
	fmt.Printf("Stored:   %d\n", result.Stored)
	fmt.Printf("Deleted:  %d\n", result.Deleted)
	fmt.Printf("Problems: %d\n", len(result.Problems))
	for _, p := range result.Problems {
		fmt.Printf("  evidence %d %s %s (%s): %v\n", p.EvidenceID, p.Action, p.Path, p.Resolution, p.Err)
	}

	if err := w.LastError(); err != nil || len(result.Problems) > 0 {
		c.Close()
		os.Exit(1)
	}
}
