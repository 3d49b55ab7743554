package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/garyjia/shipment-workflow/internal/application/service"
	"go.uber.org/zap"
)

// EvidenceReconciler retries file moves of evidence rows left STAGED
type EvidenceReconciler interface {
	Reconcile(ctx context.Context, limit int, minAge time.Duration) (*service.ReconcileResult, error)
}

// ReconcileWorkerConfig holds configuration for the reconcile worker
type ReconcileWorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	MinAge    time.Duration
	Timeout   time.Duration
}

// DefaultReconcileWorkerConfig returns default configuration
func DefaultReconcileWorkerConfig() ReconcileWorkerConfig {
	return ReconcileWorkerConfig{
		Interval:  time.Minute,
		BatchSize: 50,
		MinAge:    5 * time.Minute,
		Timeout:   time.Minute,
	}
}

// EvidenceReconcileWorker periodically completes post-commit file moves that
// failed or were interrupted
type EvidenceReconcileWorker struct {
	config     ReconcileWorkerConfig
	reconciler EvidenceReconciler
	logger     *zap.Logger

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
	runs      int
	lastError error
}

// NewEvidenceReconcileWorker creates a new reconcile worker
func NewEvidenceReconcileWorker(config ReconcileWorkerConfig, reconciler EvidenceReconciler, logger *zap.Logger) *EvidenceReconcileWorker {
	defaults := DefaultReconcileWorkerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MinAge <= 0 {
		config.MinAge = defaults.MinAge
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	return &EvidenceReconcileWorker{
		config:     config,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Start begins the reconcile loop
func (w *EvidenceReconcileWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isRunning {
		return fmt.Errorf("reconcile worker already running")
	}

	var loopCtx context.Context
	loopCtx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.isRunning = true

	w.logger.Info("EvidenceReconcileWorker started",
		zap.Duration("interval", w.config.Interval),
		zap.Int("batch_size", w.config.BatchSize),
		zap.Duration("min_age", w.config.MinAge))

	go w.loop(loopCtx, w.done)
	return nil
}

// Stop terminates the loop and waits for the current pass to finish
func (w *EvidenceReconcileWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("EvidenceReconcileWorker stopped", zap.Int("runs", w.Runs()))
	return nil
}

// Name returns the worker name for identification
func (w *EvidenceReconcileWorker) Name() string {
	return "EvidenceReconcileWorker"
}

// Runs returns the number of completed passes
func (w *EvidenceReconcileWorker) Runs() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.runs
}

// LastError returns the error of the most recent pass, if any
func (w *EvidenceReconcileWorker) LastError() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastError
}

func (w *EvidenceReconcileWorker) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation pass
func (w *EvidenceReconcileWorker) RunOnce(ctx context.Context) *service.ReconcileResult {
	passCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	result, err := w.reconciler.Reconcile(passCtx, w.config.BatchSize, w.config.MinAge)

	w.mu.Lock()
	w.runs++
	w.lastError = err
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("Evidence reconciliation failed", zap.Error(err))
	}
	if result == nil {
		result = &service.ReconcileResult{}
	}
	for _, p := range result.Problems {
		w.logger.Warn("Evidence still inconsistent",
			zap.Int64("evidence_id", p.EvidenceID),
			zap.String("path", p.Path),
			zap.String("resolution", p.Resolution),
			zap.Error(p.Err))
	}
	return result
}
