package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker is a background loop owned by the WorkerManager
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// WorkerManager starts registered workers together and stops, in reverse
// order, only the ones that actually started.
type WorkerManager struct {
	logger *zap.Logger

	mu         sync.RWMutex
	registered []Worker
	started    []Worker
	cancel     context.CancelFunc
}

// NewWorkerManager creates a new worker manager
func NewWorkerManager(logger *zap.Logger) *WorkerManager {
	return &WorkerManager{logger: logger}
}

// Register adds a worker. Workers registered while running start with the next StartAll.
func (m *WorkerManager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.registered = append(m.registered, w)
	m.logger.Debug("Worker registered", zap.String("worker_name", w.Name()))
}

// StartAll starts every registered worker under a context derived from ctx.
// A worker that fails to start is logged and skipped.
func (m *WorkerManager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		return fmt.Errorf("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = m.started[:0]

	for _, w := range m.registered {
		if err := w.Start(runCtx); err != nil {
			m.logger.Error("Failed to start worker",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			continue
		}
		m.started = append(m.started, w)
	}

	m.logger.Info("Workers started",
		zap.Int("started", len(m.started)),
		zap.Int("registered", len(m.registered)))
	return nil
}

// StopAll cancels the shared context and stops started workers newest first
func (m *WorkerManager) StopAll() error {
	m.mu.Lock()
	cancel := m.cancel
	started := m.started
	m.cancel, m.started = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		w := started[i]
		if err := w.Stop(); err != nil {
			m.logger.Error("Failed to stop worker",
				zap.String("worker_name", w.Name()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", w.Name(), err))
		}
	}

	m.logger.Info("Workers stopped", zap.Int("count", len(started)))
	return errors.Join(errs...)
}

// GetWorkerCount returns the number of registered workers
func (m *WorkerManager) GetWorkerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.registered)
}

// IsRunning reports whether StartAll has been called without a matching StopAll
func (m *WorkerManager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cancel != nil
}

// Running lists the names of the workers that started
func (m *WorkerManager) Running() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.started))
	for _, w := range m.started {
		names = append(names, w.Name())
	}
	return names
}
