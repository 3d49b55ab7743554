package container

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/shipment-workflow/internal/application/dispatcher"
	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/application/service"
	"github.com/garyjia/shipment-workflow/internal/domain/event"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/worker"
	"github.com/garyjia/shipment-workflow/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - Coordination
	locker port.PurchaseLocker
	redis  *redis.Client

	// Infrastructure - Storage
	storage *StorageBundle

	// Application
	sink       port.NotificationSink
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle

	// Workers
	workers      *worker.WorkerManager
	startWorkers bool

	// Lifecycle
	mu     sync.Mutex
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Purchase     port.PurchaseRepository
	StatusNode   port.StatusNodeRepository
	StageDetail  port.StageDetailRepository
	Evidence     port.EvidenceRepository
	Notification port.NotificationRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Sequencer   service.StatusSequencer
	Records     service.StageRecordFactory
	Evidence    service.EvidenceStore
	Notifier    service.NotificationDispatcher
	Transitions service.StageTransitionService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// Option configures a Container
type Option func(*Container)

// WithoutWorkers builds the workers but does not start them. One-shot
// commands use it to drive the reconciler themselves.
func WithoutWorkers() Option {
	return func(c *Container) {
		c.startWorkers = false
	}
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *Config, logger *zap.Logger, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Container{
		config:       cfg,
		logger:       logger,
		startWorkers: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Purchase locker
// 3. Storage
// 4. Notification sink and event dispatcher
// 5. Application services
// 6. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	var runCtx context.Context
	runCtx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"database", c.initDatabase},
		{"locker", func() error { return c.initLocker(runCtx) }},
		{"storage", c.initStorage},
		{"dispatcher", c.initDispatcher},
		{"services", c.initServices},
		{"workers", func() error { return c.initWorkers(runCtx) }},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			c.teardown()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Info("Component initialized", zap.String("component", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized so far
func (c *Container) teardown() error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	// pending async notifications finish before the database goes away
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		}
	}

	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, err error) {
		if err != nil {
			status.Components[name] = ComponentHealth{Healthy: false, Message: err.Error()}
			status.Overall = false
			return
		}
		status.Components[name] = ComponentHealth{Healthy: true}
	}

	if c.db == nil {
		set("database", errors.New("not initialized"))
	} else {
		set("database", c.db.PingContext(ctx))
	}

	if c.redis != nil {
		set("lock", c.redis.Ping(ctx).Err())
	} else if c.locker == nil {
		set("lock", errors.New("not initialized"))
	} else {
		set("lock", nil)
	}

	if c.dispatcher == nil {
		set("dispatcher", errors.New("not initialized"))
	} else {
		subs := c.dispatcher.ListHandlers(event.TypeStageTransitioned)
		if c.sink != nil && len(subs) == 0 {
			set("dispatcher", fmt.Errorf("no handler for %s", event.TypeStageTransitioned))
		} else {
			status.Components["dispatcher"] = ComponentHealth{Healthy: true, Message: handlerSummary(event.TypeStageTransitioned, subs)}
		}
	}

	if c.workers == nil {
		set("workers", errors.New("not initialized"))
	} else if c.startWorkers && !c.workers.IsRunning() {
		set("workers", errors.New("not running"))
	} else {
		set("workers", nil)
	}

	return status
}

// handlerSummary renders "type: name, name"
func handlerSummary(eventType event.Type, subs []dispatcher.Subscription) string {
	names := make([]string, 0, len(subs))
	for _, sub := range subs {
		names = append(names, sub.Name)
	}
	return fmt.Sprintf("%s: %s", eventType, strings.Join(names, ", "))
}

func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.db = dbBundle.DB
	c.txManager = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initLocker(ctx context.Context) error {
	bundle, err := ProvideLocker(ctx, &c.config.Lock, c.logger)
	if err != nil {
		return err
	}
	c.locker = bundle.Locker
	c.redis = bundle.Redis
	return nil
}

func (c *Container) initStorage() error {
	bundle, err := ProvideStorage(&c.config.Storage, c.logger)
	if err != nil {
		return err
	}
	c.storage = bundle
	return nil
}

func (c *Container) initDispatcher() error {
	sink, err := ProvideNotificationSink(&c.config.Notification, c.repositories, c.logger)
	if err != nil {
		return err
	}
	c.sink = sink

	disp, err := ProvideDispatcher(&c.config.Workflow, c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	return nil
}

func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Locker:     c.locker,
		Storage:    c.storage,
		Sink:       c.sink,
		Dispatcher: c.dispatcher,
		Workflow:   &c.config.Workflow,
		StorageCfg: &c.config.Storage,
		LinkBase:   c.config.Notification.LinkBase,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) initWorkers(ctx context.Context) error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Evidence:  c.services.Evidence,
		WorkerCfg: &c.config.Worker,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.workers = workers

	if !c.startWorkers {
		return nil
	}
	return c.workers.StartAll(ctx)
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.txManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Locker returns the purchase locker.
func (c *Container) Locker() port.PurchaseLocker {
	return c.locker
}

// Storage returns the file storage bundle.
func (c *Container) Storage() *StorageBundle {
	return c.storage
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.WorkerManager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
