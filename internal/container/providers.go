package container

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/shipment-workflow/internal/application/dispatcher"
	"github.com/garyjia/shipment-workflow/internal/application/port"
	"github.com/garyjia/shipment-workflow/internal/application/service"
	"github.com/garyjia/shipment-workflow/internal/domain/event"
	infraLark "github.com/garyjia/shipment-workflow/internal/infrastructure/external/lark"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/lock"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/persistence/repository"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/storage"
	"github.com/garyjia/shipment-workflow/internal/infrastructure/worker"
	"github.com/garyjia/shipment-workflow/pkg/database"
	"github.com/garyjia/shipment-workflow/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// LockBundle holds the purchase locker and the Redis client behind it, if any.
type LockBundle struct {
	Locker port.PurchaseLocker
	Redis  *redis.Client
}

// StorageBundle holds storage-related components.
type StorageBundle struct {
	FileStorage   port.FileStorage
	FolderManager port.FolderManager
}

// ProvideDatabase opens the SQLite database and applies the embedded
// schema migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		BusyTimeout:     cfg.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(db, logger).RunMigrations(sqlite.Migrations()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Purchase:     repository.NewPurchaseRepository(db.DB, logger),
		StatusNode:   repository.NewStatusNodeRepository(db.DB, logger),
		StageDetail:  repository.NewStageDetailRepository(db.DB, logger),
		Evidence:     repository.NewEvidenceRepository(db.DB, logger),
		Notification: repository.NewNotificationRepository(db.DB, logger),
	}, nil
}

// ProvideLocker creates the per-purchase locker for the configured driver.
func ProvideLocker(ctx context.Context, cfg *LockConfig, logger *zap.Logger) (*LockBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("lock config is required")
	}

	switch cfg.Driver {
	case "", LockDriverLocal:
		return &LockBundle{Locker: lock.NewLocalLocker()}, nil
	case LockDriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		locker := lock.NewRedisLocker(client, lock.RedisConfig{
			TTL:           cfg.TTL,
			RetryInterval: cfg.RetryInterval,
		}, logger)
		return &LockBundle{Locker: locker, Redis: client}, nil
	default:
		return nil, fmt.Errorf("unknown lock driver %q", cfg.Driver)
	}
}

// ProvideStorage creates file storage and folder manager.
func ProvideStorage(cfg *StorageConfig, logger *zap.Logger) (*StorageBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &StorageBundle{
		FileStorage:   storage.NewLocalFileStorage(cfg.BaseDir, logger),
		FolderManager: storage.NewLocalFolderManager(cfg.BaseDir, cfg.StagingDir, cfg.EvidenceDir, logger),
	}, nil
}

// ProvideNotificationSink always stores intents and, when enabled, also
// pushes them to Lark.
func ProvideNotificationSink(cfg *NotificationConfig, repos *RepositoryBundle, logger *zap.Logger) (port.NotificationSink, error) {
	if cfg == nil {
		return nil, fmt.Errorf("notification config is required")
	}
	if repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}

	sinks := []port.NotificationSink{service.NewStoreSink(repos.Notification)}

	if cfg.LarkEnabled {
		larkCfg := infraLark.Config{
			AppID:         cfg.LarkAppID,
			AppSecret:     cfg.LarkAppSecret,
			ReceiveIDType: cfg.LarkReceiveIDType,
		}
		messenger := infraLark.NewMessenger(infraLark.NewSDKClient(larkCfg), larkCfg, logger)
		sinks = append(sinks, infraLark.NewSink(messenger))
		logger.Info("Lark notification sink enabled")
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return service.NewCompositeSink(sinks...), nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(cfg *WorkflowConfig, logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("workflow config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKeyValueLogger(logger)),
		dispatcher.WithAsyncPublish(cfg.AsyncNotifications),
	), nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Locker     port.PurchaseLocker
	Storage    *StorageBundle
	Sink       port.NotificationSink
	Dispatcher dispatcher.Dispatcher
	Workflow   *WorkflowConfig
	StorageCfg *StorageConfig
	LinkBase   string
	Logger     *zap.Logger
}

// ProvideServices creates all application services and subscribes the
// notifier to stage transitions.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Locker == nil {
		return nil, fmt.Errorf("locker is required")
	}
	if deps.Storage == nil || deps.StorageCfg == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if deps.Workflow == nil {
		return nil, fmt.Errorf("workflow config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := utils.NewKeyValueLogger(deps.Logger)

	sequencer := service.NewStatusSequencer(deps.Repos.StatusNode, serviceLogger)
	records := service.NewStageRecordFactory(deps.Repos.StatusNode, deps.Repos.StageDetail, deps.Repos.Evidence, serviceLogger)
	evidence := service.NewEvidenceStore(
		deps.Repos.Evidence,
		deps.Storage.FileStorage,
		deps.Storage.FolderManager,
		service.EvidenceStoreConfig{FileConcurrency: deps.StorageCfg.FileConcurrency},
		serviceLogger,
	)
	notifier := service.NewNotificationDispatcher(deps.Repos.Purchase, deps.Sink, deps.LinkBase, serviceLogger)

	var policy port.StageOrderPolicy = service.FreeFormOrder{}
	if deps.Workflow.EnforceStageOrder {
		policy = service.NewStrictOrderPolicy()
	}

	transitions := service.NewStageTransitionService(
		deps.Repos.Purchase,
		deps.Repos.StatusNode,
		deps.TxManager,
		deps.Locker,
		sequencer,
		records,
		evidence,
		policy,
		deps.Dispatcher,
		service.TransitionConfig{
			TransitionTimeout: deps.Workflow.TransitionTimeout,
			FileOpTimeout:     deps.Workflow.FileOpTimeout,
			SequenceRetries:   deps.Workflow.SequenceRetries,
		},
		serviceLogger,
	)

	if deps.Sink != nil {
		deps.Dispatcher.SubscribeNamed(event.TypeStageTransitioned, "employee_notifier",
			"notifies the first assigned employee of a new stage", notifier.HandleStageTransitioned)
	}

	return &ServiceBundle{
		Sequencer:   sequencer,
		Records:     records,
		Evidence:    evidence,
		Notifier:    notifier,
		Transitions: transitions,
	}, nil
}

// WorkerDeps holds dependencies required for creating workers.
type WorkerDeps struct {
	Evidence  service.EvidenceStore
	WorkerCfg *WorkerConfig
	Logger    *zap.Logger
}

// ProvideWorkers creates and registers all background workers.
// Returns *worker.WorkerManager with all workers registered but not started.
func ProvideWorkers(deps *WorkerDeps) (*worker.WorkerManager, error) {
	if deps == nil {
		return nil, fmt.Errorf("worker dependencies are required")
	}
	if deps.Evidence == nil {
		return nil, fmt.Errorf("evidence store is required")
	}
	if deps.WorkerCfg == nil {
		return nil, fmt.Errorf("worker config is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	manager := worker.NewWorkerManager(deps.Logger)

	reconcileWorker := worker.NewEvidenceReconcileWorker(worker.ReconcileWorkerConfig{
		Interval:  deps.WorkerCfg.ReconcileInterval,
		BatchSize: deps.WorkerCfg.ReconcileBatchSize,
		MinAge:    deps.WorkerCfg.ReconcileMinAge,
	}, deps.Evidence, deps.Logger)
	manager.Register(reconcileWorker)

	return manager, nil
}
