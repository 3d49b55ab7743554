// Package container provides dependency injection and lifecycle management
// for the shipment workflow service.
package container

import (
	"fmt"
	"time"
)

// Lock drivers
const (
	LockDriverLocal = "local"
	LockDriverRedis = "redis"
)

// Config holds all configuration for the Container.
// It aggregates configurations for all subsystems.
type Config struct {
	Database     DatabaseConfig
	Storage      StorageConfig
	Workflow     WorkflowConfig
	Lock         LockConfig
	Notification NotificationConfig
	Server       ServerConfig
	Worker       WorkerConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// StorageConfig holds file storage settings.
type StorageConfig struct {
	// BaseDir is the storage root; the other directories are relative to it
	BaseDir string

	// StagingDir is where the upload layer leaves files before a transition
	StagingDir string

	// EvidenceDir is the permanent evidence tree
	EvidenceDir string

	// FileConcurrency bounds parallel post-commit file moves
	FileConcurrency int
}

// WorkflowConfig holds stage transition settings.
type WorkflowConfig struct {
	TransitionTimeout  time.Duration
	FileOpTimeout      time.Duration
	SequenceRetries    int
	EnforceStageOrder  bool
	AsyncNotifications bool
}

// LockConfig selects the per-purchase lock implementation.
type LockConfig struct {
	// Driver is "local" (single process) or "redis"
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
	RetryInterval time.Duration
}

// NotificationConfig holds notification sink settings.
type NotificationConfig struct {
	// LinkBase prefixes the purchase link in notifications
	LinkBase string

	LarkEnabled       bool
	LarkAppID         string
	LarkAppSecret     string
	LarkReceiveIDType string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// WorkerConfig holds background worker settings.
type WorkerConfig struct {
	ReconcileInterval  time.Duration
	ReconcileBatchSize int
	ReconcileMinAge    time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/shipment.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Storage: StorageConfig{
			BaseDir:         "data/files",
			StagingDir:      "staging",
			EvidenceDir:     "evidence",
			FileConcurrency: 4,
		},
		Workflow: WorkflowConfig{
			TransitionTimeout:  10 * time.Second,
			FileOpTimeout:      30 * time.Second,
			SequenceRetries:    3,
			AsyncNotifications: true,
		},
		Lock: LockConfig{
			Driver:        LockDriverLocal,
			TTL:           30 * time.Second,
			RetryInterval: 50 * time.Millisecond,
		},
		Notification: NotificationConfig{
			LarkReceiveIDType: "open_id",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Worker: WorkerConfig{
			ReconcileInterval:  time.Minute,
			ReconcileBatchSize: 50,
			ReconcileMinAge:    5 * time.Minute,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	if c.Storage.StagingDir == "" || c.Storage.EvidenceDir == "" {
		return fmt.Errorf("storage.staging_dir and storage.evidence_dir are required")
	}
	if c.Storage.StagingDir == c.Storage.EvidenceDir {
		return fmt.Errorf("storage.staging_dir and storage.evidence_dir must differ")
	}

	if c.Workflow.SequenceRetries < 0 {
		return fmt.Errorf("workflow.sequence_retries must not be negative")
	}

	switch c.Lock.Driver {
	case LockDriverLocal:
	case LockDriverRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis.addr is required for the redis driver")
		}
	default:
		return fmt.Errorf("unknown lock.driver %q", c.Lock.Driver)
	}

	if c.Notification.LarkEnabled {
		if c.Notification.LarkAppID == "" {
			return fmt.Errorf("notification.lark.app_id is required")
		}
		if c.Notification.LarkAppSecret == "" {
			return fmt.Errorf("notification.lark.app_secret is required")
		}
	}

	return nil
}
