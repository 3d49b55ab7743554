package config

import (
	"github.com/garyjia/shipment-workflow/internal/container"
	httpAdapter "github.com/garyjia/shipment-workflow/internal/interfaces/http"
	"github.com/garyjia/shipment-workflow/pkg/utils"
)

// ToContainerConfig converts the application Config to a container.Config.
// This provides a bridge between the file-based config loaded by viper
// and the container's configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Storage: container.StorageConfig{
			BaseDir:         c.Storage.BaseDir,
			StagingDir:      c.Storage.StagingDir,
			EvidenceDir:     c.Storage.EvidenceDir,
			FileConcurrency: c.Storage.FileConcurrency,
		},
		Workflow: container.WorkflowConfig{
			TransitionTimeout:  c.Workflow.TransitionTimeout,
			FileOpTimeout:      c.Workflow.FileOpTimeout,
			SequenceRetries:    c.Workflow.SequenceRetries,
			EnforceStageOrder:  c.Workflow.EnforceStageOrder,
			AsyncNotifications: c.Workflow.AsyncNotifications,
		},
		Lock: container.LockConfig{
			Driver:        c.Lock.Driver,
			RedisAddr:     c.Lock.Redis.Addr,
			RedisPassword: c.Lock.Redis.Password,
			RedisDB:       c.Lock.Redis.DB,
			TTL:           c.Lock.TTL,
			RetryInterval: c.Lock.RetryInterval,
		},
		Notification: container.NotificationConfig{
			LinkBase:          c.Notification.LinkBase,
			LarkEnabled:       c.Notification.Lark.Enabled,
			LarkAppID:         c.Notification.Lark.AppID,
			LarkAppSecret:     c.Notification.Lark.AppSecret,
			LarkReceiveIDType: c.Notification.Lark.ReceiveIDType,
		},
		Server: container.ServerConfig{
			Host:         c.Server.Host,
			Port:         c.Server.Port,
			ReadTimeout:  c.Server.ReadTimeout,
			WriteTimeout: c.Server.WriteTimeout,
		},
		Worker: container.WorkerConfig{
			ReconcileInterval:  c.Worker.ReconcileInterval,
			ReconcileBatchSize: c.Worker.ReconcileBatchSize,
			ReconcileMinAge:    c.Worker.ReconcileMinAge,
		},
	}
}

// ToServerConfig converts the server section for the HTTP adapter
func (c *Config) ToServerConfig() httpAdapter.ServerConfig {
	return httpAdapter.ServerConfig{
		Host:            c.Server.Host,
		Port:            c.Server.Port,
		ReadTimeout:     c.Server.ReadTimeout,
		WriteTimeout:    c.Server.WriteTimeout,
		ShutdownTimeout: c.Server.ShutdownTimeout,
	}
}

// ToLoggerConfig converts the logger section for utils.NewLogger
func (c *Config) ToLoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:      c.Logger.Level,
		OutputPath: c.Logger.OutputPath,
		Format:     c.Logger.Format,
	}
}
