package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Lock         LockConfig         `mapstructure:"lock"`
	Notification NotificationConfig `mapstructure:"notification"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Logger       LoggerConfig       `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// StorageConfig holds evidence file storage configuration
type StorageConfig struct {
	BaseDir         string `mapstructure:"base_dir"`
	StagingDir      string `mapstructure:"staging_dir"`
	EvidenceDir     string `mapstructure:"evidence_dir"`
	FileConcurrency int    `mapstructure:"file_concurrency"`
}

// WorkflowConfig holds stage transition configuration
type WorkflowConfig struct {
	TransitionTimeout  time.Duration `mapstructure:"transition_timeout"`
	FileOpTimeout      time.Duration `mapstructure:"file_op_timeout"`
	SequenceRetries    int           `mapstructure:"sequence_retries"`
	EnforceStageOrder  bool          `mapstructure:"enforce_stage_order"`
	AsyncNotifications bool          `mapstructure:"async_notifications"`
}

// LockConfig holds per-purchase lock configuration
type LockConfig struct {
	Driver        string        `mapstructure:"driver"`
	Redis         RedisConfig   `mapstructure:"redis"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NotificationConfig holds notification configuration
type NotificationConfig struct {
	LinkBase string     `mapstructure:"link_base"`
	Lark     LarkConfig `mapstructure:"lark"`
}

// LarkConfig holds Lark API configuration
type LarkConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	ReceiveIDType string `mapstructure:"receive_id_type"`
}

// WorkerConfig holds background worker configuration
type WorkerConfig struct {
	ReconcileInterval  time.Duration `mapstructure:"reconcile_interval"`
	ReconcileBatchSize int           `mapstructure:"reconcile_batch_size"`
	ReconcileMinAge    time.Duration `mapstructure:"reconcile_min_age"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load loads configuration from file and environment variables.
// An empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/shipment.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	// Storage defaults
	v.SetDefault("storage.base_dir", "data/files")
	v.SetDefault("storage.staging_dir", "staging")
	v.SetDefault("storage.evidence_dir", "evidence")
	v.SetDefault("storage.file_concurrency", 4)

	// Workflow defaults
	v.SetDefault("workflow.transition_timeout", 10*time.Second)
	v.SetDefault("workflow.file_op_timeout", 30*time.Second)
	v.SetDefault("workflow.sequence_retries", 3)
	v.SetDefault("workflow.enforce_stage_order", false)
	v.SetDefault("workflow.async_notifications", true)

	// Lock defaults
	v.SetDefault("lock.driver", "local")
	v.SetDefault("lock.redis.addr", "localhost:6379")
	v.SetDefault("lock.redis.db", 0)
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)

	// Notification defaults
	v.SetDefault("notification.lark.enabled", false)
	v.SetDefault("notification.lark.receive_id_type", "open_id")

	// Worker defaults
	v.SetDefault("worker.reconcile_interval", time.Minute)
	v.SetDefault("worker.reconcile_batch_size", 50)
	v.SetDefault("worker.reconcile_min_age", 5*time.Minute)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds environment variables to configuration
func bindEnvVars(v *viper.Viper) {
	// Sensitive credentials from environment
	_ = v.BindEnv("notification.lark.app_id", "LARK_APP_ID")
	_ = v.BindEnv("notification.lark.app_secret", "LARK_APP_SECRET")
	_ = v.BindEnv("lock.redis.password", "REDIS_PASSWORD")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	switch c.Lock.Driver {
	case "local", "redis":
	default:
		return fmt.Errorf("lock.driver must be local or redis, got %q", c.Lock.Driver)
	}

	if c.Notification.Lark.Enabled {
		if c.Notification.Lark.AppID == "" {
			return fmt.Errorf("notification.lark.app_id is required when lark is enabled")
		}
		if c.Notification.Lark.AppSecret == "" {
			return fmt.Errorf("notification.lark.app_secret is required when lark is enabled")
		}
	}

	return nil
}
