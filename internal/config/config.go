// Package config defines the configuration tree of stockscan. Only data
// types and validation live here; loading is in loader.go and defaults in
// defaults.go.
package config

import (
	"time"

	"github.com/turtacn/stockscan/internal/infrastructure/database/redis"
	"github.com/turtacn/stockscan/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/internal/infrastructure/storage/minio"
	"github.com/turtacn/stockscan/internal/processor/remote"
	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sections
// ─────────────────────────────────────────────────────────────────────────────

// EngineConfig holds the default run configuration and the engine tunables.
type EngineConfig struct {
	BatchSize         int           `mapstructure:"batch_size"`
	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	MemoryThresholdMB float64       `mapstructure:"memory_threshold_mb"`
	ItemTimeout       time.Duration `mapstructure:"item_timeout"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	PriorityMode      string        `mapstructure:"priority_mode"`
	CacheEnabled      bool          `mapstructure:"cache_enabled"`
	CacheCapacity     int           `mapstructure:"cache_capacity"`

	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	MonitorInterval   time.Duration `mapstructure:"monitor_interval"`
	RetentionFloor    int           `mapstructure:"retention_floor"`
	Adaptive          bool          `mapstructure:"adaptive"`
	PerChunkRebalance bool          `mapstructure:"per_chunk_rebalance"`
}

// RunConfig converts the section into the engine's per-run configuration.
func (e EngineConfig) RunConfig() job.RunConfig {
	return job.RunConfig{
		BatchSize:         e.BatchSize,
		MaxConcurrency:    e.MaxConcurrency,
		MemoryThresholdMB: e.MemoryThresholdMB,
		ItemTimeout:       e.ItemTimeout,
		RetryAttempts:     e.RetryAttempts,
		PriorityMode:      job.PriorityMode(e.PriorityMode),
		CacheEnabled:      e.CacheEnabled,
	}
}

// ServerConfig holds the admin HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // gin mode: debug | release | test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// MetricsConfig controls the Prometheus registry.
type MetricsConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Namespace            string `mapstructure:"namespace"`
	EnableProcessMetrics bool   `mapstructure:"enable_process_metrics"`
	EnableGoMetrics      bool   `mapstructure:"enable_go_metrics"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object.
type Config struct {
	Engine   EngineConfig      `mapstructure:"engine"`
	Redis    redis.Config      `mapstructure:"redis"`
	Kafka    kafka.Config      `mapstructure:"kafka"`
	MinIO    minio.Config      `mapstructure:"minio"`
	Analyzer remote.Config     `mapstructure:"analyzer"`
	Server   ServerConfig      `mapstructure:"server"`
	Metrics  MetricsConfig     `mapstructure:"metrics"`
	Log      logging.LogConfig `mapstructure:"log"`
}

// Validate checks the sections every command needs. Transport sections are
// checked by ValidateWorker.
func (c *Config) Validate() error {
	if err := c.Engine.RunConfig().Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid configuration").WithDetail("engine")
	}
	if c.Engine.CacheCapacity <= 0 {
		return invalid("engine.cache_capacity must be > 0")
	}
	if c.Engine.BackoffBase <= 0 || c.Engine.BackoffMax < c.Engine.BackoffBase {
		return invalid("engine.backoff_base must be > 0 and <= engine.backoff_max")
	}
	if c.Engine.MonitorInterval <= 0 {
		return invalid("engine.monitor_interval must be > 0")
	}
	if c.Engine.RetentionFloor < 0 {
		return invalid("engine.retention_floor must be >= 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return invalid("server.port %d out of range", c.Server.Port)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return invalid("redis.addr is required when redis.enabled")
	}
	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return invalid("metrics.namespace is required when metrics.enabled")
	}
	return nil
}

// ValidateWorker additionally checks what the Kafka worker needs.
func (c *Config) ValidateWorker() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := c.Kafka.Validate(); err != nil {
		return errors.Wrap(err, errors.ErrCodeValidation, "invalid configuration").WithDetail("kafka")
	}
	if c.Analyzer.BaseURL == "" {
		return invalid("analyzer.base_url is required for the worker")
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.New(errors.ErrCodeValidation, "invalid configuration").WithDetailf(format, args...)
}
