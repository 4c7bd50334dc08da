package config

import (
	"time"

	"github.com/spf13/viper"
)

// Defaults applied when a field is left unset.
const (
	DefaultBatchSize         = 8
	DefaultMaxConcurrency    = 4
	DefaultMemoryThresholdMB = 512
	DefaultItemTimeout       = 30 * time.Second
	DefaultRetryAttempts     = 2
	DefaultPriorityMode      = "speed"
	DefaultCacheCapacity     = 1000
	DefaultBackoffBase       = time.Second
	DefaultBackoffMax        = 30 * time.Second
	DefaultMonitorInterval   = 5 * time.Second
	DefaultRetentionFloor    = 100

	DefaultServerPort            = 8081
	DefaultServerMode            = "release"
	DefaultServerShutdownTimeout = 15 * time.Second

	DefaultMetricsNamespace = "stockscan"

	DefaultRedisAddr   = "localhost:6379"
	DefaultRedisPrefix = "stockscan:result:"
	DefaultRedisTTL    = 24 * time.Hour

	DefaultKafkaBroker       = "localhost:9092"
	DefaultKafkaGroupID      = "stockscan-worker"
	DefaultKafkaItemsTopic   = "stockscan.items"
	DefaultKafkaResultsTopic = "stockscan.results"
	DefaultKafkaDLQTopic     = "stockscan.items.dlq"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "stockscan-payloads"

	DefaultAnalyzerTimeout = 20 * time.Second

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// NewDefaultConfig returns a Config with every default applied.
func NewDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Engine.CacheEnabled = true
	cfg.Engine.RetryAttempts = DefaultRetryAttempts
	cfg.Metrics.Enabled = true
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero-value fields of cfg. Explicit values win. Boolean
// switches cannot be told apart from false here; their defaults come from
// setViperDefaults or NewDefaultConfig.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	e := &cfg.Engine
	if e.BatchSize == 0 {
		e.BatchSize = DefaultBatchSize
	}
	if e.MaxConcurrency == 0 {
		e.MaxConcurrency = DefaultMaxConcurrency
	}
	if e.MemoryThresholdMB == 0 {
		e.MemoryThresholdMB = DefaultMemoryThresholdMB
	}
	if e.ItemTimeout == 0 {
		e.ItemTimeout = DefaultItemTimeout
	}
	if e.PriorityMode == "" {
		e.PriorityMode = DefaultPriorityMode
	}
	if e.CacheCapacity == 0 {
		e.CacheCapacity = DefaultCacheCapacity
	}
	if e.BackoffBase == 0 {
		e.BackoffBase = DefaultBackoffBase
	}
	if e.BackoffMax == 0 {
		e.BackoffMax = DefaultBackoffMax
	}
	if e.MonitorInterval == 0 {
		e.MonitorInterval = DefaultMonitorInterval
	}
	if e.RetentionFloor == 0 {
		e.RetentionFloor = DefaultRetentionFloor
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}

	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = DefaultMetricsNamespace
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisPrefix
	}
	if cfg.Redis.TTL == 0 {
		cfg.Redis.TTL = DefaultRedisTTL
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.ItemsTopic == "" {
		cfg.Kafka.ItemsTopic = DefaultKafkaItemsTopic
	}
	if cfg.Kafka.ResultsTopic == "" {
		cfg.Kafka.ResultsTopic = DefaultKafkaResultsTopic
	}
	if cfg.Kafka.DeadLetterTopic == "" {
		cfg.Kafka.DeadLetterTopic = DefaultKafkaDLQTopic
	}

	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.DefaultBucket == "" {
		cfg.MinIO.DefaultBucket = DefaultMinIOBucket
	}

	if cfg.Analyzer.Timeout == 0 {
		cfg.Analyzer.Timeout = DefaultAnalyzerTimeout
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

// setViperDefaults registers every key with viper. Besides supplying
// defaults it makes AutomaticEnv see keys that appear in no config file.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("engine.batch_size", DefaultBatchSize)
	v.SetDefault("engine.max_concurrency", DefaultMaxConcurrency)
	v.SetDefault("engine.memory_threshold_mb", DefaultMemoryThresholdMB)
	v.SetDefault("engine.item_timeout", DefaultItemTimeout)
	v.SetDefault("engine.retry_attempts", DefaultRetryAttempts)
	v.SetDefault("engine.priority_mode", DefaultPriorityMode)
	v.SetDefault("engine.cache_enabled", true)
	v.SetDefault("engine.cache_capacity", DefaultCacheCapacity)
	v.SetDefault("engine.backoff_base", DefaultBackoffBase)
	v.SetDefault("engine.backoff_max", DefaultBackoffMax)
	v.SetDefault("engine.monitor_interval", DefaultMonitorInterval)
	v.SetDefault("engine.retention_floor", DefaultRetentionFloor)
	v.SetDefault("engine.adaptive", false)
	v.SetDefault("engine.per_chunk_rebalance", false)

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.mode", DefaultServerMode)
	v.SetDefault("server.shutdown_timeout", DefaultServerShutdownTimeout)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", DefaultMetricsNamespace)
	v.SetDefault("metrics.enable_process_metrics", false)
	v.SetDefault("metrics.enable_go_metrics", false)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", DefaultRedisAddr)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", DefaultRedisPrefix)
	v.SetDefault("redis.ttl", DefaultRedisTTL)
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.pool_size", 0)
	v.SetDefault("redis.dial_timeout", 0)
	v.SetDefault("redis.read_timeout", 0)
	v.SetDefault("redis.write_timeout", 0)
	v.SetDefault("redis.max_retries", 0)
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.tls_insecure", false)

	v.SetDefault("kafka.brokers", []string{DefaultKafkaBroker})
	v.SetDefault("kafka.group_id", DefaultKafkaGroupID)
	v.SetDefault("kafka.items_topic", DefaultKafkaItemsTopic)
	v.SetDefault("kafka.results_topic", DefaultKafkaResultsTopic)
	v.SetDefault("kafka.dead_letter_topic", DefaultKafkaDLQTopic)
	v.SetDefault("kafka.start_offset", "earliest")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", time.Second)
	v.SetDefault("kafka.max_retry_backoff", 30*time.Second)
	v.SetDefault("kafka.sasl_mechanism", "")
	v.SetDefault("kafka.sasl_username", "")
	v.SetDefault("kafka.sasl_password", "")
	v.SetDefault("kafka.tls_enabled", false)
	v.SetDefault("kafka.tls_cert_path", "")

	v.SetDefault("minio.endpoint", DefaultMinIOEndpoint)
	v.SetDefault("minio.access_key_id", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.default_bucket", DefaultMinIOBucket)
	v.SetDefault("minio.region", "")
	v.SetDefault("minio.max_object_bytes", 0)

	v.SetDefault("analyzer.base_url", "")
	v.SetDefault("analyzer.api_key", "")
	v.SetDefault("analyzer.timeout", DefaultAnalyzerTimeout)

	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
}
