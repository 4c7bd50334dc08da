package cli

import (
	"context"
	"encoding/json"

	"go.uber.org/multierr"

	"github.com/turtacn/stockscan/internal/batch"
	"github.com/turtacn/stockscan/internal/config"
	"github.com/turtacn/stockscan/internal/infrastructure/database/redis"
	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/stockscan/internal/infrastructure/storage/minio"
	"github.com/turtacn/stockscan/internal/infrastructure/system"
	"github.com/turtacn/stockscan/internal/interfaces/http/handlers"
	"github.com/turtacn/stockscan/internal/processor/remote"
)

// components is what both run and worker assemble from config: the engine
// with its cache tiers, probe and metrics, and the remote analyzer with its
// payload store.
type components struct {
	engine   *batch.Engine[json.RawMessage]
	analyzer *remote.Analyzer

	// Optional parts; nil when disabled in config or unavailable.
	collector prometheus.MetricsCollector
	metrics   *prometheus.EngineMetrics
	probe     *system.Probe
	payloads  *minio.PayloadStore
	redis     *redis.Client

	checks []handlers.HealthChecker
}

func buildComponents(cfg *config.Config, logger logging.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			err = multierr.Append(err, c.Close())
		}
	}()

	opts := []batch.Option{
		batch.WithLogger(logger),
		batch.WithCacheCapacity(cfg.Engine.CacheCapacity),
		batch.WithBackoff(batch.ExponentialBackoff{Base: cfg.Engine.BackoffBase, Max: cfg.Engine.BackoffMax}),
		batch.WithMonitorInterval(cfg.Engine.MonitorInterval),
		batch.WithRetentionFloor(cfg.Engine.RetentionFloor),
		batch.WithPerChunkRebalance(cfg.Engine.PerChunkRebalance),
	}

	if cfg.Metrics.Enabled {
		c.collector, err = prometheus.NewMetricsCollector(prometheus.CollectorConfig{
			Namespace:            cfg.Metrics.Namespace,
			EnableProcessMetrics: cfg.Metrics.EnableProcessMetrics,
			EnableGoMetrics:      cfg.Metrics.EnableGoMetrics,
		}, logger)
		if err != nil {
			return nil, err
		}
		c.metrics = prometheus.NewEngineMetrics(c.collector)
		opts = append(opts, batch.WithMetrics(c.metrics))
	}

	// Without a probe the engine keeps the caller's config and samples the
	// Go heap, so a failing probe is not fatal.
	if probe, perr := system.NewProbe(logger); perr != nil {
		logger.Warn("system probe unavailable, load balancing disabled", logging.Err(perr))
	} else {
		c.probe = probe
		opts = append(opts, batch.WithLoadProbe(probe.LoadProbe()), batch.WithResourceSampler(probe))
	}

	if cfg.Redis.Enabled {
		c.redis, err = redis.NewClient(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		store := redis.NewResultStore[json.RawMessage](c.redis, cfg.Redis.KeyPrefix, cfg.Redis.TTL, logger)
		local := batch.NewMemoryCache[json.RawMessage](cfg.Engine.CacheCapacity)
		opts = append(opts, batch.WithCache[json.RawMessage](batch.NewTieredCache[json.RawMessage](local, store, logger)))
		c.checks = append(c.checks, handlers.NamedCheck("redis", c.redis.Ping))
	}

	var fetcher remote.PayloadFetcher
	if cfg.MinIO.AccessKeyID != "" {
		c.payloads, err = minio.NewPayloadStore(cfg.MinIO, logger)
		if err != nil {
			return nil, err
		}
		fetcher = c.payloads
		c.checks = append(c.checks, handlers.NamedCheck("minio", c.payloads.Ping))
	}

	c.analyzer, err = remote.NewAnalyzer(cfg.Analyzer, fetcher, logger)
	if err != nil {
		return nil, err
	}
	c.checks = append(c.checks, handlers.NamedCheck("analyzer", c.analyzer.Ping))

	c.engine, err = batch.NewEngine[json.RawMessage](opts...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close releases the connections held by the optional parts.
func (c *components) Close() error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Close()
}

// ping runs every health check once, for startup diagnostics.
func (c *components) ping(ctx context.Context, logger logging.Logger) {
	for _, check := range c.checks {
		if err := check.Check(ctx); err != nil {
			logger.Warn("dependency not ready", logging.String("dependency", check.Name()), logging.Err(err))
		}
	}
}
