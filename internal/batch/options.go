package batch

import (
	"math/rand"
	"time"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
)

type engineOptions struct {
	logger            logging.Logger
	metrics           Metrics
	cache             interface{} // Cache[R], checked by NewEngine
	cacheCapacity     int
	probe             LoadProbe
	sampler           ResourceSampler
	backoff           Backoff
	monitorInterval   time.Duration
	retentionFloor    int
	maxSamples        int
	perChunkRebalance bool
	shuffle           ShuffleFunc
}

func defaultEngineOptions() *engineOptions {
	return &engineOptions{
		logger:          logging.NewNopLogger(),
		metrics:         NoopMetrics{},
		cacheCapacity:   DefaultCacheCapacity,
		sampler:         RuntimeSampler{},
		backoff:         DefaultBackoff(),
		monitorInterval: DefaultMonitorInterval,
		retentionFloor:  DefaultRetentionFloor,
		maxSamples:      DefaultMaxSamples,
	}
}

// Option configures an Engine.
type Option func(*engineOptions)

func WithLogger(l logging.Logger) Option {
	return func(o *engineOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *engineOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithCache replaces the default MemoryCache, e.g. with a TieredCache. Its
// type parameter must match the engine's.
func WithCache[R any](c Cache[R]) Option {
	return func(o *engineOptions) {
		if c != nil {
			o.cache = c
		}
	}
}

// WithCacheCapacity sizes the default MemoryCache. Ignored with WithCache.
func WithCacheCapacity(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.cacheCapacity = n
		}
	}
}

// WithLoadProbe sets the probe RunAdaptive consults. Without one, adaptive
// runs keep the base config.
func WithLoadProbe(p LoadProbe) Option {
	return func(o *engineOptions) { o.probe = p }
}

func WithResourceSampler(s ResourceSampler) Option {
	return func(o *engineOptions) {
		if s != nil {
			o.sampler = s
		}
	}
}

func WithBackoff(b Backoff) Option {
	return func(o *engineOptions) {
		if b != nil {
			o.backoff = b
		}
	}
}

func WithMonitorInterval(d time.Duration) Option {
	return func(o *engineOptions) {
		if d > 0 {
			o.monitorInterval = d
		}
	}
}

// WithRetentionFloor sets how many cache entries survive a memory cleanup.
func WithRetentionFloor(n int) Option {
	return func(o *engineOptions) {
		if n >= 0 {
			o.retentionFloor = n
		}
	}
}

// WithMaxSamples bounds the per-run resource time-series.
func WithMaxSamples(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.maxSamples = n
		}
	}
}

// WithPerChunkRebalance makes RunAdaptive re-sample load before every chunk
// instead of once per run.
func WithPerChunkRebalance(enabled bool) Option {
	return func(o *engineOptions) { o.perChunkRebalance = enabled }
}

// WithRandSource makes balanced ordering deterministic.
func WithRandSource(src rand.Source) Option {
	return func(o *engineOptions) {
		if src != nil {
			o.shuffle = NewShuffle(src)
		}
	}
}
