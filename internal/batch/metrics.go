package batch

import (
	"sync/atomic"
	"time"

	"github.com/turtacn/stockscan/pkg/types/job"
)

// Metrics receives engine instrumentation. The Prometheus implementation
// lives in internal/infrastructure/monitoring/prometheus; the engine
// defaults to NoopMetrics.
type Metrics interface {
	RecordItem(status job.ItemStatus, latency time.Duration, attempts int)
	RecordCacheAccess(hit bool)
	RecordRetry()
	RecordStageFailure(stage string)
	RecordRun(mode job.RunMode, total, failed int, duration time.Duration)
	SetInFlight(n int)
	SetEffectiveConcurrency(n int)
	RecordCleanup(evicted int)
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) RecordItem(job.ItemStatus, time.Duration, int)  {}
func (NoopMetrics) RecordCacheAccess(bool)                         {}
func (NoopMetrics) RecordRetry()                                   {}
func (NoopMetrics) RecordStageFailure(string)                      {}
func (NoopMetrics) RecordRun(job.RunMode, int, int, time.Duration) {}
func (NoopMetrics) SetInFlight(int)                                {}
func (NoopMetrics) SetEffectiveConcurrency(int)                    {}
func (NoopMetrics) RecordCleanup(int)                              {}

// Counters is a point-in-time copy of the engine's lifetime counters.
type Counters struct {
	TotalProcessed int64 `json:"total_processed"`
	ErrorCount     int64 `json:"error_count"`
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`
	Retries        int64 `json:"retries"`
	Timeouts       int64 `json:"timeouts"`
	Cleanups       int64 `json:"cleanups"`
	Runs           int64 `json:"runs"`
	CacheEntries   int   `json:"cache_entries"`
}

type counters struct {
	totalProcessed atomic.Int64
	errorCount     atomic.Int64
	cacheHits      atomic.Int64
	cacheMisses    atomic.Int64
	retries        atomic.Int64
	timeouts       atomic.Int64
	cleanups       atomic.Int64
	runs           atomic.Int64
}

func (c *counters) snapshot() Counters {
	return Counters{
		TotalProcessed: c.totalProcessed.Load(),
		ErrorCount:     c.errorCount.Load(),
		CacheHits:      c.cacheHits.Load(),
		CacheMisses:    c.cacheMisses.Load(),
		Retries:        c.retries.Load(),
		Timeouts:       c.timeouts.Load(),
		Cleanups:       c.cleanups.Load(),
		Runs:           c.runs.Load(),
	}
}
