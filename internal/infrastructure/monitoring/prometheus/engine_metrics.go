package prometheus

import (
	"time"

	"github.com/turtacn/stockscan/pkg/types/job"
)

var (
	ItemLatencyBuckets = []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}
	RunDurationBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600}
	AttemptBuckets     = []float64{1, 2, 3, 4, 6, 8}
)

// EngineMetrics records batch engine activity. It satisfies batch.Metrics.
type EngineMetrics struct {
	items         CounterVec
	itemLatency   HistogramVec
	itemAttempts  HistogramVec
	cacheAccess   CounterVec
	retries       CounterVec
	stageFailures CounterVec
	runs          CounterVec
	runItems      CounterVec
	runDuration   HistogramVec
	inFlight      GaugeVec
	concurrency   GaugeVec
	cleanups      CounterVec
	evicted       CounterVec
	published     CounterVec
}

func NewEngineMetrics(c MetricsCollector) *EngineMetrics {
	return &EngineMetrics{
		items:         c.RegisterCounter("items_total", "Items finished, by status.", "status"),
		itemLatency:   c.RegisterHistogram("item_duration_seconds", "Per-item processing time including retries.", ItemLatencyBuckets, "status"),
		itemAttempts:  c.RegisterHistogram("item_attempts", "Processor invocations per item.", AttemptBuckets),
		cacheAccess:   c.RegisterCounter("cache_requests_total", "Result cache lookups, by outcome.", "result"),
		retries:       c.RegisterCounter("retries_total", "Retries after a failed attempt."),
		stageFailures: c.RegisterCounter("stage_failures_total", "Pipeline items that failed, by stage.", "stage"),
		runs:          c.RegisterCounter("runs_total", "Completed runs, by mode.", "mode"),
		runItems:      c.RegisterCounter("run_items_total", "Items accounted in run summaries.", "mode", "outcome"),
		runDuration:   c.RegisterHistogram("run_duration_seconds", "Wall time of a run.", RunDurationBuckets, "mode"),
		inFlight:      c.RegisterGauge("items_in_flight", "Items currently admitted to a processor."),
		concurrency:   c.RegisterGauge("effective_concurrency", "Concurrency limit currently in force."),
		cleanups:      c.RegisterCounter("memory_cleanups_total", "Cache cleanups triggered by the memory threshold."),
		evicted:       c.RegisterCounter("cache_evictions_total", "Cache entries dropped by memory cleanups."),
		published:     c.RegisterCounter("results_published_total", "Results written to the results topic, by outcome.", "outcome"),
	}
}

func (m *EngineMetrics) RecordItem(status job.ItemStatus, latency time.Duration, attempts int) {
	m.items.WithLabelValues(string(status)).Inc()
	m.itemLatency.WithLabelValues(string(status)).Observe(latency.Seconds())
	if attempts > 0 {
		m.itemAttempts.WithLabelValues().Observe(float64(attempts))
	}
}

func (m *EngineMetrics) RecordCacheAccess(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheAccess.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) RecordRetry() { m.retries.WithLabelValues().Inc() }

func (m *EngineMetrics) RecordStageFailure(stage string) {
	m.stageFailures.WithLabelValues(stage).Inc()
}

func (m *EngineMetrics) RecordRun(mode job.RunMode, total, failed int, d time.Duration) {
	m.runs.WithLabelValues(string(mode)).Inc()
	m.runItems.WithLabelValues(string(mode), "success").Add(float64(total - failed))
	m.runItems.WithLabelValues(string(mode), "failed").Add(float64(failed))
	m.runDuration.WithLabelValues(string(mode)).Observe(d.Seconds())
}

func (m *EngineMetrics) SetInFlight(n int) { m.inFlight.WithLabelValues().Set(float64(n)) }

func (m *EngineMetrics) SetEffectiveConcurrency(n int) {
	m.concurrency.WithLabelValues().Set(float64(n))
}

func (m *EngineMetrics) RecordCleanup(evicted int) {
	m.cleanups.WithLabelValues().Inc()
	m.evicted.WithLabelValues().Add(float64(evicted))
}

// RecordPublish counts a result handed to the results topic.
func (m *EngineMetrics) RecordPublish(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.published.WithLabelValues(outcome).Inc()
}
