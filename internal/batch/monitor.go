package batch

import (
	"context"
	"runtime"
	"runtime/debug"
	"runtime/metrics"
	"sync"
	"sync/atomic"
	"time"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/types/job"
)

// Monitor defaults.
const (
	DefaultMonitorInterval = 5 * time.Second
	DefaultRetentionFloor  = 100
	DefaultMaxSamples      = 720
)

// ResourceSampler reads the current resource usage.
type ResourceSampler interface {
	Sample(ctx context.Context) (job.ResourceSample, error)
}

// RuntimeSampler reports Go heap usage only. It is the fallback when no
// OS-level sampler is configured.
type RuntimeSampler struct{}

func (RuntimeSampler) Sample(context.Context) (job.ResourceSample, error) {
	return job.ResourceSample{Timestamp: time.Now(), MemoryMB: heapMB()}, nil
}

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// heapMB reads live heap bytes without stopping the world.
func heapMB() float64 {
	s := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(s)
	if s[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return float64(s[0].Value.Uint64()) / (1 << 20)
}

// MonitorConfig tunes a Monitor.
type MonitorConfig struct {
	Interval time.Duration
	// ThresholdMB triggers a cleanup when a sample exceeds it. Zero
	// disables cleanup.
	ThresholdMB float64
	// RetentionFloor is how many cache entries survive a cleanup.
	RetentionFloor int
	MaxSamples     int
}

// Monitor samples resource usage during one run, keeps a bounded
// time-series and frees memory when usage crosses the threshold.
type Monitor struct {
	sampler ResourceSampler
	cfg     MonitorConfig
	cleanup []func(keep int) int
	logger  logging.Logger
	metrics Metrics
	release func()

	mu       sync.Mutex
	samples  []job.ResourceSample
	peakMB   float64
	cleanups int

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor builds a stopped monitor. Each cleanup hook receives the
// retention floor and returns how many entries it evicted.
func NewMonitor(sampler ResourceSampler, cfg MonitorConfig, logger logging.Logger, m Metrics, cleanup ...func(keep int) int) *Monitor {
	if sampler == nil {
		sampler = RuntimeSampler{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultMonitorInterval
	}
	if cfg.RetentionFloor < 0 {
		cfg.RetentionFloor = DefaultRetentionFloor
	}
	if cfg.MaxSamples <= 0 {
		cfg.MaxSamples = DefaultMaxSamples
	}
	if m == nil {
		m = NoopMetrics{}
	}
	return &Monitor{
		sampler: sampler,
		cfg:     cfg,
		cleanup: cleanup,
		logger:  logging.OrNop(logger),
		metrics: m,
		release: func() {
			runtime.GC()
			debug.FreeOSMemory()
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// Start launches the sampling loop. It ends on Stop or when ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				m.SampleNow(ctx)
			}
		}
	}()
}

// Stop ends the sampling loop and waits for it. Safe to call more than once
// and on a monitor that was never started.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}

// SampleNow takes one sample synchronously, records it and runs a cleanup
// if the threshold is exceeded. ok is false when the sampler failed.
func (m *Monitor) SampleNow(ctx context.Context) (sample job.ResourceSample, ok bool) {
	sample, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Debug("resource sample failed", logging.Err(err))
		return job.ResourceSample{}, false
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}

	m.mu.Lock()
	if len(m.samples) >= m.cfg.MaxSamples {
		copy(m.samples, m.samples[1:])
		m.samples = m.samples[:len(m.samples)-1]
	}
	m.samples = append(m.samples, sample)
	if sample.MemoryMB > m.peakMB {
		m.peakMB = sample.MemoryMB
	}
	m.mu.Unlock()

	if m.cfg.ThresholdMB > 0 && sample.MemoryMB > m.cfg.ThresholdMB {
		m.runCleanup(sample.MemoryMB)
	}
	return sample, true
}

func (m *Monitor) runCleanup(usedMB float64) {
	evicted := 0
	for _, fn := range m.cleanup {
		evicted += fn(m.cfg.RetentionFloor)
	}
	m.release()

	m.mu.Lock()
	m.cleanups++
	m.mu.Unlock()

	m.metrics.RecordCleanup(evicted)
	m.logger.Warn("memory threshold exceeded, cleaned up",
		logging.Float64("memory_mb", usedMB),
		logging.Float64("threshold_mb", m.cfg.ThresholdMB),
		logging.Int("evicted", evicted),
		logging.Int("retained_floor", m.cfg.RetentionFloor),
	)
}

// Samples returns a copy of the recorded time-series, oldest first.
func (m *Monitor) Samples() []job.ResourceSample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]job.ResourceSample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Peak is the highest MemoryMB seen.
func (m *Monitor) Peak() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakMB
}

// Cleanups is the number of threshold cleanups performed.
func (m *Monitor) Cleanups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanups
}
