// Package batch is the adaptive batch-processing engine: it orders items,
// splits them into chunks, runs each chunk under a concurrency gate with
// per-item timeout, retry and caching, watches memory, reports progress and
// aggregates a run summary.
//
// The engine owns no wire format. Processors, load probes, samplers, remote
// cache tiers and metrics sinks are injected.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

// Engine runs batches of items through a processor producing R. An Engine
// may serve several runs at once; they share the cache and the counters.
type Engine[R any] struct {
	logger            logging.Logger
	metrics           Metrics
	cache             Cache[R]
	probe             LoadProbe
	sampler           ResourceSampler
	monitorInterval   time.Duration
	retentionFloor    int
	maxSamples        int
	perChunkRebalance bool
	shuffle           ShuffleFunc

	counters *counters
	exec     *executor[R]

	lastMu sync.RWMutex
	last   *job.RunSummary[R]
}

// NewEngine builds an engine. It fails only when WithCache was given a
// cache of another result type.
func NewEngine[R any](opts ...Option) (*Engine[R], error) {
	o := defaultEngineOptions()
	for _, opt := range opts {
		opt(o)
	}

	var cache Cache[R]
	switch c := o.cache.(type) {
	case nil:
		cache = NewMemoryCache[R](o.cacheCapacity)
	case Cache[R]:
		cache = c
	default:
		return nil, errors.New(errors.ErrCodeInvalidConfig, "cache result type does not match engine").
			WithDetailf("got %T", o.cache)
	}

	logger := o.logger.Named("batch")
	cnt := &counters{}
	return &Engine[R]{
		logger:            logger,
		metrics:           o.metrics,
		cache:             cache,
		probe:             o.probe,
		sampler:           o.sampler,
		monitorInterval:   o.monitorInterval,
		retentionFloor:    o.retentionFloor,
		maxSamples:        o.maxSamples,
		perChunkRebalance: o.perChunkRebalance,
		shuffle:           o.shuffle,
		counters:          cnt,
		exec: &executor[R]{
			cache:    cache,
			backoff:  o.backoff,
			metrics:  o.metrics,
			logger:   logger,
			counters: cnt,
			memory:   heapMB,
		},
	}, nil
}

// Stats returns the lifetime counters.
func (e *Engine[R]) Stats() Counters {
	s := e.counters.snapshot()
	s.CacheEntries = e.cache.Len()
	return s
}

// Cache exposes the result cache, e.g. for clearing it.
func (e *Engine[R]) Cache() Cache[R] { return e.cache }

// LastRun returns the overview of the most recent finished run.
func (e *Engine[R]) LastRun() (job.RunSummary[R], bool) {
	e.lastMu.RLock()
	defer e.lastMu.RUnlock()
	if e.last == nil {
		return job.RunSummary[R]{}, false
	}
	return *e.last, true
}

// LastRunOverview is LastRun without the type parameter, for callers such
// as the admin API that only serialise it.
func (e *Engine[R]) LastRunOverview() (interface{}, bool) {
	s, ok := e.LastRun()
	if !ok {
		return nil, false
	}
	return s, true
}

// RunBatch processes items with cfg as given.
//
// Every item yields exactly one result, in submission order. Item failures
// never fail the run. If ctx ends, unadmitted items are recorded as
// cancelled and the summary is returned together with a BATCH_007 error
// wrapping ctx.Err().
func (e *Engine[R]) RunBatch(ctx context.Context, items []job.Item, fn ProcessFunc[R], cfg job.RunConfig) (*job.RunSummary[R], error) {
	return e.runSingle(ctx, job.ModeBatch, items, fn, cfg)
}

// RunAdaptive is RunBatch with the config tuned by the load probe first,
// and before every chunk when WithPerChunkRebalance is set. The tuned
// config is reported as RunSummary.Effective.
func (e *Engine[R]) RunAdaptive(ctx context.Context, items []job.Item, fn ProcessFunc[R], cfg job.RunConfig) (*job.RunSummary[R], error) {
	return e.runSingle(ctx, job.ModeAdaptive, items, fn, cfg)
}

func (e *Engine[R]) runSingle(ctx context.Context, mode job.RunMode, items []job.Item, fn ProcessFunc[R], cfg job.RunConfig) (*job.RunSummary[R], error) {
	if fn == nil {
		return nil, errors.New(errors.ErrCodeProcessorMissing, "processor is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := e.beginRun(ctx, mode, cfg, len(items))
	defer r.monitor.Stop()

	adaptive := mode == job.ModeAdaptive
	if adaptive {
		r.effective = e.rebalance(ctx, r, r.effective)
	}

	tracker := NewTracker(len(items), cfg.ProgressCallback, r.logger)
	results := e.runItems(ctx, r, items, func(int) ProcessFunc[R] { return fn }, itemKeyPrefix, tracker, adaptive && e.perChunkRebalance)

	return e.finishRun(ctx, r, len(items), results)
}

// run is the per-invocation state shared by the run helpers.
type run struct {
	id            string
	mode          job.RunMode
	start         time.Time
	effective     job.RunConfig
	monitor       *Monitor
	logger        logging.Logger
	stageFailures map[string]int
}

func (e *Engine[R]) beginRun(ctx context.Context, mode job.RunMode, cfg job.RunConfig, total int) *run {
	id := uuid.New().String()
	r := &run{
		id:        id,
		mode:      mode,
		start:     time.Now(),
		effective: cfg.Clone(),
		logger:    e.logger.With(logging.RunID(id), logging.String(logging.KeyMode, string(mode))),
	}
	r.monitor = NewMonitor(e.sampler, MonitorConfig{
		Interval:       e.monitorInterval,
		ThresholdMB:    cfg.MemoryThresholdMB,
		RetentionFloor: e.retentionFloor,
		MaxSamples:     e.maxSamples,
	}, r.logger, e.metrics, e.trimCache)
	r.monitor.Start(ctx)
	r.monitor.SampleNow(ctx)

	e.counters.runs.Add(1)
	r.logger.Info("run started",
		logging.Int("items", total),
		logging.Int("batch_size", cfg.BatchSize),
		logging.Int("max_concurrency", cfg.MaxConcurrency),
		logging.String("priority_mode", cfg.PriorityMode.String()),
		logging.Bool("cache_enabled", cfg.CacheEnabled),
	)
	return r
}

func (e *Engine[R]) trimCache(keep int) int {
	n := e.cache.Trim(keep)
	e.counters.cleanups.Add(1)
	return n
}

// rebalance consults the probe and returns the config for what follows.
// On probe failure cfg is returned unchanged.
func (e *Engine[R]) rebalance(ctx context.Context, r *run, cfg job.RunConfig) job.RunConfig {
	if e.probe == nil {
		return cfg
	}
	load, err := e.probe.Sample(ctx)
	if err != nil {
		r.logger.Warn("load probe failed, keeping config", logging.Err(err))
		return cfg
	}
	next := Optimize(cfg, load)
	if next.MaxConcurrency != cfg.MaxConcurrency || next.BatchSize != cfg.BatchSize {
		r.logger.Info("config rebalanced",
			logging.Float64("cpu_percent", load.CPUPercent),
			logging.Float64("memory_percent", load.MemoryPercent),
			logging.Int("max_concurrency", next.MaxConcurrency),
			logging.Int("batch_size", next.BatchSize),
		)
	}
	return next
}

// runItems is the shared core of every slice-based run: order, chunk, admit
// through the gate, execute, track. results[i] belongs to items[i]. fnFor
// returns the processor for the item at submission index i.
func (e *Engine[R]) runItems(
	ctx context.Context,
	r *run,
	items []job.Item,
	fnFor func(i int) ProcessFunc[R],
	keyPrefix string,
	tracker *Tracker,
	rebalanceEachChunk bool,
) []job.ItemResult[R] {
	results := make([]job.ItemResult[R], len(items))
	if len(items) == 0 {
		return results
	}

	scope := newRunScope(keyPrefix)
	order := sortOrder(items, r.effective.PriorityMode, e.shuffle)
	gate := NewGate(r.effective.MaxConcurrency)
	e.metrics.SetEffectiveConcurrency(r.effective.MaxConcurrency)

	chunks := Chunk(order, r.effective.BatchSize)
	done := 0
	for ci := 0; ci < len(chunks); ci++ {
		if ctx.Err() != nil {
			break
		}
		if rebalanceEachChunk && ci > 0 {
			prevSize := r.effective.BatchSize
			r.effective = e.rebalance(ctx, r, r.effective)
			gate.SetCapacity(r.effective.MaxConcurrency)
			e.metrics.SetEffectiveConcurrency(r.effective.MaxConcurrency)
			if r.effective.BatchSize != prevSize {
				chunks = append(chunks[:ci:ci], Chunk(order[done:], r.effective.BatchSize)...)
			}
		}

		chunk := chunks[ci]
		cfg := r.effective
		var wg sync.WaitGroup
		for _, idx := range chunk {
			if err := gate.Acquire(ctx); err != nil {
				results[idx] = cancelledResult[R](items[idx], err)
				e.metrics.RecordItem(job.StatusCancelled, 0, 0)
				continue
			}
			e.metrics.SetInFlight(gate.InFlight())
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				defer func() {
					gate.Release()
					e.metrics.SetInFlight(gate.InFlight())
				}()
				results[idx] = e.exec.execute(ctx, items[idx], fnFor(idx), cfg, scope)
			}(idx)
		}
		wg.Wait()
		done += len(chunk)

		failed := 0
		for _, idx := range chunk {
			if !results[idx].Success {
				failed++
				r.logger.Warn("item failed",
					logging.ItemID(items[idx].ID),
					logging.String("status", results[idx].Status.String()),
					logging.Int("attempts", results[idx].Attempts),
					logging.String("error", results[idx].ErrorMessage),
				)
			}
		}
		tracker.Advance(len(chunk), failed)
		r.monitor.SampleNow(ctx)
	}

	for _, idx := range order[done:] {
		results[idx] = cancelledResult[R](items[idx], ctx.Err())
		e.metrics.RecordItem(job.StatusCancelled, 0, 0)
	}
	return results
}

// finishRun aggregates results into the summary, records it as the last
// run and attaches the cancellation error if ctx ended.
func (e *Engine[R]) finishRun(ctx context.Context, r *run, total int, results []job.ItemResult[R]) (*job.RunSummary[R], error) {
	r.monitor.SampleNow(ctx)
	elapsed := time.Since(r.start)

	s := &job.RunSummary[R]{
		RunID:         r.id,
		Mode:          r.mode,
		TotalItems:    total,
		TotalTime:     elapsed,
		PeakMemoryMB:  r.monitor.Peak(),
		Effective:     r.effective.WithoutCallback(),
		Metrics:       r.monitor.Samples(),
		StageFailures: r.stageFailures,
		Results:       results,
	}

	var processing time.Duration
	for _, res := range results {
		if res.Success {
			s.SuccessCount++
		}
		if res.FromCache {
			s.CacheHits++
		}
		processing += res.ProcessingTime
	}
	s.FailureCount = s.TotalItems - s.SuccessCount
	if len(results) > 0 {
		s.AvgTime = processing / time.Duration(len(results))
	}
	if secs := elapsed.Seconds(); secs > 0 {
		s.ThroughputPerSec = float64(total) / secs
	}

	e.metrics.RecordRun(r.mode, s.TotalItems, s.FailureCount, elapsed)
	overview := s.Overview()
	e.lastMu.Lock()
	e.last = &overview
	e.lastMu.Unlock()

	r.logger.Info("run finished",
		logging.Int("total", s.TotalItems),
		logging.Int("succeeded", s.SuccessCount),
		logging.Int("failed", s.FailureCount),
		logging.Int("cache_hits", s.CacheHits),
		logging.Duration("elapsed", elapsed),
		logging.Float64("peak_memory_mb", s.PeakMemoryMB),
		logging.Float64("throughput_per_sec", s.ThroughputPerSec),
	)

	if err := ctx.Err(); err != nil {
		return s, cancelledError(err)
	}
	return s, nil
}
