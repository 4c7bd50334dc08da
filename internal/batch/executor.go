package batch

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

// ProcessFunc does the work for one item. It should honour ctx; if it does
// not, the attempt still times out but the goroutine lingers until it
// returns.
type ProcessFunc[R any] func(ctx context.Context, item job.Item) (R, error)

// executor turns one item into exactly one ItemResult: cache lookup,
// timeout race, retries with backoff. Errors become data here and never
// escape.
type executor[R any] struct {
	cache    Cache[R]
	backoff  Backoff
	metrics  Metrics
	logger   logging.Logger
	counters *counters
	memory   func() float64
}

// itemKeyPrefix namespaces the cache keys of batch, adaptive and stream
// runs. Pipeline stages use "<stage>/" instead.
const itemKeyPrefix = "item/"

// runScope is shared by the items of one run (one stage, for pipelines):
// the cache key namespace and the flight group folding concurrent
// duplicates. Runs never share a flight group, so a follower always gets
// an outcome produced under its own run's ctx, config and processor.
type runScope struct {
	keyPrefix string
	flights   singleflight.Group
}

func newRunScope(keyPrefix string) *runScope {
	return &runScope{keyPrefix: keyPrefix}
}

func (x *executor[R]) execute(ctx context.Context, item job.Item, fn ProcessFunc[R], cfg job.RunConfig, scope *runScope) job.ItemResult[R] {
	start := time.Now()
	// With more than one item in flight the heap delta would include the
	// others' allocations, so it is only taken for serial runs.
	memBefore := noMemorySample
	if cfg.MaxConcurrency == 1 {
		memBefore = x.memory()
	}

	if !cfg.CacheEnabled || x.cache == nil {
		return x.finish(x.attempt(ctx, item, fn, cfg), start, memBefore)
	}

	key := scope.keyPrefix + item.ID
	if v, ok := x.cache.Get(ctx, key); ok {
		return x.finish(x.cacheHit(item, v), start, memBefore)
	}

	// Concurrent submissions of one key share a single execution. Only the
	// caller whose closure ran did the work; the others are served as hits.
	ran := false
	shared, _, _ := scope.flights.Do(key, func() (interface{}, error) {
		ran = true
		if v, ok := x.cache.Get(ctx, key); ok {
			return x.cacheHit(item, v), nil
		}
		res := x.attempt(ctx, item, fn, cfg)
		if res.Success {
			x.cache.Set(ctx, key, res.Data)
			x.counters.cacheMisses.Add(1)
			x.metrics.RecordCacheAccess(false)
		}
		return res, nil
	})

	res := shared.(job.ItemResult[R])
	if !ran {
		if res.Success {
			res = x.cacheHit(item, res.Data)
		} else {
			res.Attempts = 0
		}
	}
	return x.finish(res, start, memBefore)
}

func (x *executor[R]) cacheHit(item job.Item, v R) job.ItemResult[R] {
	x.counters.cacheHits.Add(1)
	x.metrics.RecordCacheAccess(true)
	return job.ItemResult[R]{
		ID:        item.ID,
		Success:   true,
		Status:    job.StatusSuccess,
		Data:      v,
		FromCache: true,
	}
}

// attempt runs the processor up to RetryAttempts+1 times.
func (x *executor[R]) attempt(ctx context.Context, item job.Item, fn ProcessFunc[R], cfg job.RunConfig) job.ItemResult[R] {
	var lastErr error
	attempts := 0

	for n := 0; n <= cfg.RetryAttempts; n++ {
		if err := ctx.Err(); err != nil {
			lastErr = cancelledError(err)
			break
		}

		attempts++
		data, err := runOnce(ctx, item, fn, cfg.ItemTimeout)
		if err == nil {
			return job.ItemResult[R]{
				ID:       item.ID,
				Success:  true,
				Status:   job.StatusSuccess,
				Data:     data,
				Attempts: attempts,
			}
		}
		lastErr = err
		if errors.IsCode(err, errors.ErrCodeItemTimeout) {
			x.counters.timeouts.Add(1)
		}
		if errors.IsCode(err, errors.ErrCodeRunCancelled) || n == cfg.RetryAttempts {
			break
		}

		delay := x.backoff.Delay(n)
		x.counters.retries.Add(1)
		x.metrics.RecordRetry()
		x.logger.Debug("retrying item",
			logging.ItemID(item.ID),
			logging.Int("attempt", attempts),
			logging.Duration("backoff", delay),
			logging.Err(err),
		)
		if werr := sleepCtx(ctx, delay); werr != nil {
			lastErr = cancelledError(werr)
			break
		}
	}

	return job.ItemResult[R]{
		ID:       item.ID,
		Status:   statusFor(lastErr),
		Err:      lastErr,
		Attempts: attempts,
	}
}

// runOnce races fn against the item timeout. The processor runs in its own
// goroutine so a processor that ignores ctx still loses the race.
func runOnce[R any](ctx context.Context, item job.Item, fn ProcessFunc[R], timeout time.Duration) (R, error) {
	var zero R
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data R
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: errors.New(errors.ErrCodeItemPanic, "processor panicked").
					WithDetailf("item=%s panic=%v", item.ID, p)}
			}
		}()
		data, err := fn(attemptCtx, item)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.data, nil
		}
		if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, timeoutError(item, timeout, out.err)
		}
		if ctx.Err() != nil && errors.Is(out.err, ctx.Err()) {
			return zero, cancelledError(out.err)
		}
		return zero, out.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, cancelledError(err)
		}
		return zero, timeoutError(item, timeout, attemptCtx.Err())
	}
}

// noMemorySample marks an execution whose heap delta is not measured.
const noMemorySample = -1.0

// finish stamps timing and bookkeeping shared by every path.
func (x *executor[R]) finish(res job.ItemResult[R], start time.Time, memBefore float64) job.ItemResult[R] {
	res.ProcessingTime = time.Since(start)
	if memBefore != noMemorySample {
		if used := x.memory() - memBefore; used > 0 {
			res.MemoryUsedMB = used
		}
	}
	if res.Err != nil {
		res.ErrorKind = errors.GetCode(res.Err).String()
		res.ErrorMessage = res.Err.Error()
	}

	x.counters.totalProcessed.Add(1)
	if !res.Success {
		x.counters.errorCount.Add(1)
	}
	x.metrics.RecordItem(res.Status, res.ProcessingTime, res.Attempts)
	return res
}

func timeoutError(item job.Item, timeout time.Duration, cause error) error {
	return errors.New(errors.ErrCodeItemTimeout, "item processing timed out").
		WithDetailf("item=%s timeout=%s", item.ID, timeout).
		WithCause(cause)
}

func cancelledError(cause error) error {
	return errors.Wrap(cause, errors.ErrCodeRunCancelled, "run cancelled")
}

// cancelledResult is the result of an item the run never admitted.
func cancelledResult[R any](item job.Item, cause error) job.ItemResult[R] {
	err := cancelledError(cause)
	return job.ItemResult[R]{
		ID:           item.ID,
		Status:       job.StatusCancelled,
		Err:          err,
		ErrorKind:    errors.ErrCodeRunCancelled.String(),
		ErrorMessage: err.Error(),
	}
}

func statusFor(err error) job.ItemStatus {
	switch {
	case errors.IsCode(err, errors.ErrCodeRunCancelled):
		return job.StatusCancelled
	case errors.IsCode(err, errors.ErrCodeItemTimeout):
		return job.StatusTimeout
	default:
		return job.StatusFailed
	}
}
