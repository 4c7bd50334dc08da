package batch

import (
	"context"
	"sync"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

// RunStream processes items as they arrive on in and returns results in
// completion order. It validates and returns at once; the work happens in
// the background.
//
// At most cfg.BatchSize items are admitted but not yet delivered, and at
// most cfg.MaxConcurrency run the processor at once. A slot in the window
// frees only when the consumer has received the result, so a slow consumer
// stalls intake. The output channel is closed once in is closed and every
// admitted item has been delivered, or when ctx ends. Results still pending
// at cancellation are dropped.
func (e *Engine[R]) RunStream(ctx context.Context, in <-chan job.Item, fn ProcessFunc[R], cfg job.RunConfig) (<-chan job.ItemResult[R], error) {
	if fn == nil {
		return nil, errors.New(errors.ErrCodeProcessorMissing, "processor is nil")
	}
	if in == nil {
		return nil, errors.InvalidParam("input channel is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	out := make(chan job.ItemResult[R])
	scope := newRunScope(itemKeyPrefix)
	window := NewGate(cfg.BatchSize)
	workers := NewGate(cfg.MaxConcurrency)
	e.counters.runs.Add(1)
	e.metrics.SetEffectiveConcurrency(cfg.MaxConcurrency)
	logger := e.logger.With(logging.String(logging.KeyMode, string(job.ModeStream)))
	logger.Info("stream started",
		logging.Int("window", cfg.BatchSize),
		logging.Int("max_concurrency", cfg.MaxConcurrency),
	)

	go func() {
		var wg sync.WaitGroup
		admitted := 0
		defer func() {
			wg.Wait()
			close(out)
			logger.Info("stream finished", logging.Int("admitted", admitted))
		}()

		for {
			if err := window.Acquire(ctx); err != nil {
				return
			}
			var item job.Item
			var ok bool
			select {
			case <-ctx.Done():
				window.Release()
				return
			case item, ok = <-in:
			}
			if !ok {
				window.Release()
				return
			}
			admitted++

			wg.Add(1)
			go func(item job.Item) {
				defer wg.Done()
				defer window.Release()

				var res job.ItemResult[R]
				if err := workers.Acquire(ctx); err != nil {
					res = cancelledResult[R](item, err)
					e.metrics.RecordItem(job.StatusCancelled, 0, 0)
				} else {
					e.metrics.SetInFlight(workers.InFlight())
					res = e.exec.execute(ctx, item, fn, cfg, scope)
					workers.Release()
					e.metrics.SetInFlight(workers.InFlight())
				}
				if !res.Success {
					logger.Warn("item failed",
						logging.ItemID(item.ID),
						logging.String("status", res.Status.String()),
						logging.String("error", res.ErrorMessage),
					)
				}

				select {
				case out <- res:
				case <-ctx.Done():
				}
			}(item)
		}
	}()

	return out, nil
}
