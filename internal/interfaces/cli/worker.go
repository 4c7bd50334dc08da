package cli

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/turtacn/stockscan/internal/batch"
	"github.com/turtacn/stockscan/internal/config"
	"github.com/turtacn/stockscan/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/prometheus"
	adminhttp "github.com/turtacn/stockscan/internal/interfaces/http"
	"github.com/turtacn/stockscan/internal/interfaces/http/handlers"
	"github.com/turtacn/stockscan/internal/interfaces/http/middleware"
	"github.com/turtacn/stockscan/pkg/types/job"
)

func newWorkerCmd() *cobra.Command {
	var noAdmin bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume items from Kafka and publish results until stopped",
		Long: "Reads job items from the items topic, streams them through the engine and\n" +
			"publishes every result, failed ones included, to the results topic. The\n" +
			"admin API (health, metrics, stats) is served alongside. SIGINT or SIGTERM\n" +
			"stops intake and drains in-flight items within server.shutdown_timeout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			return runWorker(cmd.Context(), cliCtx, !noAdmin)
		},
	}
	cmd.Flags().BoolVar(&noAdmin, "no-admin", false, "do not serve the admin API")
	return cmd
}

func runWorker(ctx context.Context, cliCtx *CLIContext, withAdmin bool) error {
	cfg := cliCtx.Config
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	logger := cliCtx.Logger.Named("worker")

	comp, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}
	source, err := kafka.NewItemSource(cfg.Kafka, logger)
	if err != nil {
		return multierr.Append(err, comp.Close())
	}
	publisher, err := kafka.NewResultPublisher[json.RawMessage](cfg.Kafka, logger)
	if err != nil {
		return multierr.Combine(err, source.Close(), comp.Close())
	}

	w := newWorker(cfg, logger, comp.engine, comp.analyzer.Process, source, publisher, comp.metrics)
	w.closers = append(w.closers, comp.Close)
	if withAdmin {
		w.server = newAdminServer(cfg, logger, comp, w.Stats)
	}
	comp.ping(ctx, logger)

	if cliCtx.ConfigPath != "" {
		if err := config.Watch(cliCtx.ConfigPath, w.applyConfig, func(err error) {
			logger.Warn("config reload rejected", logging.Err(err))
		}); err != nil {
			logger.Warn("config watch disabled", logging.Err(err))
		}
	}
	return w.Run(ctx)
}

func newAdminServer(cfg *config.Config, logger logging.Logger, comp *components, workerStats func() interface{}) *adminhttp.Server {
	rc := adminhttp.RouterConfig{
		HealthHandler: handlers.NewHealthHandler(Version, comp.checks...),
		EngineHandler: handlers.NewEngineHandler(comp.engine, workerStats),
		Logger:        logger.Named("admin"),
		Logging:       middleware.DefaultLoggingConfig(),
		Mode:          cfg.Server.Mode,
	}
	if comp.collector != nil {
		rc.MetricsHandler = comp.collector.Handler()
	}
	return adminhttp.NewServer(cfg.Server.Port, adminhttp.NewRouter(rc), logger)
}

type itemSource interface {
	Run(ctx context.Context, out chan<- job.Item) error
	Ack(ctx context.Context, itemID string)
	Stats() kafka.SourceStats
	Close() error
}

type resultPublisher interface {
	Publish(ctx context.Context, res job.ItemResult[json.RawMessage]) error
	Stats() kafka.PublisherStats
	Close() error
}

type adminServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// worker moves items from the source through a stream run to the
// publisher. An item is acknowledged to the source only after its result
// was published; cancelled items are neither published nor acknowledged,
// so they are redelivered. A changed engine section restarts the stream
// between items: the current stream's input is closed, it drains, and a
// new one starts with the new config.
type worker struct {
	logger    logging.Logger
	engine    *batch.Engine[json.RawMessage]
	process   batch.ProcessFunc[json.RawMessage]
	source    itemSource
	publisher resultPublisher
	metrics   *prometheus.EngineMetrics
	server    adminServer
	closers   []func() error
	grace     time.Duration

	mu     sync.Mutex
	runCfg job.RunConfig
	reload chan struct{}

	generation      atomic.Int64
	published       atomic.Int64
	publishFailures atomic.Int64
	forwarded       atomic.Int64
	unfinished      atomic.Int64
}

func newWorker(
	cfg *config.Config,
	logger logging.Logger,
	engine *batch.Engine[json.RawMessage],
	process batch.ProcessFunc[json.RawMessage],
	source itemSource,
	publisher resultPublisher,
	metrics *prometheus.EngineMetrics,
) *worker {
	return &worker{
		logger:    logger,
		engine:    engine,
		process:   process,
		source:    source,
		publisher: publisher,
		metrics:   metrics,
		grace:     cfg.Server.ShutdownTimeout,
		runCfg:    cfg.Engine.RunConfig(),
		reload:    make(chan struct{}, 1),
	}
}

// Run blocks until ctx ends or the source is exhausted, then drains and
// releases everything. Processing outlives ctx by at most the grace period
// so admitted items still get published.
func (w *worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	procCtx, cancelProc := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelProc()
	stopGrace := context.AfterFunc(ctx, func() {
		time.AfterFunc(w.grace, cancelProc)
	})
	defer stopGrace()

	items := make(chan job.Item)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.source.Run(gctx, items)
	})
	g.Go(func() error {
		defer cancel()
		return w.consume(procCtx, items)
	})
	if w.server != nil {
		g.Go(w.server.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, done := context.WithTimeout(context.WithoutCancel(gctx), w.grace)
			defer done()
			return w.server.Stop(sctx)
		})
	}

	w.logger.Info("worker started")
	err := g.Wait()
	// Admitted items that were neither published nor failed were cancelled
	// or dropped by the stream at shutdown.
	w.unfinished.Add(w.forwarded.Load() - w.published.Load() - w.publishFailures.Load())
	err = multierr.Append(err, w.close())
	w.logger.Info("worker stopped",
		logging.Int64("published", w.published.Load()),
		logging.Int64("publish_failures", w.publishFailures.Load()),
		logging.Int64("unfinished", w.unfinished.Load()),
	)
	return err
}

// consume runs one stream per config generation until items is closed.
func (w *worker) consume(ctx context.Context, items <-chan job.Item) error {
	for {
		cfg := w.currentRunConfig()
		in := make(chan job.Item)
		results, err := w.engine.RunStream(ctx, in, w.process, cfg)
		if err != nil {
			return err
		}
		gen := w.generation.Add(1)
		w.logger.Info("stream generation started",
			logging.Int64("generation", gen),
			logging.Int("batch_size", cfg.BatchSize),
			logging.Int("max_concurrency", cfg.MaxConcurrency),
		)

		done := make(chan struct{})
		go func() {
			defer close(done)
			w.publishAll(ctx, results)
		}()

		more := w.forward(ctx, items, in)
		close(in)
		<-done
		if !more {
			return nil
		}
	}
}

// forward copies items into in. It reports true when a reload asked for a
// new generation, false when items is closed or ctx ended.
func (w *worker) forward(ctx context.Context, items <-chan job.Item, in chan<- job.Item) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-w.reload:
			return true
		case it, ok := <-items:
			if !ok {
				return false
			}
			select {
			case in <- it:
				w.forwarded.Add(1)
			case <-ctx.Done():
				w.unfinished.Add(1)
				w.logger.Warn("item not admitted, left for redelivery", logging.ItemID(it.ID))
				return false
			}
		}
	}
}

func (w *worker) publishAll(ctx context.Context, results <-chan job.ItemResult[json.RawMessage]) {
	for res := range results {
		if res.Status == job.StatusCancelled {
			w.logger.Warn("item cancelled, left for redelivery", logging.ItemID(res.ID))
			continue
		}
		err := w.publisher.Publish(ctx, res)
		if w.metrics != nil {
			w.metrics.RecordPublish(err == nil)
		}
		if err != nil {
			w.publishFailures.Add(1)
			w.logger.Error("result not published", logging.ItemID(res.ID), logging.Err(err))
			continue
		}
		w.published.Add(1)
		w.source.Ack(ctx, res.ID)
	}
}

func (w *worker) currentRunConfig() job.RunConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runCfg
}

// applyConfig is the config.Watch callback. The log level applies at once;
// a different engine section starts a new stream generation.
func (w *worker) applyConfig(cfg *config.Config) {
	if ls, ok := w.logger.(logging.LevelSetter); ok && !strings.EqualFold(ls.Level(), cfg.Log.Level) {
		ls.SetLevel(cfg.Log.Level)
		w.logger.Info("log level changed", logging.String("level", ls.Level()))
	}

	next := cfg.Engine.RunConfig()
	w.mu.Lock()
	changed := !sameRunConfig(w.runCfg, next)
	if changed {
		w.runCfg = next
	}
	w.mu.Unlock()

	if changed {
		w.logger.Info("engine config changed, restarting stream",
			logging.Int("batch_size", next.BatchSize),
			logging.Int("max_concurrency", next.MaxConcurrency),
		)
		select {
		case w.reload <- struct{}{}:
		default:
		}
	}
}

func sameRunConfig(a, b job.RunConfig) bool {
	return a.BatchSize == b.BatchSize &&
		a.MaxConcurrency == b.MaxConcurrency &&
		a.MemoryThresholdMB == b.MemoryThresholdMB &&
		a.ItemTimeout == b.ItemTimeout &&
		a.RetryAttempts == b.RetryAttempts &&
		a.PriorityMode == b.PriorityMode &&
		a.CacheEnabled == b.CacheEnabled
}

func (w *worker) close() error {
	err := multierr.Combine(w.source.Close(), w.publisher.Close())
	for _, c := range w.closers {
		err = multierr.Append(err, c())
	}
	return err
}

// workerStats is the worker section of /v1/stats.
type workerStats struct {
	Generation      int64                `json:"generation"`
	Published       int64                `json:"published"`
	PublishFailures int64                `json:"publish_failures"`
	Unfinished      int64                `json:"unfinished"`
	RunConfig       job.RunConfig        `json:"run_config"`
	Source          kafka.SourceStats    `json:"source"`
	Publisher       kafka.PublisherStats `json:"publisher"`
}

func (w *worker) Stats() interface{} {
	return workerStats{
		Generation:      w.generation.Load(),
		Published:       w.published.Load(),
		PublishFailures: w.publishFailures.Load(),
		Unfinished:      w.unfinished.Load(),
		RunConfig:       w.currentRunConfig().WithoutCallback(),
		Source:          w.source.Stats(),
		Publisher:       w.publisher.Stats(),
	}
}
