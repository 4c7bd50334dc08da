package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

var ErrPublisherClosed = errors.New(errors.ErrCodePublishFailed, "publisher closed")

// Result headers.
const (
	HeaderStatus  = "status"
	HeaderSuccess = "success"
)

type PublisherStats struct {
	Published int64 `json:"published"`
	Failed    int64 `json:"failed"`
	Retries   int64 `json:"retries"`
}

// ResultPublisher writes item results as JSON to the results topic, keyed by
// item id so every result of one item lands on the same partition.
type ResultPublisher[R any] struct {
	writer WriterInterface
	cfg    Config
	logger logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	published atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
	closed    atomic.Bool
}

func NewResultPublisher[R any](cfg Config, logger logging.Logger) (*ResultPublisher[R], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	w, err := newWriter(cfg)
	if err != nil {
		return nil, err
	}
	return newResultPublisher[R](w, cfg, logger), nil
}

func newResultPublisher[R any](w WriterInterface, cfg Config, logger logging.Logger) *ResultPublisher[R] {
	return &ResultPublisher[R]{
		writer: w,
		cfg:    cfg,
		logger: logging.OrNop(logger).Named("result_publisher").With(logging.String("topic", cfg.ResultsTopic)),
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

// Publish writes res, retrying up to MaxRetries times with a backoff that
// doubles from RetryBackoff and is capped at MaxRetryBackoff.
func (p *ResultPublisher[R]) Publish(ctx context.Context, res job.ItemResult[R]) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	value, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "encode result").WithDetail(res.ID)
	}
	msg := kafka.Message{
		Topic: p.cfg.ResultsTopic,
		Key:   []byte(res.ID),
		Value: value,
		Time:  p.now(),
		Headers: []kafka.Header{
			{Key: HeaderStatus, Value: []byte(res.Status)},
			{Key: HeaderSuccess, Value: []byte(strconv.FormatBool(res.Success))},
		},
	}

	backoff := p.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		err = p.writer.WriteMessages(ctx, msg)
		if err == nil {
			p.published.Add(1)
			return nil
		}
		if attempt >= p.cfg.MaxRetries || ctx.Err() != nil {
			break
		}
		p.retries.Add(1)
		p.logger.Warn("Publish failed, retrying",
			logging.ItemID(res.ID),
			logging.Int("attempt", attempt+1),
			logging.Duration("backoff", backoff),
			logging.Err(err))
		if serr := p.sleep(ctx, backoff); serr != nil {
			err = serr
			break
		}
		backoff = min(backoff*2, p.cfg.MaxRetryBackoff)
	}

	p.failed.Add(1)
	p.logger.Error("Publish failed", logging.ItemID(res.ID), logging.Err(err))
	return errors.Wrap(err, errors.ErrCodePublishFailed, "publish result").WithDetail(res.ID)
}

func (p *ResultPublisher[R]) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Retries:   p.retries.Load(),
	}
}

// Close flushes and closes the writer. It is idempotent.
func (p *ResultPublisher[R]) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := p.writer.Close()
	p.logger.Info("Result publisher closed", logging.Int64("published", p.published.Load()))
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
