package kafka

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/multierr"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

// Dead-letter headers.
const (
	HeaderOriginalTopic  = "original_topic"
	HeaderOriginalOffset = "original_offset"
	HeaderErrorMessage   = "error_message"
)

const fetchErrorPause = time.Second

// ReaderInterface abstracts kafka.Reader for testing.
type ReaderInterface interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.ReaderStats
}

// WriterInterface abstracts kafka.Writer for testing.
type WriterInterface interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
	Stats() kafka.WriterStats
}

// SourceStats counts what an ItemSource has seen. Uncommitted is the
// number of fetched messages whose offsets cannot be committed yet.
type SourceStats struct {
	Consumed       int64 `json:"consumed"`
	Delivered      int64 `json:"delivered"`
	Acked          int64 `json:"acked"`
	DeadLettered   int64 `json:"dead_lettered"`
	CommitFailures int64 `json:"commit_failures"`
	Uncommitted    int64 `json:"uncommitted"`
	Lag            int64 `json:"lag"`
}

// ItemSource reads JSON job items from the items topic. Offsets advance
// only as items are acknowledged with Ack, so delivery is at-least-once:
// an item that is never acknowledged is redelivered after a restart or
// rebalance.
type ItemSource struct {
	reader  ReaderInterface
	dlq     WriterInterface
	cfg     Config
	logger  logging.Logger
	offsets *offsetTracker

	consumed       atomic.Int64
	delivered      atomic.Int64
	acked          atomic.Int64
	deadLettered   atomic.Int64
	commitFailures atomic.Int64
	lag            atomic.Int64
	closed         atomic.Bool
}

// NewItemSource joins cfg.GroupID on cfg.ItemsTopic. When a dead-letter
// topic is configured, undecodable messages are forwarded there.
func NewItemSource(cfg Config, logger logging.Logger) (*ItemSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	dialer, err := newDialer(cfg)
	if err != nil {
		return nil, err
	}
	start := kafka.FirstOffset
	if cfg.StartOffset == "latest" {
		start = kafka.LastOffset
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.ItemsTopic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: cfg.CommitInterval,
		StartOffset:    start,
		Dialer:         dialer,
	})

	var dlq WriterInterface
	if cfg.DeadLetterTopic != "" {
		w, err := newWriter(cfg)
		if err != nil {
			_ = reader.Close()
			return nil, err
		}
		dlq = w
	}
	return newItemSource(reader, dlq, cfg, logger), nil
}

func newItemSource(reader ReaderInterface, dlq WriterInterface, cfg Config, logger logging.Logger) *ItemSource {
	return &ItemSource{
		reader:  reader,
		dlq:     dlq,
		cfg:     cfg,
		logger:  logging.OrNop(logger).Named("item_source").With(logging.String("topic", cfg.ItemsTopic)),
		offsets: newOffsetTracker(),
	}
}

// Run fetches messages until ctx is done or the reader is closed, sending
// each decoded item to out. Undecodable messages are dead-lettered and
// count as complete; decoded ones wait for Ack. Run closes out when it
// returns.
func (s *ItemSource) Run(ctx context.Context, out chan<- job.Item) error {
	defer close(out)
	s.logger.Info("Item source started", logging.String("group", s.cfg.GroupID))

	for {
		m, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			s.logger.Error("FetchMessage failed", logging.Err(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchErrorPause):
			}
			continue
		}
		s.consumed.Add(1)
		s.offsets.track(m)
		if m.HighWaterMark > 0 {
			s.lag.Store(m.HighWaterMark - m.Offset - 1)
		}

		item, err := decodeItem(m)
		if err != nil {
			s.deadLetter(ctx, m, err)
			s.complete(ctx, m)
			continue
		}

		s.offsets.hold(item.ID, m)
		select {
		case out <- item:
			s.delivered.Add(1)
		case <-ctx.Done():
			return nil
		}
	}
}

// Ack marks the oldest unacknowledged delivery of itemID as done, which
// lets its offset be committed once every earlier message of the same
// partition is done too. Call it only when the item's outcome is durable.
// Unknown ids are ignored.
func (s *ItemSource) Ack(ctx context.Context, itemID string) {
	m, ok := s.offsets.release(itemID)
	if !ok {
		s.logger.Warn("Ack for unknown item", logging.ItemID(itemID))
		return
	}
	s.acked.Add(1)
	s.complete(ctx, m)
}

func (s *ItemSource) complete(ctx context.Context, m kafka.Message) {
	if c, ok := s.offsets.complete(m); ok {
		s.commit(ctx, c)
	}
}

// decodeItem falls back to the message key when the body has no id.
func decodeItem(m kafka.Message) (job.Item, error) {
	var item job.Item
	if err := json.Unmarshal(m.Value, &item); err != nil {
		return job.Item{}, errors.Wrap(err, errors.ErrCodeConsumeFailed, "decode item")
	}
	if item.ID == "" {
		item.ID = string(m.Key)
	}
	if item.ID == "" {
		return job.Item{}, errors.New(errors.ErrCodeConsumeFailed, "item has no id")
	}
	return item, nil
}

func (s *ItemSource) deadLetter(ctx context.Context, m kafka.Message, cause error) {
	if s.dlq == nil {
		s.logger.Warn("Dropping undecodable message",
			logging.Int64("offset", m.Offset), logging.Err(cause))
		return
	}
	headers := append([]kafka.Header{}, m.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderOriginalTopic, Value: []byte(m.Topic)},
		kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(m.Offset, 10))},
		kafka.Header{Key: HeaderErrorMessage, Value: []byte(cause.Error())},
	)
	dl := kafka.Message{Topic: s.cfg.DeadLetterTopic, Key: m.Key, Value: m.Value, Headers: headers}
	if err := s.dlq.WriteMessages(ctx, dl); err != nil {
		s.logger.Error("Failed to send to dead letter queue",
			logging.Int64("offset", m.Offset), logging.Err(err))
		return
	}
	s.deadLettered.Add(1)
	s.logger.Warn("Message dead-lettered", logging.Int64("offset", m.Offset), logging.Err(cause))
}

func (s *ItemSource) commit(ctx context.Context, m kafka.Message) {
	if err := s.reader.CommitMessages(ctx, m); err != nil {
		s.commitFailures.Add(1)
		s.logger.Error("CommitMessages failed", logging.Int64("offset", m.Offset), logging.Err(err))
	}
}

func (s *ItemSource) Stats() SourceStats {
	return SourceStats{
		Consumed:       s.consumed.Load(),
		Delivered:      s.delivered.Load(),
		Acked:          s.acked.Load(),
		DeadLettered:   s.deadLettered.Load(),
		CommitFailures: s.commitFailures.Load(),
		Uncommitted:    s.offsets.outstanding(),
		Lag:            s.lag.Load(),
	}
}

// Close closes the reader and the dead-letter writer. It is idempotent.
func (s *ItemSource) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.reader.Close()
	if s.dlq != nil {
		err = multierr.Append(err, s.dlq.Close())
	}
	s.logger.Info("Item source closed",
		logging.Int64("consumed", s.consumed.Load()),
		logging.Int64("uncommitted", s.offsets.outstanding()),
	)
	return err
}
