package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/turtacn/stockscan/pkg/errors"
	"github.com/turtacn/stockscan/pkg/types/job"
)

type label struct {
	Name string `json:"name"`
}

func newTestPublisher(w *mockWriter, cfg Config) (*ResultPublisher[label], *[]time.Duration) {
	p := newResultPublisher[label](w, cfg.withDefaults(), nil)
	var slept []time.Duration
	p.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return ctx.Err()
	}
	return p, &slept
}

func TestResultPublisher_Publish(t *testing.T) {
	w := &mockWriter{}
	p, slept := newTestPublisher(w, testConfig())

	res := job.ItemResult[label]{ID: "sku-1", Success: true, Status: job.StatusSuccess, Data: label{Name: "ok"}, Attempts: 1}
	require.NoError(t, p.Publish(context.Background(), res))

	require.Len(t, w.written, 1)
	msg := w.written[0]
	assert.Equal(t, "results", msg.Topic)
	assert.Equal(t, []byte("sku-1"), msg.Key)
	assert.Equal(t, "success", headerValue(msg, HeaderStatus))
	assert.Equal(t, "true", headerValue(msg, HeaderSuccess))

	var decoded job.ItemResult[label]
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "ok", decoded.Data.Name)
	assert.Empty(t, *slept)
	assert.Equal(t, PublisherStats{Published: 1}, p.Stats())
}

func TestResultPublisher_FailedResultStillPublished(t *testing.T) {
	w := &mockWriter{}
	p, _ := newTestPublisher(w, testConfig())

	res := job.ItemResult[label]{ID: "sku-2", Status: job.StatusTimeout, ErrorKind: "BATCH_004", ErrorMessage: "timed out"}
	require.NoError(t, p.Publish(context.Background(), res))
	require.Len(t, w.written, 1)
	assert.Equal(t, "false", headerValue(w.written[0], HeaderSuccess))
	assert.Contains(t, string(w.written[0].Value), `"error_kind":"BATCH_004"`)
}

func TestResultPublisher_RetriesWithDoublingBackoff(t *testing.T) {
	w := &mockWriter{failures: 3, err: errors.New("leader not available")}
	cfg := testConfig()
	cfg.MaxRetries = 5
	cfg.RetryBackoff = 10 * time.Second
	cfg.MaxRetryBackoff = 30 * time.Second
	p, slept := newTestPublisher(w, cfg)

	require.NoError(t, p.Publish(context.Background(), job.ItemResult[label]{ID: "x"}))
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}, *slept)
	assert.Equal(t, PublisherStats{Published: 1, Retries: 3}, p.Stats())
}

func TestResultPublisher_RetriesExhausted(t *testing.T) {
	w := &mockWriter{failures: 100, err: errors.New("broker down")}
	cfg := testConfig()
	cfg.MaxRetries = 2
	p, slept := newTestPublisher(w, cfg)

	err := p.Publish(context.Background(), job.ItemResult[label]{ID: "x"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodePublishFailed))
	assert.Equal(t, 3, w.calls)
	assert.Len(t, *slept, 2)
	assert.Equal(t, int64(1), p.Stats().Failed)
}

func TestResultPublisher_CancelledDuringBackoff(t *testing.T) {
	w := &mockWriter{failures: 100, err: errors.New("broker down")}
	p, _ := newTestPublisher(w, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	err := p.Publish(ctx, job.ItemResult[label]{ID: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, w.calls)
}

func TestResultPublisher_Closed(t *testing.T) {
	w := &mockWriter{}
	p, _ := newTestPublisher(w, testConfig())

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
	assert.ErrorIs(t, p.Publish(context.Background(), job.ItemResult[label]{ID: "x"}), ErrPublisherClosed)
}
