package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/stockscan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/stockscan/pkg/types/job"
)

func itemMessage(t *testing.T, offset int64, item job.Item) kafka.Message {
	t.Helper()
	b, err := json.Marshal(item)
	require.NoError(t, err)
	return kafka.Message{Topic: "items", Offset: offset, Key: []byte(item.ID), Value: b}
}

func drain(out <-chan job.Item) []job.Item {
	var items []job.Item
	for it := range out {
		items = append(items, it)
	}
	return items
}

func TestItemSource_CommitsOnlyAfterAck(t *testing.T) {
	reader := &mockReader{msgs: []kafka.Message{
		itemMessage(t, 0, job.Item{ID: "a", PayloadRef: "bucket/a.jpg", Priority: 2}),
		itemMessage(t, 1, job.Item{ID: "b", PayloadRef: "bucket/b.jpg"}),
	}}
	src := newItemSource(reader, nil, testConfig(), logging.NewNopLogger())

	out := make(chan job.Item, 4)
	require.NoError(t, src.Run(context.Background(), out))

	items := drain(out)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].ID)
	assert.Equal(t, "bucket/a.jpg", items[0].PayloadRef)
	assert.Equal(t, 2.0, items[0].Priority)
	assert.Empty(t, reader.commits(), "nothing is committed before Ack")
	assert.Equal(t, SourceStats{Consumed: 2, Delivered: 2, Uncommitted: 2}, src.Stats())

	ctx := context.Background()
	src.Ack(ctx, "a")
	src.Ack(ctx, "b")
	commits := reader.commits()
	require.Len(t, commits, 2)
	assert.Equal(t, int64(0), commits[0].Offset)
	assert.Equal(t, int64(1), commits[1].Offset)
	assert.Equal(t, SourceStats{Consumed: 2, Delivered: 2, Acked: 2}, src.Stats())
}

func TestItemSource_OutOfOrderAckWaitsForEarlierOffsets(t *testing.T) {
	reader := &mockReader{msgs: []kafka.Message{
		itemMessage(t, 10, job.Item{ID: "slow"}),
		itemMessage(t, 11, job.Item{ID: "fast"}),
		itemMessage(t, 12, job.Item{ID: "faster"}),
	}}
	src := newItemSource(reader, nil, testConfig(), nil)
	out := make(chan job.Item, 3)
	require.NoError(t, src.Run(context.Background(), out))

	ctx := context.Background()
	src.Ack(ctx, "faster")
	src.Ack(ctx, "fast")
	assert.Empty(t, reader.commits(), "offset 10 is still in flight")
	assert.Equal(t, int64(3), src.Stats().Uncommitted)

	src.Ack(ctx, "slow")
	commits := reader.commits()
	require.Len(t, commits, 1)
	assert.Equal(t, int64(12), commits[0].Offset)
	assert.Zero(t, src.Stats().Uncommitted)
}

func TestItemSource_PartitionsCommitIndependently(t *testing.T) {
	m0 := itemMessage(t, 5, job.Item{ID: "p0"})
	m1 := itemMessage(t, 5, job.Item{ID: "p1"})
	m1.Partition = 1
	reader := &mockReader{msgs: []kafka.Message{m0, m1}}
	src := newItemSource(reader, nil, testConfig(), nil)
	out := make(chan job.Item, 2)
	require.NoError(t, src.Run(context.Background(), out))

	src.Ack(context.Background(), "p1")
	commits := reader.commits()
	require.Len(t, commits, 1)
	assert.Equal(t, 1, commits[0].Partition)
	assert.Equal(t, int64(5), commits[0].Offset)
}

func TestItemSource_DuplicateIDsAckInFetchOrder(t *testing.T) {
	reader := &mockReader{msgs: []kafka.Message{
		itemMessage(t, 0, job.Item{ID: "dup"}),
		itemMessage(t, 1, job.Item{ID: "dup"}),
	}}
	src := newItemSource(reader, nil, testConfig(), nil)
	out := make(chan job.Item, 2)
	require.NoError(t, src.Run(context.Background(), out))

	ctx := context.Background()
	src.Ack(ctx, "dup")
	require.Len(t, reader.commits(), 1)
	assert.Equal(t, int64(0), reader.commits()[0].Offset)

	src.Ack(ctx, "dup")
	src.Ack(ctx, "dup")
	require.Len(t, reader.commits(), 2)
	assert.Equal(t, int64(1), reader.commits()[1].Offset)
	assert.Equal(t, int64(2), src.Stats().Acked)
}

func TestItemSource_IDFromKey(t *testing.T) {
	msg := kafka.Message{Key: []byte("from-key"), Value: []byte(`{"payload_ref":"b/o"}`)}
	reader := &mockReader{msgs: []kafka.Message{msg}}
	src := newItemSource(reader, nil, testConfig(), nil)

	out := make(chan job.Item, 1)
	require.NoError(t, src.Run(context.Background(), out))
	items := drain(out)
	require.Len(t, items, 1)
	assert.Equal(t, "from-key", items[0].ID)
}

func TestItemSource_UndecodableGoesToDLQ(t *testing.T) {
	bad := kafka.Message{Topic: "items", Offset: 7, Key: []byte("k"), Value: []byte("{oops")}
	reader := &mockReader{msgs: []kafka.Message{bad, itemMessage(t, 8, job.Item{ID: "ok"})}}
	dlq := &mockWriter{}
	src := newItemSource(reader, dlq, testConfig(), nil)

	out := make(chan job.Item, 2)
	require.NoError(t, src.Run(context.Background(), out))

	items := drain(out)
	require.Len(t, items, 1)
	assert.Equal(t, "ok", items[0].ID)

	require.Len(t, dlq.written, 1)
	dl := dlq.written[0]
	assert.Equal(t, "items.dlq", dl.Topic)
	assert.Equal(t, []byte("{oops"), dl.Value)
	assert.Equal(t, "items", headerValue(dl, HeaderOriginalTopic))
	assert.Equal(t, "7", headerValue(dl, HeaderOriginalOffset))
	assert.NotEmpty(t, headerValue(dl, HeaderErrorMessage))

	require.Len(t, reader.commits(), 1, "dead-lettered messages are committed")
	assert.Equal(t, int64(7), reader.commits()[0].Offset)
	assert.Equal(t, int64(1), src.Stats().DeadLettered)

	src.Ack(context.Background(), "ok")
	assert.Len(t, reader.commits(), 2)
}

func TestItemSource_MissingIDWithoutDLQIsDropped(t *testing.T) {
	reader := &mockReader{msgs: []kafka.Message{{Value: []byte(`{"payload_ref":"b/o"}`)}}}
	src := newItemSource(reader, nil, testConfig(), nil)

	out := make(chan job.Item, 1)
	require.NoError(t, src.Run(context.Background(), out))
	assert.Empty(t, drain(out))
	assert.Len(t, reader.commits(), 1)
}

func TestItemSource_CancelBeforeHandOffSkipsCommit(t *testing.T) {
	reader := &mockReader{msgs: []kafka.Message{itemMessage(t, 0, job.Item{ID: "a"})}, block: true}
	src := newItemSource(reader, nil, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan job.Item)
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, out) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, reader.commits())
	_, open := <-out
	assert.False(t, open)
}

func TestItemSource_CommitFailureCounted(t *testing.T) {
	reader := &mockReader{
		msgs:      []kafka.Message{itemMessage(t, 0, job.Item{ID: "a"})},
		commitErr: errors.New("rebalance in progress"),
	}
	src := newItemSource(reader, nil, testConfig(), nil)

	out := make(chan job.Item, 1)
	require.NoError(t, src.Run(context.Background(), out))
	src.Ack(context.Background(), "a")
	assert.Equal(t, int64(1), src.Stats().CommitFailures)
}

func TestItemSource_Close(t *testing.T) {
	reader := &mockReader{}
	dlq := &mockWriter{}
	src := newItemSource(reader, dlq, testConfig(), nil)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.True(t, reader.closed)
	assert.True(t, dlq.closed)
}
