package kafka

import (
	"context"
	"io"
	"sync"

	"github.com/segmentio/kafka-go"
)

// mockReader serves msgs in order, then io.EOF. With block set it waits
// for ctx instead of returning io.EOF.
type mockReader struct {
	mu        sync.Mutex
	msgs      []kafka.Message
	fetchErrs []error
	block     bool
	committed []kafka.Message
	commitErr error
	closed    bool
}

func (m *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	m.mu.Lock()
	if len(m.fetchErrs) > 0 {
		err := m.fetchErrs[0]
		m.fetchErrs = m.fetchErrs[1:]
		m.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(m.msgs) > 0 {
		msg := m.msgs[0]
		m.msgs = m.msgs[1:]
		m.mu.Unlock()
		return msg, nil
	}
	block := m.block
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	return kafka.Message{}, io.EOF
}

func (m *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.commitErr != nil {
		return m.commitErr
	}
	m.committed = append(m.committed, msgs...)
	return nil
}

func (m *mockReader) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{} }

func (m *mockReader) commits() []kafka.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kafka.Message(nil), m.committed...)
}

// mockWriter fails the first failures writes with err.
type mockWriter struct {
	mu       sync.Mutex
	written  []kafka.Message
	calls    int
	failures int
	err      error
	closed   bool
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.failures {
		return m.err
	}
	m.written = append(m.written, msgs...)
	return nil
}

func (m *mockWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockWriter) Stats() kafka.WriterStats { return kafka.WriterStats{} }

func headerValue(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func testConfig() Config {
	return Config{
		Brokers:         []string{"localhost:9092"},
		GroupID:         "stockscan-test",
		ItemsTopic:      "items",
		ResultsTopic:    "results",
		DeadLetterTopic: "items.dlq",
	}
}
