package kafka

import (
	"sync"

	"github.com/segmentio/kafka-go"
)

type partitionKey struct {
	topic     string
	partition int
}

// offsetTracker decides what may be committed. Committing an offset
// implicitly commits everything before it on that partition, so a message
// is only committed once it and every earlier fetched message of its
// partition are complete.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[partitionKey][]int64
	done    map[partitionKey]map[int64]struct{}
	held    map[string][]kafka.Message
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{
		pending: make(map[partitionKey][]int64),
		done:    make(map[partitionKey]map[int64]struct{}),
		held:    make(map[string][]kafka.Message),
	}
}

// track registers a fetched message. Messages of one partition arrive in
// offset order.
func (t *offsetTracker) track(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := partitionKey{m.Topic, m.Partition}
	t.pending[k] = append(t.pending[k], m.Offset)
}

// hold remembers that itemID was produced from m, until release.
func (t *offsetTracker) hold(itemID string, m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.held[itemID] = append(t.held[itemID], kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset})
}

// release returns the oldest message held for itemID.
func (t *offsetTracker) release(itemID string) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.held[itemID]
	if len(msgs) == 0 {
		return kafka.Message{}, false
	}
	m := msgs[0]
	if len(msgs) == 1 {
		delete(t.held, itemID)
	} else {
		t.held[itemID] = msgs[1:]
	}
	return m, true
}

// complete marks m done and returns the message to commit, if the
// partition's committable prefix grew.
func (t *offsetTracker) complete(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := partitionKey{m.Topic, m.Partition}
	if t.done[k] == nil {
		t.done[k] = make(map[int64]struct{})
	}
	t.done[k][m.Offset] = struct{}{}

	pending := t.pending[k]
	last, advanced := int64(0), false
	for len(pending) > 0 {
		if _, ok := t.done[k][pending[0]]; !ok {
			break
		}
		last, advanced = pending[0], true
		delete(t.done[k], pending[0])
		pending = pending[1:]
	}
	t.pending[k] = pending
	if !advanced {
		return kafka.Message{}, false
	}
	return kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: last}, true
}

// outstanding counts fetched messages not yet committable.
func (t *offsetTracker) outstanding() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int64
	for _, p := range t.pending {
		n += int64(len(p))
	}
	return n
}
