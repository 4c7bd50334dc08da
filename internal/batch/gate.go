package batch

import (
	"container/list"
	"context"
	"sync"
)

// Gate is a counting semaphore whose capacity can change while it is in
// use. Waiters are served strictly in arrival order: a released slot goes
// to the longest waiter before any newcomer can take it.
//
// golang.org/x/sync/semaphore is FIFO too, but its size is fixed at
// construction, and the adaptive balancer resizes between chunks.
type Gate struct {
	mu        sync.Mutex
	capacity  int
	inFlight  int
	highWater int
	waiters   list.List // of chan struct{}
}

// NewGate returns a gate admitting capacity holders at once. Capacities
// below 1 are raised to 1.
func NewGate(capacity int) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	return &Gate{capacity: capacity}
}

// Acquire blocks until a slot is free or ctx ends. On ctx end it returns
// ctx.Err() and holds no slot.
func (g *Gate) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	if g.inFlight < g.capacity && g.waiters.Len() == 0 {
		g.admitLocked()
		g.mu.Unlock()
		return nil
	}
	ready := make(chan struct{})
	elem := g.waiters.PushBack(ready)
	g.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		select {
		case <-ready:
			// Granted while we were giving up: pass the slot on.
			g.mu.Unlock()
			g.Release()
		default:
			g.waiters.Remove(elem)
			g.grantLocked()
			g.mu.Unlock()
		}
		return ctx.Err()
	}
}

// Release returns a slot. If a waiter is queued and capacity allows, the
// slot is handed straight to it.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inFlight <= 0 {
		panic("batch: gate released more often than acquired")
	}
	g.inFlight--
	g.grantLocked()
}

// SetCapacity changes the number of slots. Shrinking never preempts current
// holders; it only delays later admissions. Growing admits queued waiters
// immediately.
func (g *Gate) SetCapacity(n int) {
	if n < 1 {
		n = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.capacity = n
	g.grantLocked()
}

func (g *Gate) Capacity() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.capacity
}

func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}

// HighWater is the largest InFlight value observed since construction.
func (g *Gate) HighWater() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.highWater
}

func (g *Gate) admitLocked() {
	g.inFlight++
	if g.inFlight > g.highWater {
		g.highWater = g.inFlight
	}
}

func (g *Gate) grantLocked() {
	for g.inFlight < g.capacity {
		front := g.waiters.Front()
		if front == nil {
			return
		}
		g.waiters.Remove(front)
		g.admitLocked()
		close(front.Value.(chan struct{}))
	}
}
