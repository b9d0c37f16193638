// Package memory provides an in-process broker for local development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/domain-enricher/internal/enricher"
	"github.com/JakeFAU/domain-enricher/internal/queue"
)

// compactAfter is the number of consumed slots that triggers compaction.
const compactAfter = 64

// Broker is an unbounded FIFO list guarded by a mutex. Waiting poppers are
// woken through a channel that is closed and replaced on every push.
// items[head:] holds the queue; consumed slots are zeroed and reclaimed once
// they make up half of the slice.
type Broker struct {
	mu     sync.Mutex
	items  []string
	head   int
	notify chan struct{}
	closed bool
}

var _ enricher.Broker = (*Broker)(nil)

// NewBroker constructs an empty broker, optionally pre-loaded with items.
func NewBroker(items ...string) *Broker {
	return &Broker{
		items:  append([]string(nil), items...),
		notify: make(chan struct{}),
	}
}

// Pop removes the head of the list, waiting up to timeout for an item.
func (b *Broker) Pop(ctx context.Context, timeout time.Duration) (string, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return "", false, queue.ErrClosed
		}
		if b.head < len(b.items) {
			item := b.take()
			b.mu.Unlock()
			return item, true, nil
		}
		wake := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", false, fmt.Errorf("pop canceled: %w", ctx.Err())
		case <-timer.C:
			return "", false, nil
		case <-wake:
		}
	}
}

// take removes the head item. Callers hold b.mu.
func (b *Broker) take() string {
	item := b.items[b.head]
	b.items[b.head] = ""
	b.head++
	switch {
	case b.head == len(b.items):
		b.items = b.items[:0]
		b.head = 0
	case b.head >= compactAfter && b.head*2 >= len(b.items):
		n := copy(b.items, b.items[b.head:])
		clear(b.items[n:])
		b.items = b.items[:n]
		b.head = 0
	}
	return item
}

// Push appends items to the tail of the list.
func (b *Broker) Push(_ context.Context, items ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.ErrClosed
	}
	if len(items) == 0 {
		return nil
	}
	b.items = append(b.items, items...)
	close(b.notify)
	b.notify = make(chan struct{})
	return nil
}

// Len reports the number of queued items.
func (b *Broker) Len(context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, queue.ErrClosed
	}
	return int64(len(b.items) - b.head), nil
}

// Clear drops every queued item.
func (b *Broker) Clear(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.ErrClosed
	}
	b.items = nil
	b.head = 0
	return nil
}

// Ping fails only after Close.
func (b *Broker) Ping(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return queue.ErrClosed
	}
	return nil
}

// Reconnect is a no-op; an in-process list never loses its link.
func (b *Broker) Reconnect(ctx context.Context) error {
	return b.Ping(ctx)
}

// Close wakes any waiting poppers and rejects further calls.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	close(b.notify)
	return nil
}

// Snapshot returns a copy of the queued items in order.
func (b *Broker) Snapshot() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.items[b.head:]...)
}
