package progress

import "sync"

// Counter is a mutex-guarded running total of persisted results.
type Counter struct {
	mu    sync.Mutex
	total int64
}

// NewCounter returns a counter starting at zero.
func NewCounter() *Counter {
	return &Counter{}
}

// Increment adds one and returns the new total. Concurrent callers each
// observe a distinct value.
func (c *Counter) Increment() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	return c.total
}

// Snapshot returns the current total.
func (c *Counter) Snapshot() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Milestone reports whether n lands on a multiple of every. A non-positive
// interval disables milestones.
func Milestone(n, every int64) bool {
	return every > 0 && n > 0 && n%every == 0
}
