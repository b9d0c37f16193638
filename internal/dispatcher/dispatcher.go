// Package dispatcher runs the worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrPoolExhausted is returned when every worker terminated on its own
// before the pool was asked to stop.
var ErrPoolExhausted = errors.New("all workers terminated")

// Runner is a long-lived worker loop.
type Runner interface {
	Run(ctx context.Context) error
}

// Dispatcher fans work out to a fixed set of independent workers.
type Dispatcher struct {
	workers []Runner
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []Runner, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers: workers,
		logger:  logger,
	}
}

// Run starts every worker in its own goroutine and blocks until all of them
// have exited. A worker that terminates does not affect the others.
func (d *Dispatcher) Run(ctx context.Context) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed []error
	)
	for i, w := range d.workers {
		wg.Add(1)
		go func(idx int, wk Runner) {
			defer wg.Done()
			if err := wk.Run(ctx); err != nil {
				d.logger.Error("worker exited", zap.Int("worker", idx), zap.Error(err))
				mu.Lock()
				failed = append(failed, fmt.Errorf("worker %d: %w", idx, err))
				mu.Unlock()
			}
		}(i, w)
	}
	d.logger.Info("worker pool started", zap.Int("workers", len(d.workers)))
	wg.Wait()

	if len(d.workers) > 0 && len(failed) == len(d.workers) && ctx.Err() == nil {
		return fmt.Errorf("%w: %w", ErrPoolExhausted, errors.Join(failed...))
	}
	return nil
}

// Size reports how many workers the pool runs.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}
