// Package feed loads unprocessed rows from the store onto the job queue.
// It runs as its own phase, never alongside the worker pool.
package feed

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-enricher/internal/enricher"
	"github.com/JakeFAU/domain-enricher/internal/metrics"
)

const defaultBatchSize = 1000

// RowSource streams (id, domain) pairs that still need enrichment.
type RowSource interface {
	EachUnprocessed(ctx context.Context, fn func(id int64, domain string) error) error
}

// Config controls batching.
type Config struct {
	BatchSize int
}

// Stats summarizes one feed run.
type Stats struct {
	Cleared int64
	Pushed  int
	Skipped int
	Batches int
}

// Feeder pushes rows onto the broker in batches.
type Feeder struct {
	broker enricher.Broker
	rows   RowSource
	cfg    Config
	logger *zap.Logger
}

// New constructs a Feeder.
func New(broker enricher.Broker, rows RowSource, cfg Config, logger *zap.Logger) *Feeder {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feeder{broker: broker, rows: rows, cfg: cfg, logger: logger}
}

// Run replaces the queue contents with every unprocessed row. Rows with a
// blank domain are skipped and counted.
func (f *Feeder) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := f.broker.Ping(ctx); err != nil {
		return stats, fmt.Errorf("broker unreachable: %w", err)
	}

	existing, err := f.broker.Len(ctx)
	if err != nil {
		return stats, fmt.Errorf("queue length: %w", err)
	}
	if existing > 0 {
		f.logger.Info("clearing existing queue", zap.Int64("items", existing))
	}
	if err := f.broker.Clear(ctx); err != nil {
		return stats, fmt.Errorf("clear queue: %w", err)
	}
	stats.Cleared = existing

	batch := make([]string, 0, f.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := f.broker.Push(ctx, batch...); err != nil {
			return fmt.Errorf("push batch %d: %w", stats.Batches+1, err)
		}
		stats.Batches++
		stats.Pushed += len(batch)
		metrics.ObserveFeed(len(batch))
		f.logger.Info("batch pushed", zap.Int("batch", stats.Batches), zap.Int("size", len(batch)), zap.Int("total", stats.Pushed))
		batch = batch[:0]
		return nil
	}

	err = f.rows.EachUnprocessed(ctx, func(id int64, domain string) error {
		domain = strings.TrimSpace(domain)
		if domain == "" {
			stats.Skipped++
			return nil
		}
		batch = append(batch, enricher.Job{ID: id, Domain: domain}.Encode())
		if len(batch) >= f.cfg.BatchSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("stream rows: %w", err)
	}
	if err := flush(); err != nil {
		return stats, err
	}

	f.logger.Info("feed complete",
		zap.Int("pushed", stats.Pushed),
		zap.Int("skipped", stats.Skipped),
		zap.Int("batches", stats.Batches),
		zap.Int64("cleared", stats.Cleared),
	)
	return stats, nil
}
