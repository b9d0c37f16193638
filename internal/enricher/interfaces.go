package enricher

import (
	"context"
	"time"
)

// Broker is the shared FIFO of encoded jobs.
type Broker interface {
	// Pop waits up to timeout for the next entry. ok is false when the wait
	// expired without an entry.
	Pop(ctx context.Context, timeout time.Duration) (value string, ok bool, err error)
	Push(ctx context.Context, values ...string) error
	Len(ctx context.Context) (int64, error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	// Reconnect replaces the underlying connection and verifies it.
	Reconnect(ctx context.Context) error
	Close() error
}

// Analyzer turns a raw domain into an AnalysisResult.
type Analyzer interface {
	Analyze(ctx context.Context, jobID int64, rawDomain string) AnalysisResult
}

// ResultPersister durably records results. It reports false when the write was abandoned.
type ResultPersister interface {
	Persist(ctx context.Context, result AnalysisResult) bool
}

// ResultWriter executes a single write of a result against the store.
type ResultWriter interface {
	WriteResult(ctx context.Context, result AnalysisResult) error
}
