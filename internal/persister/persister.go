// Package persister writes analysis results through a worker's store session,
// retrying with reconnect escalation when the connection misbehaves.
//
// Recovery escalates in two steps. A cheap Ping comes first, then a full
// Redial. No statement is executed on a handle known to be bad: after any
// recovery a fresh write handle is prepared before the next attempt.
package persister

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-enricher/internal/enricher"
	"github.com/JakeFAU/domain-enricher/internal/metrics"
)

// ErrRetriesExhausted is returned when every attempt failed.
var ErrRetriesExhausted = errors.New("persist retries exhausted")

// Session is one worker's dedicated store connection.
type Session interface {
	// Ping checks the current connection; success means it can be reused.
	Ping(ctx context.Context) error
	// Redial replaces the connection with a brand-new one.
	Redial(ctx context.Context) error
	// Prepare returns a write handle bound to the current connection.
	Prepare(ctx context.Context) (enricher.ResultWriter, error)
	Close(ctx context.Context) error
}

// State is the connection state tracked by an Executor.
type State int

// Executor states.
const (
	StateConnected State = iota
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config controls retry pacing.
type Config struct {
	MaxAttempts   int
	RetryPause    time.Duration
	RedialBackoff time.Duration
}

const (
	defaultMaxAttempts   = 3
	defaultRetryPause    = time.Second
	defaultRedialBackoff = 2 * time.Second
)

// Executor runs store operations with retry and reconnect escalation. It is
// owned by a single worker and is not safe for concurrent use.
type Executor struct {
	session Session
	cfg     Config
	logger  *zap.Logger
	sleep   func(context.Context, time.Duration) error

	state  State
	handle enricher.ResultWriter
}

// NewExecutor wraps session. Zero config values take the defaults.
func NewExecutor(session Session, cfg Config, logger *zap.Logger) *Executor {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryPause <= 0 {
		cfg.RetryPause = defaultRetryPause
	}
	if cfg.RedialBackoff <= 0 {
		cfg.RedialBackoff = defaultRedialBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		session: session,
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
		state:   StateConnected,
	}
}

// State reports the current connection state.
func (e *Executor) State() State {
	return e.state
}

// Do runs op against a write handle, making up to MaxAttempts attempts.
func (e *Executor) Do(ctx context.Context, op func(context.Context, enricher.ResultWriter) error) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := e.sleep(ctx, e.cfg.RetryPause); err != nil {
				return fmt.Errorf("persist canceled: %w", err)
			}
		}

		err := e.runAttempt(ctx, op)
		if err == nil {
			metrics.ObservePersistAttempt(metrics.PersistOK)
			return nil
		}
		metrics.ObservePersistAttempt(metrics.PersistFailed)
		lastErr = err
		e.logger.Warn("persist attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", e.cfg.MaxAttempts),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return fmt.Errorf("persist canceled: %w", ctx.Err())
		}
		if attempt < e.cfg.MaxAttempts {
			e.reconnect(ctx)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, e.cfg.MaxAttempts, lastErr)
}

// runAttempt makes sure a usable handle exists, then runs op once.
func (e *Executor) runAttempt(ctx context.Context, op func(context.Context, enricher.ResultWriter) error) error {
	if e.state == StateFailed {
		if err := e.session.Redial(ctx); err != nil {
			return fmt.Errorf("redial before attempt: %w", err)
		}
		e.state = StateReconnecting
	}
	if e.handle == nil || e.state != StateConnected {
		h, err := e.session.Prepare(ctx)
		if err != nil {
			e.handle = nil
			e.state = StateFailed
			return fmt.Errorf("prepare write handle: %w", err)
		}
		e.handle = h
		e.state = StateConnected
	}
	if err := op(ctx, e.handle); err != nil {
		e.state = StateReconnecting
		return err
	}
	return nil
}

// reconnect escalates from Ping to Redial. A failed redial leaves the executor
// in StateFailed and waits RedialBackoff.
func (e *Executor) reconnect(ctx context.Context) {
	e.state = StateReconnecting
	e.handle = nil

	pingErr := e.session.Ping(ctx)
	if pingErr == nil {
		return
	}
	e.logger.Info("store ping failed, redialing", zap.Error(pingErr))

	redialErr := e.session.Redial(ctx)
	if redialErr == nil {
		e.logger.Info("store connection re-established")
		return
	}
	e.logger.Warn("store redial failed", zap.Error(redialErr))
	e.state = StateFailed
	if err := e.sleep(ctx, e.cfg.RedialBackoff); err != nil {
		e.logger.Debug("redial backoff interrupted", zap.Error(err))
	}
}

// Persister implements enricher.ResultPersister over an Executor.
type Persister struct {
	exec    *Executor
	session Session
	logger  *zap.Logger
}

var _ enricher.ResultPersister = (*Persister)(nil)

// New builds a Persister that owns session.
func New(session Session, cfg Config, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{
		exec:    NewExecutor(session, cfg, logger),
		session: session,
		logger:  logger,
	}
}

// Persist writes res and reports whether the write was committed. Failures
// are logged, never returned.
func (p *Persister) Persist(ctx context.Context, res enricher.AnalysisResult) bool {
	err := p.exec.Do(ctx, func(ctx context.Context, w enricher.ResultWriter) error {
		return w.WriteResult(ctx, res)
	})
	if err != nil {
		p.logger.Error("persist failed",
			zap.Int64("job_id", res.JobID),
			zap.String("state", p.exec.State().String()),
			zap.Error(err),
		)
		return false
	}
	return true
}

// Close releases the underlying session.
func (p *Persister) Close(ctx context.Context) error {
	if err := p.session.Close(ctx); err != nil {
		return fmt.Errorf("close store session: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
