// Package worker implements the per-goroutine job loop: pop a job, analyze
// it under a hard deadline, persist the result, and count it.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-enricher/internal/enricher"
	"github.com/JakeFAU/domain-enricher/internal/metrics"
	"github.com/JakeFAU/domain-enricher/internal/progress"
	"github.com/JakeFAU/domain-enricher/internal/queue"
)

// ErrBrokerLost is returned by Run when the broker could not be reconnected.
var ErrBrokerLost = errors.New("broker connection lost")

const closeTimeout = 5 * time.Second

// Config controls Worker pacing.
type Config struct {
	// ID identifies the worker in logs.
	ID    int
	RunID string

	PopTimeout  time.Duration
	HardTimeout time.Duration
	JitterMin   time.Duration
	JitterMax   time.Duration
	// ErrorBackoff is the pause after an unexpected iteration failure.
	ErrorBackoff      time.Duration
	ReconnectBackoff  time.Duration
	ReconnectAttempts int
	MilestoneEvery    int64
}

// Persister persists results through a session the worker owns.
type Persister interface {
	enricher.ResultPersister
	Close(ctx context.Context) error
}

// Worker consumes jobs from its own broker handle until the context ends or
// the broker is lost for good.
type Worker struct {
	broker    enricher.Broker
	analyzer  enricher.Analyzer
	persister Persister
	counter   *progress.Counter
	cfg       Config
	logger    *zap.Logger

	sleep  func(context.Context, time.Duration) error
	jitter func() time.Duration
}

// New constructs a Worker. Zero durations take conservative defaults.
func New(
	broker enricher.Broker,
	analyzer enricher.Analyzer,
	persister Persister,
	counter *progress.Counter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	if cfg.HardTimeout <= 0 {
		cfg.HardTimeout = 45 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = 5 * time.Second
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 1
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = progress.NewCounter()
	}
	w := &Worker{
		broker:    broker,
		analyzer:  analyzer,
		persister: persister,
		counter:   counter,
		cfg:       cfg,
		logger:    logger.With(zap.Int("worker", cfg.ID), zap.String("run_id", cfg.RunID)),
		sleep:     sleepCtx,
	}
	w.jitter = w.uniformJitter
	return w
}

// Run loops until ctx is canceled (returning nil) or the broker cannot be
// reconnected (returning an error wrapping ErrBrokerLost). The worker's
// store session and broker handle are closed on the way out.
func (w *Worker) Run(ctx context.Context) error {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	defer w.shutdown()

	w.logger.Debug("worker started")
	for {
		if ctx.Err() != nil {
			return nil
		}
		err := w.step(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case queue.IsConnection(err):
			if rerr := w.reconnect(ctx, err); rerr != nil {
				if ctx.Err() != nil {
					return nil
				}
				w.logger.Error("worker terminating", zap.Error(rerr))
				return rerr
			}
		default:
			w.logger.Error("worker iteration failed", zap.Error(err))
			if serr := w.sleep(ctx, w.cfg.ErrorBackoff); serr != nil {
				return nil
			}
		}
	}
}

// step handles at most one job. A panic anywhere inside is converted to an
// error so the loop survives it.
func (w *Worker) step(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker iteration panicked: %v", r)
		}
	}()

	raw, ok, err := w.broker.Pop(ctx, w.cfg.PopTimeout)
	if err != nil {
		return fmt.Errorf("pop job: %w", err)
	}
	if !ok {
		return nil
	}

	job, err := enricher.ParseJob(raw)
	if err != nil {
		metrics.ObserveJob(metrics.OutcomeInvalid)
		w.logger.Warn("discarding malformed job", zap.String("raw", raw), zap.Error(err))
		return nil
	}
	return w.process(ctx, job)
}

func (w *Worker) process(ctx context.Context, job enricher.Job) error {
	log := w.logger.With(zap.Int64("job_id", job.ID), zap.String("domain", job.Domain))

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.HardTimeout)
	defer cancel()

	res, err := w.analyze(jobCtx, job)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			metrics.ObserveJob(metrics.OutcomeTimeout)
			log.Warn("job abandoned at hard deadline", zap.Duration("hard_timeout", w.cfg.HardTimeout))
			return nil
		}
		return fmt.Errorf("analyze job %d: %w", job.ID, err)
	}

	persisted := w.persister.Persist(ctx, res)
	if persisted {
		metrics.ObserveJob(metrics.OutcomePersisted)
		if n := w.counter.Increment(); progress.Milestone(n, w.cfg.MilestoneEvery) {
			log.Info("progress milestone", zap.Int64("total", n))
		}
	} else {
		metrics.ObserveJob(metrics.OutcomePersistFailed)
	}
	if res.StatusCode == http.StatusOK {
		log.Info("domain ok", zap.String("title", res.Title), zap.Bool("persisted", persisted))
	}
	return nil
}

// analyze runs the jitter sleep and the analyzer in a supervised goroutine so
// the hard deadline holds even if the analyzer ignores its context.
func (w *Worker) analyze(ctx context.Context, job enricher.Job) (enricher.AnalysisResult, error) {
	start := time.Now()
	done := make(chan enricher.AnalysisResult, 1)
	panicked := make(chan any, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicked <- r
			}
		}()
		if err := w.sleep(ctx, w.jitter()); err != nil {
			return
		}
		done <- w.analyzer.Analyze(ctx, job.ID, job.Domain)
	}()

	select {
	case res := <-done:
		// A result that raced the deadline is still abandoned.
		if err := ctx.Err(); err != nil {
			return enricher.AnalysisResult{}, fmt.Errorf("analyze %s: %w", job.Domain, err)
		}
		metrics.ObserveAnalyzeDuration(time.Since(start))
		return res, nil
	case r := <-panicked:
		return enricher.AnalysisResult{}, fmt.Errorf("analyzer panicked: %v", r)
	case <-ctx.Done():
		return enricher.AnalysisResult{}, fmt.Errorf("analyze %s: %w", job.Domain, ctx.Err())
	}
}

// reconnect waits ReconnectBackoff and asks the broker for a new link, up to
// ReconnectAttempts times.
func (w *Worker) reconnect(ctx context.Context, cause error) error {
	w.logger.Warn("broker connection lost", zap.Error(cause))
	var last error
	for attempt := 1; attempt <= w.cfg.ReconnectAttempts; attempt++ {
		if err := w.sleep(ctx, w.cfg.ReconnectBackoff); err != nil {
			return fmt.Errorf("reconnect canceled: %w", err)
		}
		if err := w.broker.Reconnect(ctx); err != nil {
			last = err
			w.logger.Warn("broker reconnect failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		w.logger.Info("broker reconnected", zap.Int("attempt", attempt))
		return nil
	}
	return fmt.Errorf("%w: %d reconnect attempts failed: %w", ErrBrokerLost, w.cfg.ReconnectAttempts, last)
}

func (w *Worker) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if w.persister != nil {
		if err := w.persister.Close(ctx); err != nil {
			w.logger.Warn("closing store session failed", zap.Error(err))
		}
	}
	if err := w.broker.Close(); err != nil {
		w.logger.Warn("closing broker failed", zap.Error(err))
	}
	w.logger.Debug("worker stopped")
}

func (w *Worker) uniformJitter() time.Duration {
	span := w.cfg.JitterMax - w.cfg.JitterMin
	if span <= 0 {
		return w.cfg.JitterMin
	}
	return w.cfg.JitterMin + time.Duration(rand.Int64N(int64(span)+1))
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
