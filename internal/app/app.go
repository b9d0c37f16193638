// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-enricher/internal/analyzer"
	"github.com/JakeFAU/domain-enricher/internal/api"
	"github.com/JakeFAU/domain-enricher/internal/config"
	"github.com/JakeFAU/domain-enricher/internal/dispatcher"
	"github.com/JakeFAU/domain-enricher/internal/enricher"
	"github.com/JakeFAU/domain-enricher/internal/feed"
	"github.com/JakeFAU/domain-enricher/internal/id/uuid"
	"github.com/JakeFAU/domain-enricher/internal/persister"
	"github.com/JakeFAU/domain-enricher/internal/progress"
	redisqueue "github.com/JakeFAU/domain-enricher/internal/queue/redis"
	"github.com/JakeFAU/domain-enricher/internal/storage/postgres"
	"github.com/JakeFAU/domain-enricher/internal/techsig"
	"github.com/JakeFAU/domain-enricher/internal/worker"
)

const (
	feedPoolConns      = 2
	opsReadTimeout     = 5 * time.Second
	opsWriteTimeout    = 10 * time.Second
	idleConnsPerWorker = 2
)

// RowSource streams unprocessed rows and owns a pool that must be closed.
type RowSource interface {
	feed.RowSource
	Close()
}

// App holds the shared services of one process: configuration, the run's
// identity and progress counter, and factories for per-worker connections.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	runID   string
	started time.Time
	counter *progress.Counter
	probe   enricher.Broker

	newBroker  func() enricher.Broker
	newSession func(ctx context.Context) (persister.Session, error)
	newRows    func(ctx context.Context) (RowSource, error)
}

// New builds the container. No network connection is opened until a
// factory or Ready is used.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a := &App{
		cfg:     cfg,
		logger:  logger,
		runID:   runID,
		started: time.Now(),
		counter: progress.NewCounter(),
	}
	a.newBroker = a.dialBroker
	a.newSession = a.openSession
	a.newRows = a.openRows
	a.probe = a.newBroker()
	return a, nil
}

// Logger returns the base logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies this process in logs and on the progress endpoint.
func (a *App) RunID() string { return a.runID }

// Counter is the process-wide persisted-results counter.
func (a *App) Counter() *progress.Counter { return a.counter }

// Ready pings the broker through a dedicated handle.
func (a *App) Ready(ctx context.Context) error {
	if err := a.probe.Ping(ctx); err != nil {
		return fmt.Errorf("broker ping: %w", err)
	}
	return nil
}

func (a *App) dialBroker() enricher.Broker {
	b := a.cfg.Broker
	return redisqueue.New(redisqueue.Options{
		Addr:     b.Addr,
		Password: b.Password,
		DB:       b.DB,
		Key:      b.Key,
	}, a.logger)
}

func (a *App) openSession(ctx context.Context) (persister.Session, error) {
	s, err := postgres.NewSession(ctx, postgres.SessionConfig{
		DSN:   a.cfg.Store.DSN,
		Table: a.cfg.Store.Table,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (a *App) openRows(ctx context.Context) (RowSource, error) {
	rows, err := postgres.NewRowSource(ctx, postgres.RowSourceConfig{
		DSN:          a.cfg.Store.DSN,
		Table:        a.cfg.Store.Table,
		DomainColumn: a.cfg.Store.DomainColumn,
		MaxConns:     feedPoolConns,
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Analyzer builds the shared analyzer: one HTTP client and one signature
// registry serve every worker.
func (a *App) Analyzer() (*analyzer.Analyzer, error) {
	registry := techsig.Default()
	if path := a.cfg.Analyzer.SignaturesFile; path != "" {
		loaded, err := techsig.LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load signatures: %w", err)
		}
		registry = loaded
	}
	h := a.cfg.HTTP
	client := analyzer.NewHTTPClient(analyzer.ClientConfig{
		MaxRedirects:       h.MaxRedirects,
		InsecureSkipVerify: h.InsecureSkipVerify,
		MaxIdleConns:       a.cfg.Worker.Concurrency * idleConnsPerWorker,
	})
	return analyzer.New(client, registry, analyzer.Config{
		RequestTimeout:    h.RequestTimeout,
		MaxDownloadBytes:  h.MaxDownloadBytes,
		UserAgent:         h.UserAgent,
		RequestsPerSecond: h.RequestsPerSecond,
	}, a.logger), nil
}

// Workers builds worker.concurrency runners. Each runner opens its own store
// session when started; a worker whose session cannot be opened exits alone.
func (a *App) Workers() ([]dispatcher.Runner, error) {
	if err := a.cfg.RequireStore(); err != nil {
		return nil, err
	}
	an, err := a.Analyzer()
	if err != nil {
		return nil, err
	}
	runners := make([]dispatcher.Runner, 0, a.cfg.Worker.Concurrency)
	for i := 0; i < a.cfg.Worker.Concurrency; i++ {
		runners = append(runners, &lazyWorker{app: a, analyzer: an, id: i})
	}
	return runners, nil
}

func (a *App) workerConfig(id int) worker.Config {
	w := a.cfg.Worker
	return worker.Config{
		ID:                id,
		RunID:             a.runID,
		PopTimeout:        a.cfg.Broker.PopTimeout,
		HardTimeout:       w.HardTimeout,
		JitterMin:         w.JitterMin,
		JitterMax:         w.JitterMax,
		ErrorBackoff:      w.ErrorBackoff,
		ReconnectBackoff:  a.cfg.Broker.ReconnectBackoff,
		ReconnectAttempts: a.cfg.Broker.ReconnectAttempts,
		MilestoneEvery:    w.MilestoneEvery,
	}
}

func (a *App) persisterConfig() persister.Config {
	s := a.cfg.Store
	return persister.Config{
		MaxAttempts:   s.MaxAttempts,
		RetryPause:    s.RetryPause,
		RedialBackoff: s.RedialBackoff,
	}
}

// lazyWorker connects on Run so the pool dials its sessions concurrently.
type lazyWorker struct {
	app      *App
	analyzer enricher.Analyzer
	id       int
}

// Run opens the worker's store session and broker handle, then runs the loop.
func (l *lazyWorker) Run(ctx context.Context) error {
	a := l.app
	session, err := a.newSession(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("open store session: %w", err)
	}
	logger := a.logger.With(zap.Int("worker", l.id), zap.String("run_id", a.runID))
	p := persister.New(session, a.persisterConfig(), logger)
	w := worker.New(a.newBroker(), l.analyzer, p, a.counter, a.workerConfig(l.id), a.logger)
	return w.Run(ctx)
}

// Feeder builds a feeder over the store's unprocessed rows. The returned
// function releases the row source and broker.
func (a *App) Feeder(ctx context.Context) (*feed.Feeder, func(), error) {
	if err := a.cfg.RequireStore(); err != nil {
		return nil, nil, err
	}
	rows, err := a.newRows(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open row source: %w", err)
	}
	broker := a.newBroker()
	f := feed.New(broker, rows, feed.Config{BatchSize: a.cfg.Feed.BatchSize}, a.logger)
	return f, func() {
		rows.Close()
		if err := broker.Close(); err != nil {
			a.logger.Warn("closing feed broker failed", zap.Error(err))
		}
	}, nil
}

// OpsServer returns the ops HTTP server, or nil when metrics.addr is empty.
func (a *App) OpsServer() *http.Server {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	progressHandler := api.NewProgressHandler(a.counter, a.runID, a.started)
	srv := api.NewServer(a.Ready, progressHandler, a.logger)
	return &http.Server{
		Addr:         a.cfg.Metrics.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  opsReadTimeout,
		WriteTimeout: opsWriteTimeout,
	}
}

// Close releases the probe broker and flushes the logger.
func (a *App) Close() {
	if err := a.probe.Close(); err != nil {
		a.logger.Warn("closing probe broker failed", zap.Error(err))
	}
	_ = a.logger.Sync() //nolint:errcheck // best-effort flush
}
