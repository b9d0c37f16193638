package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/domain-enricher/internal/dispatcher"
	"github.com/JakeFAU/domain-enricher/internal/metrics"
)

const opsShutdownTimeout = 5 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Starts the worker pool",
		Long: `Pings the broker, then starts worker.concurrency workers that pop jobs,
analyze each domain under a hard deadline, and persist the result. Runs until
interrupted or until every worker has exited.`,
		RunE: runPoolCommand,
	}
}

func runPoolCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger().With(zap.String("run_id", appInstance.RunID()))
	metrics.Init()

	if err := appInstance.Ready(cmd.Context()); err != nil {
		logger.Error("broker unreachable, not starting workers", zap.Error(err))
		return fmt.Errorf("startup: %w", err)
	}

	runners, err := appInstance.Workers()
	if err != nil {
		return fmt.Errorf("build workers: %w", err)
	}
	pool := dispatcher.New(runners, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return pool.Run(gctx)
	})

	if srv := appInstance.OpsServer(); srv != nil {
		g.Go(func() error {
			logger.Info("ops server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ops server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), opsShutdownTimeout)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Info("worker pool stopped",
		zap.Int("workers", pool.Size()),
		zap.Int64("persisted", appInstance.Counter().Snapshot()),
	)
	if err != nil {
		return fmt.Errorf("run pool: %w", err)
	}
	return nil
}
