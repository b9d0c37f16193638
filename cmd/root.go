// Package cmd defines and implements the CLI commands for the enricher executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/domain-enricher/internal/app"
	"github.com/JakeFAU/domain-enricher/internal/config"
	"github.com/JakeFAU/domain-enricher/internal/dispatcher"
	"github.com/JakeFAU/domain-enricher/internal/feed"
	"github.com/JakeFAU/domain-enricher/internal/logging"
	"github.com/JakeFAU/domain-enricher/internal/progress"
)

var (
	cfgFile string
	envFile string
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	RunID() string
	Counter() *progress.Counter
	Ready(ctx context.Context) error
	Workers() ([]dispatcher.Runner, error)
	Feeder(ctx context.Context) (*feed.Feeder, func(), error)
	OpsServer() *http.Server
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(cfg, logger)
}

func newRootCmd() *cobra.Command {
	var teardown func()

	cmd := &cobra.Command{
		Use:   "domain-enricher",
		Short: "Enriches queued domains with homepage signals.",
		Long: `domain-enricher drains "<id>|<domain>" jobs from a Redis list, fetches each
domain's homepage, extracts title, description, contact emails, social profiles
and a technology fingerprint, and writes the result back to Postgres.

Use "feed" to load unprocessed rows into the queue, then "run" to start the pool.`,
		SilenceUsage: true,

		// Build the application once flags are parsed, before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, restore, err := logging.Setup(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			teardown = restore

			appInstance, err := newApp(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
			if teardown != nil {
				teardown()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment uses the ENRICHER_ prefix")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "optional .env file exported before reading the environment")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newFeedCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
