package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newFeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "feed",
		Short: "Loads unprocessed domains into the queue",
		Long: `Clears the job list, then pushes "<id>|<domain>" for every row whose
status_code is 0 or NULL, in batches of feed.batch_size. Do not run while a
pool is draining the same list.`,
		RunE: runFeedCommand,
	}
}

func runFeedCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	f, release, err := appInstance.Feeder(cmd.Context())
	if err != nil {
		return fmt.Errorf("build feeder: %w", err)
	}
	defer release()

	stats, err := f.Run(cmd.Context())
	if err != nil {
		return fmt.Errorf("feed queue: %w", err)
	}
	appInstance.Logger().Info("Feed command finished.",
		zap.Int("pushed", stats.Pushed),
		zap.Int("skipped", stats.Skipped),
	)
	return nil
}
