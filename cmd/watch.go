package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/internal/pipeline"
	"github.com/smazurov/stillcam/internal/systemd"
)

// CreateWatchCmd creates the watch command.
func CreateWatchCmd(configFn ConfigFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-apply the control file on change and save a still each time",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			logger := logging.GetLogger("pipeline")
			cfg, err := configFn()
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}

			cfg.Notifier = systemd.NewNotifier()

			ctx, stop := signalContext()
			defer stop()

			if err := pipeline.NewRunner().Watch(ctx, cfg); err != nil {
				logger.Error("Watch stopped", "error", err)
				os.Exit(1)
			}
		},
	}
}
