package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/stillcam/internal/controls"
	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/internal/report"
)

// CreateInfoCmd creates the info command. Capabilities, formats and the
// control support table all come from one open handle.
func CreateInfoCmd(configFn ConfigFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show device capabilities, formats and control support",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			logger := logging.GetLogger("devices")
			cfg, err := configFn()
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}

			sess, err := openSession(cfg)
			if err != nil {
				logger.Error("Failed to open device", "device", cfg.DevicePath, "error", err)
				os.Exit(1)
			}
			defer func() {
				if tdErr := sess.Teardown(); tdErr != nil {
					logger.Warn("Failed to close device", "device", cfg.DevicePath, "error", tdErr)
				}
			}()

			dev := sess.Device()
			report.WriteCapabilities(os.Stdout, dev.Path(), dev.Capabilities())

			if lister, ok := dev.Backend().(report.FormatLister); ok {
				formats, err := report.ListFormats(lister, logger)
				if err != nil {
					logger.Warn("Failed to list formats", "device", cfg.DevicePath, "error", err)
				}
				report.WriteFormats(os.Stdout, formats)
			}

			rows := report.ControlRows(dev, controls.SupportIDs(), controls.KeyFor)
			report.WriteControls(os.Stdout, rows)
		},
	}
}
