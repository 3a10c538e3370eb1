package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/internal/report"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			logger := logging.GetLogger("devices")
			devices, err := v4l2.FindDevices()
			if err != nil {
				logger.Error("Failed to enumerate devices", "error", err)
				os.Exit(1)
			}
			report.WriteDevices(os.Stdout, devices)
		},
	}
}
