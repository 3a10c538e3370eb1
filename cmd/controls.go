package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smazurov/stillcam/internal/controls"
	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/internal/pipeline"
	"github.com/smazurov/stillcam/internal/report"
)

// CreateControlsCmd creates the controls command.
func CreateControlsCmd(configFn ConfigFunc) *cobra.Command {
	var apply bool

	cmd := &cobra.Command{
		Use:   "controls",
		Short: "Create or show the control file, optionally applying it",
		Long: `Loads the control file, creating it from compiled-in or device defaults ` +
			`when missing or when --controls-overwrite is set. With --apply the values ` +
			`are written to the device and the outcome of each control is printed.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			logger := logging.GetLogger("controls")
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
			failed := false
			defer func() {
				if tdErr := sess.Teardown(); tdErr != nil {
					logger.Warn("Failed to close device", "device", cfg.DevicePath, "error", tdErr)
				}
				if failed {
					os.Exit(1)
				}
			}()

			set, created, err := pipeline.LoadControls(sess.Device(), cfg.ControlsFile, cfg.ControlsOverwrite, cfg.ControlsFromDevice, logger)
			if err != nil {
				logger.Error("Failed to load control file", "path", cfg.ControlsFile, "error", err)
				failed = true
				return
			}
			verb := "Loaded"
			if created {
				verb = "Created"
			}
			fmt.Printf("%s %s with %d controls\n", verb, cfg.ControlsFile, set.Len())
			set.Each(func(id uint32, value int32) {
				fmt.Printf("  %-28s %d\n", controls.KeyFor(id), value)
			})

			if !apply {
				return
			}
			rep, err := sess.Reconfigure(set)
			fmt.Println("Applied:")
			report.WriteApplyReport(os.Stdout, rep, controls.KeyFor)
			if err != nil {
				logger.Error("Applying controls failed", "error", err)
				failed = true
			}
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "Write the values to the device")
	return cmd
}
