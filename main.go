package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"

	"github.com/smazurov/stillcam/cmd"
	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/config"
	"github.com/smazurov/stillcam/internal/devices"
	"github.com/smazurov/stillcam/internal/events"
	"github.com/smazurov/stillcam/internal/export"
	"github.com/smazurov/stillcam/internal/led"
	"github.com/smazurov/stillcam/internal/logging"
	"github.com/smazurov/stillcam/internal/pipeline"
	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"stillcam.toml"`

	// Capture settings
	Device         string `help:"Capture device node, by-id/by-path name or device id" short:"d" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	Resolution     string `help:"Resolution preset (qvga, vga, svga, hd, square, fhd, qhd, uhd) or WIDTHxHEIGHT" short:"r" default:"square" toml:"capture.resolution" env:"CAPTURE_RESOLUTION"`
	PixelFormat    string `help:"Pixel format fourcc (MJPG, YUYV, RGB3, GREY)" default:"MJPG" toml:"capture.pixel_format" env:"CAPTURE_PIXEL_FORMAT"`
	Frames         int    `help:"Number of frames to capture" short:"n" default:"1" toml:"capture.frames" env:"CAPTURE_FRAMES"`
	FrameTimeoutMs int    `help:"Frame wait timeout in milliseconds, 0 waits forever" default:"5000" toml:"capture.frame_timeout_ms" env:"CAPTURE_FRAME_TIMEOUT_MS"`

	// Output settings
	OutputDir    string `help:"Directory for captured frames" short:"o" default:"." toml:"output.dir" env:"OUTPUT_DIR"`
	OutputLayout string `help:"Frame file layout (raw, grid)" default:"raw" toml:"output.layout" env:"OUTPUT_LAYOUT"`

	// Control settings
	ControlsFile       string `help:"Control settings file" default:"controls.toml" toml:"controls.file" env:"CONTROLS_FILE"`
	ControlsOverwrite  bool   `help:"Regenerate the control file even if it exists" toml:"controls.overwrite" env:"CONTROLS_OVERWRITE"`
	ControlsFromDevice bool   `help:"Generate the control file from driver defaults" toml:"controls.from_device" env:"CONTROLS_FROM_DEVICE"`
	WatchDebounceMs    int    `help:"Quiet period before a changed control file is applied" default:"500" toml:"controls.watch_debounce_ms" env:"CONTROLS_WATCH_DEBOUNCE_MS"`

	// Metrics settings
	MetricsFile string `help:"Write Prometheus metrics to this textfile after a run" toml:"metrics.textfile" env:"METRICS_TEXTFILE"`

	// Indicator settings
	IndicatorLED string `help:"Sysfs LED mirroring capture state, or auto to detect the board LED" toml:"indicator.led" env:"INDICATOR_LED"`

	// Logging settings
	LoggingLevel    string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat   string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCapture  string `help:"Capture logging level" default:"info" toml:"logging.capture" env:"LOGGING_CAPTURE"`
	LoggingControls string `help:"Controls logging level" default:"info" toml:"logging.controls" env:"LOGGING_CONTROLS"`
	LoggingPipeline string `help:"Pipeline logging level" default:"info" toml:"logging.pipeline" env:"LOGGING_PIPELINE"`
	LoggingDevices  string `help:"Devices logging level" default:"info" toml:"logging.devices" env:"LOGGING_DEVICES"`
}

// pipelineConfig validates the options and turns them into a run
// configuration.
func pipelineConfig(opts *Options, bus *events.Bus) (pipeline.Config, error) {
	devicePath, err := devices.NewResolver().Resolve(opts.Device)
	if err != nil {
		return pipeline.Config{}, err
	}
	width, height, err := capture.ParseResolution(opts.Resolution)
	if err != nil {
		return pipeline.Config{}, err
	}
	pixelFormat, err := v4l2.ParseFourCC(opts.PixelFormat)
	if err != nil {
		return pipeline.Config{}, err
	}
	layout, err := export.ParseLayout(opts.OutputLayout)
	if err != nil {
		return pipeline.Config{}, err
	}
	if opts.FrameTimeoutMs < 0 {
		return pipeline.Config{}, fmt.Errorf("frame timeout must not be negative, got %d", opts.FrameTimeoutMs)
	}

	return pipeline.Config{
		DevicePath:         devicePath,
		Width:              width,
		Height:             height,
		PixelFormat:        pixelFormat,
		Frames:             opts.Frames,
		FrameTimeout:       time.Duration(opts.FrameTimeoutMs) * time.Millisecond,
		OutputDir:          opts.OutputDir,
		Layout:             layout,
		ControlsFile:       opts.ControlsFile,
		ControlsOverwrite:  opts.ControlsOverwrite,
		ControlsFromDevice: opts.ControlsFromDevice,
		MetricsFile:        opts.MetricsFile,
		WatchDebounce:      time.Duration(opts.WatchDebounceMs) * time.Millisecond,
		Bus:                bus,
	}, nil
}

func main() {
	var cli humacli.CLI
	var options *Options
	eventBus := events.New()

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		options = opts

		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// Initialize logging system
		loggingConfig := logging.Config{
			Level:  opts.LoggingLevel,
			Format: opts.LoggingFormat,
			Modules: map[string]string{
				"capture":  opts.LoggingCapture,
				"controls": opts.LoggingControls,
				"pipeline": opts.LoggingPipeline,
				"devices":  opts.LoggingDevices,
			},
		}
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		if opts.IndicatorLED != "" {
			indicator := led.NewIndicator(led.New(logger, opts.IndicatorLED), eventBus, logger)
			indicator.Start()
			cli.Root().PersistentPostRun = func(*cobra.Command, []string) {
				indicator.Stop()
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})

		// Default command captures a burst of stills
		hooks.OnStart(func() {
			defer close(done)

			cfg, err := pipelineConfig(opts, eventBus)
			if err != nil {
				logger.Error("Invalid configuration", "error", err)
				os.Exit(1)
			}

			res, err := pipeline.NewRunner().Run(ctx, cfg)
			for _, path := range res.Files {
				fmt.Println(path)
			}
			if err != nil {
				logger.Error("Capture failed", "device", cfg.DevicePath, "error", err)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Interrupted, tearing down capture session")
			cancel()
			<-done
		})
	})

	configFn := func() (pipeline.Config, error) {
		return pipelineConfig(options, eventBus)
	}

	cli.Root().Use = "stillcam"
	cli.Root().Short = "Single-buffer V4L2 still capture"
	cli.Root().AddCommand(cmd.CreateDevicesCmd())
	cli.Root().AddCommand(cmd.CreateInfoCmd(configFn))
	cli.Root().AddCommand(cmd.CreateControlsCmd(configFn))
	cli.Root().AddCommand(cmd.CreateWatchCmd(configFn))
	cli.Root().AddCommand(cmd.CreateVersionCmd())

	// Run the CLI
	cli.Run()
}
