// Package cmd holds the stillcam subcommands.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/pipeline"
)

// ConfigFunc resolves the capture configuration from the parsed root
// options.
type ConfigFunc func() (pipeline.Config, error)

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// openSession opens the configured device for inspection without
// negotiating a format or mapping buffers.
func openSession(cfg pipeline.Config) (*capture.Session, error) {
	sess := capture.NewSession(capture.Options{
		DevicePath: cfg.DevicePath,
		Opener:     cfg.Opener,
		Bus:        cfg.Bus,
	})
	if err := sess.Open(); err != nil {
		_ = sess.Teardown()
		return nil, err
	}
	return sess, nil
}
