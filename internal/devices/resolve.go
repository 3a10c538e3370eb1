// Package devices turns user-supplied device names into device nodes.
package devices

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// Resolver maps device identifiers to paths. Identifiers may be a device
// node, a name under /dev/v4l/by-id or /dev/v4l/by-path, or a synthetic
// id reported by the devices command.
type Resolver struct {
	// DevRoot is the directory holding the v4l symlink trees.
	DevRoot string
	// Lookup resolves synthetic ids. Defaults to v4l2.GetDevicePathByID.
	Lookup func(deviceID string) (string, error)
}

// NewResolver returns a resolver for the running system.
func NewResolver() *Resolver {
	return &Resolver{DevRoot: "/dev", Lookup: v4l2.GetDevicePathByID}
}

// Resolve returns a usable device path for id.
func (r *Resolver) Resolve(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("empty device identifier")
	}
	if strings.HasPrefix(id, "/") {
		return id, nil
	}

	// Stable symlinks first
	for _, tree := range []string{"v4l/by-id", "v4l/by-path"} {
		path := filepath.Join(r.DevRoot, tree, id)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	// Bare node names such as "video2"
	if strings.HasPrefix(id, "video") {
		path := filepath.Join(r.DevRoot, id)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if r.Lookup != nil {
		if path, err := r.Lookup(id); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no device found for identifier %q", id)
}
