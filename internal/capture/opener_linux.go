//go:build linux

package capture

import "github.com/smazurov/stillcam/pkg/linuxav/v4l2"

// OpenV4L2 opens a V4L2 device node for blocking capture.
func OpenV4L2(path string) (Backend, error) {
	dev, err := v4l2.Open(path)
	if err != nil {
		return nil, err
	}
	return dev, nil
}
