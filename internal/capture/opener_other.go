//go:build !linux

package capture

import "errors"

// OpenV4L2 is unavailable outside Linux.
func OpenV4L2(path string) (Backend, error) {
	return nil, errors.New("v4l2 capture is only supported on linux")
}
