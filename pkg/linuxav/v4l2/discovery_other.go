//go:build !linux

package v4l2

import "errors"

// FindDevices is unavailable outside Linux.
func FindDevices() ([]DeviceInfo, error) {
	return nil, errors.New("v4l2 device discovery is only supported on linux")
}

// GetDevicePathByID is unavailable outside Linux.
func GetDevicePathByID(deviceID string) (string, error) {
	return "", errors.New("v4l2 device discovery is only supported on linux")
}
