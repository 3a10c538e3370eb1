// Package led drives a board status LED as a capture indicator.
package led

// Controller sets the state of one named LED.
type Controller interface {
	// Set switches the LED on or off. A non-empty pattern selects the
	// kernel trigger: "solid", "blink" or a raw trigger name.
	Set(enabled bool, pattern string) error

	// Name returns the sysfs LED name, or "" for the no-op controller.
	Name() string
}
