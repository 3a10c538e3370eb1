package led

import (
	"os"
	"strings"

	"github.com/smazurov/stillcam/internal/logging"
)

const deviceTreeModelPath = "/proc/device-tree/model"

// Auto selects the LED from the board model.
const Auto = "auto"

// boardLEDs maps device tree model substrings to the LED used as the
// capture indicator.
var boardLEDs = []struct {
	model string
	led   string
}{
	{"NanoPC-T6", "usr_led"},
	{"Orange Pi", "blue_led"},
	{"Raspberry Pi", "ACT"},
}

// New returns a controller for name, a sysfs LED name or Auto. Unknown
// boards fall back to a no-op controller.
func New(logger logging.Logger, name string) Controller {
	return newController(logger, name, deviceTreeModelPath, sysfsLEDPath)
}

func newController(logger logging.Logger, name, modelPath, root string) Controller {
	if name != Auto {
		return newSysfs(root, name)
	}

	boardModel := detectBoard(modelPath)
	for _, b := range boardLEDs {
		if strings.Contains(boardModel, b.model) {
			logger.Info("Detected board, using sysfs LED controller", "board_model", boardModel, "led", b.led)
			return newSysfs(root, b.led)
		}
	}
	logger.Info("No LED support detected, using no-op controller", "board_model", boardModel)
	return newNoop(logger)
}

func detectBoard(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	// Device tree strings are NUL terminated.
	return strings.TrimRight(string(data), "\x00")
}
