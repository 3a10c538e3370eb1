// Package export writes captured frames to disk, either verbatim or as a
// fixed-stride grid of pixel rows.
package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

// Layout selects how a frame is written.
type Layout string

// Frame layouts.
const (
	LayoutRaw  Layout = "raw"
	LayoutGrid Layout = "grid"
)

// ParseLayout validates a layout name.
func ParseLayout(s string) (Layout, error) {
	switch Layout(s) {
	case LayoutRaw, LayoutGrid:
		return Layout(s), nil
	default:
		return "", fmt.Errorf("unknown layout %q (want raw or grid)", s)
	}
}

// Grid reshapes data into rows of width*bytesPerPixel bytes. A partial
// last row is zero padded. The returned slice never aliases data.
func Grid(data []byte, width, bytesPerPixel int) ([][]byte, error) {
	if width <= 0 || bytesPerPixel <= 0 {
		return nil, fmt.Errorf("invalid grid stride %dx%d", width, bytesPerPixel)
	}
	stride := width * bytesPerPixel
	rows := (len(data) + stride - 1) / stride
	grid := make([][]byte, rows)
	for r := range grid {
		row := make([]byte, stride)
		copy(row, data[r*stride:])
		grid[r] = row
	}
	return grid, nil
}

// WriteRaw writes data verbatim.
func WriteRaw(w io.Writer, data []byte) error {
	_, err := w.Write(data)
	return err
}

// WriteGrid writes data as stride-aligned rows.
func WriteGrid(w io.Writer, data []byte, width, bytesPerPixel int) error {
	grid, err := Grid(data, width, bytesPerPixel)
	if err != nil {
		return err
	}
	for _, row := range grid {
		if _, err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// FileName returns the output path of frame index of a session. JPEG
// payloads get a .jpg extension, everything else .raw.
func FileName(dir, sessionID string, index int, pixelFormat uint32) string {
	ext := ".raw"
	if pixelFormat == v4l2.PixFmtMJPEG || pixelFormat == v4l2.PixFmtJPEG {
		ext = ".jpg"
	}
	short := sessionID
	if len(short) > 8 {
		short = short[:8]
	}
	return filepath.Join(dir, fmt.Sprintf("frame-%s-%04d%s", short, index, ext))
}

// Frame describes what to write.
type Frame struct {
	Data        []byte
	Width       uint32
	PixelFormat uint32
}

// WriteFile writes a frame to path using layout. The grid layout needs a
// packed uncompressed pixel format.
func WriteFile(path string, f Frame, layout Layout) error {
	if layout == LayoutGrid {
		if _, ok := v4l2.BytesPerPixel(f.PixelFormat); !ok {
			return fmt.Errorf("grid layout needs a packed pixel format, got %s", v4l2.FormatFourCC(f.PixelFormat))
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create frame file: %w", err)
	}

	switch layout {
	case LayoutGrid:
		bpp, _ := v4l2.BytesPerPixel(f.PixelFormat)
		err = WriteGrid(out, f.Data, int(f.Width), bpp)
	default:
		err = WriteRaw(out, f.Data)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write frame %s: %w", path, err)
	}
	return nil
}
