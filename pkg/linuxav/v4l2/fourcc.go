package v4l2

import (
	"fmt"
	"strings"
)

// FormatFourCC converts a 4-byte pixel format to a human-readable string.
func FormatFourCC(format uint32) string {
	b := make([]byte, 4)
	b[0] = byte(format & 0xFF)
	b[1] = byte((format >> 8) & 0xFF)
	b[2] = byte((format >> 16) & 0xFF)
	b[3] = byte((format >> 24) & 0xFF)
	return string(b)
}

var fourCCAliases = map[string]string{
	"MJPEG": "MJPG",
	"YUY2":  "YUYV",
	"RGB24": "RGB3",
	"GRAY":  "GREY",
}

// ParseFourCC converts a four character code such as "MJPG" to its pixel
// format value. Codes shorter than four characters are space padded, as
// the kernel does for formats like "Y10 ".
func ParseFourCC(code string) (uint32, error) {
	if alias, ok := fourCCAliases[strings.ToUpper(code)]; ok {
		code = alias
	}
	if code == "" || len(code) > 4 {
		return 0, fmt.Errorf("invalid fourcc %q", code)
	}
	code += strings.Repeat(" ", 4-len(code))
	return uint32(code[0]) | uint32(code[1])<<8 | uint32(code[2])<<16 | uint32(code[3])<<24, nil
}

// BytesPerPixel returns the fixed pixel stride for packed uncompressed
// formats. Compressed and planar formats report false.
func BytesPerPixel(format uint32) (int, bool) {
	switch format {
	case PixFmtGrey:
		return 1, true
	case PixFmtYUYV:
		return 2, true
	case PixFmtRGB24:
		return 3, true
	default:
		return 0, false
	}
}

// Compressed reports whether frames of this format have a variable length
// payload.
func Compressed(format uint32) bool {
	switch format {
	case PixFmtMJPEG, PixFmtJPEG, PixFmtH264, PixFmtHEVC:
		return true
	default:
		return false
	}
}
