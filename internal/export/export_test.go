package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/smazurov/stillcam/pkg/linuxav/v4l2"
)

func TestGrid(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		width int
		bpp   int
		want  [][]byte
	}{
		{
			name:  "exact rows",
			data:  []byte{1, 2, 3, 4, 5, 6, 7, 8},
			width: 2,
			bpp:   2,
			want:  [][]byte{{1, 2, 3, 4}, {5, 6, 7, 8}},
		},
		{
			name:  "partial last row padded",
			data:  []byte{1, 2, 3, 4, 5},
			width: 3,
			bpp:   1,
			want:  [][]byte{{1, 2, 3}, {4, 5, 0}},
		},
		{
			name:  "empty",
			data:  nil,
			width: 4,
			bpp:   3,
			want:  [][]byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Grid(tt.data, tt.width, tt.bpp)
			if err != nil {
				t.Fatalf("Grid() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Grid() rows = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if !bytes.Equal(got[i], tt.want[i]) {
					t.Errorf("row %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}

	if _, err := Grid([]byte{1}, 0, 2); err == nil {
		t.Error("Grid() accepted zero width")
	}
}

func TestGridDoesNotAlias(t *testing.T) {
	data := []byte{1, 2, 3, 4}
	grid, err := Grid(data, 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 9
	if grid[0][0] != 1 {
		t.Error("grid row aliases the source buffer")
	}
}

func TestFileName(t *testing.T) {
	tests := []struct {
		format uint32
		want   string
	}{
		{v4l2.PixFmtMJPEG, filepath.Join("out", "frame-0123abcd-0002.jpg")},
		{v4l2.PixFmtYUYV, filepath.Join("out", "frame-0123abcd-0002.raw")},
	}
	for _, tt := range tests {
		if got := FileName("out", "0123abcd-ffff-4000-8000-000000000000", 2, tt.format); got != tt.want {
			t.Errorf("FileName(%s) = %q, want %q", v4l2.FormatFourCC(tt.format), got, tt.want)
		}
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	data := []byte{10, 20, 30, 40, 50, 60}

	raw := filepath.Join(dir, "a", "frame.raw")
	if err := WriteFile(raw, Frame{Data: data, Width: 2, PixelFormat: v4l2.PixFmtMJPEG}, LayoutRaw); err != nil {
		t.Fatalf("WriteFile(raw) error = %v", err)
	}
	got, _ := os.ReadFile(raw)
	if !bytes.Equal(got, data) {
		t.Errorf("raw file = %v, want %v", got, data)
	}

	grid := filepath.Join(dir, "frame.grid")
	if err := WriteFile(grid, Frame{Data: data[:5], Width: 3, PixelFormat: v4l2.PixFmtGrey}, LayoutGrid); err != nil {
		t.Fatalf("WriteFile(grid) error = %v", err)
	}
	got, _ = os.ReadFile(grid)
	if want := []byte{10, 20, 30, 40, 50, 0}; !bytes.Equal(got, want) {
		t.Errorf("grid file = %v, want %v", got, want)
	}

	err := WriteFile(filepath.Join(dir, "x"), Frame{Data: data, Width: 2, PixelFormat: v4l2.PixFmtMJPEG}, LayoutGrid)
	if err == nil {
		t.Error("grid layout accepted a compressed format")
	}
}

func TestParseLayout(t *testing.T) {
	for _, s := range []string{"raw", "grid"} {
		if l, err := ParseLayout(s); err != nil || string(l) != s {
			t.Errorf("ParseLayout(%q) = %q, %v", s, l, err)
		}
	}
	if _, err := ParseLayout("png"); err == nil {
		t.Error("ParseLayout accepted png")
	}
}
