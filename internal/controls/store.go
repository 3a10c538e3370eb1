package controls

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/stillcam/internal/capture"
	"github.com/smazurov/stillcam/internal/logging"
)

const fileVersion = 1

// File is the on-disk layout of a control file.
type File struct {
	Version  int              `toml:"version"`
	Controls map[string]int32 `toml:"controls"`
}

// Header describes the device a control file was generated for. It is
// written as a comment block and never read back.
type Header struct {
	DevicePath string
	Card       string
	Driver     string
	// Live holds the values the device reported when the file was made.
	Live *capture.ControlSet
}

// LoadOptions controls LoadOrCreate.
type LoadOptions struct {
	// Overwrite regenerates the file even if it exists.
	Overwrite bool
	// DeviceDefaults supplies values for a new file. When nil the
	// compiled-in defaults are used.
	DeviceDefaults func() (*capture.ControlSet, error)
	// Header is prepended to a new file when set.
	Header *Header
}

// Store reads and writes one control file.
type Store struct {
	path   string
	logger logging.Logger
}

// NewStore creates a store for path.
func NewStore(path string) *Store {
	if path == "" {
		path = "controls.toml"
	}
	return &Store{
		path:   path,
		logger: logging.GetLogger("controls"),
	}
}

// Path returns the file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the control file. Keys outside the catalog are skipped with
// a warning. The result follows catalog order.
func (s *Store) Load() (*capture.ControlSet, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read control file: %w", err)
	}

	var f File
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse control file %s: %w", s.path, err)
	}
	if f.Version > fileVersion {
		return nil, fmt.Errorf("control file %s has unsupported version %d", s.path, f.Version)
	}

	for key := range f.Controls {
		if _, ok := Lookup(key); !ok {
			s.logger.Warn("Ignoring unknown control", "path", s.path, "key", key)
		}
	}

	set := capture.NewControlSet()
	for _, d := range Catalog {
		if v, ok := f.Controls[d.Key]; ok {
			set.Set(d.ID, v)
		}
	}
	return set, nil
}

// Save writes set to the control file, prefixed by header when given.
func (s *Store) Save(set *capture.ControlSet, header *Header) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create control file directory: %w", err)
	}

	f := File{Version: fileVersion, Controls: make(map[string]int32, set.Len())}
	set.Each(func(id uint32, value int32) {
		if d, ok := ByID(id); ok {
			f.Controls[d.Key] = value
		}
	})

	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal control file: %w", err)
	}

	var buf bytes.Buffer
	if header != nil {
		writeHeader(&buf, header)
	}
	buf.Write(data)

	if err := os.WriteFile(s.path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write control file: %w", err)
	}
	return nil
}

// LoadOrCreate returns the stored controls, creating the file first if it
// is missing or Overwrite is set. created reports whether the file was
// written.
func (s *Store) LoadOrCreate(opts LoadOptions) (set *capture.ControlSet, created bool, err error) {
	if !opts.Overwrite {
		_, statErr := os.Stat(s.path)
		if statErr == nil {
			set, err = s.Load()
			return set, false, err
		}
		if !errors.Is(statErr, os.ErrNotExist) {
			return nil, false, fmt.Errorf("failed to stat control file: %w", statErr)
		}
	}

	source := "compiled defaults"
	set = Defaults()
	if opts.DeviceDefaults != nil {
		set, err = opts.DeviceDefaults()
		if err != nil {
			return nil, false, fmt.Errorf("failed to read device defaults: %w", err)
		}
		source = "device defaults"
	}

	if err := s.Save(set, opts.Header); err != nil {
		return nil, false, err
	}
	s.logger.Info("Created control file", "path", s.path, "source", source, "controls", set.Len())
	return set, true, nil
}

func writeHeader(buf *bytes.Buffer, h *Header) {
	buf.WriteString("# Camera control settings\n")
	if h.DevicePath != "" {
		device := h.DevicePath
		var details []string
		if h.Card != "" {
			details = append(details, h.Card)
		}
		if h.Driver != "" {
			details = append(details, "driver "+h.Driver)
		}
		if len(details) > 0 {
			device += " (" + strings.Join(details, ", ") + ")"
		}
		fmt.Fprintf(buf, "# Device: %s\n", device)
	}
	if h.Live != nil && h.Live.Len() > 0 {
		buf.WriteString("#\n# Live settings when this file was generated:\n")
		h.Live.Each(func(id uint32, value int32) {
			fmt.Fprintf(buf, "#   %s = %d\n", KeyFor(id), value)
		})
	}
	buf.WriteString("#\n# Values are written as-is; the driver rejects values outside a control's range.\n\n")
}
