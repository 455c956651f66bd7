// Package calibration reads camera calibration records carrying a radial
// distortion lookup table and distortion center.
package calibration

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/undistort/internal/lens"
)

// Format identifies the on-disk encoding of a calibration file.
type Format string

const (
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
	FormatText    Format = "text"    // bare table, one or more values per line
	FormatFloat32 Format = "float32" // bare table, packed little-endian float32
)

var (
	// ErrNoCenter is returned when a record carries no distortion center.
	ErrNoCenter = errors.New("calibration has no distortion center")
	// ErrInvalidRecord is the root of every malformed-record error; it wraps
	// lens.ErrPrecondition so callers can report it as bad input.
	ErrInvalidRecord = fmt.Errorf("invalid calibration: %w", lens.ErrPrecondition)
	// ErrNoTable is returned when the requested lookup table is missing.
	ErrNoTable = fmt.Errorf("%w: no lookup table", ErrInvalidRecord)
)

// Record mirrors the calibration_data object sent by capture devices.
type Record struct {
	IntrinsicMatrix     [][]float64 `json:"intrinsic_matrix,omitempty" yaml:"intrinsic_matrix,omitempty"`
	PixelSize           float64     `json:"pixel_size,omitempty" yaml:"pixel_size,omitempty"`
	ReferenceDimensions []float64   `json:"intrinsic_matrix_reference_dimensions,omitempty" yaml:"intrinsic_matrix_reference_dimensions,omitempty"`
	Center              []float64   `json:"lens_distortion_center,omitempty" yaml:"lens_distortion_center,omitempty"`
	LookupTable         []float64   `json:"lens_distortion_lookup_table,omitempty" yaml:"lens_distortion_lookup_table,omitempty"`
	InverseLookupTable  []float64   `json:"inverse_lens_distortion_lookup_table,omitempty" yaml:"inverse_lens_distortion_lookup_table,omitempty"`
}

// envelope matches uploads that wrap the record, e.g. {"calibration_data": {...}}.
type envelope struct {
	Data *Record `json:"calibration_data" yaml:"calibration_data"`
}

// DetectFormat picks a format from a file extension. Unknown extensions default to JSON.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".txt", ".csv", ".lut":
		return FormatText
	case ".bin", ".f32", ".raw":
		return FormatFloat32
	default:
		return FormatJSON
	}
}

// Load reads and parses a calibration file, choosing the format from its extension.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: calibration path is user supplied by design
	if err != nil {
		return nil, fmt.Errorf("read calibration %s: %w", path, err)
	}
	rec, err := Parse(data, DetectFormat(path))
	if err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	return rec, nil
}

// Parse decodes data in the given format. Bare-table formats fill both the
// forward and inverse table slots, since the file does not say which it is.
func Parse(data []byte, format Format) (*Record, error) {
	switch format {
	case FormatText:
		values, err := ParseTextTable(strings.NewReader(string(data)))
		if err != nil {
			return nil, err
		}
		return tableOnly(values), nil
	case FormatFloat32:
		values, err := ParseFloat32Table(data)
		if err != nil {
			return nil, err
		}
		return tableOnly(values), nil
	case FormatYAML:
		return decode(data, yaml.Unmarshal)
	case FormatJSON, "":
		return decode(data, json.Unmarshal)
	default:
		return nil, fmt.Errorf("unsupported calibration format %q", format)
	}
}

func decode(data []byte, unmarshal func([]byte, any) error) (*Record, error) {
	var env envelope
	if err := unmarshal(data, &env); err == nil && env.Data != nil {
		return env.Data, nil
	}
	var rec Record
	if err := unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func tableOnly(values []float64) *Record {
	return &Record{
		LookupTable:        values,
		InverseLookupTable: append([]float64(nil), values...),
	}
}

// Table returns the forward or inverse lookup table as a validated lens.LookupTable.
func (r *Record) Table(inverse bool) (lens.LookupTable, error) {
	values := r.LookupTable
	name := "lens_distortion_lookup_table"
	if inverse {
		values = r.InverseLookupTable
		name = "inverse_lens_distortion_lookup_table"
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoTable, name)
	}
	table, err := lens.NewLookupTable(values)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return table, nil
}

// HasCenter reports whether the record carries a two-component distortion center.
func (r *Record) HasCenter() bool {
	return len(r.Center) == 2
}

// CenterFor returns the distortion center in the pixel space of a width x height
// image. When reference dimensions are present the center is rescaled from
// them, otherwise it is returned unchanged.
func (r *Record) CenterFor(width, height int) (lens.Point, error) {
	if !r.HasCenter() {
		return lens.Point{}, ErrNoCenter
	}
	c := lens.Point{X: r.Center[0], Y: r.Center[1]}
	if err := c.Validate(); err != nil {
		return lens.Point{}, err
	}
	if len(r.ReferenceDimensions) != 2 || r.ReferenceDimensions[0] <= 0 || r.ReferenceDimensions[1] <= 0 {
		return c, nil
	}
	if width <= 0 || height <= 0 {
		return lens.Point{}, fmt.Errorf("%w: target dimensions %dx%d", lens.ErrInvalidImage, width, height)
	}
	c = lens.Point{
		X: c.X * float64(width) / r.ReferenceDimensions[0],
		Y: c.Y * float64(height) / r.ReferenceDimensions[1],
	}
	if err := c.Validate(); err != nil {
		return lens.Point{}, err
	}
	return c, nil
}

// Validate checks that at least one table is usable and that optional fields are well formed.
func (r *Record) Validate() error {
	if len(r.LookupTable) == 0 && len(r.InverseLookupTable) == 0 {
		return ErrNoTable
	}
	for _, inverse := range []bool{false, true} {
		values := r.LookupTable
		if inverse {
			values = r.InverseLookupTable
		}
		if len(values) == 0 {
			continue
		}
		if _, err := r.Table(inverse); err != nil {
			return err
		}
	}
	if len(r.Center) != 0 && len(r.Center) != 2 {
		return fmt.Errorf("%w: lens_distortion_center needs 2 values, got %d", ErrInvalidRecord, len(r.Center))
	}
	if len(r.ReferenceDimensions) != 0 && len(r.ReferenceDimensions) != 2 {
		return fmt.Errorf("%w: intrinsic_matrix_reference_dimensions needs 2 values, got %d",
			ErrInvalidRecord, len(r.ReferenceDimensions))
	}
	for _, v := range append(append([]float64(nil), r.Center...), r.ReferenceDimensions...) {
		if !lens.IsFinite(v) {
			return fmt.Errorf("%w: center and reference dimensions must be finite", ErrInvalidRecord)
		}
	}
	return nil
}

// Marshal encodes the record in JSON or YAML.
func (r *Record) Marshal(format Format) ([]byte, error) {
	switch format {
	case FormatYAML:
		return yaml.Marshal(r)
	case FormatJSON, "":
		return json.MarshalIndent(r, "", "  ")
	default:
		return nil, fmt.Errorf("cannot marshal calibration as %q", format)
	}
}
