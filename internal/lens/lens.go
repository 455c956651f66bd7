// Package lens implements radial lens-distortion correction driven by a
// magnification-vs-radius lookup table.
package lens

import (
	"math"
)

// Point is a 2-D coordinate in pixel space.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Validate rejects centers with NaN or infinite coordinates.
func (p Point) Validate() error {
	if !IsFinite(p.X) || !IsFinite(p.Y) {
		return precondition("map", ErrInvalidCenter, "center (%v, %v) is not finite", p.X, p.Y)
	}
	return nil
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Extent is the valid coordinate range [0,Width) x [0,Height).
type Extent struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Contains reports whether (x, y) lies inside the extent.
func (e Extent) Contains(x, y int) bool {
	return x >= 0 && x < e.Width && y >= 0 && y < e.Height
}

// LookupTable holds magnification samples taken at uniform radius fractions
// from 0.0 to 1.0 inclusive. The last entry applies at and beyond the
// maximum radius.
type LookupTable []float64

// NewLookupTable copies values into a validated table.
func NewLookupTable(values []float64) (LookupTable, error) {
	t := make(LookupTable, len(values))
	copy(t, values)
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the table length and that every sample is finite.
func (t LookupTable) Validate() error {
	if len(t) < 2 {
		return precondition("lookup", ErrInvalidLookupTable, "need at least 2 samples, got %d", len(t))
	}
	for i, v := range t {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return precondition("lookup", ErrInvalidLookupTable, "sample %d is not finite (%v)", i, v)
		}
	}
	return nil
}

// Last returns the magnification used for points at or beyond the maximum radius.
func (t LookupTable) Last() float64 {
	return t[len(t)-1]
}

// MaxRadius is the distance from center to the farthest corner region of extent,
// taken independently along each axis.
func MaxRadius(center Point, extent Extent) float64 {
	rx := center.X
	if float64(extent.Width)-center.X > rx {
		rx = float64(extent.Width) - center.X
	}
	ry := center.Y
	if float64(extent.Height)-center.Y > ry {
		ry = float64(extent.Height) - center.Y
	}
	return math.Sqrt(rx*rx + ry*ry)
}

// Magnification interpolates the table at radius r given the normalisation radius rMax.
// Radii at or beyond rMax clamp to the last sample, as do NaN radii.
func Magnification(r, rMax float64, table LookupTable) float64 {
	if !(r < rMax) {
		return table.Last()
	}
	last := len(table) - 1
	pos := r / rMax * float64(last)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if hi > last {
		hi = last
	}
	frac := pos - float64(lo)
	return table[lo]*(1.0-frac) + table[hi]*frac
}

// MapPoint returns the source coordinate sampled for the target pixel (x, y).
func MapPoint(x, y int, table LookupTable, center Point, extent Extent) Point {
	return mapWithRadius(x, y, table, center, MaxRadius(center, extent))
}

func mapWithRadius(x, y int, table LookupTable, center Point, rMax float64) Point {
	dx := float64(x) - center.X
	dy := float64(y) - center.Y
	r := math.Sqrt(dx*dx + dy*dy)
	m := Magnification(r, rMax, table)
	return Point{
		X: center.X + dx*(1.0+m),
		Y: center.Y + dy*(1.0+m),
	}
}

// Mapper caches the normalisation radius for repeated mapping over one image.
// Its results are identical to MapPoint.
type Mapper struct {
	table  LookupTable
	center Point
	extent Extent
	rMax   float64
}

// NewMapper validates the table and extent and precomputes the maximum radius.
func NewMapper(table LookupTable, center Point, extent Extent) (*Mapper, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	if extent.Width <= 0 || extent.Height <= 0 {
		return nil, precondition("map", ErrInvalidImage, "extent %dx%d must be positive", extent.Width, extent.Height)
	}
	if err := center.Validate(); err != nil {
		return nil, err
	}
	return &Mapper{
		table:  table,
		center: center,
		extent: extent,
		rMax:   MaxRadius(center, extent),
	}, nil
}

// Map returns the source coordinate for target pixel (x, y).
func (m *Mapper) Map(x, y int) Point {
	return mapWithRadius(x, y, m.table, m.center, m.rMax)
}

// Source returns the truncated source pixel for (x, y) and whether it lies inside the extent.
func (m *Mapper) Source(x, y int) (int, int, bool) {
	p := m.Map(x, y)
	sx, sy := int(p.X), int(p.Y)
	return sx, sy, m.extent.Contains(sx, sy)
}

// MaxRadius returns the cached normalisation radius.
func (m *Mapper) MaxRadius() float64 { return m.rMax }

// Center returns the distortion center.
func (m *Mapper) Center() Point { return m.center }

// Radius returns the distance of target pixel (x, y) from the center.
func (m *Mapper) Radius(x, y int) float64 {
	dx := float64(x) - m.center.X
	dy := float64(y) - m.center.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// Magnification returns the table value applied at target pixel (x, y).
func (m *Mapper) Magnification(x, y int) float64 {
	return Magnification(m.Radius(x, y), m.rMax, m.table)
}

// Extent returns the image extent the mapper was built for.
func (m *Mapper) Extent() Extent { return m.extent }
