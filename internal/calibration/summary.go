package calibration

import (
	"gonum.org/v1/gonum/floats"
)

// TableStats describes one lookup table.
type TableStats struct {
	Samples int     `json:"samples"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Mean    float64 `json:"mean"`
}

// Summary is the human facing description of a calibration record.
type Summary struct {
	Center              []float64   `json:"center,omitempty"`
	ReferenceDimensions []float64   `json:"reference_dimensions,omitempty"`
	PixelSize           float64     `json:"pixel_size,omitempty"`
	Forward             *TableStats `json:"forward,omitempty"`
	Inverse             *TableStats `json:"inverse,omitempty"`
}

func statsFor(values []float64) *TableStats {
	if len(values) == 0 {
		return nil
	}
	return &TableStats{
		Samples: len(values),
		Min:     floats.Min(values),
		Max:     floats.Max(values),
		Mean:    floats.Sum(values) / float64(len(values)),
	}
}

// Summarize reports table statistics and the geometric fields of the record.
func (r *Record) Summarize() Summary {
	return Summary{
		Center:              r.Center,
		ReferenceDimensions: r.ReferenceDimensions,
		PixelSize:           r.PixelSize,
		Forward:             statsFor(r.LookupTable),
		Inverse:             statsFor(r.InverseLookupTable),
	}
}
