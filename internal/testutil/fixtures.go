package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/undistort/internal/calibration"
)

// IdentityCalibration returns a record whose tables leave every pixel in place.
func IdentityCalibration(width, height int) *calibration.Record {
	return &calibration.Record{
		ReferenceDimensions: []float64{float64(width), float64(height)},
		Center:              []float64{float64(width) / 2, float64(height) / 2},
		LookupTable:         []float64{0, 0, 0, 0},
		InverseLookupTable:  []float64{0, 0, 0, 0},
	}
}

// BarrelCalibration returns a record with a quadratic magnification profile
// of the given strength, sampled at n points, and its negated inverse.
func BarrelCalibration(width, height, n int, strength float64) *calibration.Record {
	if n < 2 {
		n = 2
	}
	fwd := make([]float64, n)
	inv := make([]float64, n)
	for i := range n {
		r := float64(i) / float64(n-1)
		fwd[i] = strength * r * r
		inv[i] = -strength * r * r
	}
	return &calibration.Record{
		IntrinsicMatrix: [][]float64{
			{1000, 0, float64(width) / 2},
			{0, 1000, float64(height) / 2},
			{0, 0, 1},
		},
		PixelSize:           0.0014,
		ReferenceDimensions: []float64{float64(width), float64(height)},
		Center:              []float64{float64(width) / 2, float64(height) / 2},
		LookupTable:         fwd,
		InverseLookupTable:  inv,
	}
}

// WriteCalibration writes rec as JSON into dir and returns the file path.
func WriteCalibration(t *testing.T, dir string, name string, rec *calibration.Record) string {
	t.Helper()

	data, err := rec.Marshal(calibration.FormatJSON)
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, EnsureDir(dir))
	require.NoError(t, writeFile(path, data))
	return path
}
