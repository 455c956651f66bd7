package testutil

import (
	"image/color"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/undistort/internal/calibration"
)

func TestGetProjectRoot(t *testing.T) {
	root, err := GetProjectRootValidated()
	require.NoError(t, err)
	assert.True(t, FileExists(filepath.Join(root, "go.mod")))
}

func TestImagesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "grad.png")
	img := CreateGradientImage(16, 8)
	SaveImage(t, img, path)

	loaded := LoadImage(t, path)
	assert.True(t, CompareImages(img, loaded, 0))
	assert.False(t, CompareImages(img, CreateTestImage(16, 8, color.Black), 0.01))
	assert.False(t, CompareImages(img, CreateTestImage(8, 8, color.Black), 1))
}

func TestCheckerboard(t *testing.T) {
	cb := CreateCheckerboard(8, 8, 2)
	assert.Equal(t, uint8(255), cb.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), cb.GrayAt(2, 0).Y)
	assert.Equal(t, uint8(255), cb.GrayAt(2, 2).Y)
}

func TestCalibrationFixtures(t *testing.T) {
	rec := BarrelCalibration(64, 48, 5, 0.2)
	require.NoError(t, rec.Validate())
	assert.InDelta(t, 0.2, rec.LookupTable[4], 1e-12)
	assert.InDelta(t, -0.05, rec.InverseLookupTable[2], 1e-12)

	path := WriteCalibration(t, t.TempDir(), "cal.json", rec)
	loaded, err := calibration.Load(path)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)

	require.NoError(t, IdentityCalibration(4, 4).Validate())
}
