package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/undistort/internal/testutil"
)

func TestImageCommand(t *testing.T) {
	assert.True(t, strings.HasPrefix(imageCmd.Use, "image"))
	assert.NotEmpty(t, imageCmd.Short)
	assert.NotEmpty(t, imageCmd.Long)
	assert.Same(t, imageCmd, GetImageCommand())

	for _, name := range []string{"format", "output", "output-dir", "suffix", "calibration", "inverse",
		"center-x", "center-y", "channels", "crop", "workers"} {
		assert.NotNil(t, imageCmd.Flags().Lookup(name), name)
	}
}

func TestImageCommand_RectifiesIdentity(t *testing.T) {
	dir := isolate(t)
	calib := writeCalibration(t, dir, testutil.IdentityCalibration(20, 10))
	input := writeImage(t, dir, "frame.png", 20, 10)

	output, errOut, err := executeCommandAndCaptureOutput(t, "image", input, "-c", calib)
	require.NoError(t, err)
	assert.Contains(t, errOut, "Processing 1 image(s)")

	rectified := filepath.Join(dir, "frame_rectified.png")
	require.FileExists(t, rectified)
	assert.True(t, testutil.CompareImages(testutil.LoadImage(t, input), testutil.LoadImage(t, rectified), 0.01))

	assert.Contains(t, output, "# "+input)
	assert.Contains(t, output, "size: 20x10 (3 channels)")
	assert.Contains(t, output, "coverage: 200 of 200 pixels (100.0%)")
}

func TestImageCommand_JSONToFile(t *testing.T) {
	dir := isolate(t)
	calib := writeCalibration(t, dir, testutil.BarrelCalibration(32, 32, 6, 0.2))
	input := writeImage(t, dir, "frame.png", 32, 32)
	outDir := filepath.Join(dir, "out")
	results := filepath.Join(dir, "results.json")

	output, _, err := executeCommandAndCaptureOutput(t, "image", input,
		"-c", calib, "--inverse=false", "--channels", "gray",
		"--output-dir", outDir, "--suffix", "_u", "--format", "json", "--output", results)
	require.NoError(t, err)
	assert.Contains(t, output, "Results written to "+results)
	require.FileExists(t, filepath.Join(outDir, "frame_u.png"))

	data, err := os.ReadFile(results)
	require.NoError(t, err)
	var doc struct {
		Images []struct {
			File   string `json:"file"`
			Result struct {
				Channels     int     `json:"channels"`
				Inverse      bool    `json:"inverse"`
				CoverageRate float64 `json:"coverage_ratio"`
			} `json:"result"`
		} `json:"images"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Images, 1)
	assert.Equal(t, 1, doc.Images[0].Result.Channels)
	assert.False(t, doc.Images[0].Result.Inverse)
	assert.Less(t, doc.Images[0].Result.CoverageRate, 1.0)
}

func TestImageCommand_Errors(t *testing.T) {
	dir := isolate(t)
	calib := writeCalibration(t, dir, testutil.IdentityCalibration(8, 8))

	t.Run("no files", func(t *testing.T) {
		_, _, err := executeCommandAndCaptureOutput(t, "image", "-c", calib)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no input files")
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := executeCommandAndCaptureOutput(t, "image", filepath.Join(dir, "missing.png"), "-c", calib)
		require.Error(t, err)
	})

	t.Run("unsupported extension", func(t *testing.T) {
		_, _, err := executeCommandAndCaptureOutput(t, "image", calib, "-c", calib)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported image format")
	})

	t.Run("no calibration", func(t *testing.T) {
		input := writeImage(t, dir, "frame.png", 8, 8)
		_, _, err := executeCommandAndCaptureOutput(t, "image", input)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no calibration configured")
	})

	t.Run("invalid format", func(t *testing.T) {
		input := writeImage(t, dir, "frame.png", 8, 8)
		_, _, err := executeCommandAndCaptureOutput(t, "image", input, "-c", calib, "--format", "xml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid output format")
	})

	t.Run("half a center", func(t *testing.T) {
		input := writeImage(t, dir, "frame.png", 8, 8)
		_, _, err := executeCommandAndCaptureOutput(t, "image", input, "-c", calib, "--center-x", "3")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "set together")
	})
}
