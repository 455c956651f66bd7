package batch

import (
	"context"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/undistort/internal/testutil"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

func testConfig(t *testing.T, dir string) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.CalibrationFile = testutil.WriteCalibration(t, dir, "cal.json", testutil.IdentityCalibration(16, 16))
	cfg.OutputDir = filepath.Join(dir, "out")
	cfg.ShowProgress = false
	cfg.Workers = 2
	cfg.RectifyWorkers = 1
	return cfg
}

func TestOutputPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "frame_rect.png"), OutputPath("/in/frame.jpg", "out", "_rect"))
	assert.Equal(t, filepath.Join("/in", "frame.png"), OutputPath("/in/frame.tiff", "", ""))
}

func TestLoadAndValidateImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ok.png")
	testutil.SaveImage(t, testutil.CreateTestImage(20, 10, color.White), path)

	img, meta, err := loadAndValidateImage(path)
	require.NoError(t, err)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, path, meta.Path)

	txt := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(txt, []byte("nope"), 0o600))
	_, _, err = loadAndValidateImage(txt)
	require.ErrorContains(t, err, "unsupported image format")

	_, _, err = loadAndValidateImage(filepath.Join(dir, "missing.png"))
	require.Error(t, err)
}

func TestProcessImagesParallel_WritesOutputs(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	var paths []string
	for _, name := range []string{"a.png", "b.png", "c.png"} {
		p := filepath.Join(dir, name)
		testutil.SaveImage(t, testutil.CreateGradientImage(16, 16), p)
		paths = append(paths, p)
	}

	pl, err := buildPipeline(cfg, nil)
	require.NoError(t, err)

	items, err := processImagesParallel(context.Background(), pl, paths, cfg, nil)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, it := range items {
		assert.Equal(t, paths[i], it.File)
		assert.False(t, it.Failed())
		require.NotNil(t, it.Result)
		assert.Equal(t, 16, it.Result.Width)
		assert.True(t, testutil.FileExists(it.Output), it.Output)

		// identity table leaves the frame untouched
		got := testutil.LoadImage(t, it.Output)
		want := testutil.LoadImage(t, paths[i])
		assert.True(t, testutil.CompareImages(want, got, 1.0/255))
	}
}

func TestProcessImagesParallel_ContinueOnError(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	good := filepath.Join(dir, "good.png")
	testutil.SaveImage(t, testutil.CreateCheckerboard(16, 16, 4), good)
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, os.WriteFile(bad, []byte("not a png"), 0o600))

	pl, err := buildPipeline(cfg, nil)
	require.NoError(t, err)

	cfg.ContinueOnError = true
	items, err := processImagesParallel(context.Background(), pl, []string{bad, good}, cfg, nil)
	require.NoError(t, err)
	assert.True(t, items[0].Failed())
	assert.False(t, items[1].Failed())

	cfg.ContinueOnError = false
	cfg.Workers = 1
	_, err = processImagesParallel(context.Background(), pl, []string{bad, good}, cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.png")
}

type recordingProgress struct {
	started, completed bool
	progress           int
	errors             int
}

func (r *recordingProgress) OnStart(int)               { r.started = true }
func (r *recordingProgress) OnProgress(current, _ int) { r.progress = current }
func (r *recordingProgress) OnComplete()               { r.completed = true }
func (r *recordingProgress) OnError(int, error)        { r.errors++ }

func TestProcessImagesParallel_Progress(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.ContinueOnError = true
	good := filepath.Join(dir, "good.png")
	testutil.SaveImage(t, testutil.CreateGradientImage(16, 16), good)

	pl, err := buildPipeline(cfg, nil)
	require.NoError(t, err)

	rec := &recordingProgress{}
	_, err = processImagesParallel(context.Background(), pl, []string{good, filepath.Join(dir, "x.gif")}, cfg, rec)
	require.NoError(t, err)
	assert.True(t, rec.started)
	assert.True(t, rec.completed)
	assert.Equal(t, 2, rec.progress)
	assert.Equal(t, 1, rec.errors)
}

func TestProcessImagesParallel_Cancelled(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	good := filepath.Join(dir, "good.png")
	testutil.SaveImage(t, testutil.CreateGradientImage(16, 16), good)

	pl, err := buildPipeline(cfg, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items, err := processImagesParallel(ctx, pl, []string{good, good}, cfg, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Nil(t, it.Result)
		assert.True(t, it.Failed())
	}
}

func TestBuildPipeline(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)
	cfg.HasCenter = true
	cfg.CenterX, cfg.CenterY = 3, 4
	cfg.Channels = utils.ChannelsGray
	cfg.ScaleCenter = false

	pl, err := buildPipeline(cfg, nil)
	require.NoError(t, err)
	c, err := pl.CenterFor(16, 16)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, c.X, 1e-12)
	assert.InDelta(t, 4.0, c.Y, 1e-12)
	assert.Equal(t, utils.ChannelsGray, pl.Config().Channels)
	assert.False(t, pl.Config().ScaleCenter)

	cfg.CalibrationFile = filepath.Join(dir, "missing.json")
	_, err = buildPipeline(cfg, nil)
	require.Error(t, err)
}
