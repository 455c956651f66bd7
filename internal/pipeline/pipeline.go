// Package pipeline ties calibration loading, raster conversion and the
// rectification kernel together for single frames and frame sets.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/MeKo-Tech/undistort/internal/calibration"
	"github.com/MeKo-Tech/undistort/internal/lens"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

// Config holds configuration for the rectification pipeline.
type Config struct {
	CalibrationFile string
	Inverse         bool        // use inverse_lens_distortion_lookup_table
	ScaleCenter     bool        // rescale the center from the calibration reference dimensions
	Center          *lens.Point // explicit center, overrides the calibration
	Workers         int         // column workers per frame (0 = runtime.NumCPU())
	Channels        utils.ChannelMode
	CenterCrop      bool

	// Parallel processing across frames
	Parallel ParallelConfig
}

// DefaultConfig returns a default pipeline config.
func DefaultConfig() Config {
	return Config{
		Inverse:     true,
		ScaleCenter: true,
		Workers:     runtime.NumCPU(),
		Channels:    utils.ChannelsAuto,
		Parallel:    DefaultParallelConfig(),
	}
}

// Builder constructs a Pipeline with fluent configuration.
type Builder struct {
	cfg Config
	rec *calibration.Record
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// WithCalibrationFile sets the calibration file to load on Build.
func (b *Builder) WithCalibrationFile(path string) *Builder {
	if path != "" {
		b.cfg.CalibrationFile = path
	}
	return b
}

// WithCalibration supplies an already parsed calibration record; it takes
// precedence over any calibration file.
func (b *Builder) WithCalibration(rec *calibration.Record) *Builder {
	b.rec = rec
	return b
}

// WithInverse selects the inverse lookup table.
func (b *Builder) WithInverse(inverse bool) *Builder {
	b.cfg.Inverse = inverse
	return b
}

// WithCenter pins the distortion center in output pixel coordinates.
func (b *Builder) WithCenter(x, y float64) *Builder {
	b.cfg.Center = &lens.Point{X: x, Y: y}
	return b
}

// WithWorkers sets the number of column workers per frame.
func (b *Builder) WithWorkers(n int) *Builder {
	if n >= 0 {
		b.cfg.Workers = n
	}
	return b
}

// WithChannels sets the channel mode used when converting frames.
func (b *Builder) WithChannels(mode utils.ChannelMode) *Builder {
	if mode != "" {
		b.cfg.Channels = mode
	}
	return b
}

// WithCenterCrop enables cropping to the largest centred square before rectification.
func (b *Builder) WithCenterCrop(enabled bool) *Builder {
	b.cfg.CenterCrop = enabled
	return b
}

// WithParallelWorkers sets the number of frames processed concurrently.
func (b *Builder) WithParallelWorkers(workers int) *Builder {
	if workers > 0 {
		b.cfg.Parallel.MaxWorkers = workers
	}
	return b
}

// WithProgressCallback sets the progress callback for multi-frame runs.
func (b *Builder) WithProgressCallback(callback ProgressCallback) *Builder {
	b.cfg.Parallel.ProgressCallback = callback
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks that a calibration source exists and settings look sane.
func (b *Builder) Validate() error {
	if b.rec == nil {
		if b.cfg.CalibrationFile == "" {
			return errors.New("no calibration configured")
		}
		if _, err := os.Stat(b.cfg.CalibrationFile); err != nil {
			return fmt.Errorf("calibration file not found: %s", b.cfg.CalibrationFile)
		}
	}
	if b.cfg.Workers < 0 {
		return errors.New("workers must be >= 0")
	}
	if b.cfg.Channels != utils.ChannelsAuto && b.cfg.Channels.Count() == 0 {
		return fmt.Errorf("invalid channel mode %q", b.cfg.Channels)
	}
	return nil
}

// Build validates the configuration and loads the calibration.
func (b *Builder) Build() (*Pipeline, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	rec := b.rec
	if rec == nil {
		var err error
		rec, err = calibration.Load(b.cfg.CalibrationFile)
		if err != nil {
			return nil, err
		}
	}
	return New(b.cfg, rec)
}

// Pipeline rectifies frames against one calibration.
type Pipeline struct {
	cfg   Config
	rec   *calibration.Record
	table lens.LookupTable
}

// New creates a pipeline for rec using cfg.
func New(cfg Config, rec *calibration.Record) (*Pipeline, error) {
	if rec == nil {
		return nil, errors.New("calibration is nil")
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	table, err := rec.Table(cfg.Inverse)
	if err != nil {
		return nil, fmt.Errorf("select lookup table: %w", err)
	}
	slog.Debug("Pipeline ready",
		"calibration", cfg.CalibrationFile,
		"inverse", cfg.Inverse,
		"table_samples", len(table),
		"workers", cfg.Workers)
	return &Pipeline{cfg: cfg, rec: rec, table: table}, nil
}

// WithCalibration returns a copy of p that uses rec, keeping every other setting.
func (p *Pipeline) WithCalibration(rec *calibration.Record) (*Pipeline, error) {
	cfg := p.cfg
	cfg.CalibrationFile = ""
	return New(cfg, rec)
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Calibration returns the calibration record in use.
func (p *Pipeline) Calibration() *calibration.Record { return p.rec }

// Table returns the selected lookup table.
func (p *Pipeline) Table() lens.LookupTable { return p.table }

// CenterFor resolves the distortion center for a width x height frame.
// An explicit center wins, then the calibration center (rescaled when
// ScaleCenter is set), and finally the geometric middle of the frame.
func (p *Pipeline) CenterFor(width, height int) (lens.Point, error) {
	if p.cfg.Center != nil {
		return *p.cfg.Center, nil
	}
	if p.rec.HasCenter() {
		if p.cfg.ScaleCenter {
			return p.rec.CenterFor(width, height)
		}
		return lens.Point{X: p.rec.Center[0], Y: p.rec.Center[1]}, nil
	}
	return lens.Point{X: float64(width) / 2, Y: float64(height) / 2}, nil
}

// Mapper builds a point mapper for a width x height frame.
func (p *Pipeline) Mapper(width, height int) (*lens.Mapper, error) {
	center, err := p.CenterFor(width, height)
	if err != nil {
		return nil, err
	}
	return lens.NewMapper(p.table, center, lens.Extent{Width: width, Height: height})
}

// RectifyRaster rectifies an already converted raster. The input is not modified.
func (p *Pipeline) RectifyRaster(ctx context.Context, src *lens.Image) (*lens.Image, *FrameResult, error) {
	if err := src.Validate(); err != nil {
		return nil, nil, err
	}
	start := time.Now()
	center, err := p.CenterFor(src.Width, src.Height)
	if err != nil {
		return nil, nil, err
	}

	out, covered, err := lens.RectifyCounted(ctx, src, p.table, center, lens.Options{Workers: p.cfg.Workers})
	if err != nil {
		return nil, nil, err
	}
	rectifyNs := time.Since(start).Nanoseconds()

	res := &FrameResult{
		Width:        src.Width,
		Height:       src.Height,
		Channels:     src.Channels,
		Center:       center,
		Inverse:      p.cfg.Inverse,
		TableSamples: len(p.table),
		Coverage:     covered,
		CoverageRate: float64(covered) / float64(src.Width*src.Height),
	}
	res.Processing.RectifyNs = rectifyNs
	res.Processing.TotalNs = time.Since(start).Nanoseconds()
	return out, res, nil
}

// ProcessImage rectifies a decoded frame and returns the rectified frame.
func (p *Pipeline) ProcessImage(img image.Image) (image.Image, *FrameResult, error) {
	return p.ProcessImageContext(context.Background(), img)
}

// ProcessImageContext rectifies a decoded frame with cancellation support.
func (p *Pipeline) ProcessImageContext(ctx context.Context, img image.Image) (image.Image, *FrameResult, error) {
	if img == nil {
		return nil, nil, errors.New("input image is nil")
	}
	start := time.Now()

	cropped := false
	if p.cfg.CenterCrop {
		b := img.Bounds()
		if b.Dx() != b.Dy() {
			var err error
			img, err = utils.CenterCrop(img)
			if err != nil {
				return nil, nil, err
			}
			cropped = true
		}
	}

	convStart := time.Now()
	src, err := utils.ToLensImage(img, p.cfg.Channels)
	if err != nil {
		return nil, nil, err
	}
	defer src.Release()
	convertNs := time.Since(convStart).Nanoseconds()

	out, res, err := p.RectifyRaster(ctx, src)
	if err != nil {
		return nil, nil, err
	}
	defer out.Release()

	encStart := time.Now()
	rendered, err := utils.FromLensImage(out)
	if err != nil {
		return nil, nil, err
	}

	res.Cropped = cropped
	res.Processing.ConvertNs = convertNs + time.Since(encStart).Nanoseconds()
	res.Processing.TotalNs = time.Since(start).Nanoseconds()

	slog.Debug("Frame rectified",
		"width", res.Width,
		"height", res.Height,
		"channels", res.Channels,
		"coverage", res.CoverageRate,
		"total_ms", float64(res.Processing.TotalNs)/1e6)
	return rendered, res, nil
}

// ProcessImages rectifies frames sequentially.
func (p *Pipeline) ProcessImages(images []image.Image) ([]*Output, error) {
	return p.ProcessImagesContext(context.Background(), images)
}

// ProcessImagesContext rectifies frames sequentially, stopping at the first error.
func (p *Pipeline) ProcessImagesContext(ctx context.Context, images []image.Image) ([]*Output, error) {
	if len(images) == 0 {
		return nil, errors.New("no images provided")
	}
	outputs := make([]*Output, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rendered, res, err := p.ProcessImageContext(ctx, img)
		if err != nil {
			return outputs, fmt.Errorf("image %d: %w", i, err)
		}
		outputs[i] = &Output{Image: rendered, Result: res}
	}
	return outputs, nil
}
