package batch

import (
	"github.com/MeKo-Tech/undistort/internal/pipeline"
)

// buildPipeline creates a rectification pipeline from the batch configuration.
func buildPipeline(config *Config, progressCallback pipeline.ProgressCallback) (*pipeline.Pipeline, error) {
	b := pipeline.NewBuilder().
		WithCalibrationFile(config.CalibrationFile).
		WithInverse(config.Inverse).
		WithWorkers(config.RectifyWorkers).
		WithChannels(config.Channels).
		WithCenterCrop(config.CenterCrop).
		WithParallelWorkers(config.Workers).
		WithProgressCallback(progressCallback)

	if config.HasCenter {
		b = b.WithCenter(config.CenterX, config.CenterY)
	}

	cfg := b.Config()
	cfg.ScaleCenter = config.ScaleCenter
	return b.WithConfig(cfg).Build()
}
