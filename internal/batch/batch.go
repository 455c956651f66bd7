// Package batch rectifies many image files against one calibration and
// reports per-file results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/undistort/internal/pipeline"
)

// ErrNoImages is returned when discovery finds nothing to process.
var ErrNoImages = errors.New("no image files found")

// ProcessBatch processes a batch of images with the given configuration.
func ProcessBatch(imagePaths []string, config *Config) (*Result, error) {
	return ProcessBatchContext(context.Background(), imagePaths, config, os.Stdout)
}

// ProcessBatchContext is ProcessBatch with cancellation; progress output goes to progressOut.
func ProcessBatchContext(ctx context.Context, imagePaths []string, config *Config, progressOut io.Writer) (*Result, error) {
	files, err := discoverImageFiles(imagePaths, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}

	if len(files) == 0 {
		return nil, ErrNoImages
	}

	var progressCallback pipeline.ProgressCallback
	if config.ShowProgress && !config.Quiet {
		progressCallback = pipeline.NewConsoleProgressCallback(
			progressOut,
			"Rectifying: ",
		).WithUpdateInterval(config.ProgressInterval)
	}

	pl, err := buildPipeline(config, progressCallback)
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	startTime := time.Now()
	items, err := processImagesParallel(ctx, pl, files, config, progressCallback)
	duration := time.Since(startTime)

	result := &Result{
		Items:       items,
		Duration:    duration,
		WorkerCount: config.Workers,
		Language:    config.Language,
	}
	if err != nil {
		return result, fmt.Errorf("batch processing failed: %w", err)
	}
	return result, nil
}
