package batch

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

// loadAndValidateImage loads an image and validates it meets constraints.
func loadAndValidateImage(path string) (image.Image, utils.ImageMetadata, error) {
	if !utils.IsSupportedImage(path) {
		return nil, utils.ImageMetadata{}, fmt.Errorf("unsupported image format: %s", path)
	}

	img, meta, err := utils.LoadImage(path)
	if err != nil {
		return nil, utils.ImageMetadata{}, fmt.Errorf("failed to load %s: %w", path, err)
	}

	if err := utils.ValidateImageConstraints(img, utils.DefaultImageConstraints()); err != nil {
		return nil, utils.ImageMetadata{}, fmt.Errorf("%s: %w", path, err)
	}

	return img, meta, nil
}

// OutputPath returns where the rectified version of input is written:
// <dir>/<name><suffix>.png, with dir defaulting to the input's directory.
func OutputPath(input, dir, suffix string) string {
	if dir == "" {
		dir = filepath.Dir(input)
	}
	base := filepath.Base(input)
	return filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+suffix+".png")
}

// processSingleImage rectifies one file and writes the result next to its peers.
func processSingleImage(ctx context.Context, pl *pipeline.Pipeline, path string, config *Config) Item {
	item := Item{File: path}

	img, _, err := loadAndValidateImage(path)
	if err != nil {
		item.Error = err.Error()
		return item
	}

	rectified, res, err := pl.ProcessImageContext(ctx, img)
	if err != nil {
		item.Error = fmt.Sprintf("rectification failed for %s: %v", path, err)
		return item
	}

	out := OutputPath(path, config.OutputDir, config.Suffix)
	if err := utils.SaveImage(out, rectified); err != nil {
		item.Error = err.Error()
		return item
	}

	item.Output = out
	item.Result = res
	return item
}

type fileJob struct {
	index int
	path  string
}

// processImagesParallel rectifies files with a bounded worker pool. Items are
// returned in input order. Without ContinueOnError the first failure cancels
// the remaining work and is returned as the error.
func processImagesParallel(ctx context.Context, pl *pipeline.Pipeline, paths []string, config *Config,
	progress pipeline.ProgressCallback) ([]Item, error) {
	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if progress == nil {
		progress = pipeline.NoOpProgressCallback{}
	}
	progress.OnStart(len(paths))
	defer progress.OnComplete()

	jobs := make(chan fileJob)
	done := make(chan fileJob, len(paths))
	items := make([]Item, len(paths))
	for i, p := range paths {
		items[i].File = p
	}

	var wg sync.WaitGroup
	for range min(workers, len(paths)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					continue
				}
				items[job.index] = processSingleImage(ctx, pl, job.path, config)
				done <- job
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, p := range paths {
			if ctx.Err() != nil {
				return
			}
			select {
			case jobs <- fileJob{index: i, path: p}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(done)
	}()

	var firstErr error
	processed := 0
	for job := range done {
		processed++
		it := items[job.index]
		if it.Failed() {
			slog.Warn("Frame failed", "file", it.File, "error", it.Error)
			progress.OnError(job.index, fmt.Errorf("%s", it.Error))
			if !config.ContinueOnError && firstErr == nil {
				firstErr = fmt.Errorf("%s", it.Error)
				cancel()
			}
		}
		progress.OnProgress(processed, len(paths))
	}

	for i := range items {
		if items[i].Result == nil && !items[i].Failed() {
			items[i].Error = "skipped"
		}
	}

	if err := parent.Err(); err != nil {
		return items, err
	}
	return items, firstErr
}
