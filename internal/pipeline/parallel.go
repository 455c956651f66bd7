package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"
)

// ParallelConfig holds configuration for processing several frames at once.
type ParallelConfig struct {
	MaxWorkers       int                           // Number of frames in flight (0 = runtime.NumCPU())
	ProgressCallback ProgressCallback              // Optional progress reporting
	ErrorHandler     func(int, image.Image, error) // Optional per-frame error handler
}

// DefaultParallelConfig returns sensible defaults for parallel processing.
func DefaultParallelConfig() ParallelConfig {
	return ParallelConfig{
		MaxWorkers: runtime.NumCPU(),
	}
}

type frameJob struct {
	index int
	image image.Image
}

type frameResult struct {
	index int
	out   *Output
	err   error
}

// ProcessImagesParallel rectifies frames with a worker pool.
// Returns results in the same order as input images.
func (p *Pipeline) ProcessImagesParallel(images []image.Image, config ParallelConfig) ([]*Output, error) {
	return p.ProcessImagesParallelContext(context.Background(), images, config)
}

// ProcessImagesParallelContext rectifies frames in parallel with context cancellation support.
// Failed frames leave a nil entry; the first failure is returned as the error.
func (p *Pipeline) ProcessImagesParallelContext(ctx context.Context, images []image.Image, config ParallelConfig) ([]*Output, error) {
	if len(images) == 0 {
		return nil, errors.New("no images provided")
	}
	if p == nil || p.table == nil {
		return nil, errors.New("pipeline not initialized")
	}

	if config.MaxWorkers <= 0 {
		config.MaxWorkers = runtime.NumCPU()
	}

	if config.ProgressCallback != nil {
		config.ProgressCallback.OnStart(len(images))
		defer config.ProgressCallback.OnComplete()
	}

	jobs := make(chan frameJob, len(images))
	results := make(chan frameResult, len(images))

	var wg sync.WaitGroup
	for range min(config.MaxWorkers, len(images)) {
		wg.Add(1)
		go p.worker(ctx, jobs, results, &wg)
	}

	go func() {
		defer close(jobs)
		for i, img := range images {
			select {
			case jobs <- frameJob{index: i, image: img}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	ordered := make([]*Output, len(images))
	errs := make(map[int]error)
	processed := 0
	for r := range results {
		processed++
		if r.err != nil {
			errs[r.index] = r.err
			if config.ProgressCallback != nil {
				config.ProgressCallback.OnError(r.index, r.err)
			}
		} else {
			ordered[r.index] = r.out
		}
		if config.ProgressCallback != nil {
			config.ProgressCallback.OnProgress(processed, len(images))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var firstError error
	for i := range images {
		err, failed := errs[i]
		if !failed {
			continue
		}
		if firstError == nil {
			firstError = fmt.Errorf("image %d: %w", i, err)
		}
		if config.ErrorHandler != nil {
			config.ErrorHandler(i, images[i], err)
		}
	}

	return ordered, firstError
}

func (p *Pipeline) worker(ctx context.Context, jobs <-chan frameJob, results chan<- frameResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case job, ok := <-jobs:
			if !ok {
				return
			}
			rendered, res, err := p.ProcessImageContext(ctx, job.image)
			r := frameResult{index: job.index, err: err}
			if err == nil {
				r.out = &Output{Image: rendered, Result: res}
			}
			select {
			case results <- r:
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// ParallelStats holds statistics about a multi-frame run.
type ParallelStats struct {
	TotalImages      int           `json:"total_images"`
	ProcessedImages  int           `json:"processed_images"`
	FailedImages     int           `json:"failed_images"`
	WorkerCount      int           `json:"worker_count"`
	TotalDuration    time.Duration `json:"total_duration_ns"`
	AveragePerImage  time.Duration `json:"average_per_image_ns"`
	ThroughputPerSec float64       `json:"throughput_per_sec"`
	MeanCoverage     float64       `json:"mean_coverage_ratio"`
}

// CalculateParallelStats summarises the outputs of ProcessImagesParallel.
func CalculateParallelStats(outputs []*Output, duration time.Duration, workerCount int) ParallelStats {
	stats := ParallelStats{
		TotalImages:   len(outputs),
		WorkerCount:   workerCount,
		TotalDuration: duration,
	}
	var coverage float64
	for _, o := range outputs {
		if o == nil || o.Result == nil {
			stats.FailedImages++
			continue
		}
		stats.ProcessedImages++
		coverage += o.Result.CoverageRate
	}
	if stats.ProcessedImages > 0 {
		stats.AveragePerImage = duration / time.Duration(stats.ProcessedImages)
		if duration > 0 {
			stats.ThroughputPerSec = float64(stats.ProcessedImages) / duration.Seconds()
		}
		stats.MeanCoverage = coverage / float64(stats.ProcessedImages)
	}
	return stats
}
