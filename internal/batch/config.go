package batch

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

// Config holds all configuration for batch processing.
type Config struct {
	// Calibration settings
	CalibrationFile string
	Inverse         bool
	ScaleCenter     bool
	CenterX         float64
	CenterY         float64
	HasCenter       bool

	// Rectification settings
	Channels       utils.ChannelMode
	CenterCrop     bool
	RectifyWorkers int

	// Output settings
	OutputDir  string
	Suffix     string
	Format     string
	OutputFile string
	Language   string

	// Parallel processing settings
	Workers         int
	ContinueOnError bool

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ShowStats        bool
	ProgressInterval time.Duration
}

// DefaultConfig returns batch defaults matching the global configuration.
func DefaultConfig() *Config {
	return &Config{
		Inverse:          true,
		ScaleCenter:      true,
		Channels:         utils.ChannelsAuto,
		Suffix:           "_rectified",
		Format:           "text",
		Language:         "en",
		Workers:          4,
		ShowProgress:     true,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Item is the outcome for one input file.
type Item struct {
	File   string                `json:"file"`
	Output string                `json:"output,omitempty"`
	Result *pipeline.FrameResult `json:"result,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// Failed reports whether the file could not be rectified.
func (i Item) Failed() bool { return i.Error != "" }

// Result holds the result of batch processing.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int
	Language    string
}

// Outputs converts the items into pipeline outputs for statistics;
// failed items become nil entries.
func (r *Result) Outputs() []*pipeline.Output {
	outs := make([]*pipeline.Output, len(r.Items))
	for i, it := range r.Items {
		if it.Result != nil {
			outs[i] = &pipeline.Output{Result: it.Result}
		}
	}
	return outs
}

// Stats summarises the run.
func (r *Result) Stats() pipeline.ParallelStats {
	return pipeline.CalculateParallelStats(r.Outputs(), r.Duration, r.WorkerCount)
}

// FormatResults formats the batch processing results in the specified format.
func (r *Result) FormatResults(format string) (string, error) {
	return formatBatchResults(r, format)
}

// SaveResults writes the formatted results to outputFile, or to w when
// outputFile is empty.
func (r *Result) SaveResults(w io.Writer, format, outputFile string, quiet bool) error {
	output, err := r.FormatResults(format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		if !quiet {
			_, _ = fmt.Fprintf(w, "Results written to %s\n", outputFile)
		}
	} else {
		_, _ = fmt.Fprint(w, output)
	}

	return nil
}

// PrintStats prints processing statistics.
func (r *Result) PrintStats(w io.Writer, quiet bool) {
	if quiet {
		return
	}
	stats := r.Stats()
	p := newPrinter(r.Language)
	_, _ = p.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = p.Fprintf(w, "  Total images: %d\n", stats.TotalImages)
	_, _ = p.Fprintf(w, "  Processed: %d\n", stats.ProcessedImages)
	_, _ = p.Fprintf(w, "  Failed: %d\n", stats.FailedImages)
	_, _ = p.Fprintf(w, "  Workers: %d\n", stats.WorkerCount)
	_, _ = p.Fprintf(w, "  Duration: %v\n", stats.TotalDuration.Round(time.Millisecond))
	_, _ = p.Fprintf(w, "  Avg per image: %v\n", stats.AveragePerImage.Round(time.Millisecond))
	_, _ = p.Fprintf(w, "  Throughput: %.1f images/sec\n", stats.ThroughputPerSec)
	_, _ = p.Fprintf(w, "  Mean coverage: %.1f%%\n", stats.MeanCoverage*100)
}
