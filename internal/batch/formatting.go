package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/MeKo-Tech/undistort/internal/pipeline"
)

// newPrinter returns a printer for lang; unknown tags fall back to English.
func newPrinter(lang string) *message.Printer {
	tag, err := language.Parse(lang)
	if err != nil || lang == "" {
		tag = language.English
	}
	return message.NewPrinter(tag)
}

// formatBatchResults formats the batch processing results in the specified format.
func formatBatchResults(r *Result, format string) (string, error) {
	switch format {
	case "json":
		return formatJSON(r)
	case "csv":
		return formatCSV(r)
	case "text", "":
		return formatText(r), nil
	default:
		return "", fmt.Errorf("unsupported format %q", format)
	}
}

// formatJSON formats results as JSON.
func formatJSON(r *Result) (string, error) {
	stats := r.Stats()
	batchResult := struct {
		Images []Item                 `json:"images"`
		Stats  pipeline.ParallelStats `json:"stats"`
	}{
		Images: r.Items,
		Stats:  stats,
	}
	if batchResult.Images == nil {
		batchResult.Images = []Item{}
	}

	bts, err := json.MarshalIndent(batchResult, "", "  ")
	return string(bts), err
}

// formatCSV formats results as CSV, one row per input file.
func formatCSV(r *Result) (string, error) {
	var output strings.Builder
	writer := csv.NewWriter(&output)
	header := []string{
		"file", "output", "width", "height", "channels", "center_x", "center_y",
		"coverage_pixels", "coverage_ratio", "total_ms", "error",
	}
	if err := writer.Write(header); err != nil {
		return "", err
	}

	for _, it := range r.Items {
		row := []string{it.File, it.Output, "0", "0", "0", "", "", "0", "0", "0", it.Error}
		if res := it.Result; res != nil {
			row[2] = strconv.Itoa(res.Width)
			row[3] = strconv.Itoa(res.Height)
			row[4] = strconv.Itoa(res.Channels)
			row[5] = strconv.FormatFloat(res.Center.X, 'f', 3, 64)
			row[6] = strconv.FormatFloat(res.Center.Y, 'f', 3, 64)
			row[7] = strconv.Itoa(res.Coverage)
			row[8] = strconv.FormatFloat(res.CoverageRate, 'f', 4, 64)
			row[9] = strconv.FormatFloat(float64(res.Processing.TotalNs)/1e6, 'f', 2, 64)
		}
		if err := writer.Write(row); err != nil {
			return "", err
		}
	}
	writer.Flush()
	return output.String(), writer.Error()
}

// formatText formats results as plain text.
func formatText(r *Result) string {
	p := newPrinter(r.Language)
	var output strings.Builder
	for i, it := range r.Items {
		if i > 0 {
			output.WriteString("\n")
		}
		output.WriteString(p.Sprintf("# %s\n", it.File))
		if it.Failed() {
			output.WriteString(p.Sprintf("error: %s\n", it.Error))
			continue
		}
		res := it.Result
		output.WriteString(p.Sprintf("output: %s\n", it.Output))
		output.WriteString(p.Sprintf("size: %dx%d (%d channels)\n", res.Width, res.Height, res.Channels))
		output.WriteString(p.Sprintf("center: (%.2f, %.2f)\n", res.Center.X, res.Center.Y))
		output.WriteString(p.Sprintf("coverage: %d of %d pixels (%.1f%%)\n",
			res.Coverage, res.Width*res.Height, res.CoverageRate*100))
	}
	return output.String()
}
