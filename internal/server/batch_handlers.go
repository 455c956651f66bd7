package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MeKo-Tech/undistort/internal/lens"
	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

// maxBatchItems caps the number of frames in one batch request.
const maxBatchItems = 10

// FrameOptions are per-frame overrides sent as JSON by batch and websocket clients.
type FrameOptions struct {
	Inverse  *bool    `json:"inverse,omitempty"`
	Channels string   `json:"channels,omitempty"`
	CenterX  *float64 `json:"center_x,omitempty"`
	CenterY  *float64 `json:"center_y,omitempty"`
	Format   string   `json:"format,omitempty"`
}

// requestConfig validates the options and converts them into a RequestConfig.
func (o *FrameOptions) requestConfig() (*RequestConfig, error) {
	rc := &RequestConfig{}
	if o == nil {
		return rc, nil
	}
	rc.Inverse = o.Inverse
	rc.Format = o.Format
	switch rc.Format {
	case "", formatPNG, formatJSON:
	default:
		return nil, fmt.Errorf("unsupported format %q (expected png or json)", rc.Format)
	}
	if o.Channels != "" {
		mode, err := utils.ParseChannelMode(o.Channels)
		if err != nil {
			return nil, err
		}
		rc.Channels = mode
	}
	if (o.CenterX == nil) != (o.CenterY == nil) {
		return nil, errors.New("center_x and center_y must be set together")
	}
	if o.CenterX != nil {
		if !lens.IsFinite(*o.CenterX) || !lens.IsFinite(*o.CenterY) {
			return nil, errors.New("center_x and center_y must be finite")
		}
		rc.Center = &[2]float64{*o.CenterX, *o.CenterY}
	}
	return rc, nil
}

// BatchRectifyRequest represents a batch rectification request.
type BatchRectifyRequest struct {
	Images []BatchImageRequest `json:"images"`
	Format string              `json:"format,omitempty"`
}

// BatchImageRequest represents a single image in a batch request.
type BatchImageRequest struct {
	Name    string        `json:"name"`
	Data    []byte        `json:"data"`
	Options *FrameOptions `json:"options,omitempty"`
}

// BatchRectifyResponse represents the response for batch rectification.
type BatchRectifyResponse struct {
	Success bool                   `json:"success"`
	Results []BatchRectifyResult   `json:"results,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Summary BatchProcessingSummary `json:"summary"`
}

// BatchRectifyResult represents a single result in batch processing.
// Image holds the rectified PNG unless the item asked for json only.
type BatchRectifyResult struct {
	Name     string                `json:"name"`
	Success  bool                  `json:"success"`
	Result   *pipeline.FrameResult `json:"result,omitempty"`
	Image    []byte                `json:"image,omitempty"`
	Error    string                `json:"error,omitempty"`
	Duration float64               `json:"duration_seconds"`
}

// BatchProcessingSummary provides summary statistics for batch processing.
type BatchProcessingSummary struct {
	TotalItems    int     `json:"total_items"`
	Successful    int     `json:"successful"`
	Failed        int     `json:"failed"`
	TotalDuration float64 `json:"total_duration_seconds"`
	AvgItemTime   float64 `json:"avg_item_time_seconds"`
	MeanCoverage  float64 `json:"mean_coverage_ratio"`
}

// batchRectifyHandler processes batch rectification requests.
func (s *Server) batchRectifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BatchRectifyRequest
	body := http.MaxBytesReader(w, r.Body, s.uploadLimit())
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Failed to parse JSON request: %v", err), http.StatusBadRequest)
		return
	}

	if len(req.Images) == 0 {
		s.writeErrorResponse(w, "No images provided in batch request", http.StatusBadRequest)
		return
	}
	if len(req.Images) > maxBatchItems {
		s.writeErrorResponse(w, fmt.Sprintf("Batch size too large (maximum %d items)", maxBatchItems), http.StatusBadRequest)
		return
	}
	if s.pipeline == nil {
		s.writeErrorResponse(w, errNoPipeline.Error(), http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	start := time.Now()
	results, summary := s.processBatchRequest(ctx, req)
	summary.TotalDuration = time.Since(start).Seconds()
	if summary.TotalItems > 0 {
		summary.AvgItemTime = summary.TotalDuration / float64(summary.TotalItems)
	}

	s.writeJSON(w, http.StatusOK, BatchRectifyResponse{
		Success: summary.Failed == 0,
		Results: results,
		Summary: summary,
	})
}

// processBatchRequest rectifies every image of the request in order.
func (s *Server) processBatchRequest(ctx context.Context, req BatchRectifyRequest) ([]BatchRectifyResult, BatchProcessingSummary) {
	results := make([]BatchRectifyResult, 0, len(req.Images))
	summary := BatchProcessingSummary{TotalItems: len(req.Images)}

	var coverage float64
	for _, item := range req.Images {
		if item.Options == nil && req.Format != "" {
			item.Options = &FrameOptions{}
		}
		if item.Options != nil && item.Options.Format == "" {
			item.Options.Format = req.Format
		}

		res, cov := s.processBatchImage(ctx, item)
		if res.Success {
			summary.Successful++
			coverage += cov
		} else {
			summary.Failed++
		}
		results = append(results, res)
	}
	if summary.Successful > 0 {
		summary.MeanCoverage = coverage / float64(summary.Successful)
	}
	return results, summary
}

// processBatchImage rectifies one batch item and returns the result and its coverage ratio.
func (s *Server) processBatchImage(ctx context.Context, item BatchImageRequest) (BatchRectifyResult, float64) {
	start := time.Now()
	result := BatchRectifyResult{Name: item.Name}
	fail := func(err error) (BatchRectifyResult, float64) {
		rectifyRequestsTotal.WithLabelValues("batch", "error").Inc()
		result.Error = err.Error()
		result.Duration = time.Since(start).Seconds()
		return result, 0
	}

	if len(item.Data) == 0 {
		return fail(errors.New("no image data provided"))
	}
	uploadSizeBytes.Observe(float64(len(item.Data)))

	img, err := decodeUpload(item.Data)
	if err != nil {
		return fail(err)
	}
	rc, err := item.Options.requestConfig()
	if err != nil {
		return fail(err)
	}
	pl, err := s.pipelineForRequest(rc)
	if err != nil {
		return fail(err)
	}

	out, res, err := pl.ProcessImageContext(ctx, img)
	if err != nil {
		return fail(fmt.Errorf("rectification failed: %w", err))
	}
	duration := time.Since(start)
	s.recordFrame("batch", res, duration)

	if rc.Format != formatJSON {
		var buf bytes.Buffer
		if err := utils.EncodePNG(&buf, out); err != nil {
			return fail(err)
		}
		result.Image = buf.Bytes()
	}

	result.Success = true
	result.Result = res
	result.Duration = time.Since(start).Seconds()
	return result, res.CoverageRate
}
