package pipeline

import (
	"image"

	"github.com/MeKo-Tech/undistort/internal/lens"
)

// FrameResult describes one rectified frame.
type FrameResult struct {
	Width        int        `json:"width"`
	Height       int        `json:"height"`
	Channels     int        `json:"channels"`
	Center       lens.Point `json:"center"`
	Inverse      bool       `json:"inverse"`
	TableSamples int        `json:"table_samples"`
	Coverage     int        `json:"coverage_pixels"`
	CoverageRate float64    `json:"coverage_ratio"`
	Cropped      bool       `json:"cropped"`
	Processing   struct {
		ConvertNs int64 `json:"convert_ns"`
		RectifyNs int64 `json:"rectify_ns"`
		TotalNs   int64 `json:"total_ns"`
	} `json:"processing"`
}

// Output pairs a rectified frame with its result.
type Output struct {
	Image  image.Image
	Result *FrameResult
}
