package pipeline

import (
	"sync/atomic"
)

// Profiler aggregates counters and timers across many frames.
type Profiler struct {
	ConvertTimeNs   atomic.Int64
	RectifyTimeNs   atomic.Int64
	FramesProcessed atomic.Int64
	PixelsCovered   atomic.Int64
	PixelsTotal     atomic.Int64
}

// Record adds one frame result. Nil results are ignored.
func (p *Profiler) Record(res *FrameResult) {
	if res == nil {
		return
	}
	p.ConvertTimeNs.Add(res.Processing.ConvertNs)
	p.RectifyTimeNs.Add(res.Processing.RectifyNs)
	p.FramesProcessed.Add(1)
	p.PixelsCovered.Add(int64(res.Coverage))
	p.PixelsTotal.Add(int64(res.Width) * int64(res.Height))
}

// Snapshot returns cumulative metrics in milliseconds for readability.
func (p *Profiler) Snapshot() map[string]any {
	frames := p.FramesProcessed.Load()
	conv := p.ConvertTimeNs.Load()
	rect := p.RectifyTimeNs.Load()
	out := map[string]any{
		"frames":           frames,
		"convert_ms_total": conv / 1_000_000,
		"rectify_ms_total": rect / 1_000_000,
	}
	if frames > 0 {
		out["convert_ms_per_frame"] = float64(conv) / 1_000_000.0 / float64(frames)
		out["rectify_ms_per_frame"] = float64(rect) / 1_000_000.0 / float64(frames)
	}
	if total := p.PixelsTotal.Load(); total > 0 {
		out["coverage_ratio"] = float64(p.PixelsCovered.Load()) / float64(total)
	}
	return out
}
