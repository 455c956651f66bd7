package pipeline

import (
	"log/slog"
	"runtime"
)

// MemStats is a small view of runtime memory usage, reported by the
// service health endpoint and verbose batch runs.
type MemStats struct {
	HeapAllocBytes  uint64 `json:"heap_alloc_bytes"`
	HeapInuseBytes  uint64 `json:"heap_inuse_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	SysBytes        uint64 `json:"sys_bytes"`
	NumGC           uint32 `json:"num_gc"`
	Goroutines      int    `json:"goroutines"`
}

// GetMemStats captures current memory statistics.
func GetMemStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemStats{
		HeapAllocBytes:  m.HeapAlloc,
		HeapInuseBytes:  m.HeapInuse,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		Goroutines:      runtime.NumGoroutine(),
	}
}

// LogValue implements slog.LogValuer.
func (s MemStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("heap_alloc_mb", s.HeapAllocBytes>>20),
		slog.Uint64("sys_mb", s.SysBytes>>20),
		slog.Int("goroutines", s.Goroutines),
	)
}
