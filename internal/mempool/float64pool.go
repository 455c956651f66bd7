// Package mempool pools the float64 sample buffers backing rectified images.
package mempool

import (
	"sync"
)

var float64Pools sync.Map // key: size class (int), value: *sync.Pool

// sizeClass rounds n up to the next multiple of 4096 samples to reduce churn.
func sizeClass(n int) int {
	const step = 4096
	if n <= step {
		return step
	}
	r := (n + step - 1) / step
	return r * step
}

func poolFor(cls int) *sync.Pool {
	pAny, _ := float64Pools.LoadOrStore(cls, &sync.Pool{New: func() any { return make([]float64, cls) }})
	p, ok := pAny.(*sync.Pool)
	if !ok {
		return nil
	}
	return p
}

// GetFloat64 retrieves a zero-filled []float64 of length n.
// The returned slice may have larger capacity. Return it via PutFloat64 when done.
func GetFloat64(n int) []float64 {
	if n < 0 {
		n = 0
	}
	cls := sizeClass(n)
	p := poolFor(cls)
	if p == nil {
		return make([]float64, n, cls)
	}
	buf, ok := p.Get().([]float64)
	if !ok || cap(buf) < cls {
		buf = make([]float64, cls)
	}
	buf = buf[:n]
	// Pooled buffers carry samples from their previous owner.
	clear(buf)
	return buf
}

// PutFloat64 returns a buffer to the pool. It is safe to pass a nil slice.
// Buffers whose capacity is not a size class are dropped for the GC.
func PutFloat64(buf []float64) {
	if buf == nil {
		return
	}
	c := cap(buf)
	if c == 0 || sizeClass(c) != c {
		return
	}
	p := poolFor(c)
	if p == nil {
		return
	}
	p.Put(buf[:c]) //nolint:staticcheck
}
