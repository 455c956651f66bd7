package mempool

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizeClass(t *testing.T) {
	tests := []struct {
		name     string
		input    int
		expected int
	}{
		{name: "zero size", input: 0, expected: 4096},
		{name: "negative size", input: -1, expected: 4096},
		{name: "small size gets minimum", input: 1, expected: 4096},
		{name: "exactly one step", input: 4096, expected: 4096},
		{name: "just over one step", input: 4097, expected: 8192},
		{name: "large size", input: 640 * 480 * 3, expected: 921600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sizeClass(tt.input))
		})
	}
}

func TestGetFloat64_LengthAndCapacity(t *testing.T) {
	for _, n := range []int{0, 1, 100, 4096, 5000, 100000} {
		buf := GetFloat64(n)
		assert.Len(t, buf, n)
		assert.Equal(t, sizeClass(n), cap(buf))
		PutFloat64(buf)
	}
}

func TestGetFloat64_NegativeSize(t *testing.T) {
	buf := GetFloat64(-5)
	assert.Empty(t, buf)
}

func TestGetFloat64_ReturnsZeroedBuffers(t *testing.T) {
	const size = 6000

	// Dirty a buffer and hand it back so the next Get is likely to reuse it.
	buf := GetFloat64(size)
	for i := range buf {
		buf[i] = float64(i) + 0.5
	}
	PutFloat64(buf)

	for range 10 {
		next := GetFloat64(size)
		require.Len(t, next, size)
		for i, v := range next {
			if v != 0 {
				t.Fatalf("sample %d = %v, want 0", i, v)
			}
		}
		PutFloat64(next)
	}
}

func TestPutFloat64_ForeignBuffers(t *testing.T) {
	t.Run("nil buffer", func(t *testing.T) {
		PutFloat64(nil)
	})

	t.Run("empty buffer", func(t *testing.T) {
		PutFloat64(make([]float64, 0))
	})

	t.Run("odd capacity is dropped", func(t *testing.T) {
		PutFloat64(make([]float64, 10, 123))
		buf := GetFloat64(10)
		assert.Equal(t, 4096, cap(buf))
	})
}

func TestConcurrentAccess(t *testing.T) {
	const numGoroutines = 32
	const numIterations = 50
	const bufferSize = 9000

	var wg sync.WaitGroup
	wg.Add(numGoroutines)

	for g := range numGoroutines {
		go func() {
			defer wg.Done()
			for range numIterations {
				buf := GetFloat64(bufferSize)
				assert.Len(t, buf, bufferSize)
				for k := range buf {
					if buf[k] != 0 {
						t.Errorf("goroutine %d got dirty sample %d", g, k)
						return
					}
					buf[k] = float64(g + 1)
				}
				PutFloat64(buf)
			}
		}()
	}

	wg.Wait()
}
