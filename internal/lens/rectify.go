package lens

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Options controls how RectifyContext spreads work across goroutines.
type Options struct {
	Workers   int // number of workers (0 = runtime.NumCPU())
	ChunkCols int // columns handed to a worker at a time (0 = automatic)
}

// DefaultOptions returns options that use every CPU.
func DefaultOptions() Options {
	return Options{Workers: runtime.NumCPU()}
}

// Rectify remaps img through table around center and returns a new image of
// identical dimensions. Output pixels whose source falls outside img stay zero.
// The input image is never modified.
func Rectify(img *Image, table LookupTable, center Point) (*Image, error) {
	return RectifyContext(context.Background(), img, table, center, Options{Workers: 1})
}

// RectifyContext is Rectify with cancellation and column-parallel execution.
// Workers write disjoint column ranges, so the result is bit-identical to the
// sequential version regardless of the worker count.
func RectifyContext(ctx context.Context, img *Image, table LookupTable, center Point, opts Options) (*Image, error) {
	out, _, err := RectifyCounted(ctx, img, table, center, opts)
	return out, err
}

// RectifyCounted is RectifyContext that also returns the number of output
// pixels written, the same value Coverage reports for img's extent.
func RectifyCounted(ctx context.Context, img *Image, table LookupTable, center Point, opts Options) (*Image, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if err := img.Validate(); err != nil {
		return nil, 0, err
	}
	mapper, err := NewMapper(table, center, img.Extent())
	if err != nil {
		return nil, 0, err
	}

	out, err := NewImage(img.Width, img.Height, img.Channels)
	if err != nil {
		return nil, 0, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > img.Width {
		workers = img.Width
	}

	if workers == 1 {
		written := 0
		for x := range img.Width {
			if err := ctx.Err(); err != nil {
				out.Release()
				return nil, 0, err
			}
			written += rectifyColumn(mapper, img, out, x)
		}
		return out, written, nil
	}

	chunk := opts.ChunkCols
	if chunk <= 0 {
		chunk = max(1, img.Width/(workers*4))
	}

	// One counter per chunk, summed after the join.
	counts := make([]int, (img.Width+chunk-1)/chunk)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < len(counts) && gctx.Err() == nil; i++ {
		start := i * chunk
		end := min(start+chunk, img.Width)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for x := start; x < end; x++ {
				counts[i] += rectifyColumn(mapper, img, out, x)
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		out.Release()
		return nil, 0, err
	}

	written := 0
	for _, n := range counts {
		written += n
	}
	return out, written, nil
}

// rectifyColumn fills column x of out and returns how many pixels it wrote.
// Columns are contiguous in the x-major layout.
func rectifyColumn(m *Mapper, src, out *Image, x int) int {
	ch := src.Channels
	written := 0
	for y := range src.Height {
		sx, sy, ok := m.Source(x, y)
		if !ok {
			continue
		}
		si := (sx*src.Height + sy) * ch
		di := (x*out.Height + y) * ch
		copy(out.Pix[di:di+ch], src.Pix[si:si+ch])
		written++
	}
	return written
}

// Coverage counts the output pixels of extent whose source coordinate lands
// inside the image, i.e. the pixels Rectify actually writes.
func Coverage(table LookupTable, center Point, extent Extent) (int, error) {
	mapper, err := NewMapper(table, center, extent)
	if err != nil {
		return 0, err
	}
	n := 0
	for x := range extent.Width {
		for y := range extent.Height {
			if _, _, ok := mapper.Source(x, y); ok {
				n++
			}
		}
	}
	return n, nil
}
