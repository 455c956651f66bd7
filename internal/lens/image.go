package lens

import (
	"math"

	"github.com/MeKo-Tech/undistort/internal/mempool"
)

// Image is a dense floating-point raster addressed by (x, y, channel).
// Samples are stored x-major: the offset of (x, y, c) is (x*Height+y)*Channels+c.
type Image struct {
	Width    int
	Height   int
	Channels int
	Pix      []float64
}

// NewImage allocates a zero-filled image. The buffer comes from a shared pool;
// call Release once the image is no longer needed to recycle it.
func NewImage(width, height, channels int) (*Image, error) {
	if width <= 0 || height <= 0 || channels <= 0 {
		return nil, precondition("new", ErrInvalidImage,
			"dimensions %dx%dx%d must be positive", width, height, channels)
	}
	return &Image{
		Width:    width,
		Height:   height,
		Channels: channels,
		Pix:      mempool.GetFloat64(width * height * channels),
	}, nil
}

// FromSamples wraps an existing buffer without copying.
func FromSamples(width, height, channels int, pix []float64) (*Image, error) {
	img := &Image{Width: width, Height: height, Channels: channels, Pix: pix}
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return img, nil
}

// Validate checks that the dimensions are positive and agree with the buffer length.
func (m *Image) Validate() error {
	if m == nil {
		return precondition("validate", ErrInvalidImage, "image is nil")
	}
	if m.Width <= 0 || m.Height <= 0 || m.Channels <= 0 {
		return precondition("validate", ErrInvalidImage,
			"dimensions %dx%dx%d must be positive", m.Width, m.Height, m.Channels)
	}
	if want := m.Width * m.Height * m.Channels; len(m.Pix) != want {
		return precondition("validate", ErrInvalidImage,
			"buffer holds %d samples, %dx%dx%d needs %d", len(m.Pix), m.Width, m.Height, m.Channels, want)
	}
	return nil
}

// Extent returns the coordinate range of the image.
func (m *Image) Extent() Extent {
	return Extent{Width: m.Width, Height: m.Height}
}

// Offset returns the buffer index of sample (x, y, c). It panics when out of bounds.
func (m *Image) Offset(x, y, c int) int {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height || c < 0 || c >= m.Channels {
		panic(precondition("offset", ErrInvalidImage,
			"sample (%d,%d,%d) outside %dx%dx%d", x, y, c, m.Width, m.Height, m.Channels))
	}
	return (x*m.Height+y)*m.Channels + c
}

// At returns sample (x, y, c).
func (m *Image) At(x, y, c int) float64 {
	return m.Pix[m.Offset(x, y, c)]
}

// Set stores v at (x, y, c).
func (m *Image) Set(x, y, c int, v float64) {
	m.Pix[m.Offset(x, y, c)] = v
}

// Pixel returns the channel samples of (x, y) as a sub-slice of Pix.
func (m *Image) Pixel(x, y int) []float64 {
	i := m.Offset(x, y, 0)
	return m.Pix[i : i+m.Channels : i+m.Channels]
}

// Clone returns a deep copy backed by a pooled buffer.
func (m *Image) Clone() *Image {
	out := &Image{
		Width:    m.Width,
		Height:   m.Height,
		Channels: m.Channels,
		Pix:      mempool.GetFloat64(len(m.Pix)),
	}
	copy(out.Pix, m.Pix)
	return out
}

// Equal reports whether two images have identical dimensions and bit-identical samples.
func (m *Image) Equal(o *Image) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Width != o.Width || m.Height != o.Height || m.Channels != o.Channels || len(m.Pix) != len(o.Pix) {
		return false
	}
	for i, v := range m.Pix {
		if math.Float64bits(v) != math.Float64bits(o.Pix[i]) {
			return false
		}
	}
	return true
}

// Release hands the sample buffer back to the pool. The image must not be used afterwards.
// Calling Release is optional; unreleased buffers are garbage collected.
func (m *Image) Release() {
	if m == nil {
		return
	}
	mempool.PutFloat64(m.Pix)
	m.Pix = nil
}
