package lens

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImage(t *testing.T) {
	img, err := NewImage(4, 3, 2)
	require.NoError(t, err)
	assert.Len(t, img.Pix, 24)
	for _, v := range img.Pix {
		assert.Zero(t, v)
	}
	assert.Equal(t, Extent{Width: 4, Height: 3}, img.Extent())
	img.Release()
	assert.Nil(t, img.Pix)

	_, err = NewImage(0, 3, 1)
	require.ErrorIs(t, err, ErrInvalidImage)
	_, err = NewImage(3, 3, -1)
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestImageOffsetLayout(t *testing.T) {
	img := &Image{Width: 3, Height: 4, Channels: 2, Pix: make([]float64, 24)}

	// x-major: column x occupies Height*Channels contiguous samples.
	assert.Equal(t, 0, img.Offset(0, 0, 0))
	assert.Equal(t, 1, img.Offset(0, 0, 1))
	assert.Equal(t, 2, img.Offset(0, 1, 0))
	assert.Equal(t, 8, img.Offset(1, 0, 0))
	assert.Equal(t, (2*4+3)*2+1, img.Offset(2, 3, 1))
}

func TestImageAccessors(t *testing.T) {
	img := &Image{Width: 2, Height: 2, Channels: 3, Pix: make([]float64, 12)}
	img.Set(1, 0, 2, 0.75)
	assert.InDelta(t, 0.75, img.At(1, 0, 2), 0)
	assert.InDelta(t, 0.75, img.Pix[(1*2+0)*3+2], 0)
	assert.Equal(t, []float64{0, 0, 0.75}, img.Pixel(1, 0))

	assert.Panics(t, func() { img.At(2, 0, 0) })
	assert.Panics(t, func() { img.At(0, -1, 0) })
	assert.Panics(t, func() { img.Set(0, 0, 3, 1) })
}

func TestFromSamples(t *testing.T) {
	pix := []float64{1, 2, 3, 4, 5, 6}
	img, err := FromSamples(3, 2, 1, pix)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, img.At(1, 1, 0), 0)

	_, err = FromSamples(3, 3, 1, pix)
	require.ErrorIs(t, err, ErrInvalidImage)
}

func TestImageCloneAndEqual(t *testing.T) {
	img := &Image{Width: 2, Height: 1, Channels: 2, Pix: []float64{1, 2, 3, math.NaN()}}
	c := img.Clone()
	assert.True(t, img.Equal(c), "NaN samples compare bitwise")

	c.Pix[0] = 9
	assert.False(t, img.Equal(c))
	assert.InDelta(t, 1.0, img.Pix[0], 0)

	other := &Image{Width: 1, Height: 2, Channels: 2, Pix: []float64{1, 2, 3, 4}}
	assert.False(t, img.Equal(other))

	var nilImg *Image
	assert.True(t, nilImg.Equal(nil))
	assert.False(t, nilImg.Equal(img))
}

func TestReleaseNil(t *testing.T) {
	var img *Image
	assert.NotPanics(t, img.Release)
}
