package utils

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/undistort/internal/lens"
)

// ChannelMode selects how many samples per pixel a converted raster carries.
type ChannelMode string

const (
	ChannelsAuto ChannelMode = "auto"
	ChannelsGray ChannelMode = "gray"
	ChannelsRGB  ChannelMode = "rgb"
	ChannelsRGBA ChannelMode = "rgba"
)

// ParseChannelMode accepts a mode name or a channel count ("1", "3", "4").
func ParseChannelMode(s string) (ChannelMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ChannelsAuto, nil
	case "gray", "grey", "1":
		return ChannelsGray, nil
	case "rgb", "3":
		return ChannelsRGB, nil
	case "rgba", "4":
		return ChannelsRGBA, nil
	default:
		return "", fmt.Errorf("unknown channel mode %q (expected auto, gray, rgb or rgba)", s)
	}
}

// Count returns the samples per pixel, or 0 for auto.
func (m ChannelMode) Count() int {
	switch m {
	case ChannelsGray:
		return 1
	case ChannelsRGB:
		return 3
	case ChannelsRGBA:
		return 4
	default:
		return 0
	}
}

// ImageTraits summarises properties that drive automatic channel selection.
type ImageTraits struct {
	Width       int
	Height      int
	IsGrayscale bool
	HasAlpha    bool
}

// AssessImage reports whether img is grayscale and whether it has any
// translucent pixel. Scanning stops once both answers are settled.
func AssessImage(img image.Image) ImageTraits {
	if img == nil {
		return ImageTraits{}
	}
	b := img.Bounds()
	traits := ImageTraits{Width: b.Dx(), Height: b.Dy(), IsGrayscale: true}
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return traits
	}
	for y := b.Min.Y; y < b.Max.Y && (traits.IsGrayscale || !traits.HasAlpha); y++ {
		for x := b.Min.X; x < b.Max.X && (traits.IsGrayscale || !traits.HasAlpha); x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			if a < 0xffff {
				traits.HasAlpha = true
			}
			if r != g || g != bl {
				traits.IsGrayscale = false
			}
		}
	}
	return traits
}

// Resolve turns auto into a concrete mode for img.
func (m ChannelMode) Resolve(img image.Image) ChannelMode {
	if m != ChannelsAuto && m != "" {
		return m
	}
	t := AssessImage(img)
	switch {
	case t.HasAlpha:
		return ChannelsRGBA
	case t.IsGrayscale:
		return ChannelsGray
	default:
		return ChannelsRGB
	}
}

// ToLensImage converts img into a lens.Image with samples normalised to [0,1].
// Gray conversion uses imaging's luminance weights. The result comes from
// the pooled allocator; callers may Release it when done.
func ToLensImage(img image.Image, mode ChannelMode) (*lens.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "convert", Err: errors.New("input image is nil")}
	}
	mode = mode.Resolve(img)
	channels := mode.Count()
	if channels == 0 {
		return nil, &ImageProcessingError{Operation: "convert", Err: fmt.Errorf("invalid channel mode %q", mode)}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out, err := lens.NewImage(w, h, channels)
	if err != nil {
		return nil, &ImageProcessingError{Operation: "convert", Err: err}
	}

	if g, ok := img.(*image.Gray); ok && mode == ChannelsGray {
		for x := range w {
			for y := range h {
				out.Set(x, y, 0, float64(g.GrayAt(b.Min.X+x, b.Min.Y+y).Y)/255)
			}
		}
		return out, nil
	}

	var src *image.NRGBA
	if mode == ChannelsGray {
		src = imaging.Grayscale(img)
	} else {
		src = imaging.Clone(img)
	}
	for x := range w {
		for y := range h {
			i := y*src.Stride + x*4
			px := src.Pix[i : i+4 : i+4]
			for c := range channels {
				out.Set(x, y, c, float64(px[c])/255)
			}
		}
	}
	return out, nil
}

func toByte(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(math.Round(v * 255))
}

// FromLensImage converts a lens.Image with samples in [0,1] back into a
// standard raster. One channel yields *image.Gray, three or four yield
// *image.NRGBA (opaque when there is no alpha sample). Values outside [0,1]
// are clamped.
func FromLensImage(li *lens.Image) (image.Image, error) {
	if err := li.Validate(); err != nil {
		return nil, &ImageProcessingError{Operation: "convert", Err: err}
	}
	rect := image.Rect(0, 0, li.Width, li.Height)
	switch li.Channels {
	case 1:
		g := image.NewGray(rect)
		for x := range li.Width {
			for y := range li.Height {
				g.SetGray(x, y, color.Gray{Y: toByte(li.At(x, y, 0))})
			}
		}
		return g, nil
	case 3, 4:
		n := image.NewNRGBA(rect)
		for x := range li.Width {
			for y := range li.Height {
				px := li.Pixel(x, y)
				a := uint8(255)
				if li.Channels == 4 {
					a = toByte(px[3])
				}
				n.SetNRGBA(x, y, color.NRGBA{R: toByte(px[0]), G: toByte(px[1]), B: toByte(px[2]), A: a})
			}
		}
		return n, nil
	default:
		return nil, &ImageProcessingError{
			Operation: "convert",
			Err:       fmt.Errorf("cannot render %d channels", li.Channels),
		}
	}
}

// CenterCrop crops the largest centred square out of img.
func CenterCrop(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, &ImageProcessingError{Operation: "crop", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	side := min(b.Dx(), b.Dy())
	if side <= 0 {
		return nil, &ImageProcessingError{Operation: "crop", Err: errors.New("empty image")}
	}
	return imaging.CropCenter(img, side, side), nil
}
