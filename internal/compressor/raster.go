package compressor

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
)

// Resampler names a resampling filter.
type Resampler string

const (
	// ResamplerCatmullRom scales with golang.org/x/image/draw.
	ResamplerCatmullRom Resampler = "catmull-rom"
	// ResamplerLanczos scales with imaging's Lanczos filter.
	ResamplerLanczos Resampler = "lanczos"
)

// ParseResampler maps a config string to a Resampler.
func ParseResampler(s string) (Resampler, error) {
	switch Resampler(s) {
	case "", ResamplerCatmullRom:
		return ResamplerCatmullRom, nil
	case ResamplerLanczos:
		return ResamplerLanczos, nil
	default:
		return "", fmt.Errorf("%w: unknown resampler %q", ErrInvalidInput, s)
	}
}

// Resample scales src to exactly dims. When dims already match the source
// the image is returned as is.
func Resample(src image.Image, dims Dimensions, filter Resampler) image.Image {
	b := src.Bounds()
	if b.Dx() == dims.Width && b.Dy() == dims.Height {
		return src
	}

	if filter == ResamplerLanczos {
		return imaging.Resize(src, dims.Width, dims.Height, imaging.Lanczos)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, dims.Width, dims.Height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// enhanceFactor is the fixed contrast nudge applied before encoding.
const enhanceFactor = 1.05

// Enhance multiplies R, G and B by 1.05, clamped to 255. Alpha is untouched.
func Enhance(img image.Image) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		c.R = enhanceChannel(c.R)
		c.G = enhanceChannel(c.G)
		c.B = enhanceChannel(c.B)
		return c
	})
}

func enhanceChannel(v uint8) uint8 {
	return uint8(math.Min(255, math.Round(float64(v)*enhanceFactor)))
}
