package compressor

import (
	"fmt"
	"math"
)

// PlanDimensions fits src within max while keeping the aspect ratio. Images
// that already fit are returned unchanged; nothing is ever upscaled.
func PlanDimensions(srcW, srcH, maxW, maxH int) (Dimensions, error) {
	if srcW <= 0 || srcH <= 0 {
		return Dimensions{}, fmt.Errorf("%w: source dimensions %dx%d", ErrInvalidInput, srcW, srcH)
	}
	if maxW <= 0 || maxH <= 0 {
		return Dimensions{}, fmt.Errorf("%w: max dimensions %dx%d", ErrInvalidInput, maxW, maxH)
	}
	if srcW <= maxW && srcH <= maxH {
		return Dimensions{Width: srcW, Height: srcH}, nil
	}

	aspect := float64(srcW) / float64(srcH)
	width := float64(maxW)
	height := width / aspect
	if height > float64(maxH) {
		height = float64(maxH)
		width = height * aspect
	}

	return Dimensions{
		Width:  max(1, int(math.Round(width))),
		Height: max(1, int(math.Round(height))),
	}, nil
}
