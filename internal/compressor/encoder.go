package compressor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"photo-press-go/internal/payload"
)

// Budget search limits.
const (
	qualityDecay       = 0.85
	qualityFloor       = 0.3
	maxBudgetAttempts  = 5
	fallbackQualityMul = 0.9
)

// Codec encodes rasters into one output format. Quality is in (0,1].
type Codec interface {
	Format() Format
	MIMEType() string
	Encode(w io.Writer, img image.Image, quality float64) error
}

// WebPCodec encodes lossy WebP with libwebp.
type WebPCodec struct{}

func (WebPCodec) Format() Format   { return FormatWebP }
func (WebPCodec) MIMEType() string { return payload.MIMEWebP }

func (WebPCodec) Encode(w io.Writer, img image.Image, quality float64) error {
	return webp.Encode(w, img, &webp.Options{Quality: float32(codecQuality(quality))})
}

// JPEGCodec encodes baseline JPEG.
type JPEGCodec struct{}

func (JPEGCodec) Format() Format   { return FormatJPEG }
func (JPEGCodec) MIMEType() string { return payload.MIMEJPEG }

func (JPEGCodec) Encode(w io.Writer, img image.Image, quality float64) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(codecQuality(quality)))
}

// codecQuality maps (0,1] onto the codecs' 1..100 scale.
func codecQuality(q float64) int {
	return min(100, max(1, int(math.Round(q*100))))
}

// Encoded is the output of a budget search.
type Encoded struct {
	Image    payload.Image
	Quality  float64
	Attempts int
}

// EncodeWithBudget encodes img at startQuality, then lowers the quality by 15%
// per attempt while the output exceeds maxBytes. The quality never drops below
// 0.3. It stops after 5 attempts or once the floor is reached, and returns the
// last output even when the budget is still exceeded.
func EncodeWithBudget(ctx context.Context, codec Codec, img image.Image, startQuality float64, maxBytes int64) (*Encoded, error) {
	quality := startQuality
	data, err := encodeOnce(ctx, codec, img, quality)
	if err != nil {
		return nil, err
	}

	attempts := 0
	for int64(len(data)) > maxBytes && quality > qualityFloor && attempts < maxBudgetAttempts {
		quality = max(quality*qualityDecay, qualityFloor)
		data, err = encodeOnce(ctx, codec, img, quality)
		if err != nil {
			return nil, err
		}
		attempts++
	}

	return &Encoded{
		Image:    payload.Image{MIMEType: codec.MIMEType(), Data: data},
		Quality:  quality,
		Attempts: attempts,
	}, nil
}

func encodeOnce(ctx context.Context, codec Codec, img image.Image, quality float64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := codec.Encode(&buf, img, quality); err != nil {
		return nil, fmt.Errorf("%w: %s at quality %.3f: %v", ErrEncode, codec.Format(), quality, err)
	}
	return buf.Bytes(), nil
}
