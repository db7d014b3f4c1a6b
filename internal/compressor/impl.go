package compressor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/sirupsen/logrus"

	"photo-press-go/internal/logger"
	"photo-press-go/internal/payload"
)

func init() {
	image.RegisterFormat("webp", "RIFF????WEBP", webp.Decode, webp.DecodeConfig)
}

// Probe reports compact format support.
type Probe interface {
	SupportsCompactFormat(ctx context.Context) bool
}

// Option configures a DefaultCompressor.
type Option func(*DefaultCompressor)

// WithProbe replaces the compact format probe.
func WithProbe(p Probe) Option {
	return func(c *DefaultCompressor) { c.probe = p }
}

// WithCodecs replaces the compact and fallback codecs.
func WithCodecs(compact, fallback Codec) Option {
	return func(c *DefaultCompressor) {
		c.compact = compact
		c.fallback = fallback
	}
}

// WithResampler selects the resampling filter.
func WithResampler(r Resampler) Option {
	return func(c *DefaultCompressor) { c.resampler = r }
}

// WithImageTimeout bounds each image's pipeline run. Zero disables the limit.
func WithImageTimeout(d time.Duration) Option {
	return func(c *DefaultCompressor) { c.imageTimeout = d }
}

// DefaultCompressor is the default implementation of the Compressor interface.
// It holds no per-call state and is safe for concurrent use.
type DefaultCompressor struct {
	logger       *logrus.Logger
	probe        Probe
	compact      Codec
	fallback     Codec
	resampler    Resampler
	imageTimeout time.Duration
}

// NewDefaultCompressor creates a new DefaultCompressor instance.
func NewDefaultCompressor(log *logrus.Logger, opts ...Option) *DefaultCompressor {
	if log == nil {
		log = logrus.New()
	}
	c := &DefaultCompressor{
		logger:    log,
		probe:     NewFormatProbe(nil),
		compact:   WebPCodec{},
		fallback:  JPEGCodec{},
		resampler: ResamplerCatmullRom,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SupportsCompactFormat reports whether the compact codec is usable.
func (c *DefaultCompressor) SupportsCompactFormat(ctx context.Context) bool {
	return c.probe.SupportsCompactFormat(ctx)
}

// CompressImage decodes img, fits it within the configured bounds, enhances it
// and encodes it under the byte budget.
func (c *DefaultCompressor) CompressImage(ctx context.Context, img payload.Image, cfg Config) (*CompressionResult, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if c.imageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.imageTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := imaging.Decode(bytes.NewReader(img.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	originalSize := img.Size()

	b := src.Bounds()
	dims, err := PlanDimensions(b.Dx(), b.Dy(), cfg.MaxWidth, cfg.MaxHeight)
	if err != nil {
		return nil, err
	}
	raster := Enhance(Resample(src, dims, c.resampler))

	codec, quality := c.selectCodec(ctx, cfg)
	enc, err := EncodeWithBudget(ctx, codec, raster, quality, cfg.MaxSizeBytes())
	if err != nil {
		return nil, err
	}

	compressedSize := enc.Image.Size()
	logger.WithOperation(c.logger, "compress").WithFields(logrus.Fields{
		"format":          codec.Format(),
		"width":           dims.Width,
		"height":          dims.Height,
		"original_size":   originalSize,
		"compressed_size": compressedSize,
		"quality":         enc.Quality,
		"attempts":        enc.Attempts,
	}).Debug("Image compressed")

	return &CompressionResult{
		CompressedImage:  enc.Image,
		OriginalSize:     originalSize,
		CompressedSize:   compressedSize,
		CompressionRatio: compressionRatio(originalSize, compressedSize),
		Dimensions:       dims,
		Format:           codec.Format(),
		Quality:          enc.Quality,
		Attempts:         enc.Attempts,
	}, nil
}

// selectCodec uses the compact codec when requested and supported; otherwise
// the fallback codec at 90% of the configured quality.
func (c *DefaultCompressor) selectCodec(ctx context.Context, cfg Config) (Codec, float64) {
	if cfg.Format == FormatWebP && c.probe.SupportsCompactFormat(ctx) {
		return c.compact, cfg.Quality
	}
	if cfg.Format == FormatWebP {
		logger.WithOperation(c.logger, "probe").Debug("Compact format unsupported, using fallback")
	}
	return c.fallback, cfg.Quality * fallbackQualityMul
}

// CompressBatch compresses imgs sequentially so only one raster is alive at a
// time. A failed item yields the original payload with {0,0} dimensions.
func (c *DefaultCompressor) CompressBatch(ctx context.Context, imgs []payload.Image, cfg Config) []CompressionResult {
	results := make([]CompressionResult, 0, len(imgs))
	for i, img := range imgs {
		res, err := c.CompressImage(ctx, img, cfg)
		if err != nil {
			logger.WithImage(c.logger, "compress_batch", i, img.Size()).Warnf("Compression failed, keeping original: %v", err)
			results = append(results, passthroughResult(img, err))
			continue
		}
		results = append(results, *res)
	}
	return results
}

func passthroughResult(img payload.Image, err error) CompressionResult {
	return CompressionResult{
		CompressedImage:  img,
		OriginalSize:     img.Size(),
		CompressedSize:   img.Size(),
		CompressionRatio: 0,
		Dimensions:       Dimensions{},
		Error:            err.Error(),
	}
}
