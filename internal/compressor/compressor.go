package compressor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"photo-press-go/internal/payload"
)

// Pipeline errors. They are wrapped with context and matched with errors.Is.
var (
	// ErrDecode means the input payload could not be parsed as an image.
	ErrDecode = errors.New("decode image")
	// ErrInvalidInput means the configuration or source geometry is unusable.
	ErrInvalidInput = errors.New("invalid input")
	// ErrEncode means the codec refused to encode the raster.
	ErrEncode = errors.New("encode image")
)

// Format names an output codec.
type Format string

const (
	// FormatWebP is the compact format.
	FormatWebP Format = "webp"
	// FormatJPEG is the fallback format.
	FormatJPEG Format = "jpeg"
)

// ParseFormat accepts the usual spellings of the supported formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "webp", "image/webp":
		return FormatWebP, nil
	case "jpeg", "jpg", "image/jpeg":
		return FormatJPEG, nil
	default:
		return "", fmt.Errorf("%w: unknown format %q", ErrInvalidInput, s)
	}
}

// Defaults applied to zero-valued Config fields.
const (
	DefaultMaxWidth  = 1920
	DefaultMaxHeight = 1080
	DefaultQuality   = 0.87
	DefaultMaxSizeMB = 0.5
	DefaultFormat    = FormatWebP
)

// Config controls a single compression call.
type Config struct {
	MaxWidth  int     `json:"maxWidth,omitempty"`
	MaxHeight int     `json:"maxHeight,omitempty"`
	Quality   float64 `json:"quality,omitempty"`
	MaxSizeMB float64 `json:"maxSizeMB,omitempty"`
	Format    Format  `json:"format,omitempty"`
	// MaintainAspectRatio is accepted for compatibility; the aspect ratio is
	// always preserved.
	MaintainAspectRatio bool `json:"maintainAspectRatio,omitempty"`
}

// DefaultConfig returns the default compression settings.
func DefaultConfig() Config {
	return Config{
		MaxWidth:            DefaultMaxWidth,
		MaxHeight:           DefaultMaxHeight,
		Quality:             DefaultQuality,
		MaxSizeMB:           DefaultMaxSizeMB,
		Format:              DefaultFormat,
		MaintainAspectRatio: true,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxWidth == 0 {
		c.MaxWidth = d.MaxWidth
	}
	if c.MaxHeight == 0 {
		c.MaxHeight = d.MaxHeight
	}
	if c.Quality == 0 {
		c.Quality = d.Quality
	}
	if c.MaxSizeMB == 0 {
		c.MaxSizeMB = d.MaxSizeMB
	}
	if f, err := ParseFormat(string(c.Format)); err == nil {
		c.Format = f
	}
	c.MaintainAspectRatio = true
	return c
}

// Validate reports an ErrInvalidInput for unusable settings.
func (c Config) Validate() error {
	if c.MaxWidth <= 0 || c.MaxHeight <= 0 {
		return fmt.Errorf("%w: max dimensions must be positive, got %dx%d", ErrInvalidInput, c.MaxWidth, c.MaxHeight)
	}
	if c.Quality <= 0 || c.Quality > 1 {
		return fmt.Errorf("%w: quality must be in (0,1], got %g", ErrInvalidInput, c.Quality)
	}
	if c.MaxSizeMB <= 0 {
		return fmt.Errorf("%w: max size must be positive, got %g MB", ErrInvalidInput, c.MaxSizeMB)
	}
	if _, err := ParseFormat(string(c.Format)); err != nil {
		return err
	}
	return nil
}

// MaxSizeBytes converts the MB budget to bytes.
func (c Config) MaxSizeBytes() int64 {
	return int64(c.MaxSizeMB * 1024 * 1024)
}

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// CompressionResult describes the outcome of compressing one image.
type CompressionResult struct {
	CompressedImage  payload.Image `json:"compressedImage"`
	OriginalSize     int64         `json:"originalSize"`
	CompressedSize   int64         `json:"compressedSize"`
	CompressionRatio float64       `json:"compressionRatio"`
	// Dimensions is {0,0} for results that passed the original through.
	Dimensions Dimensions `json:"dimensions"`

	Format   Format  `json:"format,omitempty"`
	Quality  float64 `json:"quality,omitempty"`
	Attempts int     `json:"attempts"`
	Error    string  `json:"error,omitempty"`
}

// Passthrough reports whether the result carries the untouched original.
func (r CompressionResult) Passthrough() bool {
	return r.Dimensions == Dimensions{}
}

// Compressor compresses images for upload.
type Compressor interface {
	// CompressImage runs the full pipeline on one image. Errors propagate.
	CompressImage(ctx context.Context, img payload.Image, cfg Config) (*CompressionResult, error)
	// CompressBatch compresses images one after another and returns one result
	// per input in the same order. Failed items pass the original through.
	CompressBatch(ctx context.Context, imgs []payload.Image, cfg Config) []CompressionResult
	// SupportsCompactFormat reports whether the compact codec is usable.
	SupportsCompactFormat(ctx context.Context) bool
}

// compressionRatio is not clamped; inflated outputs yield negative values.
func compressionRatio(originalSize, compressedSize int64) float64 {
	if originalSize == 0 {
		return 0
	}
	return float64(originalSize-compressedSize) / float64(originalSize) * 100
}
