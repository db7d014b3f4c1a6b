package compressor

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"testing"
	"time"

	"github.com/chai2010/webp"
	"github.com/sirupsen/logrus"

	"photo-press-go/internal/payload"
)

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x % 256),
				G: uint8(y % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img
}

func makePNG(t *testing.T, w, h int) payload.Image {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, gradient(w, h)); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return payload.Image{MIMEType: payload.MIMEPNG, Data: buf.Bytes()}
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

type staticProbe bool

func (p staticProbe) SupportsCompactFormat(context.Context) bool { return bool(p) }

// recordingCodec wraps a real codec and records the qualities it was asked for.
type recordingCodec struct {
	Codec
	qualities []float64
}

func (c *recordingCodec) Encode(w io.Writer, img image.Image, q float64) error {
	c.qualities = append(c.qualities, q)
	return c.Codec.Encode(w, img, q)
}

func TestCompressImage_DownscalesWideImage(t *testing.T) {
	c := NewDefaultCompressor(quietLogger(), WithProbe(staticProbe(true)))

	res, err := c.CompressImage(context.Background(), makePNG(t, 3000, 1500), Config{})
	if err != nil {
		t.Fatalf("CompressImage: %v", err)
	}
	if res.Dimensions != (Dimensions{Width: 1920, Height: 960}) {
		t.Fatalf("dimensions = %+v, want 1920x960", res.Dimensions)
	}
	if res.CompressedImage.MIMEType != payload.MIMEWebP {
		t.Fatalf("MIME = %q, want webp", res.CompressedImage.MIMEType)
	}

	out, err := webp.Decode(bytes.NewReader(res.CompressedImage.Data))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if out.Bounds().Dx() != 1920 || out.Bounds().Dy() != 960 {
		t.Fatalf("output decodes to %dx%d, want 1920x960", out.Bounds().Dx(), out.Bounds().Dy())
	}
	if res.CompressedSize != int64(len(res.CompressedImage.Data)) {
		t.Fatalf("compressed size %d does not match payload %d", res.CompressedSize, len(res.CompressedImage.Data))
	}
	if res.Attempts > 5 {
		t.Fatalf("attempts = %d, want <= 5", res.Attempts)
	}
}

func TestCompressImage_SmallImageSingleAttempt(t *testing.T) {
	c := NewDefaultCompressor(quietLogger(), WithProbe(staticProbe(true)))
	in := makePNG(t, 10, 10)

	res, err := c.CompressImage(context.Background(), in, Config{})
	if err != nil {
		t.Fatalf("CompressImage: %v", err)
	}
	if res.Attempts != 0 {
		t.Fatalf("attempts = %d, want 0", res.Attempts)
	}
	if res.Quality != DefaultQuality {
		t.Fatalf("quality = %f, want %f", res.Quality, DefaultQuality)
	}
	if res.Dimensions != (Dimensions{Width: 10, Height: 10}) {
		t.Fatalf("dimensions = %+v, want 10x10", res.Dimensions)
	}
	want := float64(res.OriginalSize-res.CompressedSize) / float64(res.OriginalSize) * 100
	if res.CompressionRatio != want {
		t.Fatalf("ratio = %f, want %f", res.CompressionRatio, want)
	}
	if res.OriginalSize != in.Size() {
		t.Fatalf("original size = %d, want %d", res.OriginalSize, in.Size())
	}
}

func TestCompressImage_FallbackWhenCompactUnsupported(t *testing.T) {
	fallback := &recordingCodec{Codec: JPEGCodec{}}
	c := NewDefaultCompressor(quietLogger(),
		WithProbe(staticProbe(false)),
		WithCodecs(WebPCodec{}, fallback),
	)

	quality := 0.8
	cfg := Config{Format: FormatWebP, Quality: quality}
	res, err := c.CompressImage(context.Background(), makePNG(t, 64, 48), cfg)
	if err != nil {
		t.Fatalf("CompressImage: %v", err)
	}
	if res.CompressedImage.MIMEType != payload.MIMEJPEG {
		t.Fatalf("MIME = %q, want %q", res.CompressedImage.MIMEType, payload.MIMEJPEG)
	}
	if res.Format != FormatJPEG {
		t.Fatalf("format = %q, want jpeg", res.Format)
	}
	if want := quality * 0.9; len(fallback.qualities) == 0 || fallback.qualities[0] != want {
		t.Fatalf("first quality = %v, want %f", fallback.qualities, want)
	}
	if _, err := jpeg.Decode(bytes.NewReader(res.CompressedImage.Data)); err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
}

func TestCompressImage_ExplicitJPEG(t *testing.T) {
	fallback := &recordingCodec{Codec: JPEGCodec{}}
	c := NewDefaultCompressor(quietLogger(),
		WithProbe(staticProbe(true)),
		WithCodecs(WebPCodec{}, fallback),
	)

	res, err := c.CompressImage(context.Background(), makePNG(t, 32, 32), Config{Format: FormatJPEG})
	if err != nil {
		t.Fatalf("CompressImage: %v", err)
	}
	if res.CompressedImage.MIMEType != payload.MIMEJPEG {
		t.Fatalf("MIME = %q, want jpeg", res.CompressedImage.MIMEType)
	}
	quality := DefaultConfig().Quality
	if want := quality * 0.9; fallback.qualities[0] != want {
		t.Fatalf("first quality = %f, want %f", fallback.qualities[0], want)
	}
}

func TestCompressImage_Errors(t *testing.T) {
	c := NewDefaultCompressor(quietLogger(), WithProbe(staticProbe(true)))
	ctx := context.Background()

	_, err := c.CompressImage(ctx, payload.Image{MIMEType: payload.MIMEPNG, Data: []byte("not an image")}, Config{})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("corrupt payload: err = %v, want ErrDecode", err)
	}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative width", Config{MaxWidth: -1}},
		{"quality above one", Config{Quality: 1.2}},
		{"negative budget", Config{MaxSizeMB: -0.5}},
		{"unknown format", Config{Format: "avif"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.CompressImage(ctx, makePNG(t, 4, 4), tt.cfg)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestCompressImage_EncodeErrorPropagates(t *testing.T) {
	broken := &sizedCodec{err: errors.New("refused")}
	c := NewDefaultCompressor(quietLogger(), WithProbe(staticProbe(true)), WithCodecs(broken, broken))

	_, err := c.CompressImage(context.Background(), makePNG(t, 4, 4), Config{})
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("err = %v, want ErrEncode", err)
	}
}

func TestCompressImage_Timeout(t *testing.T) {
	slow := &sizedCodec{size: func(float64) int { return 1 << 20 }, delay: 50 * time.Millisecond}
	c := NewDefaultCompressor(quietLogger(),
		WithProbe(staticProbe(true)),
		WithCodecs(slow, slow),
		WithImageTimeout(10*time.Millisecond),
	)

	_, err := c.CompressImage(context.Background(), makePNG(t, 4, 4), Config{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestCompressBatch_FaultIsolation(t *testing.T) {
	c := NewDefaultCompressor(quietLogger(), WithProbe(staticProbe(true)))
	corrupt := payload.Image{MIMEType: payload.MIMEPNG, Data: []byte("definitely not a png")}
	imgs := []payload.Image{makePNG(t, 40, 20), corrupt, makePNG(t, 20, 40)}

	results := c.CompressBatch(context.Background(), imgs, Config{})
	if len(results) != len(imgs) {
		t.Fatalf("got %d results, want %d", len(results), len(imgs))
	}

	for _, i := range []int{0, 2} {
		if results[i].Passthrough() || results[i].Error != "" {
			t.Fatalf("result %d unexpectedly failed: %s", i, results[i].Error)
		}
		if results[i].CompressedImage.MIMEType != payload.MIMEWebP {
			t.Fatalf("result %d MIME = %q", i, results[i].CompressedImage.MIMEType)
		}
	}
	if results[0].Dimensions != (Dimensions{Width: 40, Height: 20}) {
		t.Fatalf("result 0 dimensions = %+v", results[0].Dimensions)
	}

	bad := results[1]
	if !bad.Passthrough() {
		t.Fatalf("result 1 dimensions = %+v, want {0,0}", bad.Dimensions)
	}
	if !bytes.Equal(bad.CompressedImage.Data, corrupt.Data) || bad.CompressedImage.MIMEType != corrupt.MIMEType {
		t.Fatal("result 1 should carry the original payload")
	}
	if bad.OriginalSize != corrupt.Size() || bad.CompressedSize != corrupt.Size() || bad.CompressionRatio != 0 {
		t.Fatalf("result 1 metrics = %d/%d/%f", bad.OriginalSize, bad.CompressedSize, bad.CompressionRatio)
	}
	if bad.Error == "" {
		t.Fatal("result 1 should record the failure")
	}
}

func TestCompressBatch_LengthInvariant(t *testing.T) {
	c := NewDefaultCompressor(quietLogger(), WithProbe(staticProbe(true)))
	for n := 0; n <= 4; n++ {
		imgs := make([]payload.Image, n)
		for i := range imgs {
			imgs[i] = payload.Image{MIMEType: "image/png", Data: []byte{byte(i)}}
		}
		if got := len(c.CompressBatch(context.Background(), imgs, Config{})); got != n {
			t.Fatalf("batch of %d returned %d results", n, got)
		}
	}
}

func TestCompressBatch_CancelledKeepsLength(t *testing.T) {
	c := NewDefaultCompressor(quietLogger(), WithProbe(staticProbe(true)))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	imgs := []payload.Image{makePNG(t, 8, 8), makePNG(t, 8, 8)}
	results := c.CompressBatch(ctx, imgs, Config{})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	for i, r := range results {
		if !r.Passthrough() || !bytes.Equal(r.CompressedImage.Data, imgs[i].Data) {
			t.Fatalf("result %d should pass the original through", i)
		}
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{MaxWidth: 800}.WithDefaults()
	want := DefaultConfig()
	want.MaxWidth = 800
	if cfg != want {
		t.Fatalf("WithDefaults = %+v, want %+v", cfg, want)
	}
	if got := DefaultConfig().MaxSizeBytes(); got != 524288 {
		t.Fatalf("MaxSizeBytes = %d, want 524288", got)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"", FormatWebP},
		{"WEBP", FormatWebP},
		{"image/webp", FormatWebP},
		{"jpg", FormatJPEG},
		{"image/jpeg", FormatJPEG},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, %v", tt.in, got, err)
		}
	}
	if _, err := ParseFormat("gif"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}
