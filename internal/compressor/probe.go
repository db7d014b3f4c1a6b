package compressor

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"io"
	"sync"

	"github.com/chai2010/webp"
)

// compactSample is a 2x2 lossy WebP image.
const compactSample = "UklGRjoAAABXRUJQVlA4IC4AAACyAgCdASoCAAIALmk0mk0iIiIiIgBoSygABc6WWgAA/veff/0PP8bA//LwYAAA"

const compactSampleHeight = 2

// DecodeFunc decodes an encoded image.
type DecodeFunc func(r io.Reader) (image.Image, error)

// FormatProbe detects whether the compact codec can decode a known sample.
// The first answer is kept for the probe's lifetime.
type FormatProbe struct {
	decode DecodeFunc

	once      sync.Once
	supported bool
}

// NewFormatProbe returns a probe that uses decode, or the WebP decoder when
// decode is nil.
func NewFormatProbe(decode DecodeFunc) *FormatProbe {
	if decode == nil {
		decode = webp.Decode
	}
	return &FormatProbe{decode: decode}
}

// SupportsCompactFormat reports whether the sample decodes to the expected
// height. A cancelled context reports false without caching.
func (p *FormatProbe) SupportsCompactFormat(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	p.once.Do(func() {
		p.supported = p.probe()
	})
	return p.supported
}

func (p *FormatProbe) probe() (ok bool) {
	defer func() {
		// cgo-backed decoders may panic on unexpected input
		if recover() != nil {
			ok = false
		}
	}()

	sample, err := base64.StdEncoding.DecodeString(compactSample)
	if err != nil {
		return false
	}
	img, err := p.decode(bytes.NewReader(sample))
	if err != nil || img == nil {
		return false
	}
	return img.Bounds().Dy() == compactSampleHeight
}
