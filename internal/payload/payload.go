// Package payload holds raw image payloads as they travel between callers and
// the compressor: a byte buffer tagged with its MIME type, convertible to and
// from data URIs.
package payload

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Well-known MIME types.
const (
	MIMEWebP = "image/webp"
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
	MIMEGIF  = "image/gif"
)

var (
	// ErrMalformedDataURI is returned when a string is not a base64 data URI.
	ErrMalformedDataURI = errors.New("malformed data URI")
	// ErrNotImage is returned when the declared MIME type is not an image type.
	ErrNotImage = errors.New("payload is not an image")
)

// Image is an encoded image with its MIME type.
type Image struct {
	MIMEType string
	Data     []byte
}

// FromBytes wraps data, sniffing its MIME type from content.
func FromBytes(data []byte) Image {
	return Image{MIMEType: http.DetectContentType(data), Data: data}
}

// ReadFile loads an image payload from disk.
func ReadFile(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read %s: %w", path, err)
	}
	img := FromBytes(data)
	if !strings.HasPrefix(img.MIMEType, "image/") {
		if mime, ok := mimeByExtension[strings.ToLower(filepath.Ext(path))]; ok {
			img.MIMEType = mime
		}
	}
	return img, nil
}

// ParseDataURI decodes a "data:<mime>;base64,<payload>" string.
func ParseDataURI(s string) (Image, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing data: scheme", ErrMalformedDataURI)
	}
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, fmt.Errorf("%w: missing payload separator", ErrMalformedDataURI)
	}
	mime, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return Image{}, fmt.Errorf("%w: only base64 payloads are supported", ErrMalformedDataURI)
	}
	if !strings.HasPrefix(mime, "image/") {
		return Image{}, fmt.Errorf("%w: %q", ErrNotImage, mime)
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrMalformedDataURI, err)
	}
	return Image{MIMEType: mime, Data: data}, nil
}

// DataURI renders the payload as a base64 data URI.
func (i Image) DataURI() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Size returns the payload length in bytes.
func (i Image) Size() int64 {
	return int64(len(i.Data))
}

// Extension returns the file extension for the payload's MIME type, or an
// empty string when unknown.
func (i Image) Extension() string {
	for ext, mime := range canonicalExtensions {
		if mime == i.MIMEType {
			return ext
		}
	}
	return ""
}

// MarshalText encodes the payload as a data URI.
func (i Image) MarshalText() ([]byte, error) {
	return []byte(i.DataURI()), nil
}

// UnmarshalText parses a data URI.
func (i *Image) UnmarshalText(text []byte) error {
	img, err := ParseDataURI(string(text))
	if err != nil {
		return err
	}
	*i = img
	return nil
}

var canonicalExtensions = map[string]string{
	".webp": MIMEWebP,
	".jpg":  MIMEJPEG,
	".png":  MIMEPNG,
	".gif":  MIMEGIF,
}

var mimeByExtension = map[string]string{
	".webp": MIMEWebP,
	".jpg":  MIMEJPEG,
	".jpeg": MIMEJPEG,
	".png":  MIMEPNG,
	".gif":  MIMEGIF,
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}
