// Package metadata reads and writes the EXIF marker that flags images this
// tool has already compressed.
package metadata

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/barasher/go-exiftool"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/sirupsen/logrus"

	"photo-press-go/internal/payload"
)

// DefaultMark is written to the EXIF Software tag of compressed outputs.
const DefaultMark = "PhotoPress Compressed"

// MarkDetector reports whether an image already carries the marker.
type MarkDetector interface {
	HasMark(img payload.Image) bool
}

// Stamper writes the marker into a file on disk.
type Stamper interface {
	Stamp(path string) error
	Close() error
}

// EXIFMarker detects the marker with goexif, entirely in memory.
type EXIFMarker struct {
	logger *logrus.Logger
	mark   string
}

// NewEXIFMarker returns a detector for mark, or DefaultMark when empty.
func NewEXIFMarker(logger *logrus.Logger, mark string) *EXIFMarker {
	if mark == "" {
		mark = DefaultMark
	}
	return &EXIFMarker{logger: logger, mark: mark}
}

// HasMark reports whether the EXIF Software tag contains the marker. Formats
// without EXIF support report false.
func (m *EXIFMarker) HasMark(img payload.Image) bool {
	if !supportsEXIF(img.MIMEType) {
		return false
	}
	x, err := exif.Decode(bytes.NewReader(img.Data))
	if x == nil {
		m.logger.Debugf("No EXIF data: %v", err)
		return false
	}
	tag, err := x.Get(exif.Software)
	if err != nil {
		return false
	}
	val, err := tag.StringVal()
	if err != nil {
		return false
	}
	return strings.Contains(val, m.mark)
}

func supportsEXIF(mime string) bool {
	return mime == payload.MIMEJPEG || mime == "image/tiff"
}

// ExiftoolStamper sets the Software tag through a long-running exiftool
// process. The exiftool binary must be on PATH.
type ExiftoolStamper struct {
	et   *exiftool.Exiftool
	mark string
}

// NewExiftoolStamper starts exiftool.
func NewExiftoolStamper(mark string) (*ExiftoolStamper, error) {
	if mark == "" {
		mark = DefaultMark
	}
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	return &ExiftoolStamper{et: et, mark: mark}, nil
}

// Stamp writes the marker into path in place.
func (s *ExiftoolStamper) Stamp(path string) error {
	files := s.et.ExtractMetadata(path)
	if len(files) == 0 {
		return fmt.Errorf("exiftool returned no metadata for %s", path)
	}
	if files[0].Err != nil {
		return fmt.Errorf("read metadata: %w", files[0].Err)
	}
	files[0].SetString("Software", s.mark)
	s.et.WriteMetadata(files)
	if files[0].Err != nil {
		return fmt.Errorf("write metadata: %w", files[0].Err)
	}
	return nil
}

// Close stops the exiftool process.
func (s *ExiftoolStamper) Close() error {
	return s.et.Close()
}
