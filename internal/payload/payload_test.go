package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func makePNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDataURIRoundTrip(t *testing.T) {
	img := FromBytes(makePNG(t))
	if img.MIMEType != MIMEPNG {
		t.Fatalf("MIMEType = %q, want %q", img.MIMEType, MIMEPNG)
	}

	parsed, err := ParseDataURI(img.DataURI())
	if err != nil {
		t.Fatalf("ParseDataURI: %v", err)
	}
	if parsed.MIMEType != img.MIMEType || !bytes.Equal(parsed.Data, img.Data) {
		t.Fatal("parsed payload differs from original")
	}
}

func TestParseDataURI_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want error
	}{
		{"no scheme", "image/png;base64,AAAA", ErrMalformedDataURI},
		{"no comma", "data:image/png;base64", ErrMalformedDataURI},
		{"not base64", "data:image/png,AAAA", ErrMalformedDataURI},
		{"bad base64", "data:image/png;base64,@@@", ErrMalformedDataURI},
		{"not an image", "data:text/plain;base64,AAAA", ErrNotImage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDataURI(tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestExtension(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{MIMEWebP, ".webp"},
		{MIMEJPEG, ".jpg"},
		{MIMEPNG, ".png"},
		{"application/octet-stream", ""},
	}
	for _, tt := range tests {
		if got := (Image{MIMEType: tt.mime}).Extension(); got != tt.want {
			t.Errorf("Extension(%q) = %q, want %q", tt.mime, got, tt.want)
		}
	}
}

func TestJSONUsesDataURI(t *testing.T) {
	type wrapper struct {
		Image Image `json:"image"`
	}
	in := wrapper{Image: Image{MIMEType: MIMEJPEG, Data: []byte{1, 2, 3}}}

	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"data:image/jpeg;base64,AQID"`)) {
		t.Fatalf("unexpected JSON: %s", raw)
	}

	var out wrapper
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.Image.Size() != 3 {
		t.Fatalf("Size = %d, want 3", out.Image.Size())
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(path, makePNG(t), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	img, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if img.MIMEType != MIMEPNG {
		t.Fatalf("MIMEType = %q, want %q", img.MIMEType, MIMEPNG)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing.png")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
