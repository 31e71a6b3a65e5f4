package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{200, 120, 40, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode normalized photo: %v", err)
	}
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestNormalizeCameraPhotoDownscaled(t *testing.T) {
	// Typical phone camera resolution.
	photo, err := Normalize(bytes.NewReader(encodeJPEG(t, 4000, 3000)))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	w, h := decodedSize(t, photo.Data)
	if w > MaxLongEdge || h > MaxLongEdge {
		t.Errorf("size = %dx%d, want long edge <= %d", w, h, MaxLongEdge)
	}
	if w != 1080 || h != 810 {
		t.Errorf("size = %dx%d, want 1080x810 (aspect preserved)", w, h)
	}
}

func TestNormalizeSmallPhotoUntouched(t *testing.T) {
	photo, err := Normalize(bytes.NewReader(encodeJPEG(t, 640, 480)))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	w, h := decodedSize(t, photo.Data)
	if w != 640 || h != 480 {
		t.Errorf("size = %dx%d, small photos must not be upscaled", w, h)
	}
}

func TestNormalizePNGBecomesJPEG(t *testing.T) {
	photo, err := Normalize(bytes.NewReader(encodePNG(t, 100, 100)))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if photo.MIME != "image/jpeg" {
		t.Errorf("MIME = %q, want image/jpeg", photo.MIME)
	}
}

func TestNormalizeRejectsNonImage(t *testing.T) {
	if _, err := Normalize(bytes.NewReader([]byte("definitely not a photo"))); err == nil {
		t.Error("expected error for non-image input")
	}
}

func TestNormalizeRejectsGIF(t *testing.T) {
	if _, err := Normalize(bytes.NewReader([]byte("GIF89a..."))); err == nil {
		t.Error("expected error for GIF input")
	}
}

func TestNormalizeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staged.jpg")
	if err := os.WriteFile(path, encodeJPEG(t, 100, 100), 0644); err != nil {
		t.Fatal(err)
	}
	photo, err := NormalizeFile(path)
	if err != nil {
		t.Fatalf("NormalizeFile() error = %v", err)
	}
	if len(photo.Data) == 0 {
		t.Error("empty normalized photo")
	}

	if _, err := NormalizeFile(filepath.Join(t.TempDir(), "missing.jpg")); err == nil {
		t.Error("expected error for missing file")
	}
}
