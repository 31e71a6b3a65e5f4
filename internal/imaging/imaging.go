// Package imaging normalizes report photos before upload: format
// validation by byte sniffing, downscaling to phone-screen size and
// JPEG re-encoding to keep multipart bodies small on mobile links.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"

	"golang.org/x/image/draw"
)

// MaxLongEdge caps the longer image dimension before upload.
const MaxLongEdge = 1080

// JPEGQuality is the re-encode quality for outgoing photos.
const JPEGQuality = 85

// acceptedMIME lists the photo formats a report may carry.
var acceptedMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// Photo is a normalized, upload-ready image.
type Photo struct {
	Data []byte
	MIME string
}

// Normalize validates and re-encodes a report photo. The input MIME type
// is sniffed from the bytes, never taken from headers; oversized photos
// are downscaled with aspect ratio preserved, and the output is always
// JPEG.
func Normalize(r io.Reader) (*Photo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read photo: %w", err)
	}

	detected := http.DetectContentType(data)
	if !acceptedMIME[detected] {
		return nil, fmt.Errorf("unsupported photo format %s, need JPEG or PNG", detected)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}

	img = shrink(img, MaxLongEdge)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return &Photo{Data: buf.Bytes(), MIME: "image/jpeg"}, nil
}

// NormalizeFile normalizes a staged photo on disk.
func NormalizeFile(path string) (*Photo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open staged photo: %w", err)
	}
	defer f.Close()
	return Normalize(f)
}

// shrink downscales so the longer edge fits maxEdge, preserving aspect
// ratio. Images already within bounds pass through untouched; nothing is
// ever upscaled.
func shrink(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	newW, newH := w, h
	if w > h {
		newW = maxEdge
		newH = h * maxEdge / w
	} else {
		newH = maxEdge
		newW = w * maxEdge / h
	}
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

func init() {
	image.RegisterFormat("jpeg", "\xff\xd8", jpeg.Decode, jpeg.DecodeConfig)
	image.RegisterFormat("png", "\x89PNG", png.Decode, png.DecodeConfig)
}
