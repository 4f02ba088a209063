// Package imaging converts and resizes generated images. DrawThings
// results arrive as base64 blobs in arbitrary formats; everything the
// service persists or returns is normalized to PNG.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	// Register image format decoders
	_ "image/gif"
	_ "image/jpeg"

	"golang.org/x/image/draw"

	// WebP support from x/image
	_ "golang.org/x/image/webp"
)

// Converter normalizes image payloads to PNG.
type Converter struct{}

// NewConverter creates a new Converter.
func NewConverter() *Converter {
	return &Converter{}
}

// ConvertToPNG converts image data to PNG format.
// Returns the PNG data, width, height, and any error.
// If the input is already PNG, it decodes and re-encodes to ensure validity.
func (c *Converter) ConvertToPNG(data []byte) ([]byte, int, int, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding image (format=%s): %w", format, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("encoding to PNG: %w", err)
	}

	return buf.Bytes(), width, height, nil
}

// ConvertToPNGReader converts image data from a reader to PNG format.
func (c *Converter) ConvertToPNGReader(r io.Reader) ([]byte, int, int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("reading image data: %w", err)
	}
	return c.ConvertToPNG(data)
}

// FitPNG converts the payload to PNG, downscaling with Catmull-Rom
// resampling when the long side exceeds maxDim. Images already within
// bounds are only re-encoded; upscaling never happens.
func (c *Converter) FitPNG(data []byte, maxDim int) ([]byte, int, int, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding image (format=%s): %w", format, err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if maxDim > 0 && (width > maxDim || height > maxDim) {
		newW, newH := fitDimensions(width, height, maxDim)
		scaled := image.NewRGBA(image.Rect(0, 0, newW, newH))
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, bounds, draw.Over, nil)
		img = scaled
		width, height = newW, newH
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, 0, 0, fmt.Errorf("encoding to PNG: %w", err)
	}

	return buf.Bytes(), width, height, nil
}

// GetDimensions returns the width and height of an image without full decode.
func (c *Converter) GetDimensions(data []byte) (int, int, error) {
	config, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decoding image config: %w", err)
	}
	return config.Width, config.Height, nil
}

// IsSupportedFormat checks if the content type is a supported image format.
func (c *Converter) IsSupportedFormat(contentType string) bool {
	switch contentType {
	case "image/png", "image/jpeg", "image/jpg", "image/gif", "image/webp":
		return true
	default:
		return false
	}
}

// fitDimensions scales (w, h) so the long side equals maxDim, preserving
// aspect ratio and keeping both sides at least 1px.
func fitDimensions(w, h, maxDim int) (int, int) {
	if w >= h {
		newW := maxDim
		newH := h * maxDim / w
		if newH < 1 {
			newH = 1
		}
		return newW, newH
	}
	newH := maxDim
	newW := w * maxDim / h
	if newW < 1 {
		newW = 1
	}
	return newW, newH
}
