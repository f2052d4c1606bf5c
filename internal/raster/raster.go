// Package raster decodes uploaded captures (images, PDF pages) into pixel
// buffers the preprocessing and OCR stages can work on.
package raster

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// Decode turns uploaded image bytes into a raster. HEIC captures (common on
// iPhones) are detected by magic bytes or MIME type since Go's standard image
// package doesn't support them.
func Decode(data []byte, mimeType string) (image.Image, error) {
	if isHEICData(data) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// RenderPDF rasterizes every page of a PDF at the renderer's default DPI.
// Pages that fail to render are skipped; the caller decides whether an empty
// result is an error.
func RenderPDF(pdfData []byte) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	pages := make([]image.Image, 0, doc.NumPage())
	var lastErr error
	for p := 0; p < doc.NumPage(); p++ {
		img, err := doc.Image(p)
		if err != nil {
			lastErr = fmt.Errorf("rendering PDF page %d: %w", p+1, err)
			continue
		}
		pages = append(pages, img)
	}
	if len(pages) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("PDF has no renderable pages")
	}
	return pages, nil
}

// EncodePNG serializes a raster as PNG bytes for storage and for handing to
// the OCR engine.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// Rotate applies a discrete clockwise rotation of 0, 90, 180 or 270 degrees.
// Overlay rectangles are stored in the unrotated coordinate space, so the
// same convention is assumed by the overlay mapper's inverse transform.
func Rotate(img image.Image, degrees int) image.Image {
	switch normalizeRotation(degrees) {
	case 90:
		// imaging rotations are counter-clockwise
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// normalizeRotation snaps an arbitrary degree value into {0, 90, 180, 270}.
func normalizeRotation(degrees int) int {
	d := degrees % 360
	if d < 0 {
		d += 360
	}
	return (d / 90 * 90) % 360
}

// isHEICData checks the ftyp box brands HEIC containers start with.
func isHEICData(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
