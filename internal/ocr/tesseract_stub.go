//go:build !ocr

package ocr

import "context"

// Tesseract is the stub compiled when the "ocr" build tag is not set. It
// reports unavailable and refuses to recognize, so the rest of the pipeline
// degrades the way an absent engine should: a status message, not a crash.
//
// To enable real OCR, rebuild with the "ocr" build tag:
//
//	go build -tags ocr
//
// This requires Tesseract to be installed. On macOS:
//
//	brew install tesseract
//
// On Ubuntu/Debian:
//
//	apt-get install tesseract-ocr
type Tesseract struct{}

// NewTesseract returns the stub engine. Construction never fails; the engine
// simply reports unavailable.
func NewTesseract() (*Tesseract, error) {
	return &Tesseract{}, nil
}

// Available reports false; OCR support was not compiled in.
func (t *Tesseract) Available() bool {
	return false
}

// Recognize returns ErrEngineUnavailable.
func (t *Tesseract) Recognize(ctx context.Context, png []byte, opts Options) (Result, error) {
	return Result{}, ErrEngineUnavailable
}

// Close is a no-op for the stub.
func (t *Tesseract) Close() error {
	return nil
}
