// Package ocr defines the text-recognition capability the pipeline consumes
// and its engine implementations. Engines may be absent at runtime (no
// tesseract on the host, no API key); callers check Available once at startup
// and treat an unavailable engine as a non-fatal condition.
package ocr

import (
	"context"
	"errors"
)

// ErrEngineUnavailable is returned when recognition is requested but no
// working engine is present. The pipeline surfaces this as a status message
// and carries on; it never aborts a session.
var ErrEngineUnavailable = errors.New("OCR engine unavailable")

// LowConfidenceThreshold is the 0-100 score below which a result gets a
// manual-review advisory. The advisory never blocks extraction or saving.
const LowConfidenceThreshold = 80.0

// Word is a single recognized token with its confidence.
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Result is one recognition run over one raster.
type Result struct {
	// Text is the recognized text, newline-delimited.
	Text string `json:"text"`
	// Confidence is on a 0-100 scale.
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

// LowConfidence reports whether the result should carry a review advisory.
func (r Result) LowConfidence() bool {
	return r.Confidence < LowConfidenceThreshold
}

// Options tune a single recognition call.
type Options struct {
	// Language is a tesseract language code, "+"-separated for multiple
	// (e.g. "eng+fil").
	Language string
	// SegSingleBlock hints the engine to treat the image as one uniform
	// block of text: right for whole receipts and isolated table cells.
	// When false a permissive sparse-text mode is used.
	SegSingleBlock bool
	// PreserveSpaces keeps inter-word spacing, which the line-item
	// heuristics rely on to separate columns.
	PreserveSpaces bool
}

// Engine is the recognition capability injected into the pipeline.
type Engine interface {
	// Available reports whether the engine can actually recognize text.
	// Checked once at startup and surfaced in the UI.
	Available() bool
	// Recognize runs OCR over PNG-encoded image data.
	Recognize(ctx context.Context, png []byte, opts Options) (Result, error)
	// Close releases engine resources.
	Close() error
}
