//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract wraps a local Tesseract engine via gosseract. Requires Tesseract
// to be installed on the system and the "ocr" build tag; without the tag a
// stub that reports unavailable is compiled instead.
//
// The underlying client is not reentrant, so calls are serialized. This fits
// the pipeline, which processes files one at a time anyway.
type Tesseract struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewTesseract creates the local engine.
func NewTesseract() (*Tesseract, error) {
	return &Tesseract{client: gosseract.NewClient()}, nil
}

// Available reports true; the engine was compiled in.
func (t *Tesseract) Available() bool {
	return t != nil && t.client != nil
}

// Recognize runs OCR over PNG-encoded image data.
func (t *Tesseract) Recognize(ctx context.Context, png []byte, opts Options) (Result, error) {
	if !t.Available() {
		return Result{}, ErrEngineUnavailable
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	lang := opts.Language
	if lang == "" {
		lang = "eng"
	}
	if err := t.client.SetLanguage(strings.Split(lang, "+")...); err != nil {
		return Result{}, fmt.Errorf("setting language: %w", err)
	}

	psm := gosseract.PSM_SPARSE_TEXT
	if opts.SegSingleBlock {
		psm = gosseract.PSM_SINGLE_BLOCK
	}
	if err := t.client.SetPageSegMode(psm); err != nil {
		return Result{}, fmt.Errorf("setting page segmentation mode: %w", err)
	}

	spaces := "0"
	if opts.PreserveSpaces {
		spaces = "1"
	}
	if err := t.client.SetVariable("preserve_interword_spaces", spaces); err != nil {
		return Result{}, fmt.Errorf("setting tesseract variable: %w", err)
	}

	if err := t.client.SetImageFromBytes(png); err != nil {
		return Result{}, fmt.Errorf("setting image: %w", err)
	}

	text, err := t.client.Text()
	if err != nil {
		return Result{}, fmt.Errorf("tesseract OCR failed: %w", err)
	}

	result := Result{Text: strings.TrimSpace(text)}

	// Word-level confidences; overall confidence is their mean. A raster
	// with no recognizable words scores zero, which correctly trips the
	// review advisory.
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err == nil {
		var sum float64
		for _, box := range boxes {
			word := strings.TrimSpace(box.Word)
			if word == "" {
				continue
			}
			result.Words = append(result.Words, Word{Text: word, Confidence: box.Confidence})
			sum += box.Confidence
		}
		if len(result.Words) > 0 {
			result.Confidence = sum / float64(len(result.Words))
		}
	}

	return result, nil
}

// Close releases the tesseract client.
func (t *Tesseract) Close() error {
	if t == nil || t.client == nil {
		return nil
	}
	return t.client.Close()
}
