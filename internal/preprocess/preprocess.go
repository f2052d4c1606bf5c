// Package preprocess prepares receipt photos for OCR: binarization, contrast
// and illumination normalization, denoising and deskew, tuned for small or
// handwritten print. Every routine returns a new raster and leaves its input
// untouched, so callers can keep the original alongside the processed copy.
package preprocess

import (
	"fmt"
	"image"
	"strings"

	"github.com/resibo-ph/resibo/internal/raster"
)

// Level selects how aggressive the pipeline is.
type Level int

const (
	// Basic is grayscale plus a global Otsu threshold. Fast, works for
	// clean high-contrast scans.
	Basic Level = iota
	// Strong adds histogram equalization, tile-wise local contrast,
	// median denoising, deskew, sharpening and an adaptive mean threshold.
	Strong
	// Ultra upscales first, flattens uneven illumination, and switches
	// the adaptive threshold to a Gaussian-weighted local statistic.
	Ultra
)

// ParseLevel maps a user-facing preset name to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return Basic, nil
	case "strong":
		return Strong, nil
	case "ultra":
		return Ultra, nil
	default:
		return Basic, fmt.Errorf("unknown preprocess level %q", s)
	}
}

func (l Level) String() string {
	switch l {
	case Strong:
		return "strong"
	case Ultra:
		return "ultra"
	default:
		return "basic"
	}
}

// Preset is the full preprocessing configuration for one run. It is chosen
// per run, not stored per file; only the rotation persists with the file.
type Preset struct {
	Level           Level
	SmallPrintBoost bool
}

// Tuning shared by Strong and Ultra.
const (
	claheClipLimit     = 2.0
	claheTiles         = 8
	adaptiveBlock      = 35
	adaptiveOffset     = 10
	backgroundKernel   = 21
	upscaleFactor      = 1.6
	upscaleFactorBoost = 2.0
)

// UpscaleFactor reports the deterministic output scale of the preset.
func (p Preset) UpscaleFactor() float64 {
	if p.Level != Ultra {
		return 1.0
	}
	if p.SmallPrintBoost {
		return upscaleFactorBoost
	}
	return upscaleFactor
}

// Run executes the preset's transform sequence on src and returns a new
// binarized raster. A stored rotation is applied before anything else so
// thresholding sees the upright image.
func Run(src image.Image, preset Preset, rotationDeg int) (*image.Gray, error) {
	if src == nil {
		return nil, fmt.Errorf("nil source image")
	}
	if rotationDeg != 0 {
		src = raster.Rotate(src, rotationDeg)
	}

	gray := Grayscale(src)

	if preset.Level == Basic {
		return OtsuThreshold(gray), nil
	}

	if preset.Level == Ultra {
		gray = Upscale(gray, preset.UpscaleFactor())
		gray = FlattenBackground(gray, backgroundKernel)
	}

	gray = EqualizeHist(gray)
	gray = CLAHE(gray, claheClipLimit, claheTiles)
	gray = Median3(gray)

	if angle := EstimateSkew(gray); angle != 0 {
		gray = RotateByAngle(gray, -angle)
	}

	gray = UnsharpMask(gray)

	stat := StatMean
	if preset.Level == Ultra {
		stat = StatGaussian
	}
	bin := AdaptiveThreshold(gray, adaptiveBlock, adaptiveOffset, stat, false)

	if preset.Level == Ultra {
		// Best effort: a receipt without detectable rulings comes back
		// unchanged.
		bin = RemoveRuledLines(bin)
	}

	return bin, nil
}
