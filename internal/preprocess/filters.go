package preprocess

import (
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
)

// Stat selects the local statistic used by AdaptiveThreshold.
type Stat int

const (
	// StatMean thresholds against the arithmetic mean of the block.
	StatMean Stat = iota
	// StatGaussian thresholds against a Gaussian-weighted mean, which
	// preserves finer edges on small print.
	StatGaussian
)

// Grayscale converts any raster to 8-bit grayscale.
func Grayscale(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		b := g.Bounds()
		out := image.NewGray(b)
		// Row-by-row: a SubImage's stride spans the parent raster.
		for y := b.Min.Y; y < b.Max.Y; y++ {
			row := g.Pix[g.PixOffset(b.Min.X, y):g.PixOffset(b.Max.X, y)]
			copy(out.Pix[out.PixOffset(b.Min.X, y):], row)
		}
		return out
	}
	b := src.Bounds()
	out := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), src, b.Min, draw.Src)
	return out
}

// OtsuThreshold binarizes with a global threshold found by maximizing
// between-class variance over the bimodal histogram.
func OtsuThreshold(g *image.Gray) *image.Gray {
	var hist [256]int
	for _, p := range g.Pix {
		hist[p]++
	}
	total := len(g.Pix)

	var sum float64
	for i, c := range hist {
		sum += float64(i) * float64(c)
	}

	var sumB, wB float64
	var best float64
	threshold := 127
	for t := 0; t < 256; t++ {
		wB += float64(hist[t])
		if wB == 0 {
			continue
		}
		wF := float64(total) - wB
		if wF == 0 {
			break
		}
		sumB += float64(t) * float64(hist[t])
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = t
		}
	}

	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		if int(p) > threshold {
			out.Pix[i] = 255
		}
	}
	return out
}

// EqualizeHist spreads the grayscale histogram across the full range.
func EqualizeHist(g *image.Gray) *image.Gray {
	var hist [256]int
	for _, p := range g.Pix {
		hist[p]++
	}
	total := len(g.Pix)
	if total == 0 {
		return image.NewGray(g.Bounds())
	}

	var lut [256]uint8
	cum := 0
	for i := 0; i < 256; i++ {
		cum += hist[i]
		lut[i] = uint8(math.Round(float64(cum) * 255 / float64(total)))
	}

	out := image.NewGray(g.Bounds())
	for i, p := range g.Pix {
		out.Pix[i] = lut[p]
	}
	return out
}

// CLAHE applies contrast-limited adaptive histogram equalization over a
// tiles×tiles grid, interpolating bilinearly between neighboring tile
// mappings to avoid visible tile seams.
func CLAHE(g *image.Gray, clipLimit float64, tiles int) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 || tiles < 1 {
		return Grayscale(g)
	}

	tileW := (w + tiles - 1) / tiles
	tileH := (h + tiles - 1) / tiles

	// Per-tile clipped CDF lookup tables.
	luts := make([][][256]uint8, tiles)
	for ty := 0; ty < tiles; ty++ {
		luts[ty] = make([][256]uint8, tiles)
		for tx := 0; tx < tiles; tx++ {
			x0, y0 := tx*tileW, ty*tileH
			x1, y1 := min(x0+tileW, w), min(y0+tileH, h)
			luts[ty][tx] = tileLUT(g, x0, y0, x1, y1, clipLimit)
		}
	}

	out := image.NewGray(b)
	for y := 0; y < h; y++ {
		// Tile-center relative position for interpolation.
		fy := (float64(y)-float64(tileH)/2 + 0.5) / float64(tileH)
		ty0 := int(math.Floor(fy))
		wy := fy - float64(ty0)
		ty1 := clampInt(ty0+1, 0, tiles-1)
		ty0 = clampInt(ty0, 0, tiles-1)

		for x := 0; x < w; x++ {
			fx := (float64(x)-float64(tileW)/2 + 0.5) / float64(tileW)
			tx0 := int(math.Floor(fx))
			wx := fx - float64(tx0)
			tx1 := clampInt(tx0+1, 0, tiles-1)
			tx0 = clampInt(tx0, 0, tiles-1)

			p := g.Pix[g.PixOffset(b.Min.X+x, b.Min.Y+y)]
			v00 := float64(luts[ty0][tx0][p])
			v01 := float64(luts[ty0][tx1][p])
			v10 := float64(luts[ty1][tx0][p])
			v11 := float64(luts[ty1][tx1][p])
			top := v00*(1-wx) + v01*wx
			bot := v10*(1-wx) + v11*wx
			out.Pix[y*out.Stride+x] = uint8(math.Round(top*(1-wy) + bot*wy))
		}
	}
	return out
}

// tileLUT builds one tile's equalization table with histogram clipping; the
// clipped excess is redistributed uniformly.
func tileLUT(g *image.Gray, x0, y0, x1, y1 int, clipLimit float64) [256]uint8 {
	var hist [256]int
	count := 0
	for y := y0; y < y1; y++ {
		row := g.Pix[y*g.Stride+x0 : y*g.Stride+x1]
		for _, p := range row {
			hist[p]++
		}
		count += x1 - x0
	}

	var lut [256]uint8
	if count == 0 {
		for i := range lut {
			lut[i] = uint8(i)
		}
		return lut
	}

	limit := int(clipLimit * float64(count) / 256)
	if limit < 1 {
		limit = 1
	}
	excess := 0
	for i := range hist {
		if hist[i] > limit {
			excess += hist[i] - limit
			hist[i] = limit
		}
	}
	share := excess / 256
	for i := range hist {
		hist[i] += share
	}

	cum := 0
	for i := 0; i < 256; i++ {
		cum += hist[i]
		lut[i] = uint8(math.Round(float64(cum) * 255 / float64(count)))
	}
	return lut
}

// Median3 applies a 3x3 median filter, the standard salt-and-pepper denoise
// before thresholding.
func Median3(g *image.Gray) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	var window [9]uint8
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			n := 0
			for dy := -1; dy <= 1; dy++ {
				yy := clampInt(y+dy, 0, h-1)
				for dx := -1; dx <= 1; dx++ {
					xx := clampInt(x+dx, 0, w-1)
					window[n] = g.Pix[yy*g.Stride+xx]
					n++
				}
			}
			out.Pix[y*out.Stride+x] = median9(window)
		}
	}
	return out
}

func median9(w [9]uint8) uint8 {
	// Insertion sort; 9 elements.
	for i := 1; i < 9; i++ {
		v := w[i]
		j := i - 1
		for j >= 0 && w[j] > v {
			w[j+1] = w[j]
			j--
		}
		w[j+1] = v
	}
	return w[4]
}

// AdaptiveThreshold binarizes against a per-pixel local statistic computed
// over a block×block neighborhood, minus offset. With invert set, ink becomes
// foreground (white), which is what the table-structure morphology expects.
func AdaptiveThreshold(g *image.Gray, block, offset int, stat Stat, invert bool) *image.Gray {
	if block%2 == 0 {
		block++
	}
	var local []float64
	if stat == StatGaussian {
		local = gaussianLocalMean(g, block)
	} else {
		local = boxLocalMean(g, block)
	}

	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			p := float64(g.Pix[y*g.Stride+x])
			above := p > local[y*w+x]-float64(offset)
			if above != invert {
				out.Pix[y*out.Stride+x] = 255
			}
		}
	}
	return out
}

// boxLocalMean computes per-pixel block means from an integral image.
func boxLocalMean(g *image.Gray, block int) []float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	r := block / 2

	integral := make([]uint64, (w+1)*(h+1))
	for y := 0; y < h; y++ {
		var rowSum uint64
		for x := 0; x < w; x++ {
			rowSum += uint64(g.Pix[y*g.Stride+x])
			integral[(y+1)*(w+1)+x+1] = integral[y*(w+1)+x+1] + rowSum
		}
	}

	means := make([]float64, w*h)
	for y := 0; y < h; y++ {
		y0, y1 := clampInt(y-r, 0, h-1), clampInt(y+r, 0, h-1)
		for x := 0; x < w; x++ {
			x0, x1 := clampInt(x-r, 0, w-1), clampInt(x+r, 0, w-1)
			sum := integral[(y1+1)*(w+1)+x1+1] - integral[y0*(w+1)+x1+1] -
				integral[(y1+1)*(w+1)+x0] + integral[y0*(w+1)+x0]
			area := (y1 - y0 + 1) * (x1 - x0 + 1)
			means[y*w+x] = float64(sum) / float64(area)
		}
	}
	return means
}

// gaussianLocalMean computes a Gaussian-weighted local mean via two separable
// passes. Sigma follows the usual kernel-size heuristic.
func gaussianLocalMean(g *image.Gray, block int) []float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	r := block / 2
	sigma := 0.3*(float64(block-1)*0.5-1) + 0.8

	kernel := make([]float64, 2*r+1)
	var ksum float64
	for i := -r; i <= r; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+r] = v
		ksum += v
	}
	for i := range kernel {
		kernel[i] /= ksum
	}

	tmp := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i := -r; i <= r; i++ {
				xx := clampInt(x+i, 0, w-1)
				acc += kernel[i+r] * float64(g.Pix[y*g.Stride+xx])
			}
			tmp[y*w+x] = acc
		}
	}
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			for i := -r; i <= r; i++ {
				yy := clampInt(y+i, 0, h-1)
				acc += kernel[i+r] * tmp[yy*w+x]
			}
			out[y*w+x] = acc
		}
	}
	return out
}

// ErodeRect applies a flat rectangular minimum filter of kw×kh.
func ErodeRect(g *image.Gray, kw, kh int) *image.Gray {
	return rectFilter(g, kw, kh, true)
}

// DilateRect applies a flat rectangular maximum filter of kw×kh.
func DilateRect(g *image.Gray, kw, kh int) *image.Gray {
	return rectFilter(g, kw, kh, false)
}

// rectFilter runs separable sliding min/max passes, horizontal then vertical.
func rectFilter(g *image.Gray, kw, kh int, erode bool) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if kw < 1 {
		kw = 1
	}
	if kh < 1 {
		kh = 1
	}
	rx, ry := kw/2, kh/2

	pick := func(a, b uint8) uint8 {
		if erode == (a < b) {
			return a
		}
		return b
	}

	tmp := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := g.Pix[y*g.Stride+clampInt(x-rx, 0, w-1)]
			for i := -rx + 1; i <= rx; i++ {
				v = pick(v, g.Pix[y*g.Stride+clampInt(x+i, 0, w-1)])
			}
			tmp.Pix[y*tmp.Stride+x] = v
		}
	}
	out := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := tmp.Pix[clampInt(y-ry, 0, h-1)*tmp.Stride+x]
			for i := -ry + 1; i <= ry; i++ {
				v = pick(v, tmp.Pix[clampInt(y+i, 0, h-1)*tmp.Stride+x])
			}
			out.Pix[y*out.Stride+x] = v
		}
	}
	return out
}

// FlattenBackground removes uneven illumination with a white top-hat: opening
// on the ink-bright inverse estimates the background field, which is then
// subtracted.
func FlattenBackground(g *image.Gray, kernel int) *image.Gray {
	b := g.Bounds()
	inv := image.NewGray(b)
	for i, p := range g.Pix {
		inv.Pix[i] = 255 - p
	}
	opened := DilateRect(ErodeRect(inv, kernel, kernel), kernel, kernel)
	out := image.NewGray(b)
	for i := range inv.Pix {
		v := int(inv.Pix[i]) - int(opened.Pix[i])
		if v < 0 {
			v = 0
		}
		out.Pix[i] = 255 - uint8(v)
	}
	return out
}

// Upscale resizes by factor with Lanczos resampling; small print gains enough
// stroke width for the OCR engine to latch onto.
func Upscale(g *image.Gray, factor float64) *image.Gray {
	if factor == 1.0 {
		return Grayscale(g)
	}
	b := g.Bounds()
	w := int(math.Round(float64(b.Dx()) * factor))
	h := int(math.Round(float64(b.Dy()) * factor))
	return Grayscale(imaging.Resize(g, w, h, imaging.Lanczos))
}

// UnsharpMask sharpens stroke edges ahead of thresholding.
func UnsharpMask(g *image.Gray) *image.Gray {
	return Grayscale(imaging.Sharpen(g, 1.0))
}

// RemoveRuledLines masks out long horizontal and vertical strokes from a
// black-on-white binarized raster so table gridlines don't confuse the OCR
// engine. Best effort: if no usable structures are found the input is
// returned unchanged.
func RemoveRuledLines(bin *image.Gray) *image.Gray {
	b := bin.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 60 || h < 60 {
		return bin
	}

	// Ink as foreground.
	inv := image.NewGray(b)
	for i, p := range bin.Pix {
		inv.Pix[i] = 255 - p
	}

	hLen := max(w/30, 10)
	vLen := max(h/30, 10)
	horiz := DilateRect(ErodeRect(inv, hLen, 1), hLen, 1)
	vert := DilateRect(ErodeRect(inv, 1, vLen), 1, vLen)

	found := false
	out := image.NewGray(b)
	copy(out.Pix, bin.Pix)
	for i := range out.Pix {
		if horiz.Pix[i] > 127 || vert.Pix[i] > 127 {
			out.Pix[i] = 255
			found = true
		}
	}
	if !found {
		return bin
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
