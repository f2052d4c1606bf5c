package preprocess

import (
	"image"
	"math"
	"sort"
)

// Canny-style hysteresis thresholds and the Hough accumulator vote floor.
const (
	edgeLowThreshold  = 50
	edgeHighThreshold = 150
	houghVoteFloor    = 150
)

// EstimateSkew estimates the document's tilt in degrees. Edges are detected
// with gradient hysteresis, straight lines with a Hough transform, and the
// result is the median of each line's signed deviation from horizontal; the
// median resists the occasional stray diagonal stroke. No detected lines
// means zero skew.
func EstimateSkew(g *image.Gray) float64 {
	edges := detectEdges(g)
	angles := houghLineAngles(edges)
	if len(angles) == 0 {
		return 0
	}
	sort.Float64s(angles)
	return angles[len(angles)/2]
}

// detectEdges computes a Sobel gradient magnitude map and applies double
// thresholding with hysteresis: weak edges survive only when connected to a
// strong one.
func detectEdges(g *image.Gray) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	mag := make([]int, w*h)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			px := func(dx, dy int) int { return int(g.Pix[(y+dy)*g.Stride+x+dx]) }
			gx := -px(-1, -1) - 2*px(-1, 0) - px(-1, 1) +
				px(1, -1) + 2*px(1, 0) + px(1, 1)
			gy := -px(-1, -1) - 2*px(0, -1) - px(1, -1) +
				px(-1, 1) + 2*px(0, 1) + px(1, 1)
			mag[y*w+x] = int(math.Hypot(float64(gx), float64(gy)))
		}
	}

	edges := image.NewGray(b)
	var stack []int
	for i, m := range mag {
		if m >= edgeHighThreshold {
			edges.Pix[i] = 255
			stack = append(stack, i)
		}
	}
	// Grow strong edges into connected weak ones.
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		x, y := i%w, i/w
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				xx, yy := x+dx, y+dy
				if xx < 0 || yy < 0 || xx >= w || yy >= h {
					continue
				}
				j := yy*w + xx
				if edges.Pix[j] == 0 && mag[j] >= edgeLowThreshold {
					edges.Pix[j] = 255
					stack = append(stack, j)
				}
			}
		}
	}
	return edges
}

// houghLineAngles runs a standard (rho, theta) Hough transform over the edge
// map and returns, for every accumulator cell clearing the vote floor, the
// line's deviation from horizontal in degrees, folded into (-90, 90].
func houghLineAngles(edges *image.Gray) []float64 {
	b := edges.Bounds()
	w, h := b.Dx(), b.Dy()
	diag := int(math.Ceil(math.Hypot(float64(w), float64(h))))

	const thetaSteps = 180
	sin := make([]float64, thetaSteps)
	cos := make([]float64, thetaSteps)
	for t := 0; t < thetaSteps; t++ {
		rad := float64(t) * math.Pi / thetaSteps
		sin[t] = math.Sin(rad)
		cos[t] = math.Cos(rad)
	}

	acc := make([]int, thetaSteps*(2*diag+1))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if edges.Pix[y*edges.Stride+x] == 0 {
				continue
			}
			for t := 0; t < thetaSteps; t++ {
				rho := int(math.Round(float64(x)*cos[t]+float64(y)*sin[t])) + diag
				acc[t*(2*diag+1)+rho]++
			}
		}
	}

	var angles []float64
	for t := 0; t < thetaSteps; t++ {
		row := acc[t*(2*diag+1) : (t+1)*(2*diag+1)]
		for _, votes := range row {
			if votes < houghVoteFloor {
				continue
			}
			// theta is the line normal; the line itself runs at
			// theta-90, so this is the deviation from horizontal.
			deg := float64(t) - 90
			if deg > 90 {
				deg -= 180
			} else if deg <= -90 {
				deg += 180
			}
			angles = append(angles, deg)
		}
	}
	return angles
}

// RotateByAngle rotates about the image center by the given degrees with
// bilinear sampling. Out-of-range samples replicate the nearest edge pixel
// rather than filling with black, which would otherwise read as spurious ink
// to the thresholding step.
func RotateByAngle(g *image.Gray, degrees float64) *image.Gray {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	out := image.NewGray(b)

	rad := degrees * math.Pi / 180
	sin, cos := math.Sin(rad), math.Cos(rad)
	cx, cy := float64(w-1)/2, float64(h-1)/2

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			// Inverse mapping into the source.
			dx, dy := float64(x)-cx, float64(y)-cy
			sx := cos*dx + sin*dy + cx
			sy := -sin*dx + cos*dy + cy
			out.Pix[y*out.Stride+x] = sampleBilinearReplicate(g, sx, sy)
		}
	}
	return out
}

func sampleBilinearReplicate(g *image.Gray, x, y float64) uint8 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	x0 := int(math.Floor(x))
	y0 := int(math.Floor(y))
	fx := x - float64(x0)
	fy := y - float64(y0)

	at := func(xx, yy int) float64 {
		return float64(g.Pix[clampInt(yy, 0, h-1)*g.Stride+clampInt(xx, 0, w-1)])
	}
	top := at(x0, y0)*(1-fx) + at(x0+1, y0)*fx
	bot := at(x0, y0+1)*(1-fx) + at(x0+1, y0+1)*fx
	return uint8(math.Round(top*(1-fy) + bot*fy))
}
