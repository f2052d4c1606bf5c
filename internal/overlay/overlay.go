// Package overlay maps pointer clicks on the displayed image back to the
// structured field editor that owns the clicked table cell.
package overlay

import (
	"image"

	"github.com/resibo-ph/resibo/internal/layout"
)

// Click is a pointer position in display coordinates, together with the
// rendered size of the image on screen.
type Click struct {
	X, Y               float64
	DisplayW, DisplayH float64
}

// Hit identifies the line-item field a click resolved to.
type Hit struct {
	Column layout.Column `json:"column"`
	Row    int           `json:"row"`
}

// Map translates a display-space click into the unrotated raster's pixel
// space and returns the first overlay shape containing it. The boolean is
// false when the click lands outside every shape, which is a no-op for the
// caller, not an error.
//
// rasterW and rasterH are the unrotated raster dimensions; rotation is the
// file's stored display rotation in degrees (0/90/180/270). Shapes are
// stored unrotated, so the click is scaled into the rotated frame first and
// then the inverse rotation is applied as a coordinate swap/flip.
func Map(c Click, rasterW, rasterH, rotation int, shapes []layout.Shape) (Hit, bool) {
	if c.DisplayW <= 0 || c.DisplayH <= 0 {
		return Hit{}, false
	}

	// Displayed dimensions follow the rotated raster.
	rotW, rotH := rasterW, rasterH
	if rotation == 90 || rotation == 270 {
		rotW, rotH = rasterH, rasterW
	}
	x := c.X * float64(rotW) / c.DisplayW
	y := c.Y * float64(rotH) / c.DisplayH

	px, py := invertRotation(x, y, rasterW, rasterH, rotation)
	point := image.Pt(int(px), int(py))

	for _, s := range shapes {
		if point.In(s.Rect()) {
			return Hit{Column: s.Column, Row: s.Row}, true
		}
	}
	return Hit{}, false
}

// invertRotation undoes a clockwise rotation of the given degrees, taking a
// point in the rotated frame back to the unrotated raster. W and H are the
// unrotated dimensions.
func invertRotation(x, y float64, w, h, rotation int) (float64, float64) {
	switch rotation {
	case 90:
		return y, float64(h) - x
	case 180:
		return float64(w) - x, float64(h) - y
	case 270:
		return float64(w) - y, x
	default:
		return x, y
	}
}

// ClampRow bounds a hit's recorded row index to the current table size.
// Rows can disappear between a parse and a click when the reviewer deletes
// them; clamping to the last row beats failing.
func ClampRow(row, rowCount int) int {
	if rowCount <= 0 {
		return 0
	}
	if row >= rowCount {
		return rowCount - 1
	}
	if row < 0 {
		return 0
	}
	return row
}
