// Package layout locates a ruled line-item table directly in the receipt
// image, slices it into cells, recognizes each cell independently, and emits
// structured line items plus pixel-space rectangles for the click-to-edit
// overlay.
package layout

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/resibo-ph/resibo/internal/extract"
	"github.com/resibo-ph/resibo/internal/ocr"
	"github.com/resibo-ph/resibo/internal/preprocess"
	"github.com/resibo-ph/resibo/internal/raster"
)

// Grid-detection failures, each scoped to one parse attempt. Existing line
// items are left untouched when these occur.
var (
	// ErrNoGrid means no table-like structure was found at all.
	ErrNoGrid = errors.New("no grid detected")
	// ErrTableTooFaint means rulings were found but too few column or row
	// edges survived projection; guessing a partial grid would be worse
	// than reporting it.
	ErrTableTooFaint = errors.New("table too faint")
)

// Column tags an overlay rectangle with the line-item field it maps to.
type Column string

const (
	ColumnItem       Column = "item"
	ColumnQuantity   Column = "quantity"
	ColumnUnitPrice  Column = "unit_price"
	ColumnLineAmount Column = "line_amount"
)

// columnColors are the overlay render colors, one per field type.
var columnColors = map[Column]string{
	ColumnItem:       "#3b82f6",
	ColumnQuantity:   "#22c55e",
	ColumnUnitPrice:  "#eab308",
	ColumnLineAmount: "#ef4444",
}

// Shape is one clickable overlay rectangle in the unrotated source raster's
// pixel space, back-referencing the line-item row it was sliced from.
type Shape struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Column Column `json:"column"`
	Row    int    `json:"row"`
	Color  string `json:"color"`
}

// Rect returns the shape as an image.Rectangle.
func (s Shape) Rect() image.Rectangle {
	return image.Rect(s.X, s.Y, s.X+s.Width, s.Y+s.Height)
}

// Result is one successful parse: the items and the overlay shapes that were
// regenerated wholesale for this run.
type Result struct {
	Items  []extract.LineItem `json:"items"`
	Shapes []Shape            `json:"shapes"`
	// Table is the detected table region in source pixel coordinates.
	Table image.Rectangle `json:"-"`
}

// Detection tuning. Ratios are fractions of the relevant dimension.
const (
	structureKernelDiv = 30   // kernel length = dimension / this
	minTableWidthFrac  = 0.25 // candidate must span >25% of image width
	minTableHeight     = 15
	columnProjectFrac  = 0.15 // fraction of band pixels that must be ink
	rowProjectFrac     = 0.12
	minColumnEdges     = 3
	minRowEdges        = 2
	minRowHeight       = 18
	maxRows            = 40
)

// Parser slices a detected grid and OCRs each cell with the injected engine.
type Parser struct {
	engine   ocr.Engine
	language string
}

// NewParser creates a table parser using the given recognition engine.
func NewParser(engine ocr.Engine, language string) *Parser {
	return &Parser{engine: engine, language: language}
}

// Parse locates the topmost ruled table in the image and extracts its rows.
// Multi-table receipts are out of scope: the first table wins.
func (p *Parser) Parse(ctx context.Context, src image.Image) (*Result, error) {
	if p.engine == nil || !p.engine.Available() {
		return nil, ocr.ErrEngineUnavailable
	}

	gray := preprocess.Grayscale(src)
	region, err := findTableRegion(gray)
	if err != nil {
		return nil, err
	}

	cropped := cropGray(gray, region)
	cols, rows := projectGridEdges(cropped)
	if len(cols) < minColumnEdges || len(rows) < minRowEdges {
		return nil, ErrTableTooFaint
	}

	return p.sliceAndRecognize(ctx, cropped, region, cols, rows)
}

// findTableRegion detects long horizontal and vertical ink structures, blends
// them, and returns the topmost bounding box large enough to be a table.
func findTableRegion(gray *image.Gray) (image.Rectangle, error) {
	w := gray.Bounds().Dx()
	h := gray.Bounds().Dy()
	if w < 4 || h < 4 {
		return image.Rectangle{}, ErrNoGrid
	}

	// Ink as foreground.
	bin := preprocess.AdaptiveThreshold(gray, 35, 10, preprocess.StatMean, true)

	hKernel := max(w/structureKernelDiv, 10)
	vKernel := max(h/structureKernelDiv, 10)
	horiz := preprocess.DilateRect(preprocess.ErodeRect(bin, hKernel, 1), hKernel, 1)
	vert := preprocess.DilateRect(preprocess.ErodeRect(bin, 1, vKernel), 1, vKernel)

	blend := image.NewGray(bin.Bounds())
	for i := range blend.Pix {
		if horiz.Pix[i] > 127 || vert.Pix[i] > 127 {
			blend.Pix[i] = 255
		}
	}

	boxes := componentBoxes(blend)
	var candidates []image.Rectangle
	for _, b := range boxes {
		if float64(b.Dx()) > minTableWidthFrac*float64(w) && b.Dy() > minTableHeight {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return image.Rectangle{}, ErrNoGrid
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Min.Y != candidates[j].Min.Y {
			return candidates[i].Min.Y < candidates[j].Min.Y
		}
		return candidates[i].Min.X < candidates[j].Min.X
	})
	return candidates[0], nil
}

// componentBoxes labels 8-connected foreground components and returns their
// bounding boxes.
func componentBoxes(mask *image.Gray) []image.Rectangle {
	w := mask.Bounds().Dx()
	h := mask.Bounds().Dy()
	seen := make([]bool, w*h)
	var boxes []image.Rectangle
	var stack []int

	for start := 0; start < w*h; start++ {
		if seen[start] || mask.Pix[(start/w)*mask.Stride+start%w] < 128 {
			continue
		}
		minX, minY, maxX, maxY := start%w, start/w, start%w, start/w
		stack = append(stack[:0], start)
		seen[start] = true
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					xx, yy := x+dx, y+dy
					if xx < 0 || yy < 0 || xx >= w || yy >= h {
						continue
					}
					j := yy*w + xx
					if !seen[j] && mask.Pix[yy*mask.Stride+xx] >= 128 {
						seen[j] = true
						stack = append(stack, j)
					}
				}
			}
		}
		boxes = append(boxes, image.Rect(minX, minY, maxX+1, maxY+1))
	}
	return boxes
}

// projectGridEdges reruns structure detection inside the cropped table and
// projects the masks: a column edge is a vertical band where enough of the
// mask height is ink, a row edge likewise across the width. Adjacent edge
// positions merge into their center.
func projectGridEdges(table *image.Gray) (cols, rows []int) {
	w := table.Bounds().Dx()
	h := table.Bounds().Dy()
	if w < 2 || h < 2 {
		return nil, nil
	}

	bin := preprocess.AdaptiveThreshold(table, 35, 10, preprocess.StatMean, true)
	hKernel := max(w/structureKernelDiv, 5)
	vKernel := max(h/structureKernelDiv, 5)
	horiz := preprocess.DilateRect(preprocess.ErodeRect(bin, hKernel, 1), hKernel, 1)
	vert := preprocess.DilateRect(preprocess.ErodeRect(bin, 1, vKernel), 1, vKernel)

	colHits := make([]bool, w)
	for x := 0; x < w; x++ {
		count := 0
		for y := 0; y < h; y++ {
			if vert.Pix[y*vert.Stride+x] > 127 {
				count++
			}
		}
		colHits[x] = float64(count) >= columnProjectFrac*float64(h)
	}
	rowHits := make([]bool, h)
	for y := 0; y < h; y++ {
		count := 0
		for x := 0; x < w; x++ {
			if horiz.Pix[y*horiz.Stride+x] > 127 {
				count++
			}
		}
		rowHits[y] = float64(count) >= rowProjectFrac*float64(w)
	}

	return mergeRuns(colHits), mergeRuns(rowHits)
}

// mergeRuns collapses each run of consecutive hits to its center position.
func mergeRuns(hits []bool) []int {
	var edges []int
	run := -1
	for i, hit := range hits {
		switch {
		case hit && run < 0:
			run = i
		case !hit && run >= 0:
			edges = append(edges, (run+i-1)/2)
			run = -1
		}
	}
	if run >= 0 {
		edges = append(edges, (run+len(hits)-1)/2)
	}
	return edges
}

// sliceAndRecognize cuts the grid into per-row cells and recognizes each
// independently. The last three column bands are assumed to be Quantity,
// UnitPrice and LineAmount in that order, with everything to their left the
// item description; this is the fixed column order of the receipt formats
// this tool targets, not something detected per table.
func (p *Parser) sliceAndRecognize(ctx context.Context, table *image.Gray, region image.Rectangle, cols, rows []int) (*Result, error) {
	numericStart := len(cols) - 3
	bands := []struct {
		col    Column
		x0, x1 int
	}{
		{ColumnItem, 0, cols[numericStart]},
		{ColumnQuantity, cols[numericStart], cols[numericStart+1]},
		{ColumnUnitPrice, cols[numericStart+1], cols[numericStart+2]},
		{ColumnLineAmount, cols[numericStart+2], table.Bounds().Dx()},
	}

	result := &Result{Table: region}
	for r := 0; r+1 < len(rows); r++ {
		y0, y1 := rows[r], rows[r+1]
		if y1-y0 < minRowHeight {
			continue
		}

		var item extract.LineItem
		var shapes []Shape
		empty := true
		rowIndex := len(result.Items)
		for _, band := range bands {
			if band.x1 <= band.x0 {
				continue
			}
			cell := cropGray(table, image.Rect(band.x0, y0, band.x1, y1))
			text, err := p.recognizeCell(ctx, cell)
			if err != nil {
				return nil, fmt.Errorf("recognizing %s cell: %w", band.col, err)
			}

			switch band.col {
			case ColumnItem:
				item.Item = collapseWhitespace(text)
				if item.Item != "" {
					empty = false
				}
			case ColumnQuantity:
				item.Quantity = extract.FirstNumber(text)
				if item.Quantity != nil {
					empty = false
				}
			case ColumnUnitPrice:
				item.UnitPrice = extract.FirstNumber(text)
				if item.UnitPrice != nil {
					empty = false
				}
			case ColumnLineAmount:
				item.LineAmount = extract.FirstNumber(text)
				if item.LineAmount != nil {
					empty = false
				}
			}

			shapes = append(shapes, Shape{
				X:      region.Min.X + band.x0,
				Y:      region.Min.Y + y0,
				Width:  band.x1 - band.x0,
				Height: y1 - y0,
				Column: band.col,
				Row:    rowIndex,
				Color:  columnColors[band.col],
			})
		}

		if empty {
			continue
		}
		result.Items = append(result.Items, item)
		result.Shapes = append(result.Shapes, shapes...)
		if len(result.Items) >= maxRows {
			break
		}
	}

	return result, nil
}

func (p *Parser) recognizeCell(ctx context.Context, cell *image.Gray) (string, error) {
	png, err := raster.EncodePNG(cell)
	if err != nil {
		return "", err
	}
	res, err := p.engine.Recognize(ctx, png, ocr.Options{
		Language:       p.language,
		SegSingleBlock: true,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func cropGray(g *image.Gray, r image.Rectangle) *image.Gray {
	r = r.Intersect(g.Bounds())
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		src := g.Pix[(r.Min.Y+y)*g.Stride+r.Min.X : (r.Min.Y+y)*g.Stride+r.Min.X+r.Dx()]
		copy(out.Pix[y*out.Stride:y*out.Stride+r.Dx()], src)
	}
	return out
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
