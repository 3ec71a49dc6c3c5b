// Package layout segments a rasterized page into typed regions, detects
// table candidates from line structure, and estimates text orientation.
package layout

import (
	"context"
	"image"
	"math"
	"sort"

	"github.com/disintegration/imaging"

	"github.com/ufindi/docintel/internal/models"
	"github.com/ufindi/docintel/pkg/logger"
	"github.com/ufindi/docintel/pkg/ocr"
)

const (
	// minRegionAreaRatio filters out specks below 0.1% of the page.
	minRegionAreaRatio = 0.001

	// minLineLength is the shortest pixel run treated as a ruled line.
	minLineLength = 40

	// Minimum table candidate dimensions.
	minTableWidth  = 50
	minTableHeight = 20

	// orientationTolerance is the snap window around each axis, degrees.
	orientationTolerance = 10.0
)

// Analyzer performs per-page layout analysis. The OCR engine is optional;
// without one, region text density falls back to the dark-pixel ratio.
type Analyzer struct {
	logger logger.Logger
	ocr    ocr.Engine
}

func NewAnalyzer(log logger.Logger, engine ocr.Engine) *Analyzer {
	return &Analyzer{logger: log, ocr: engine}
}

// Analyze segments one page. It degrades gracefully: any failure yields an
// empty region and table list with the reason recorded on the result.
func (a *Analyzer) Analyze(ctx context.Context, page image.Image, docType models.DocumentType) *models.LayoutResult {
	result := &models.LayoutResult{
		Regions:     []models.Region{},
		Tables:      []models.TableRegion{},
		Orientation: "horizontal",
	}
	if page == nil {
		result.Error = "no page image"
		return result
	}

	mask := darkMask(page)
	if len(mask) == 0 || len(mask[0]) == 0 {
		result.Error = "empty page image"
		return result
	}
	height, width := len(mask), len(mask[0])
	result.Width = width
	result.Height = height

	hRuns := horizontalRuns(mask, minLineLength)
	vRuns := verticalRuns(mask, minLineLength)

	boxes := segmentBlocks(mask)
	minArea := float64(width*height) * minRegionAreaRatio
	for _, b := range boxes {
		w, h := b[2]-b[0], b[3]-b[1]
		area := float64(w * h)
		if area < minArea {
			continue
		}

		textDensity := a.regionTextDensity(ctx, page, mask, b)
		lineDensity := regionLineDensity(hRuns, vRuns, b)

		aspect := 0.0
		if h > 0 {
			aspect = float64(w) / float64(h)
		}
		result.Regions = append(result.Regions, models.Region{
			Type:        classifyRegion(textDensity, lineDensity),
			BBox:        b,
			Area:        area,
			AspectRatio: aspect,
		})
	}

	result.Tables = detectTables(hRuns, vRuns)
	result.Orientation = detectOrientation(hRuns, vRuns)

	a.logger.Info("Layout analysis complete",
		logger.String("documentType", string(docType)),
		logger.Int("regions", len(result.Regions)),
		logger.Int("tables", len(result.Tables)),
		logger.String("orientation", result.Orientation),
	)

	return result
}

// classifyRegion is the typing decision tree over text density and line
// density: dense text with few lines is text, dense text with many lines
// is a table, sparse text with many lines is a separator, the rest is
// treated as an image.
func classifyRegion(textDensity, lineDensity float64) string {
	switch {
	case textDensity > 0.01 && lineDensity > 5:
		return "table"
	case textDensity > 0.01:
		return "text"
	case lineDensity > 10:
		return "separator"
	default:
		return "image"
	}
}

// regionTextDensity estimates how much text a region holds, per pixel.
// With an OCR engine the recognized character count is used; otherwise,
// or when recognition fails, the dark-pixel ratio stands in.
func (a *Analyzer) regionTextDensity(ctx context.Context, page image.Image, mask [][]bool, b [4]int) float64 {
	area := float64((b[2] - b[0]) * (b[3] - b[1]))
	if area <= 0 {
		return 0
	}

	if a.ocr != nil {
		crop := imaging.Crop(page, image.Rect(b[0], b[1], b[2], b[3]))
		text, err := a.ocr.Recognize(ctx, crop)
		if err == nil {
			return float64(len(text)) / area
		}
		a.logger.Warn("Region OCR failed, falling back to pixel density", logger.Error(err))
	}

	dark := 0
	for y := b[1]; y < b[3]; y++ {
		for x := b[0]; x < b[2]; x++ {
			if mask[y][x] {
				dark++
			}
		}
	}
	return float64(dark) / area
}

// regionLineDensity counts ruled-line segments inside a region,
// normalized per 10k pixels.
func regionLineDensity(hRuns, vRuns []run, b [4]int) float64 {
	area := float64((b[2] - b[0]) * (b[3] - b[1]))
	if area <= 0 {
		return 0
	}
	count := 0
	for _, r := range hRuns {
		if r.pos >= b[1] && r.pos < b[3] && r.start < b[2] && r.end > b[0] {
			count++
		}
	}
	for _, r := range vRuns {
		if r.pos >= b[0] && r.pos < b[2] && r.start < b[3] && r.end > b[1] {
			count++
		}
	}
	return float64(count) / area * 10000
}

// run is a maximal stretch of dark pixels along one axis. For horizontal
// runs pos is the row and start/end are columns; for vertical runs pos is
// the column and start/end are rows.
type run struct {
	pos   int
	start int
	end   int
}

// darkMask binarizes the page with a global threshold relative to the
// mean luminance.
func darkMask(img image.Image) [][]bool {
	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil
	}

	var sum uint64
	lum := make([][]uint8, h)
	for y := 0; y < h; y++ {
		lum[y] = make([]uint8, w)
		for x := 0; x < w; x++ {
			i := gray.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			v := gray.Pix[i]
			lum[y][x] = v
			sum += uint64(v)
		}
	}
	threshold := uint8(float64(sum) / float64(w*h) * 0.8)

	mask := make([][]bool, h)
	for y := 0; y < h; y++ {
		mask[y] = make([]bool, w)
		for x := 0; x < w; x++ {
			mask[y][x] = lum[y][x] < threshold
		}
	}
	return mask
}

func horizontalRuns(mask [][]bool, minLen int) []run {
	var runs []run
	for y, row := range mask {
		start := -1
		for x := 0; x <= len(row); x++ {
			dark := x < len(row) && row[x]
			if dark && start < 0 {
				start = x
			}
			if !dark && start >= 0 {
				if x-start >= minLen {
					runs = append(runs, run{pos: y, start: start, end: x})
				}
				start = -1
			}
		}
	}
	return runs
}

func verticalRuns(mask [][]bool, minLen int) []run {
	if len(mask) == 0 {
		return nil
	}
	var runs []run
	h, w := len(mask), len(mask[0])
	for x := 0; x < w; x++ {
		start := -1
		for y := 0; y <= h; y++ {
			dark := y < h && mask[y][x]
			if dark && start < 0 {
				start = y
			}
			if !dark && start >= 0 {
				if y-start >= minLen {
					runs = append(runs, run{pos: x, start: start, end: y})
				}
				start = -1
			}
		}
	}
	return runs
}

// segmentBlocks splits the page into content blocks with a two-pass
// projection cut: horizontal bands first, then vertical blocks within
// each band.
func segmentBlocks(mask [][]bool) [][4]int {
	h := len(mask)
	if h == 0 {
		return nil
	}
	w := len(mask[0])

	rowDark := make([]int, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask[y][x] {
				rowDark[y]++
			}
		}
	}

	var boxes [][4]int
	const rowGap = 3
	bandStart, gap := -1, 0
	flush := func(end int) {
		if bandStart < 0 {
			return
		}
		for _, seg := range splitBandColumns(mask, bandStart, end, w) {
			boxes = append(boxes, seg)
		}
		bandStart = -1
	}
	for y := 0; y < h; y++ {
		active := float64(rowDark[y])/float64(w) > 0.005
		if active {
			if bandStart < 0 {
				bandStart = y
			}
			gap = 0
			continue
		}
		if bandStart >= 0 {
			gap++
			if gap > rowGap {
				flush(y - gap + 1)
			}
		}
	}
	flush(h)

	return boxes
}

func splitBandColumns(mask [][]bool, y0, y1, w int) [][4]int {
	colDark := make([]int, w)
	for y := y0; y < y1; y++ {
		for x := 0; x < w; x++ {
			if mask[y][x] {
				colDark[x]++
			}
		}
	}

	var boxes [][4]int
	const colGap = 12
	height := y1 - y0
	blockStart, gap := -1, 0
	flush := func(end int) {
		if blockStart >= 0 {
			boxes = append(boxes, [4]int{blockStart, y0, end, y1})
			blockStart = -1
		}
	}
	for x := 0; x < w; x++ {
		active := float64(colDark[x])/float64(height) > 0.005
		if active {
			if blockStart < 0 {
				blockStart = x
			}
			gap = 0
			continue
		}
		if blockStart >= 0 {
			gap++
			if gap > colGap {
				flush(x - gap + 1)
			}
		}
	}
	flush(w)

	return boxes
}

// detectTables derives table candidates from line morphology: bounding
// boxes where horizontal and vertical ruled lines intersect.
func detectTables(hRuns, vRuns []run) []models.TableRegion {
	tables := []models.TableRegion{}

	// Group horizontal lines that are crossed by at least one vertical line.
	type box struct{ x0, y0, x1, y1 int }
	var current *box
	sorted := make([]run, len(hRuns))
	copy(sorted, hRuns)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].pos < sorted[j].pos })

	crossed := func(r run) bool {
		for _, v := range vRuns {
			if v.pos >= r.start && v.pos < r.end && v.start <= r.pos && v.end > r.pos {
				return true
			}
		}
		return false
	}

	flush := func() {
		if current == nil {
			return
		}
		w, h := current.x1-current.x0, current.y1-current.y0
		if w > minTableWidth && h > minTableHeight {
			tables = append(tables, models.TableRegion{
				BBox:       [4]int{current.x0, current.y0, current.x1, current.y1},
				CellCount:  1,
				Confidence: 0.8,
			})
		}
		current = nil
	}

	const lineGap = 60
	for _, r := range sorted {
		if !crossed(r) {
			continue
		}
		if current != nil && r.pos-current.y1 <= lineGap {
			if r.start < current.x0 {
				current.x0 = r.start
			}
			if r.end > current.x1 {
				current.x1 = r.end
			}
			current.y1 = r.pos + 1
			continue
		}
		flush()
		current = &box{x0: r.start, y0: r.pos, x1: r.end, y1: r.pos + 1}
	}
	flush()

	return tables
}

// detectOrientation takes the median angle of detected line segments and
// snaps it to the nearest axis within tolerance, defaulting to horizontal.
func detectOrientation(hRuns, vRuns []run) string {
	var angles []float64
	for range hRuns {
		angles = append(angles, 0)
	}
	for range vRuns {
		angles = append(angles, 90)
	}
	if len(angles) == 0 {
		return "horizontal"
	}

	sort.Float64s(angles)
	median := angles[len(angles)/2]

	if math.Abs(median) < orientationTolerance {
		return "horizontal"
	}
	if math.Abs(median-90) < orientationTolerance {
		return "vertical"
	}
	return "horizontal"
}

// Features turns a layout result into the numeric feature vector used by
// correction memory for similarity retrieval.
func Features(l *models.LayoutResult) map[string]float64 {
	features := map[string]float64{
		"total_regions": 0,
		"text_regions":  0,
		"table_regions": 0,
		"image_regions": 0,
	}
	if l == nil {
		return features
	}

	var areaSum, aspectSum float64
	for _, r := range l.Regions {
		features["total_regions"]++
		switch r.Type {
		case "text":
			features["text_regions"]++
		case "table":
			features["table_regions"]++
		case "image":
			features["image_regions"]++
		}
		areaSum += r.Area
		aspectSum += r.AspectRatio
	}
	if n := float64(len(l.Regions)); n > 0 {
		features["avg_region_area"] = areaSum / n
		features["avg_aspect_ratio"] = aspectSum / n
	} else {
		features["avg_region_area"] = 0
		features["avg_aspect_ratio"] = 0
	}
	return features
}
