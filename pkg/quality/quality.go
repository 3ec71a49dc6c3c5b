// Package quality scores page images on sharpness, contrast, brightness
// and resolution. The overall score feeds classification and intake
// decisions.
package quality

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Weights of the individual metrics in the overall score.
const (
	weightSharpness  = 0.30
	weightContrast   = 0.25
	weightBrightness = 0.20
	weightResolution = 0.25

	// referenceEdge is the shorter page edge, in pixels, treated as full
	// resolution.
	referenceEdge = 1000.0

	// laplacianReference scales mean absolute Laplacian response to [0,1].
	laplacianReference = 24.0
)

// Report breaks a page's quality down by metric. All values are in [0,1].
type Report struct {
	Sharpness  float64 `json:"sharpness"`
	Contrast   float64 `json:"contrast"`
	Brightness float64 `json:"brightness"`
	Resolution float64 `json:"resolution"`
	Overall    float64 `json:"overall"`
}

// Score measures one page image.
func Score(img image.Image) Report {
	if img == nil {
		return Report{}
	}

	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return Report{}
	}

	lum := make([][]float64, h)
	var sum float64
	for y := 0; y < h; y++ {
		lum[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			v := float64(gray.Pix[gray.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)])
			lum[y][x] = v
			sum += v
		}
	}
	mean := sum / float64(w*h)

	var variance float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			d := lum[y][x] - mean
			variance += d * d
		}
	}
	stddev := math.Sqrt(variance / float64(w*h))

	report := Report{
		Sharpness:  clamp01(meanLaplacian(lum, w, h) / laplacianReference),
		Contrast:   clamp01(stddev / 128.0),
		Brightness: clamp01(1 - math.Abs(mean/255.0-0.5)*2),
		Resolution: clamp01(math.Min(float64(w), float64(h)) / referenceEdge),
	}
	report.Overall = weightSharpness*report.Sharpness +
		weightContrast*report.Contrast +
		weightBrightness*report.Brightness +
		weightResolution*report.Resolution
	return report
}

// meanLaplacian is the mean absolute response of the 4-neighbour
// Laplacian, a standard focus measure.
func meanLaplacian(lum [][]float64, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	var sum float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			response := 4*lum[y][x] - lum[y-1][x] - lum[y+1][x] - lum[y][x-1] - lum[y][x+1]
			sum += math.Abs(response)
		}
	}
	return sum / float64((w-2)*(h-2))
}

func clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}
