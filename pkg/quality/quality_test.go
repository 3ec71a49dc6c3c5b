package quality

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func flatImage(size int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestScoreFlatGray(t *testing.T) {
	r := Score(flatImage(100, color.Gray{Y: 128}))

	assert.Equal(t, 0.0, r.Sharpness, "flat image has no edges")
	assert.Equal(t, 0.0, r.Contrast)
	assert.InDelta(t, 1.0, r.Brightness, 0.01, "mid-gray is ideal brightness")
	assert.InDelta(t, 0.1, r.Resolution, 1e-9)
}

func TestScoreBlackIsDark(t *testing.T) {
	r := Score(flatImage(100, color.Black))
	assert.InDelta(t, 0.0, r.Brightness, 1e-9)
}

func TestCheckerboardScoresSharp(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			if (x+y)%2 == 0 {
				img.Set(x, y, color.Black)
			} else {
				img.Set(x, y, color.White)
			}
		}
	}

	r := Score(img)
	assert.Equal(t, 1.0, r.Sharpness)
	assert.Greater(t, r.Contrast, 0.9)
	assert.Greater(t, r.Overall, Score(flatImage(100, color.Gray{Y: 128})).Overall)
}

func TestScoreNil(t *testing.T) {
	assert.Equal(t, Report{}, Score(nil))
}

func TestOverallInRange(t *testing.T) {
	r := Score(flatImage(2000, color.Gray{Y: 200}))
	assert.GreaterOrEqual(t, r.Overall, 0.0)
	assert.LessOrEqual(t, r.Overall, 1.0)
	assert.Equal(t, 1.0, r.Resolution)
}
