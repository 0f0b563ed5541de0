package image

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	green = color.RGBA{G: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// quadrants returns a 2x2 raster: red top-left, green top-right,
// blue bottom-left, white bottom-right.
func quadrants() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, red)
	img.Set(1, 0, green)
	img.Set(0, 1, blue)
	img.Set(1, 1, white)
	return img
}

// mapPoint maps a point in drawing space onto the surface.
func mapPoint(s *Surface, x, y float64) (float64, float64) {
	m := s.matrix
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

func TestNewSurface_RejectsNonPositive(t *testing.T) {
	_, err := NewSurface(0, 10)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
	_, err = NewSurface(10, -1)
	assert.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestSurface_SaveRestore(t *testing.T) {
	s, err := NewSurface(4, 4)
	require.NoError(t, err)

	s.Save()
	s.Translate(3, 1)
	s.Rotate(math.Pi / 2)
	x, y := mapPoint(s, 1, 0)
	assert.InDelta(t, 3, x, 1e-9)
	assert.InDelta(t, 2, y, 1e-9)

	s.Restore()
	assert.Equal(t, identity, s.matrix)
	s.Restore()
	assert.Equal(t, identity, s.matrix)
}

func TestSurface_DrawImageScales(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			src.Set(x, y, blue)
		}
	}

	s, err := NewSurface(5, 5)
	require.NoError(t, err)
	require.NoError(t, s.DrawImage(src, 0, 0, 5, 5))
	for _, xy := range []int{1, 2, 3} {
		assert.Equal(t, blue, s.Image().RGBAAt(xy, xy))
	}
}

func TestSurface_DrawImageRejectsBadInput(t *testing.T) {
	s, err := NewSurface(2, 2)
	require.NoError(t, err)

	assert.Error(t, s.DrawImage(nil, 0, 0, 2, 2))
	assert.Error(t, s.DrawImage(image.NewRGBA(image.Rectangle{}), 0, 0, 2, 2))
	assert.Error(t, s.DrawImage(quadrants(), 0, 0, 0, 2))
	assert.Error(t, s.DrawImage(quadrants(), 0, 0, math.NaN(), 2))

	s.Scale(0, 1)
	assert.Error(t, s.DrawImage(quadrants(), 0, 0, 2, 2))
}

func TestApplyOrientation_Pixels(t *testing.T) {
	// Expected layout after correction, reading top-left, top-right,
	// bottom-left, bottom-right.
	cases := map[Orientation][4]color.RGBA{
		1: {red, green, blue, white},
		2: {green, red, white, blue},
		3: {white, blue, green, red},
		4: {blue, white, red, green},
		5: {red, blue, green, white},
		6: {blue, red, white, green},
		7: {white, green, blue, red},
		8: {green, white, red, blue},
	}

	for o, want := range cases {
		s, err := NewSurface(2, 2)
		require.NoError(t, err)
		s.SetSmoothing(SmoothingLow)
		ApplyOrientation(s, o, 2, 2)
		require.NoError(t, s.DrawImage(quadrants(), 0, 0, 2, 2))

		got := [4]color.RGBA{
			s.Image().RGBAAt(0, 0),
			s.Image().RGBAAt(1, 0),
			s.Image().RGBAAt(0, 1),
			s.Image().RGBAAt(1, 1),
		}
		assert.Equal(t, want, got, "orientation %d", o)
	}
}

func TestApplyOrientation_QuarterTurnFitsSwappedSurface(t *testing.T) {
	// A 4x2 raw raster drawn onto a 2x4 surface must cover every corner.
	for _, o := range []Orientation{5, 6, 7, 8} {
		s, err := NewSurface(2, 4)
		require.NoError(t, err)
		ApplyOrientation(s, o, 2, 4)

		for _, p := range [][2]float64{{0, 0}, {4, 0}, {0, 2}, {4, 2}} {
			x, y := mapPoint(s, p[0], p[1])
			assert.True(t, x >= -1e-9 && x <= 2+1e-9, "orientation %d x=%v", o, x)
			assert.True(t, y >= -1e-9 && y <= 4+1e-9, "orientation %d y=%v", o, y)
		}
	}
}

func TestParseSmoothing(t *testing.T) {
	assert.Equal(t, SmoothingHigh, ParseSmoothing(""))
	assert.Equal(t, SmoothingMedium, ParseSmoothing("medium"))
	assert.Equal(t, SmoothingLow, ParseSmoothing("low"))
	assert.Equal(t, "high", SmoothingHigh.String())
}
