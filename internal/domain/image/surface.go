package image

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Smoothing selects the resampling kernel used by DrawImage.
type Smoothing int

const (
	SmoothingHigh Smoothing = iota
	SmoothingMedium
	SmoothingLow
)

// ParseSmoothing maps a config value onto a Smoothing, defaulting to high.
func ParseSmoothing(v string) Smoothing {
	switch v {
	case "medium":
		return SmoothingMedium
	case "low":
		return SmoothingLow
	default:
		return SmoothingHigh
	}
}

func (q Smoothing) String() string {
	switch q {
	case SmoothingMedium:
		return "medium"
	case SmoothingLow:
		return "low"
	default:
		return "high"
	}
}

func (q Smoothing) interpolator() draw.Transformer {
	switch q {
	case SmoothingMedium:
		return draw.ApproxBiLinear
	case SmoothingLow:
		return draw.NearestNeighbor
	default:
		return draw.CatmullRom
	}
}

var identity = f64.Aff3{1, 0, 0, 0, 1, 0}

// Surface is an off-screen RGBA drawing target carrying a 2D affine
// transform. Transform operations post-multiply the current matrix, so the
// last one issued is applied to drawn coordinates first.
type Surface struct {
	dst       *image.RGBA
	matrix    f64.Aff3
	saved     []f64.Aff3
	smoothing Smoothing
}

// NewSurface allocates a transparent width×height surface.
func NewSurface(width, height int) (*Surface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("surface size %dx%d: %w", width, height, ErrInvalidDimensions)
	}
	return &Surface{
		dst:    image.NewRGBA(image.Rect(0, 0, width, height)),
		matrix: identity,
	}, nil
}

func (s *Surface) Width() int  { return s.dst.Bounds().Dx() }
func (s *Surface) Height() int { return s.dst.Bounds().Dy() }

// Size returns the surface dimensions.
func (s *Surface) Size() Dimensions {
	return Dimensions{Width: s.Width(), Height: s.Height()}
}

// Image exposes the backing raster.
func (s *Surface) Image() *image.RGBA { return s.dst }

func (s *Surface) SetSmoothing(q Smoothing) { s.smoothing = q }

// Save pushes the current transform.
func (s *Surface) Save() {
	s.saved = append(s.saved, s.matrix)
}

// Restore pops the last saved transform. It is a no-op on an empty stack.
func (s *Surface) Restore() {
	if len(s.saved) == 0 {
		return
	}
	s.matrix = s.saved[len(s.saved)-1]
	s.saved = s.saved[:len(s.saved)-1]
}

func (s *Surface) Translate(tx, ty float64) {
	s.matrix = multiply(s.matrix, f64.Aff3{1, 0, tx, 0, 1, ty})
}

func (s *Surface) Scale(sx, sy float64) {
	s.matrix = multiply(s.matrix, f64.Aff3{sx, 0, 0, 0, sy, 0})
}

// Rotate turns subsequent drawing by theta radians, clockwise in screen space.
func (s *Surface) Rotate(theta float64) {
	sin, cos := math.Sincos(theta)
	sin, cos = snap(sin), snap(cos)
	s.matrix = multiply(s.matrix, f64.Aff3{cos, -sin, 0, sin, cos, 0})
}

// DrawImage renders src into the rectangle (dx, dy, dw, dh) of drawing space
// under the current transform. Panics raised by the resampler are returned
// as errors.
func (s *Surface) DrawImage(src image.Image, dx, dy, dw, dh float64) (err error) {
	if src == nil {
		return fmt.Errorf("draw: nil source")
	}
	sr := src.Bounds()
	if sr.Empty() {
		return fmt.Errorf("draw: empty source bounds %v", sr)
	}
	if !(dw > 0) || !(dh > 0) || math.IsInf(dw, 0) || math.IsInf(dh, 0) {
		return fmt.Errorf("draw: invalid target size %vx%v", dw, dh)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("draw: %v", r)
		}
	}()

	s2d := multiply(s.matrix, f64.Aff3{1, 0, dx, 0, 1, dy})
	s2d = multiply(s2d, f64.Aff3{dw / float64(sr.Dx()), 0, 0, 0, dh / float64(sr.Dy()), 0})
	s2d = multiply(s2d, f64.Aff3{1, 0, -float64(sr.Min.X), 0, 1, -float64(sr.Min.Y)})

	det := s2d[0]*s2d[4] - s2d[1]*s2d[3]
	if det == 0 || math.IsNaN(det) {
		return fmt.Errorf("draw: singular transform")
	}

	s.smoothing.interpolator().Transform(s.dst, s2d, src, sr, draw.Over, nil)
	return nil
}

// multiply returns a·b treating both as 3x3 matrices with an implicit last
// row of (0, 0, 1).
func multiply(a, b f64.Aff3) f64.Aff3 {
	return f64.Aff3{
		a[0]*b[0] + a[1]*b[3],
		a[0]*b[1] + a[1]*b[4],
		a[0]*b[2] + a[1]*b[5] + a[2],
		a[3]*b[0] + a[4]*b[3],
		a[3]*b[1] + a[4]*b[4],
		a[3]*b[2] + a[4]*b[5] + a[5],
	}
}

// snap removes floating point residue around the quarter-turn values.
func snap(v float64) float64 {
	const eps = 1e-12
	switch {
	case math.Abs(v) < eps:
		return 0
	case math.Abs(v-1) < eps:
		return 1
	case math.Abs(v+1) < eps:
		return -1
	}
	return v
}
