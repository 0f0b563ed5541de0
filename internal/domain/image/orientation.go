package image

import "math"

// ApplyOrientation pushes the transforms that make a raw bitmap drawn at
// (0,0) land upright on s. width and height are the surface size, already
// swapped for the quarter-turn orientations.
func ApplyOrientation(s *Surface, o Orientation, width, height float64) {
	switch o {
	case 2:
		s.Translate(width, 0)
		s.Scale(-1, 1)
	case 3:
		s.Translate(width, height)
		s.Rotate(math.Pi)
	case 4:
		s.Translate(0, height)
		s.Scale(1, -1)
	case 5:
		s.Rotate(math.Pi / 2)
		s.Scale(1, -1)
	case 6:
		s.Translate(width, 0)
		s.Rotate(math.Pi / 2)
	case 7:
		s.Translate(width, height)
		s.Rotate(math.Pi / 2)
		s.Scale(-1, 1)
	case 8:
		s.Translate(0, height)
		s.Rotate(-math.Pi / 2)
	}
}

// OrientedSize returns the upright size of a raster stored as d.
func OrientedSize(d Dimensions, o Orientation) Dimensions {
	if o.SwapsAxes() {
		return d.Swap()
	}
	return d
}
