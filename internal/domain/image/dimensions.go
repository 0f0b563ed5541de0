package image

import "math"

// PlanDimensions computes the target size for a raster of w×h pixels so that
// its longer side does not exceed maxWidth. A non-positive maxWidth, or a
// raster that already fits, is returned unchanged. Landscape and square
// rasters treat the width as the longer side.
func PlanDimensions(w, h, maxWidth int) Dimensions {
	if maxWidth <= 0 || (w <= maxWidth && h <= maxWidth) {
		return Dimensions{Width: w, Height: h}
	}
	if w <= 0 || h <= 0 {
		return Dimensions{Width: w, Height: h}
	}

	if w >= h {
		return Dimensions{
			Width:  maxWidth,
			Height: int(math.Round(float64(h) * float64(maxWidth) / float64(w))),
		}
	}
	return Dimensions{
		Width:  int(math.Round(float64(w) * float64(maxWidth) / float64(h))),
		Height: maxWidth,
	}
}

// CompressionRatio is the percentage saved, positive when the output shrank.
// An empty original yields 0. Halves round toward positive infinity.
func CompressionRatio(originalSize, compressedSize int64) int {
	if originalSize <= 0 {
		return 0
	}
	return int(math.Floor((1-float64(compressedSize)/float64(originalSize))*100 + 0.5))
}
