package image

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"strings"
	"sync"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Bitmap is a decoded raster. Close releases it and runs at most once.
type Bitmap struct {
	img     image.Image
	format  string
	once    sync.Once
	release func()
}

// NewBitmap wraps img. release, when non-nil, runs on the first Close.
func NewBitmap(img image.Image, format string, release func()) *Bitmap {
	return &Bitmap{img: img, format: format, release: release}
}

// Image returns the raster, or nil once closed.
func (b *Bitmap) Image() image.Image { return b.img }

// Format is the name reported by the decoder ("jpeg", "png", ...).
func (b *Bitmap) Format() string { return b.format }

// Size returns the raster dimensions.
func (b *Bitmap) Size() Dimensions {
	if b.img == nil {
		return Dimensions{}
	}
	r := b.img.Bounds()
	return Dimensions{Width: r.Dx(), Height: r.Dy()}
}

func (b *Bitmap) Close() {
	b.once.Do(func() {
		if b.release != nil {
			b.release()
		}
		b.img = nil
	})
}

// Decoder turns encoded bytes into a Bitmap.
type Decoder interface {
	Decode(ctx context.Context, data []byte) (*Bitmap, error)
}

// Encoder writes a raster in the given MIME type.
type Encoder interface {
	Encode(w io.Writer, img image.Image, mimeType string, quality float64) error
}

// StdDecoder decodes every format registered with the image package:
// JPEG, PNG, GIF, WebP, BMP and TIFF.
type StdDecoder struct{}

func (StdDecoder) Decode(ctx context.Context, data []byte) (*Bitmap, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return NewBitmap(img, format, nil), nil
}

// StdEncoder encodes JPEG, PNG, GIF, BMP and TIFF. Quality only affects JPEG.
type StdEncoder struct{}

func (StdEncoder) Encode(w io.Writer, img image.Image, mimeType string, quality float64) error {
	switch NormalizeMIME(mimeType) {
	case "image/jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality(quality)})
	case "image/png":
		return png.Encode(w, img)
	case "image/gif":
		return gif.Encode(w, img, nil)
	case "image/bmp":
		return bmp.Encode(w, img)
	case "image/tiff":
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOutputFormat, mimeType)
	}
}

// CanEncode reports whether StdEncoder supports mimeType.
func CanEncode(mimeType string) bool {
	switch NormalizeMIME(mimeType) {
	case "image/jpeg", "image/png", "image/gif", "image/bmp", "image/tiff":
		return true
	}
	return false
}

// JPEGQuality converts a (0,1] quality factor into the encoder's 1..100 scale.
func JPEGQuality(q float64) int {
	v := int(math.Round(q * 100))
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

// NormalizeMIME lowercases a MIME type, strips parameters and folds the
// image/jpg alias.
func NormalizeMIME(mimeType string) string {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	if m == "image/jpg" || m == "image/pjpeg" {
		return "image/jpeg"
	}
	return m
}
