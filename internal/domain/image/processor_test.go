package image

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingDecoder wraps StdDecoder and counts bitmap releases.
type countingDecoder struct {
	closes int
	panic  bool
}

func (d *countingDecoder) Decode(ctx context.Context, data []byte) (*Bitmap, error) {
	if d.panic {
		panic("decoder exploded")
	}
	b, err := StdDecoder{}.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	return NewBitmap(b.Image(), b.Format(), func() { d.closes++ }), nil
}

type failingEncoder struct{ err error }

func (e failingEncoder) Encode(io.Writer, image.Image, string, float64) error { return e.err }

type fixedSizeEncoder struct{ size int }

func (e fixedSizeEncoder) Encode(w io.Writer, _ image.Image, _ string, _ float64) error {
	_, err := w.Write(bytes.Repeat([]byte{0xAB}, e.size))
	return err
}

func newTestProcessor(opts ProcessorOptions) *Processor {
	if opts.Preview == (PreviewOptions{}) {
		opts.Preview = DefaultPreviewOptions()
	}
	return NewProcessor(opts)
}

func TestProcess_Success(t *testing.T) {
	src := encodePNG(t, gradient(200, 100))
	dec := &countingDecoder{}
	p := newTestProcessor(ProcessorOptions{Decoder: dec})

	res := p.Process(context.Background(), ProcessingTask{
		ID:          "a",
		SourceBytes: src,
		Quality:     0.8,
		MaxWidth:    100,
		MIMEType:    "image/png",
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "a", res.ID)
	assert.Equal(t, int64(len(src)), res.OriginalSize)
	assert.Equal(t, Dimensions{200, 100}, res.OriginalDimensions)
	assert.Equal(t, Dimensions{100, 50}, res.CompressedDimensions)
	assert.Equal(t, int64(len(res.CompressedPayload)), res.CompressedSize)
	assert.Equal(t, "image/jpeg", res.OutputFormat)
	assert.Equal(t, CompressionRatio(res.OriginalSize, res.CompressedSize), res.CompressionRatio)
	assert.True(t, strings.HasPrefix(res.OriginalPreview, "data:image/png;base64,"))
	assert.True(t, strings.HasPrefix(res.CompressedPreview, "data:image/jpeg;base64,"))
	assert.Empty(t, res.Error)
	assert.Equal(t, 1, dec.closes)

	out, _, err := image.Decode(bytes.NewReader(res.CompressedPayload))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), out.Bounds())

	m := p.Metrics()
	assert.Equal(t, int64(1), m.Processed)
	assert.Equal(t, int64(1), m.Succeeded)
}

func TestProcess_RatioUsesEncodedSize(t *testing.T) {
	src := encodePNG(t, gradient(10, 10))
	original := int64(len(src))

	cases := []struct {
		size int
		want int
	}{
		{int(original / 2), CompressionRatio(original, original/2)},
		{int(original), 0},
		{int(original * 3 / 2), CompressionRatio(original, original*3/2)},
	}
	for _, tc := range cases {
		p := newTestProcessor(ProcessorOptions{Encoder: fixedSizeEncoder{size: tc.size}})
		res := p.Process(context.Background(), ProcessingTask{ID: "r", SourceBytes: src, Quality: 0.8})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, int64(tc.size), res.CompressedSize)
		assert.Equal(t, tc.want, res.CompressionRatio)
	}
	assert.Less(t, CompressionRatio(original, original*3/2), 0)
}

func TestProcess_InputTooLarge(t *testing.T) {
	dec := &countingDecoder{}
	p := newTestProcessor(ProcessorOptions{MaxFileSize: 16, Decoder: dec})

	res := p.Process(context.Background(), ProcessingTask{ID: "big", SourceBytes: make([]byte, 17), Quality: 0.8})

	assert.False(t, res.Success)
	assert.Equal(t, CodeInputTooLarge, res.ErrorCode)
	assert.True(t, strings.HasPrefix(res.Error, "file too large"))
	assert.Equal(t, int64(17), res.OriginalSize)
	assert.Zero(t, dec.closes, "nothing was decoded")
}

func TestProcess_DecodeFailure(t *testing.T) {
	p := newTestProcessor(ProcessorOptions{})
	res := p.Process(context.Background(), ProcessingTask{ID: "bad", SourceBytes: []byte("garbage"), Quality: 0.8})

	assert.False(t, res.Success)
	assert.Equal(t, "bad", res.ID)
	assert.Equal(t, CodeDecodeFailure, res.ErrorCode)
	assert.True(t, strings.HasPrefix(res.Error, "cannot decode image"))
	assert.Zero(t, res.CompressedSize)
	assert.Zero(t, res.CompressionRatio)
	assert.Equal(t, Dimensions{}, res.OriginalDimensions)
	assert.Equal(t, Dimensions{}, res.CompressedDimensions)
	assert.Nil(t, res.CompressedPayload)
	assert.Equal(t, int64(1), p.Metrics().Failed)
}

func TestProcess_EncodeFailureReleasesBitmap(t *testing.T) {
	dec := &countingDecoder{}
	p := newTestProcessor(ProcessorOptions{Decoder: dec, Encoder: failingEncoder{err: errors.New("disk on fire")}})

	res := p.Process(context.Background(), ProcessingTask{ID: "e", SourceBytes: encodePNG(t, gradient(4, 4)), Quality: 0.8})

	assert.False(t, res.Success)
	assert.Equal(t, CodeEncodeFailure, res.ErrorCode)
	assert.Equal(t, "image conversion failed: disk on fire", res.Error)
	assert.Equal(t, 1, dec.closes)
}

func TestProcess_UnsupportedOutputFormat(t *testing.T) {
	p := newTestProcessor(ProcessorOptions{})
	res := p.Process(context.Background(), ProcessingTask{
		ID: "w", SourceBytes: encodePNG(t, gradient(4, 4)), Quality: 0.8, OutputFormat: "image/webp",
	})
	assert.False(t, res.Success)
	assert.Equal(t, CodeEncodeFailure, res.ErrorCode)
	assert.Contains(t, res.Error, "unsupported output format")
}

func TestProcess_PanicIsContained(t *testing.T) {
	p := newTestProcessor(ProcessorOptions{Decoder: &countingDecoder{panic: true}})
	var res ProcessingResult
	assert.NotPanics(t, func() {
		res = p.Process(context.Background(), ProcessingTask{ID: "p", SourceBytes: []byte{1}, Quality: 0.8})
	})
	assert.False(t, res.Success)
	assert.Equal(t, CodeDecodeFailure, res.ErrorCode)
	assert.Contains(t, res.Error, "decoder exploded")
}

func TestProcess_PreviewPolicies(t *testing.T) {
	src := encodePNG(t, gradient(64, 64))
	task := ProcessingTask{ID: "pv", SourceBytes: src, Quality: 0.8}

	dec := &countingDecoder{}
	strict := NewProcessor(ProcessorOptions{
		Decoder: dec,
		Preview: PreviewOptions{Enabled: true, Policy: PreviewStrict, MaxBytes: 8},
	})
	res := strict.Process(context.Background(), task)
	assert.False(t, res.Success)
	assert.Equal(t, CodePreviewFailure, res.ErrorCode)
	assert.Nil(t, res.CompressedPayload)
	assert.Equal(t, 1, dec.closes)

	lenient := NewProcessor(ProcessorOptions{
		Preview: PreviewOptions{Enabled: true, Policy: PreviewBestEffort, MaxBytes: 8},
	})
	res = lenient.Process(context.Background(), task)
	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.OriginalPreview)
	assert.Empty(t, res.CompressedPreview)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "preview generation failed")

	disabled := NewProcessor(ProcessorOptions{Preview: PreviewOptions{Enabled: false, MaxBytes: 8}})
	res = disabled.Process(context.Background(), task)
	require.True(t, res.Success, res.Error)
	assert.Empty(t, res.OriginalPreview)
	assert.Empty(t, res.Warnings)
}

func TestProcess_Idempotent(t *testing.T) {
	p := newTestProcessor(ProcessorOptions{})
	task := ProcessingTask{ID: "same", SourceBytes: encodeJPEG(t, gradient(300, 200), 95), Quality: 0.6, MaxWidth: 150}

	first := p.Process(context.Background(), task)
	second := p.Process(context.Background(), task)

	require.True(t, first.Success, first.Error)
	assert.Equal(t, first.CompressedSize, second.CompressedSize)
	assert.Equal(t, first.CompressedDimensions, second.CompressedDimensions)
	assert.Equal(t, first.CompressionRatio, second.CompressionRatio)
	assert.Equal(t, first.CompressedPayload, second.CompressedPayload)
}

func TestProcess_OrientationSwapsAxes(t *testing.T) {
	// Stored portrait 30x40 raster tagged as rotate-90: upright it is 40x30.
	src := withEXIF(encodeJPEG(t, gradient(30, 40), 90), 6)
	require.Equal(t, Orientation(6), ReadOrientation(src))

	p := newTestProcessor(ProcessorOptions{})
	res := p.Process(context.Background(), ProcessingTask{ID: "o", SourceBytes: src, Quality: 0.8, MaxWidth: 20})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, Dimensions{40, 30}, res.OriginalDimensions)
	assert.Equal(t, Dimensions{20, 15}, res.CompressedDimensions)
}

func TestProcess_OrientationSixEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("encodes a 12 megapixel image")
	}

	// Upright 4000x3000, stored as a 3000x4000 raster with orientation 6.
	raster := gradient(3000, 4000)
	src := withEXIF(encodeJPEG(t, raster, 95), 6)

	p := NewProcessor(ProcessorOptions{})
	res := p.Process(context.Background(), ProcessingTask{ID: "e2e", SourceBytes: src, Quality: 0.8, MaxWidth: 2000})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, Dimensions{2000, 1500}, res.CompressedDimensions)
	assert.Less(t, res.CompressedSize, res.OriginalSize)
	assert.Positive(t, res.CompressionRatio)

	// Rotating clockwise moves the raster's left column to the top row, so
	// the upright image's top edge carries the raster's low-red column.
	out, _, err := image.Decode(bytes.NewReader(res.CompressedPayload))
	require.NoError(t, err)
	topR, _, _, _ := out.At(1000, 2).RGBA()
	bottomR, _, _, _ := out.At(1000, 1497).RGBA()
	assert.Less(t, topR, bottomR)
}
