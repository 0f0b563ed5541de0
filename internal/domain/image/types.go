package image

import (
	stderrors "errors"
)

// DefaultOutputFormat is used when a task does not name one.
const DefaultOutputFormat = "image/jpeg"

// Dimensions is a width/height pair in pixels.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both sides are positive.
func (d Dimensions) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

// Pixels returns the pixel count as int64 to avoid overflow on large rasters.
func (d Dimensions) Pixels() int64 {
	return int64(d.Width) * int64(d.Height)
}

// Swap returns the dimensions with width and height exchanged.
func (d Dimensions) Swap() Dimensions {
	return Dimensions{Width: d.Height, Height: d.Width}
}

// ProcessingTask is one unit of work handed to the pipeline.
type ProcessingTask struct {
	ID           string  `json:"id"`
	SourceBytes  []byte  `json:"sourceBytes"`
	Quality      float64 `json:"quality"`
	MaxWidth     int     `json:"maxWidth"`
	OutputFormat string  `json:"outputFormat,omitempty"`

	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// Format returns the requested output MIME type or the default.
func (t ProcessingTask) Format() string {
	if t.OutputFormat == "" {
		return DefaultOutputFormat
	}
	return t.OutputFormat
}

// Clone returns a copy that owns its own byte slice.
func (t ProcessingTask) Clone() ProcessingTask {
	out := t
	if t.SourceBytes != nil {
		out.SourceBytes = append([]byte(nil), t.SourceBytes...)
	}
	return out
}

// ProcessingResult is produced exactly once per task.
type ProcessingResult struct {
	ID                   string     `json:"id"`
	Success              bool       `json:"success"`
	OriginalSize         int64      `json:"originalSize"`
	CompressedSize       int64      `json:"compressedSize"`
	OriginalDimensions   Dimensions `json:"originalDimensions"`
	CompressedDimensions Dimensions `json:"compressedDimensions"`
	CompressedPayload    []byte     `json:"compressedPayload,omitempty"`
	OutputFormat         string     `json:"outputFormat,omitempty"`
	OriginalPreview      string     `json:"originalDataUrl,omitempty"`
	CompressedPreview    string     `json:"compressedDataUrl,omitempty"`
	CompressionRatio     int        `json:"compressionRatio"`
	Error                string     `json:"error,omitempty"`
	ErrorCode            ErrorCode  `json:"errorCode,omitempty"`
	Warnings             []string   `json:"warnings,omitempty"`
}

// ErrorCode classifies a failed result.
type ErrorCode string

const (
	CodeInputTooLarge     ErrorCode = "INPUT_TOO_LARGE"
	CodeDecodeFailure     ErrorCode = "DECODE_FAILURE"
	CodeInvalidDimensions ErrorCode = "INVALID_DIMENSIONS"
	CodeDrawFailure       ErrorCode = "DRAW_FAILURE"
	CodeEncodeFailure     ErrorCode = "ENCODE_FAILURE"
	CodePreviewFailure    ErrorCode = "PREVIEW_FAILURE"
)

var (
	ErrInputTooLarge     = stderrors.New("file too large")
	ErrDecodeFailure     = stderrors.New("cannot decode image")
	ErrInvalidDimensions = stderrors.New("invalid image dimensions")
	ErrDrawFailure       = stderrors.New("image draw failed")
	ErrEncodeFailure     = stderrors.New("image conversion failed")
	ErrPreviewFailure    = stderrors.New("preview generation failed")

	ErrUnsupportedOutputFormat = stderrors.New("unsupported output format")
	ErrPreviewTooLarge         = stderrors.New("preview payload exceeds limit")
)

var codeBySentinel = []struct {
	err  error
	code ErrorCode
}{
	{ErrInputTooLarge, CodeInputTooLarge},
	{ErrDecodeFailure, CodeDecodeFailure},
	{ErrInvalidDimensions, CodeInvalidDimensions},
	{ErrDrawFailure, CodeDrawFailure},
	{ErrEncodeFailure, CodeEncodeFailure},
	{ErrPreviewFailure, CodePreviewFailure},
}

// CodeOf maps an error chain onto the result taxonomy. Unknown errors yield "".
func CodeOf(err error) ErrorCode {
	for _, entry := range codeBySentinel {
		if stderrors.Is(err, entry.err) {
			return entry.code
		}
	}
	return ""
}

// Metrics aggregates processor statistics for observability.
type Metrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	BytesIn   int64 `json:"bytesIn"`
	BytesOut  int64 `json:"bytesOut"`
}
