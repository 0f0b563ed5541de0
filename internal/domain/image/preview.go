package image

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// PreviewPolicy decides what a preview failure does to the task.
type PreviewPolicy string

const (
	// PreviewStrict fails the whole task when a preview cannot be built.
	PreviewStrict PreviewPolicy = "strict"
	// PreviewBestEffort keeps the result, drops the previews and records a warning.
	PreviewBestEffort PreviewPolicy = "best_effort"
)

// PreviewOptions controls data URL generation.
type PreviewOptions struct {
	Enabled  bool
	Policy   PreviewPolicy
	MaxBytes int64 // 0 means unlimited
}

// DefaultPreviewOptions mirrors the browser behaviour: previews on, strict.
func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{Enabled: true, Policy: PreviewStrict}
}

// DataURL renders data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	var sb strings.Builder
	sb.Grow(len("data:;base64,") + len(mimeType) + base64.StdEncoding.EncodedLen(len(data)))
	sb.WriteString("data:")
	sb.WriteString(mimeType)
	sb.WriteString(";base64,")
	sb.WriteString(base64.StdEncoding.EncodeToString(data))
	return sb.String()
}

// BuildPreview returns a data URL for data or ErrPreviewTooLarge when it
// exceeds maxBytes.
func BuildPreview(mimeType string, data []byte, maxBytes int64) (string, error) {
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d > %d bytes", ErrPreviewTooLarge, len(data), maxBytes)
	}
	if mimeType == "" {
		mimeType = SniffMIME(data)
	}
	return DataURL(mimeType, data), nil
}

// SniffMIME detects the content type of data from its leading bytes.
func SniffMIME(data []byte) string {
	return NormalizeMIME(mimetype.Detect(data).String())
}
