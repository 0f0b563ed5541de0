package image

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"imgshrink/internal/utils"
)

// Settings is the per-batch compression configuration chosen by the user.
type Settings struct {
	Quality      float64 `json:"quality" yaml:"quality"`
	MaxWidth     int     `json:"maxWidth" yaml:"max_width"`
	OutputFormat string  `json:"outputFormat" yaml:"output_format"`
}

const (
	MinQuality      = 0.1
	MaxQuality      = 1.0
	MaxWidthLimit   = 5000
	DefaultMaxBytes = 50 * 1024 * 1024
)

// AcceptedMIMETypes lists the input types the shell turns into tasks.
var AcceptedMIMETypes = []string{
	"image/jpeg",
	"image/jpg",
	"image/png",
	"image/webp",
	"image/avif",
}

// Inspection describes an input file as seen by the validator.
type Inspection struct {
	MIMEType   string
	Format     string
	Dimensions Dimensions
	Accepted   bool
	Reason     string
}

// Validator screens inputs before they become tasks.
type Validator struct {
	maxFileSize int64
	accepted    map[string]struct{}
	deepScan    bool
	logger      *utils.Logger
}

// ValidatorOptions configures a Validator.
type ValidatorOptions struct {
	MaxFileSize   int64
	AcceptedTypes []string
	DeepScan      bool
	Logger        *utils.Logger
}

// NewValidator constructs a validator; empty options fall back to defaults.
func NewValidator(opts ValidatorOptions) *Validator {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxBytes
	}
	types := opts.AcceptedTypes
	if len(types) == 0 {
		types = AcceptedMIMETypes
	}
	accepted := make(map[string]struct{}, len(types))
	for _, t := range types {
		accepted[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return &Validator{
		maxFileSize: opts.MaxFileSize,
		accepted:    accepted,
		deepScan:    opts.DeepScan,
		logger:      opts.Logger,
	}
}

// Accepts reports whether a declared MIME type may become a task.
func (v *Validator) Accepts(mimeType string) bool {
	m := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	_, ok := v.accepted[m]
	return ok
}

// ResolveMIME returns the declared type, or sniffs the bytes when none was
// declared.
func (v *Validator) ResolveMIME(declared string, data []byte) string {
	if strings.TrimSpace(declared) != "" {
		return strings.ToLower(strings.TrimSpace(declared))
	}
	return SniffMIME(data)
}

// Inspect classifies a file. Oversized files, unaccepted types and
// suspicious payloads are marked as not accepted; decoding problems are left
// to the processor.
func (v *Validator) Inspect(declared string, data []byte) Inspection {
	ins := Inspection{MIMEType: v.ResolveMIME(declared, data)}

	switch {
	case len(data) == 0:
		ins.Reason = "empty file"
		return ins
	case !v.Accepts(ins.MIMEType):
		ins.Reason = fmt.Sprintf("unsupported type: %s", ins.MIMEType)
		return ins
	case int64(len(data)) > v.maxFileSize:
		ins.Reason = fmt.Sprintf("file size exceeds limit: %d bytes (max %d bytes)", len(data), v.maxFileSize)
		v.logger.Warn("detected oversized image: size=%d max_size=%d type=%s", len(data), v.maxFileSize, ins.MIMEType)
		return ins
	}

	if v.deepScan && v.scanForMaliciousContent(data) {
		ins.Reason = "potential malicious content detected"
		return ins
	}

	if !v.validateFileSignature(data, ins.MIMEType) {
		v.logger.Warn("file signature mismatch: declared=%s header=%x", ins.MIMEType, data[:min(len(data), 16)])
	}

	if cfg, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		ins.Format = format
		ins.Dimensions = Dimensions{Width: cfg.Width, Height: cfg.Height}
	}
	ins.Accepted = true
	return ins
}

// ValidateSettings checks the user-facing knobs.
func ValidateSettings(s Settings) error {
	if s.Quality < MinQuality || s.Quality > MaxQuality {
		return fmt.Errorf("quality must be between %.1f and %.1f, got %v", MinQuality, MaxQuality, s.Quality)
	}
	if s.MaxWidth < 0 || s.MaxWidth > MaxWidthLimit {
		return fmt.Errorf("max width must be between 0 and %d, got %d", MaxWidthLimit, s.MaxWidth)
	}
	if s.OutputFormat != "" && !CanEncode(s.OutputFormat) {
		return fmt.Errorf("%w: %s", ErrUnsupportedOutputFormat, s.OutputFormat)
	}
	return nil
}

var imageSignatures = map[string][]byte{
	"image/jpeg": {0xFF, 0xD8},
	"image/jpg":  {0xFF, 0xD8},
	"image/png":  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	"image/gif":  {0x47, 0x49, 0x46, 0x38},
	"image/webp": {0x52, 0x49, 0x46, 0x46},
	"image/bmp":  {0x42, 0x4D},
}

func (v *Validator) validateFileSignature(data []byte, mimeType string) bool {
	signature, ok := imageSignatures[mimeType]
	if !ok {
		return true
	}
	return bytes.HasPrefix(data, signature)
}

func (v *Validator) scanForMaliciousContent(data []byte) bool {
	suspicious := [][]byte{
		{0x4D, 0x5A},             // PE executable
		{0x25, 0x50, 0x44, 0x46}, // PDF
		{0x50, 0x4B, 0x03, 0x04}, // zip
		{0x1F, 0x8B, 0x08},       // gzip
	}
	for _, signature := range suspicious {
		if bytes.HasPrefix(data, signature) {
			v.logger.Warn("detected non-image signature: signature_hex=%x", signature)
			return true
		}
	}

	head := data[:min(len(data), 4096)]
	if bytes.Contains(bytes.ToLower(head), []byte("<svg")) {
		return v.checkSVGScripts(strings.ToLower(string(data)))
	}
	return false
}

func (v *Validator) checkSVGScripts(lower string) bool {
	for _, token := range []string{"<script", "javascript:", "onload=", "onerror=", "<iframe", "<object", "<embed"} {
		if strings.Contains(lower, token) {
			v.logger.Warn("detected suspicious SVG content: token=%s", token)
			return true
		}
	}
	return false
}
