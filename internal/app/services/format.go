package services

import (
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"imgshrink/internal/domain/image"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize renders a byte count with up to two decimals, e.g. "1.5 KB".
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizeUnits) {
		i = len(sizeUnits) - 1
	}
	v := float64(bytes) / math.Pow(1024, float64(i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizeUnits[i]
}

var extensionByMIME = map[string]string{
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/avif": "avif",
	"image/gif":  "gif",
	"image/bmp":  "bmp",
	"image/tiff": "tiff",
}

// ExtensionForMIME suggests a file extension; unknown types map to "jpg".
func ExtensionForMIME(mimeType string) string {
	if ext, ok := extensionByMIME[strings.ToLower(strings.TrimSpace(mimeType))]; ok {
		return ext
	}
	return "jpg"
}

// ProgressPercent returns round(current/total*100), or 0 for an empty batch.
func ProgressPercent(current, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(total) * 100))
}

// ExportName is compressed_<name> with the extension matched to the output
// format.
func ExportName(name, outputFormat string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "image"
	}
	ext := ExtensionForMIME(image.NormalizeMIME(outputFormat))
	current := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	if current != ext && !(ext == "jpg" && current == "jpeg") {
		base = strings.TrimSuffix(base, filepath.Ext(base)) + "." + ext
	}
	return "compressed_" + base
}
