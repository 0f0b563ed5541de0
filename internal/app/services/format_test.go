package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFileSize(t *testing.T) {
	cases := map[int64]string{
		0:                      "0 Bytes",
		123:                    "123 Bytes",
		1024:                   "1 KB",
		1536:                   "1.5 KB",
		1048576:                "1 MB",
		1234567:                "1.18 MB",
		5 * 1024 * 1024 * 1024: "5 GB",
	}
	for in, want := range cases {
		assert.Equal(t, want, FormatFileSize(in), "bytes=%d", in)
	}
}

func TestExtensionForMIME(t *testing.T) {
	assert.Equal(t, "jpg", ExtensionForMIME("image/jpeg"))
	assert.Equal(t, "jpg", ExtensionForMIME("image/jpg"))
	assert.Equal(t, "png", ExtensionForMIME("IMAGE/PNG"))
	assert.Equal(t, "webp", ExtensionForMIME("image/webp"))
	assert.Equal(t, "avif", ExtensionForMIME("image/avif"))
	assert.Equal(t, "jpg", ExtensionForMIME("application/octet-stream"))
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 0, ProgressPercent(0, 0))
	assert.Equal(t, 33, ProgressPercent(1, 3))
	assert.Equal(t, 67, ProgressPercent(2, 3))
	assert.Equal(t, 100, ProgressPercent(4, 4))
}

func TestExportName(t *testing.T) {
	assert.Equal(t, "compressed_photo.jpg", ExportName("photo.png", "image/jpeg"))
	assert.Equal(t, "compressed_a.jpeg", ExportName("a.jpeg", "image/jpeg"))
	assert.Equal(t, "compressed_pic.png", ExportName("pic.jpg", "image/png"))
	assert.Equal(t, "compressed_noext.png", ExportName("noext", "image/png"))
	assert.Equal(t, "compressed_x.jpg", ExportName("dir/sub/x.jpg", "image/jpeg"))
	assert.Equal(t, "compressed_image.jpg", ExportName("", ""))
}
