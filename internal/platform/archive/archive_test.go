package archive

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readZip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = string(body)
	}
	return out
}

func TestArchiveAssets(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "compressed_a.jpg", Data: []byte("aaa")},
		{Filename: "compressed_b.png", Data: []byte("bbb")},
	})
	require.NoError(t, err)

	files := readZip(t, data)
	assert.Equal(t, map[string]string{
		"compressed_a.jpg": "aaa",
		"compressed_b.png": "bbb",
	}, files)
}

func TestArchiveDuplicateAndUnsafeNames(t *testing.T) {
	data, err := ArchiveAssets([]Asset{
		{Filename: "x.jpg", Data: []byte("1")},
		{Filename: "x.jpg", Data: []byte("2")},
		{Filename: "../../etc/passwd", Data: []byte("3")},
	})
	require.NoError(t, err)

	files := readZip(t, data)
	assert.Equal(t, "1", files["x.jpg"])
	assert.Equal(t, "2", files["x (2).jpg"])
	assert.Equal(t, "3", files["etc/passwd"])
}

func TestArchiveEmpty(t *testing.T) {
	data, err := ArchiveAssets(nil)
	require.NoError(t, err)
	assert.Empty(t, readZip(t, data))
}

func TestName(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	assert.Equal(t, "compressed_images_1700000000123.zip", Name(ts))
}
