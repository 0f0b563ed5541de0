package testing

import (
	"bytes"
	stdimage "image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"imgshrink/internal/platform/config"
	"imgshrink/internal/utils"
)

// SetupTestConfig returns the default configuration rooted in a temp dir.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Server.IP = "127.0.0.1"
	cfg.Server.StaticDir = ""
	cfg.Log.Level = "DEBUG"
	cfg.Log.Dir = filepath.Join(dir, "logs")
	cfg.Database.Path = filepath.Join(dir, "test.db")
	cfg.Watch.Inbox = filepath.Join(dir, "inbox")
	cfg.Watch.Outbox = filepath.Join(dir, "outbox")
	return cfg
}

// SetupTestLogger returns a logger that only prints when the test runs verbose.
func SetupTestLogger(t *testing.T) *utils.Logger {
	t.Helper()
	var w io.Writer = io.Discard
	if testing.Verbose() {
		w = os.Stdout
	}
	return utils.NewWriterLogger(w, "debug")
}

// PNGBytes encodes an opaque w x h gradient.
func PNGBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := stdimage.NewRGBA(stdimage.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 60, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// WritePNG writes PNGBytes to path.
func WritePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	if err := os.WriteFile(path, PNGBytes(t, w, h), 0o644); err != nil {
		t.Fatalf("write png: %v", err)
	}
}
