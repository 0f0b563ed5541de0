package image

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateSettings(t *testing.T) {
	assert.NoError(t, ValidateSettings(Settings{Quality: 0.8, MaxWidth: 1920}))
	assert.NoError(t, ValidateSettings(Settings{Quality: 0.1, MaxWidth: 0, OutputFormat: "image/png"}))
	assert.NoError(t, ValidateSettings(Settings{Quality: 1, MaxWidth: 5000}))

	assert.Error(t, ValidateSettings(Settings{Quality: 0.05}))
	assert.Error(t, ValidateSettings(Settings{Quality: 1.2}))
	assert.Error(t, ValidateSettings(Settings{Quality: 0.5, MaxWidth: -1}))
	assert.Error(t, ValidateSettings(Settings{Quality: 0.5, MaxWidth: 5001}))
	assert.ErrorIs(t, ValidateSettings(Settings{Quality: 0.5, OutputFormat: "image/webp"}), ErrUnsupportedOutputFormat)
}

func TestValidator_Accepts(t *testing.T) {
	v := NewValidator(ValidatorOptions{})
	for _, m := range []string{"image/jpeg", "image/jpg", "IMAGE/PNG", "image/webp", "image/avif"} {
		assert.True(t, v.Accepts(m), m)
	}
	for _, m := range []string{"image/gif", "image/svg+xml", "application/pdf", ""} {
		assert.False(t, v.Accepts(m), m)
	}
}

func TestValidator_Inspect(t *testing.T) {
	v := NewValidator(ValidatorOptions{MaxFileSize: 1 << 20, DeepScan: true})
	png := encodePNG(t, gradient(6, 3))

	ins := v.Inspect("", png)
	assert.True(t, ins.Accepted)
	assert.Equal(t, "image/png", ins.MIMEType)
	assert.Equal(t, "png", ins.Format)
	assert.Equal(t, Dimensions{6, 3}, ins.Dimensions)

	ins = v.Inspect("text/plain", []byte("hello"))
	assert.False(t, ins.Accepted)
	assert.Contains(t, ins.Reason, "unsupported type")

	ins = v.Inspect("image/png", nil)
	assert.False(t, ins.Accepted)

	ins = v.Inspect("image/png", []byte{0x50, 0x4B, 0x03, 0x04, 0, 0})
	assert.False(t, ins.Accepted)
	assert.Equal(t, "potential malicious content detected", ins.Reason)

	small := NewValidator(ValidatorOptions{MaxFileSize: 10})
	ins = small.Inspect("image/png", png)
	assert.False(t, ins.Accepted)
	assert.Contains(t, ins.Reason, "exceeds limit")
}

func TestValidator_InspectKeepsUndecodableAcceptedTypes(t *testing.T) {
	v := NewValidator(ValidatorOptions{})
	ins := v.Inspect("image/jpeg", []byte{0xFF, 0xD8, 0x00, 0x01})
	assert.True(t, ins.Accepted)
	assert.Empty(t, ins.Format)
}
