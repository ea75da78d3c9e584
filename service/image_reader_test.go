package service

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadImagePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot_log.png")
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 7, 3))))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	img, err := ReadImage(path)

	require.NoError(t, err)
	assert.Equal(t, 7, img.Bounds().Dx())
}

func TestReadImageRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken_log.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := ReadImage(path)
	assert.Error(t, err)

	_, err = ReadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestIsHEICFormat(t *testing.T) {
	assert.True(t, isHEICFormat([]byte("\x00\x00\x00\x18ftypheic\x00\x00")))
	assert.False(t, isHEICFormat([]byte("\x89PNG\r\n\x1a\n\x00\x00\x00\x00")))
	assert.False(t, isHEICFormat([]byte("short")))
}

func TestIsImageFile(t *testing.T) {
	assert.True(t, IsImageFile("a_log.HEIC"))
	assert.True(t, IsImageFile("a.jpeg"))
	assert.False(t, IsImageFile("a.pdf"))
}
