package service

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakePDF treats a file's bytes as its text layer. Files starting with
// "%BROKEN" cannot be opened.
type fakePDF struct {
	qr string

	mu       sync.Mutex
	renders  int
	merged   []string
	imported []string
}

func (f *fakePDF) ExtractText(data []byte) (string, error) {
	if strings.HasPrefix(string(data), "%BROKEN") {
		return "", errors.New("malformed PDF")
	}
	return string(data), nil
}

func (f *fakePDF) RenderPages(data []byte, maxPages int) ([]image.Image, error) {
	if strings.HasPrefix(string(data), "%BROKEN") {
		return nil, errors.New("cannot render")
	}
	f.mu.Lock()
	f.renders++
	f.mu.Unlock()
	return []image.Image{image.NewGray(image.Rect(0, 0, 4, 4))}, nil
}

func (f *fakePDF) DecodeQR(image.Image) (string, error) {
	if f.qr == "" {
		return "", errors.New("no QR code")
	}
	return f.qr, nil
}

func (f *fakePDF) MergeFiles(inFiles []string, outFile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merged = append([]string(nil), inFiles...)
	return os.WriteFile(outFile, []byte("%PDF"), 0o644)
}

func (f *fakePDF) ImportImages(imgFiles []string, outFile string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imported = append([]string(nil), imgFiles...)
	return os.WriteFile(outFile, []byte("%PDF"), 0o644)
}

// fakeOCR returns the same text for every page.
type fakeOCR struct {
	text string
}

func (o fakeOCR) OCRImage(context.Context, image.Image) (string, error) {
	return o.text, nil
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
