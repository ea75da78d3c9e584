package service

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const renderDPI = 200

type PDFProcessor interface {
	ExtractText(pdfData []byte) (string, error)
	RenderPages(pdfData []byte, maxPages int) ([]image.Image, error)
	DecodeQR(img image.Image) (string, error)
	MergeFiles(inFiles []string, outFile string) error
	ImportImages(imgFiles []string, outFile string) error
}

type pdfProcessor struct{}

func NewPDFProcessor() PDFProcessor {
	return &pdfProcessor{}
}

// ExtractText returns the text layer of every page, row by row.
func (p *pdfProcessor) ExtractText(pdfData []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(pdfData), int64(len(pdfData)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var textBuilder strings.Builder
	totalPage := r.NumPage()

	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := r.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			return "", fmt.Errorf("failed to read page %d: %w", pageIndex, err)
		}
		for _, row := range rows {
			for _, word := range row.Content {
				textBuilder.WriteString(word.S)
			}
			textBuilder.WriteString("\n")
		}
	}
	return textBuilder.String(), nil
}

// RenderPages rasterizes up to maxPages pages (all when maxPages <= 0).
// Documents the renderer cannot open fall back to their embedded images.
func (p *pdfProcessor) RenderPages(pdfData []byte, maxPages int) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		images, extractErr := p.extractImages(pdfData)
		if extractErr != nil {
			return nil, fmt.Errorf("opening PDF: %w", err)
		}
		return images, nil
	}
	defer doc.Close()

	n := doc.NumPage()
	if maxPages > 0 && maxPages < n {
		n = maxPages
	}

	images := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.ImageDPI(i, renderDPI)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		images = append(images, img)
	}
	return images, nil
}

// extractImages pulls embedded images out with pdfcpu.
func (p *pdfProcessor) extractImages(pdfData []byte) ([]image.Image, error) {
	tempDir, err := os.MkdirTemp("", "pdf_images")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	pdfPath := filepath.Join(tempDir, "doc.pdf")
	if err := os.WriteFile(pdfPath, pdfData, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write pdf data: %w", err)
	}

	outDir := filepath.Join(tempDir, "out")
	if err := os.Mkdir(outDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	if err := api.ExtractImagesFile(pdfPath, outDir, nil, model.NewDefaultConfiguration()); err != nil {
		return nil, fmt.Errorf("failed to extract images: %w", err)
	}

	files, err := os.ReadDir(outDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read temp dir: %w", err)
	}

	var images []image.Image
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		img, err := ReadImage(filepath.Join(outDir, file.Name()))
		if err != nil {
			continue
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("no images embedded in pdf")
	}
	return images, nil
}

// DecodeQR returns the payload of the first QR code found in img.
func (p *pdfProcessor) DecodeQR(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("failed to create binary bitmap: %w", err)
	}

	result, err := qrcode.NewQRCodeReader().Decode(bmp, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decode QR code: %w", err)
	}
	return result.GetText(), nil
}

// MergeFiles concatenates inFiles, in the given order, into outFile.
func (p *pdfProcessor) MergeFiles(inFiles []string, outFile string) error {
	if len(inFiles) == 0 {
		return fmt.Errorf("nothing to merge into %s", outFile)
	}
	if err := api.MergeCreateFile(inFiles, outFile, false, model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("failed to merge pdfs: %w", err)
	}
	return nil
}

// ImportImages writes one page per image into outFile. Formats pdfcpu
// cannot embed are converted to PNG first.
func (p *pdfProcessor) ImportImages(imgFiles []string, outFile string) error {
	if len(imgFiles) == 0 {
		return fmt.Errorf("no images to import into %s", outFile)
	}

	tempDir, err := os.MkdirTemp("", "pdf_import")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tempDir)

	files := make([]string, len(imgFiles))
	for i, path := range imgFiles {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".png", ".jpg", ".jpeg":
			files[i] = path
			continue
		}

		img, err := ReadImage(path)
		if err != nil {
			return fmt.Errorf("failed to convert %s: %w", filepath.Base(path), err)
		}
		converted := filepath.Join(tempDir, fmt.Sprintf("%04d.png", i))
		if err := writePNG(converted, img); err != nil {
			return err
		}
		files[i] = converted
	}

	if err := api.ImportImagesFile(files, outFile, pdfcpu.DefaultImportConfig(), model.NewDefaultConfiguration()); err != nil {
		return fmt.Errorf("failed to import images: %w", err)
	}
	return nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return nil
}
