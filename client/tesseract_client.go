package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// ErrEngineUnavailable is returned when tesseract or its language data
// cannot be resolved.
var ErrEngineUnavailable = errors.New("ocr engine unavailable")

// PageSegMode is a tesseract page segmentation mode.
type PageSegMode int

const (
	PSMAuto         = PageSegMode(gosseract.PSM_AUTO)
	PSMSingleColumn = PageSegMode(gosseract.PSM_SINGLE_COLUMN)
	PSMSingleBlock  = PageSegMode(gosseract.PSM_SINGLE_BLOCK)
	PSMSingleLine   = PageSegMode(gosseract.PSM_SINGLE_LINE)
	PSMSingleWord   = PageSegMode(gosseract.PSM_SINGLE_WORD)
	PSMSparseText   = PageSegMode(gosseract.PSM_SPARSE_TEXT)
	PSMSparseOSD    = PageSegMode(gosseract.PSM_SPARSE_TEXT_OSD)
	PSMRawLine      = PageSegMode(gosseract.PSM_RAW_LINE)
)

func (m PageSegMode) String() string {
	switch m {
	case PSMAuto:
		return "auto"
	case PSMSingleColumn:
		return "single_column"
	case PSMSingleBlock:
		return "single_block"
	case PSMSingleLine:
		return "single_line"
	case PSMSingleWord:
		return "single_word"
	case PSMSparseText:
		return "sparse"
	case PSMSparseOSD:
		return "sparse_osd"
	case PSMRawLine:
		return "raw_line"
	}
	return fmt.Sprintf("psm_%d", int(m))
}

// Page is one image handed to the engine, labelled with the preprocessing
// variant that produced it.
type Page struct {
	Variant string
	Image   image.Image
}

// Word is a recognized word with its bounding box height in pixels.
type Word struct {
	Text   string
	Height int
}

type TesseractClient struct {
	dataPath  string
	languages []string
}

func NewTesseractClient(dataPath string, languages ...string) *TesseractClient {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &TesseractClient{
		dataPath:  dataPath,
		languages: languages,
	}
}

// WithLanguages returns a client sharing the data path but recognizing
// the given languages.
func (tc *TesseractClient) WithLanguages(languages ...string) *TesseractClient {
	return NewTesseractClient(tc.dataPath, languages...)
}

func (tc *TesseractClient) Languages() []string {
	return tc.languages
}

// ValidateEngine checks that the tessdata directory holds a traineddata file
// for every configured language and returns the linked tesseract version.
func (tc *TesseractClient) ValidateEngine() (string, error) {
	info, err := os.Stat(tc.dataPath)
	if err != nil {
		return "", fmt.Errorf("%w: tessdata directory %q: %v", ErrEngineUnavailable, tc.dataPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: tessdata path %q is not a directory", ErrEngineUnavailable, tc.dataPath)
	}

	for _, lang := range tc.languages {
		trained := filepath.Join(tc.dataPath, lang+".traineddata")
		if _, err := os.Stat(trained); err != nil {
			return "", fmt.Errorf("%w: missing language data %s", ErrEngineUnavailable, trained)
		}
	}

	return gosseract.Version(), nil
}

// Recognize runs the engine over one page with the given segmentation mode.
// A fresh engine handle is created per call since handles are not safe for
// concurrent use.
func (tc *TesseractClient) Recognize(ctx context.Context, page Page, mode PageSegMode) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	client, err := tc.newClient(page, mode)
	if err != nil {
		return "", err
	}
	defer client.Close()

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}

	return text, nil
}

// RecognizeWords returns word level boxes, used when the amount is chosen by
// glyph height instead of by vote.
func (tc *TesseractClient) RecognizeWords(ctx context.Context, page Page, mode PageSegMode) ([]Word, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := tc.newClient(page, mode)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("failed to get bounding boxes: %w", err)
	}

	words := make([]Word, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		words = append(words, Word{
			Text:   text,
			Height: box.Box.Dy(),
		})
	}

	return words, nil
}

// OCRImage extracts the text of a whole page, used for scanned invoices.
func (tc *TesseractClient) OCRImage(ctx context.Context, img image.Image) (string, error) {
	return tc.Recognize(ctx, Page{Variant: "page", Image: img}, PSMAuto)
}

func (tc *TesseractClient) newClient(page Page, mode PageSegMode) (*gosseract.Client, error) {
	if page.Image == nil {
		return nil, fmt.Errorf("page %q has no image", page.Variant)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, page.Image); err != nil {
		return nil, fmt.Errorf("failed to encode page %q: %w", page.Variant, err)
	}

	client := gosseract.NewClient()
	client.SetTessdataPrefix(tc.dataPath)

	if err := client.SetLanguage(tc.languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(mode)); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set page segmentation mode %s: %w", mode, err)
	}
	if err := client.SetImageFromBytes(buf.Bytes()); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set image: %w", err)
	}

	return client, nil
}
