package service

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/Aashish23092/invoice-reconcile/dto"
	"github.com/Aashish23092/invoice-reconcile/logger"
	"github.com/Aashish23092/invoice-reconcile/utils"
)

// minTextLayer is the number of non-space characters below which a PDF is
// treated as scanned and OCR'd instead.
const minTextLayer = 20

// PageOCR reads the text of a rendered page.
type PageOCR interface {
	OCRImage(ctx context.Context, img image.Image) (string, error)
}

// InvoiceService turns invoice PDFs into InvoiceRecords.
type InvoiceService struct {
	pdfProcessor PDFProcessor
	ocr          PageOCR
}

// NewInvoiceService creates the service. ocr may be nil, in which case
// scanned documents yield whatever text layer they have.
func NewInvoiceService(pdfProcessor PDFProcessor, ocr PageOCR) *InvoiceService {
	return &InvoiceService{
		pdfProcessor: pdfProcessor,
		ocr:          ocr,
	}
}

// document caches what has been read from one PDF so far.
type document struct {
	data  []byte
	text  string
	pages []image.Image
}

// ReadDocumentText returns the concatenated text of every page.
func (s *InvoiceService) ReadDocumentText(ctx context.Context, path string) (string, error) {
	doc, err := s.load(ctx, path)
	if err != nil {
		return "", err
	}
	return doc.text, nil
}

// Extract reads one invoice and extracts its fields. Null invoice number,
// date or amount are filled from the e-invoice QR code when one is present.
func (s *InvoiceService) Extract(ctx context.Context, path string) (dto.InvoiceRecord, error) {
	log := logger.FromContext(ctx).With().Str("file", filepath.Base(path)).Logger()

	doc, err := s.load(ctx, path)
	if err != nil {
		return dto.InvoiceRecord{}, err
	}

	rec := utils.ParseInvoiceWithLogger(doc.text, filepath.Base(path), log)

	if rec.InvoiceNumber == nil || rec.InvoiceDate == nil || !rec.Amount.Valid {
		if err := s.supplementFromQR(doc, &rec); err != nil {
			log.Debug().Err(err).Msg("no invoice QR code")
		} else {
			log.Debug().Msg("fields supplemented from invoice QR code")
		}
	}

	return rec, nil
}

func (s *InvoiceService) load(ctx context.Context, path string) (*document, error) {
	log := logger.FromContext(ctx)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	doc := &document{data: data}

	text, textErr := s.pdfProcessor.ExtractText(data)
	if textErr == nil && significantChars(text) >= minTextLayer {
		doc.text = text
		return doc, nil
	}
	if s.ocr == nil {
		if textErr != nil {
			return nil, fmt.Errorf("failed to read text of %s: %w", filepath.Base(path), textErr)
		}
		doc.text = text
		return doc, nil
	}

	log.Debug().Str("file", filepath.Base(path)).Msg("text layer empty, running OCR on rendered pages")

	pages, err := s.pdfProcessor.RenderPages(data, 0)
	if err != nil {
		if textErr != nil {
			return nil, fmt.Errorf("failed to read %s: %w", filepath.Base(path), textErr)
		}
		return nil, fmt.Errorf("failed to render %s: %w", filepath.Base(path), err)
	}
	doc.pages = pages

	var sb strings.Builder
	sb.WriteString(text)
	for i, page := range pages {
		pageText, err := s.ocr.OCRImage(ctx, page)
		if err != nil {
			log.Warn().Err(err).Str("file", filepath.Base(path)).Int("page", i+1).Msg("page OCR failed")
			continue
		}
		sb.WriteString(pageText)
		sb.WriteString("\n")
	}
	doc.text = sb.String()
	return doc, nil
}

func (s *InvoiceService) supplementFromQR(doc *document, rec *dto.InvoiceRecord) error {
	if len(doc.pages) == 0 {
		pages, err := s.pdfProcessor.RenderPages(doc.data, 1)
		if err != nil {
			return err
		}
		doc.pages = pages
	}
	if len(doc.pages) == 0 {
		return fmt.Errorf("document has no pages")
	}

	payload, err := s.pdfProcessor.DecodeQR(doc.pages[0])
	if err != nil {
		return err
	}
	qr, err := ParseInvoiceQR(payload)
	if err != nil {
		return err
	}

	if rec.InvoiceNumber == nil {
		rec.InvoiceNumber = dto.StringPtr(qr.Number)
	}
	if rec.InvoiceDate == nil {
		rec.InvoiceDate = dto.StringPtr(qr.Date)
	}
	if !rec.Amount.Valid {
		rec.Amount = qr.Amount
	}
	return nil
}

// InvoiceQR is the payload of a Chinese e-invoice QR code:
// 01,<type>,<code>,<number>,<amount>,<yyyymmdd>,<check>,<crc>.
type InvoiceQR struct {
	Type   string
	Code   string
	Number string
	Amount decimal.NullDecimal
	Date   string
}

func ParseInvoiceQR(payload string) (InvoiceQR, error) {
	fields := strings.Split(strings.TrimSpace(payload), ",")
	if len(fields) < 6 || fields[0] != "01" {
		return InvoiceQR{}, fmt.Errorf("not an invoice QR payload")
	}

	qr := InvoiceQR{
		Type:   fields[1],
		Code:   fields[2],
		Number: strings.TrimSpace(fields[3]),
	}
	if v, err := decimal.NewFromString(strings.TrimSpace(fields[4])); err == nil && !v.IsNegative() {
		qr.Amount = decimal.NullDecimal{Decimal: v, Valid: true}
	}
	if d := strings.TrimSpace(fields[5]); len(d) == 8 {
		qr.Date = d[:4] + "-" + d[4:6] + "-" + d[6:]
	}
	return qr, nil
}

func significantChars(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
