package report

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Aashish23092/invoice-reconcile/dto"
)

// Header is the column order downstream tooling relies on.
var Header = []string{
	"filename",
	"invoice_number",
	"invoice_date",
	"supplier",
	"invoice_amount",
	"actual_payment_amount",
	"difference",
	"matched_invoice_filename",
}

const (
	colFilename = iota
	colInvoiceNumber
	colInvoiceDate
	colSupplier
	colInvoiceAmount
	colPaymentAmount
	colDifference
	colMatched
)

// utf8BOM lets spreadsheet tools detect the encoding of CJK content.
const utf8BOM = "\ufeff"

var ErrBadHeader = errors.New("unexpected csv header")

// WriteCSV writes one row per record. The filename column holds the
// screenshot when a payment is present, otherwise the invoice.
func WriteCSV(w io.Writer, records []dto.ReconciledRecord) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, rec := range records {
		row := make([]string, len(Header))
		row[colFilename] = rec.Filename()
		if inv := rec.Invoice; inv != nil {
			row[colInvoiceNumber] = dto.StringValue(inv.InvoiceNumber)
			row[colInvoiceDate] = dto.StringValue(inv.InvoiceDate)
			row[colSupplier] = dto.StringValue(inv.Supplier)
		}
		row[colInvoiceAmount] = formatAmount(rec.InvoiceAmount())
		row[colPaymentAmount] = formatAmount(rec.PaymentAmount())
		row[colDifference] = formatAmount(rec.Difference)
		if rec.Payment != nil {
			row[colMatched] = dto.StringValue(rec.Payment.MatchedInvoiceFilename)
		}

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row for %s: %w", row[colFilename], err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV reverses WriteCSV. Difference, error percentage and the mismatch
// flag are recomputed with the given tolerance.
func ReadCSV(r io.Reader, tolerance decimal.Decimal) ([]dto.ReconciledRecord, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(len(utf8BOM)); err == nil && string(bom) == utf8BOM {
		_, _ = br.Discard(len(utf8BOM))
	}

	cr := csv.NewReader(br)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	for i, name := range Header {
		if strings.TrimSpace(header[i]) != name {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrBadHeader, i+1, header[i], name)
		}
	}

	var records []dto.ReconciledRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv line %d: %w", line, err)
		}

		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rec.Derive(tolerance)
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string) (dto.ReconciledRecord, error) {
	var rec dto.ReconciledRecord

	invoiceAmount, err := parseAmount(row[colInvoiceAmount])
	if err != nil {
		return rec, fmt.Errorf("invoice_amount: %w", err)
	}
	paymentAmount, err := parseAmount(row[colPaymentAmount])
	if err != nil {
		return rec, fmt.Errorf("actual_payment_amount: %w", err)
	}

	filename := row[colFilename]
	matched := row[colMatched]
	invoiceFile := filename

	if paymentAmount.Valid {
		rec.Payment = &dto.PaymentRecord{
			Filename:               filename,
			Amount:                 paymentAmount.Decimal,
			MatchedInvoiceFilename: dto.StringPtr(matched),
		}
		invoiceFile = matched
	}

	if invoiceFile != "" {
		rec.Invoice = &dto.InvoiceRecord{
			Filename:      invoiceFile,
			InvoiceNumber: dto.StringPtr(row[colInvoiceNumber]),
			InvoiceDate:   dto.StringPtr(row[colInvoiceDate]),
			Supplier:      dto.StringPtr(row[colSupplier]),
			Amount:        invoiceAmount,
		}
	}
	return rec, nil
}

func formatAmount(v decimal.NullDecimal) string {
	if !v.Valid {
		return ""
	}
	return v.Decimal.StringFixed(2)
}

func parseAmount(s string) (decimal.NullDecimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: v, Valid: true}, nil
}

// WriteFile writes records to path, replacing any existing file.
func WriteFile(path string, records []dto.ReconciledRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := WriteCSV(f, records); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile loads records written by WriteFile.
func ReadFile(path string, tolerance decimal.Decimal) ([]dto.ReconciledRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadCSV(f, tolerance)
}
