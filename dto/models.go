package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceRecord holds the fields pulled out of one invoice document.
// Optional string fields are nil when no pattern matched.
type InvoiceRecord struct {
	Filename      string              `json:"filename"`
	InvoiceNumber *string             `json:"invoice_number"`
	InvoiceDate   *string             `json:"invoice_date"` // "YYYY-MM-DD"
	Supplier      *string             `json:"supplier"`
	Amount        decimal.NullDecimal `json:"amount"`
	ItemName      *string             `json:"item_name"`
}

// PaymentRecord holds the paid amount recovered from one payment screenshot.
// Amount is always the absolute value of the negative delta shown on screen.
type PaymentRecord struct {
	Filename               string          `json:"filename"`
	Amount                 decimal.Decimal `json:"amount"`
	MatchedInvoiceFilename *string         `json:"matched_invoice_filename"`
}

// ReconciledRecord is one row of the outer join between invoices and payments.
type ReconciledRecord struct {
	Invoice         *InvoiceRecord      `json:"invoice"`
	Payment         *PaymentRecord      `json:"payment"`
	Difference      decimal.NullDecimal `json:"difference"`
	ErrorPercentage decimal.NullDecimal `json:"error_percentage"`
	Mismatch        bool                `json:"mismatch"`
}

// Filename returns the screenshot filename when a payment is present,
// otherwise the invoice filename.
func (r ReconciledRecord) Filename() string {
	if r.Payment != nil {
		return r.Payment.Filename
	}
	if r.Invoice != nil {
		return r.Invoice.Filename
	}
	return ""
}

// InvoiceAmount returns the invoice-side amount, null when absent.
func (r ReconciledRecord) InvoiceAmount() decimal.NullDecimal {
	if r.Invoice == nil {
		return decimal.NullDecimal{}
	}
	return r.Invoice.Amount
}

// PaymentAmount returns the payment-side amount, null when absent.
func (r ReconciledRecord) PaymentAmount() decimal.NullDecimal {
	if r.Payment == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: r.Payment.Amount, Valid: true}
}

var hundred = decimal.NewFromInt(100)

// Derive fills Difference, ErrorPercentage and Mismatch from the two sides.
// Difference needs both amounts; the percentage also needs a non-zero
// invoice amount. Mismatch is set only when the percentage exceeds tolerance.
func (r *ReconciledRecord) Derive(tolerance decimal.Decimal) {
	r.Difference = decimal.NullDecimal{}
	r.ErrorPercentage = decimal.NullDecimal{}
	r.Mismatch = false

	invoiceAmount := r.InvoiceAmount()
	paymentAmount := r.PaymentAmount()
	if !invoiceAmount.Valid || !paymentAmount.Valid {
		return
	}

	diff := paymentAmount.Decimal.Sub(invoiceAmount.Decimal)
	r.Difference = decimal.NullDecimal{Decimal: diff, Valid: true}

	if invoiceAmount.Decimal.IsZero() {
		return
	}
	pct := diff.Abs().Div(invoiceAmount.Decimal).Mul(hundred)
	r.ErrorPercentage = decimal.NullDecimal{Decimal: pct, Valid: true}
	r.Mismatch = pct.GreaterThan(tolerance)
}

type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusCancelled BatchStatus = "cancelled"
	BatchStatusFailed    BatchStatus = "failed"
)

// BatchSummary reports what happened to every file of one batch run.
type BatchSummary struct {
	ID         string      `json:"id"`
	FolderPath string      `json:"folder_path"`
	Status     BatchStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`

	InvoicesScanned   int `json:"invoices_scanned"`
	InvoicesExtracted int `json:"invoices_extracted"`
	InvoicesFailed    int `json:"invoices_failed"`

	ScreenshotsScanned   int `json:"screenshots_scanned"`
	ScreenshotsExtracted int `json:"screenshots_extracted"`
	ScreenshotsFailed    int `json:"screenshots_failed"`
	ScreenshotsNoAmount  int `json:"screenshots_no_amount"`

	Matched           int `json:"matched"`
	Mismatched        int `json:"mismatched"`
	UnmatchedInvoices int `json:"unmatched_invoices"`
	UnmatchedPayments int `json:"unmatched_payments"`

	ReportPath         string `json:"report_path,omitempty"`
	MergedInvoicesPath string `json:"merged_invoices_path,omitempty"`
	MergedPaymentsPath string `json:"merged_payments_path,omitempty"`
}

// BatchResult is a finished batch together with its reconciled rows.
type BatchResult struct {
	Summary BatchSummary       `json:"summary"`
	Records []ReconciledRecord `json:"records"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue dereferences p, treating nil as "".
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
