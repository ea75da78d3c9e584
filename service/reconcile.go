package service

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Aashish23092/invoice-reconcile/dto"
	"github.com/Aashish23092/invoice-reconcile/logger"
)

// ReconciliationEngine joins invoices with their matched payments and
// flags pairs whose relative error exceeds Tolerance percent.
type ReconciliationEngine struct {
	Tolerance decimal.Decimal
}

func NewReconciliationEngine(tolerance float64) *ReconciliationEngine {
	return &ReconciliationEngine{Tolerance: decimal.NewFromFloat(tolerance)}
}

// Reconcile performs an outer join: every invoice yields a record, paired
// with the first payment matched to it, and every payment left over yields
// an invoice-less record.
func (e *ReconciliationEngine) Reconcile(ctx context.Context, invoices []dto.InvoiceRecord, payments []dto.PaymentRecord) []dto.ReconciledRecord {
	log := logger.FromContext(ctx)

	used := make([]bool, len(payments))
	records := make([]dto.ReconciledRecord, 0, len(invoices)+len(payments))

	for i := range invoices {
		inv := invoices[i]
		rec := dto.ReconciledRecord{Invoice: &inv}
		for j := range payments {
			if used[j] || payments[j].MatchedInvoiceFilename == nil {
				continue
			}
			if *payments[j].MatchedInvoiceFilename == inv.Filename {
				used[j] = true
				p := payments[j]
				rec.Payment = &p
				break
			}
		}
		records = append(records, e.derive(rec))
	}

	for j := range payments {
		if used[j] {
			continue
		}
		// a payment whose invoice was already taken stands alone
		p := payments[j]
		p.MatchedInvoiceFilename = nil
		records = append(records, e.derive(dto.ReconciledRecord{Payment: &p}))
	}

	for _, rec := range records {
		if rec.Mismatch {
			log.Warn().
				Str("file", rec.Filename()).
				Str("invoice_amount", rec.Invoice.Amount.Decimal.StringFixed(2)).
				Str("payment_amount", rec.Payment.Amount.StringFixed(2)).
				Str("error_percentage", rec.ErrorPercentage.Decimal.StringFixed(2)).
				Msg("amount mismatch, manual review required")
		}
	}

	return records
}

func (e *ReconciliationEngine) derive(rec dto.ReconciledRecord) dto.ReconciledRecord {
	rec.Derive(e.Tolerance)
	return rec
}

// SortByFilename orders records by their primary file name.
func SortByFilename(records []dto.ReconciledRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Filename() < records[j].Filename()
	})
}

// MatchAndReconcile pairs payments with invoices and returns the sorted
// reconciled records.
func MatchAndReconcile(ctx context.Context, matcher *RecordMatcher, engine *ReconciliationEngine, invoices []dto.InvoiceRecord, payments []dto.PaymentRecord) []dto.ReconciledRecord {
	records := engine.Reconcile(ctx, invoices, matcher.Match(invoices, payments))
	SortByFilename(records)
	return records
}
