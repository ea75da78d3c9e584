package service

import (
	"strings"

	"github.com/Aashish23092/invoice-reconcile/dto"
	"github.com/Aashish23092/invoice-reconcile/utils"
)

const DefaultMarker = "log"

// RecordMatcher pairs payment screenshots with invoices by file name.
type RecordMatcher struct {
	// Marker, preceded by an underscore, is removed from payment file
	// names before comparing. A marker without the underscore stays and is
	// covered by containment.
	Marker string
}

func NewRecordMatcher(marker string) *RecordMatcher {
	if strings.TrimSpace(marker) == "" {
		marker = DefaultMarker
	}
	return &RecordMatcher{Marker: strings.ToLower(marker)}
}

// Match returns a copy of payments with MatchedInvoiceFilename set to the
// first invoice whose normalized name contains, or is contained in, the
// normalized payment name.
func (m *RecordMatcher) Match(invoices []dto.InvoiceRecord, payments []dto.PaymentRecord) []dto.PaymentRecord {
	keys := make([]string, len(invoices))
	for i, inv := range invoices {
		keys[i] = normalizeInvoiceName(inv.Filename)
	}

	out := make([]dto.PaymentRecord, len(payments))
	for i, p := range payments {
		p.MatchedInvoiceFilename = nil
		key := m.normalizePaymentName(p.Filename)
		if key != "" {
			for j, invKey := range keys {
				if invKey == "" {
					continue
				}
				if strings.Contains(key, invKey) || strings.Contains(invKey, key) {
					name := invoices[j].Filename
					p.MatchedInvoiceFilename = &name
					break
				}
			}
		}
		out[i] = p
	}
	return out
}

func normalizeInvoiceName(filename string) string {
	return strings.ToLower(utils.BaseName(filename))
}

func (m *RecordMatcher) normalizePaymentName(filename string) string {
	name := normalizeInvoiceName(filename)
	name = strings.ReplaceAll(name, "_"+m.Marker, "")
	return strings.TrimSpace(name)
}

// IsPayment reports whether filename carries the payment marker.
func (m *RecordMatcher) IsPayment(filename string) bool {
	return strings.Contains(strings.ToLower(utils.BaseName(filename)), m.Marker)
}
