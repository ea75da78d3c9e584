package report

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aashish23092/invoice-reconcile/dto"
)

var tolerance = decimal.NewFromInt(10)

func amount(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
}

func sampleRecords() []dto.ReconciledRecord {
	records := []dto.ReconciledRecord{
		{
			Invoice: &dto.InvoiceRecord{
				Filename:      "orderA.pdf",
				InvoiceNumber: dto.StringPtr("12345678"),
				InvoiceDate:   dto.StringPtr("2024-03-05"),
				Supplier:      dto.StringPtr("上海某某科技有限公司"),
				Amount:        amount("100.00"),
			},
			Payment: &dto.PaymentRecord{
				Filename:               "orderA_log.png",
				Amount:                 decimal.RequireFromString("112.004"),
				MatchedInvoiceFilename: dto.StringPtr("orderA.pdf"),
			},
		},
		{
			Invoice: &dto.InvoiceRecord{Filename: "lonely.pdf", Supplier: dto.StringPtr("ACME, \"Ltd\"")},
		},
		{
			Payment: &dto.PaymentRecord{Filename: "stray_log.png", Amount: decimal.RequireFromString("30.5")},
		},
	}
	for i := range records {
		records[i].Derive(tolerance)
	}
	return records
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRecords()))

	lines := strings.Split(strings.TrimPrefix(buf.String(), utf8BOM), "\n")
	assert.Equal(t, strings.Join(Header, ","), lines[0])
	assert.Equal(t, "orderA_log.png,12345678,2024-03-05,上海某某科技有限公司,100.00,112.00,12.00,orderA.pdf", lines[1])
	assert.Equal(t, `lonely.pdf,,,"ACME, ""Ltd""",,,,`, lines[2])
	assert.Equal(t, "stray_log.png,,,,,30.50,,", lines[3])
}

func TestCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciled.csv")
	want := sampleRecords()
	require.NoError(t, WriteFile(path, want))

	got, err := ReadFile(path, tolerance)
	require.NoError(t, err)
	require.Len(t, got, len(want))

	epsilon := decimal.RequireFromString("0.01")
	closeTo := func(t *testing.T, a, b decimal.NullDecimal) {
		t.Helper()
		require.Equal(t, a.Valid, b.Valid)
		if a.Valid {
			assert.True(t, a.Decimal.Sub(b.Decimal).Abs().LessThan(epsilon), "%s vs %s", a.Decimal, b.Decimal)
		}
	}

	for i := range want {
		w, g := want[i], got[i]
		assert.Equal(t, w.Filename(), g.Filename())
		closeTo(t, w.InvoiceAmount(), g.InvoiceAmount())
		closeTo(t, w.PaymentAmount(), g.PaymentAmount())
		closeTo(t, w.Difference, g.Difference)
		closeTo(t, w.ErrorPercentage, g.ErrorPercentage)
		assert.Equal(t, w.Mismatch, g.Mismatch)

		require.Equal(t, w.Invoice == nil, g.Invoice == nil)
		if w.Invoice != nil {
			assert.Equal(t, w.Invoice.Filename, g.Invoice.Filename)
			assert.Equal(t, w.Invoice.InvoiceNumber, g.Invoice.InvoiceNumber)
			assert.Equal(t, w.Invoice.InvoiceDate, g.Invoice.InvoiceDate)
			assert.Equal(t, w.Invoice.Supplier, g.Invoice.Supplier)
		}
		require.Equal(t, w.Payment == nil, g.Payment == nil)
		if w.Payment != nil {
			assert.Equal(t, w.Payment.Filename, g.Payment.Filename)
			assert.Equal(t, w.Payment.MatchedInvoiceFilename, g.Payment.MatchedInvoiceFilename)
		}
	}
	assert.True(t, got[0].Mismatch)
}

func TestReadCSVRejectsWrongHeader(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("a,b,c,d,e,f,g,h\n"), tolerance)
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestReadCSVRejectsBadAmount(t *testing.T) {
	in := strings.Join(Header, ",") + "\nx.pdf,,,,abc,,,\n"

	_, err := ReadCSV(strings.NewReader(in), tolerance)
	assert.ErrorContains(t, err, "line 2")
}
