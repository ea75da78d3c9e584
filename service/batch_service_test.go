package service

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aashish23092/invoice-reconcile/dto"
	"github.com/Aashish23092/invoice-reconcile/logger"
	"github.com/Aashish23092/invoice-reconcile/report"
	"github.com/Aashish23092/invoice-reconcile/store"
)

// widthPayments reads the paid amount from the image width so each test
// screenshot can carry its own value. A width of 1 means no amount.
type widthPayments struct{}

func (widthPayments) Extract(_ context.Context, img image.Image) (decimal.Decimal, bool) {
	w := img.Bounds().Dx()
	if w == 1 {
		return decimal.Decimal{}, false
	}
	return decimal.NewFromInt(int64(w)), true
}

// blockingPayments waits until the batch is cancelled.
type blockingPayments struct{}

func (blockingPayments) Extract(ctx context.Context, _ image.Image) (decimal.Decimal, bool) {
	<-ctx.Done()
	return decimal.Decimal{}, false
}

func writePNGFile(t *testing.T, dir, name string, width int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, width, 2))))
	return writeFile(t, dir, name, buf.String())
}

var batchDay = time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)

func newTestBatchService(t *testing.T, payments PaymentExtractor, pdf *fakePDF, st store.Store) *BatchService {
	t.Helper()
	svc := NewBatchService(BatchConfig{
		Invoices:     NewInvoiceService(pdf, nil),
		Payments:     payments,
		PDFProcessor: pdf,
		Matcher:      NewRecordMatcher("log"),
		Engine:       NewReconciliationEngine(10),
		Store:        st,
		Workers:      3,
		OutputDir:    filepath.Join(t.TempDir(), "out"),
	})
	svc.now = func() time.Time { return batchDay }
	return svc
}

func populateFolder(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "orderA.pdf", "发票号码：A001\n开票日期：2024-03-05\n价税合计：¥100.00\n")
	writeFile(t, dir, "orderB.pdf", "价税合计：¥50.00 plus enough filler text\n")
	writeFile(t, dir, "broken.pdf", "%BROKEN")
	writePNGFile(t, dir, "orderA_log.png", 112)
	writePNGFile(t, dir, "orderB_LOG.png", 50)
	writePNGFile(t, dir, "holiday.png", 10)
	writeFile(t, dir, "notes.txt", "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
	return dir
}

func TestBatchServiceScan(t *testing.T) {
	dir := populateFolder(t)
	svc := newTestBatchService(t, widthPayments{}, &fakePDF{}, nil)

	in, err := svc.Scan(dir)

	require.NoError(t, err)
	base := func(paths []string) []string {
		out := make([]string, len(paths))
		for i, p := range paths {
			out[i] = filepath.Base(p)
		}
		return out
	}
	assert.Equal(t, []string{"broken.pdf", "orderA.pdf", "orderB.pdf"}, base(in.Invoices))
	assert.Equal(t, []string{"orderA_log.png", "orderB_LOG.png"}, base(in.Screenshots))
}

func TestBatchServiceScanEmptyFolder(t *testing.T) {
	svc := newTestBatchService(t, widthPayments{}, &fakePDF{}, nil)

	_, err := svc.Scan(t.TempDir())
	assert.ErrorIs(t, err, dto.ErrNoInputFiles)

	_, err = svc.Scan(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestBatchServiceSurvivesUnreadableDocument(t *testing.T) {
	dir := populateFolder(t)
	pdf := &fakePDF{}
	svc := newTestBatchService(t, widthPayments{}, pdf, nil)

	// workers log concurrently
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(zerolog.SyncWriter(buf)))

	result, err := svc.Run(ctx, "", dto.StartBatchRequest{FolderPath: dir})
	require.NoError(t, err)

	s := result.Summary
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, dto.BatchStatusCompleted, s.Status)
	assert.Equal(t, 3, s.InvoicesScanned)
	assert.Equal(t, 2, s.ScreenshotsScanned)
	// five inputs, one unreadable
	assert.Equal(t, 4, s.InvoicesExtracted+s.ScreenshotsExtracted)
	assert.Equal(t, 1, s.InvoicesFailed)
	assert.Equal(t, 2, s.Matched)
	assert.Equal(t, 1, s.Mismatched)
	assert.Zero(t, s.UnmatchedInvoices)
	assert.Zero(t, s.UnmatchedPayments)

	assert.Equal(t, 1, strings.Count(buf.String(), `"level":"error"`))
	assert.Contains(t, buf.String(), "broken.pdf")

	require.Len(t, result.Records, 2)
	assert.Equal(t, "orderA_log.png", result.Records[0].Filename())
	assert.True(t, result.Records[0].Mismatch)
	assert.Equal(t, "orderB_LOG.png", result.Records[1].Filename())
	assert.Equal(t, "orderB.pdf", dto.StringValue(result.Records[1].Payment.MatchedInvoiceFilename))

	assert.Equal(t, "reconciled_20240305.csv", filepath.Base(s.ReportPath))
	persisted, err := report.ReadFile(s.ReportPath, decimal.NewFromInt(10))
	require.NoError(t, err)
	assert.Len(t, persisted, 2)

	assert.Equal(t, "merged_20240305.pdf", filepath.Base(s.MergedInvoicesPath))
	assert.Equal(t, "merged_20240305_log.pdf", filepath.Base(s.MergedPaymentsPath))
	assert.Len(t, pdf.merged, 3)
	assert.Equal(t, "orderA_log.png", filepath.Base(pdf.imported[0]))
}

func TestBatchServiceCountsScreenshotsWithoutAmount(t *testing.T) {
	dir := t.TempDir()
	writePNGFile(t, dir, "blank_log.png", 1)
	writeFile(t, dir, "corrupt_log.jpg", "not a jpeg")
	writePNGFile(t, dir, "paid_log.png", 20)

	result, err := newTestBatchService(t, widthPayments{}, &fakePDF{}, nil).Run(context.Background(), "b-1", dto.StartBatchRequest{FolderPath: dir})
	require.NoError(t, err)

	s := result.Summary
	assert.Equal(t, "b-1", s.ID)
	assert.Equal(t, 3, s.ScreenshotsScanned)
	assert.Equal(t, 1, s.ScreenshotsExtracted)
	assert.Equal(t, 1, s.ScreenshotsNoAmount)
	assert.Equal(t, 1, s.ScreenshotsFailed)
	assert.Equal(t, 1, s.UnmatchedPayments)
	assert.Empty(t, s.MergedInvoicesPath)
}

func TestBatchServicePersistsToStore(t *testing.T) {
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	svc := newTestBatchService(t, widthPayments{}, &fakePDF{}, st)
	result, err := svc.Run(context.Background(), "", dto.StartBatchRequest{FolderPath: populateFolder(t)})
	require.NoError(t, err)

	saved, err := st.GetBatch(result.Summary.ID)
	require.NoError(t, err)
	assert.Equal(t, dto.BatchStatusCompleted, saved.Status)
	require.NotNil(t, saved.FinishedAt)

	records, err := st.GetRecords(result.Summary.ID)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestBatchServiceCancelled(t *testing.T) {
	st, err := store.NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = newTestBatchService(t, widthPayments{}, &fakePDF{}, st).Run(ctx, "c-1", dto.StartBatchRequest{FolderPath: populateFolder(t)})
	require.ErrorIs(t, err, context.Canceled)

	saved, err := st.GetBatch("c-1")
	require.NoError(t, err)
	assert.Equal(t, dto.BatchStatusCancelled, saved.Status)
}
