package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Aashish23092/invoice-reconcile/dto"
	"github.com/Aashish23092/invoice-reconcile/logger"
	"github.com/Aashish23092/invoice-reconcile/report"
	"github.com/Aashish23092/invoice-reconcile/store"
)

// InvoiceExtractor turns one invoice document into a record.
type InvoiceExtractor interface {
	Extract(ctx context.Context, path string) (dto.InvoiceRecord, error)
}

// PaymentExtractor recovers the paid amount from a screenshot.
type PaymentExtractor interface {
	Extract(ctx context.Context, img image.Image) (decimal.Decimal, bool)
}

// BatchService reconciles every invoice and payment screenshot in a folder.
type BatchService struct {
	invoices     InvoiceExtractor
	payments     PaymentExtractor
	pdfProcessor PDFProcessor
	matcher      *RecordMatcher
	engine       *ReconciliationEngine
	store        store.Store
	workers      int
	outputDir    string
	now          func() time.Time
}

// BatchConfig carries the collaborators of a BatchService. Store may be nil
// for one-shot runs.
type BatchConfig struct {
	Invoices     InvoiceExtractor
	Payments     PaymentExtractor
	PDFProcessor PDFProcessor
	Matcher      *RecordMatcher
	Engine       *ReconciliationEngine
	Store        store.Store
	Workers      int
	OutputDir    string
}

func NewBatchService(cfg BatchConfig) *BatchService {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &BatchService{
		invoices:     cfg.Invoices,
		payments:     cfg.Payments,
		pdfProcessor: cfg.PDFProcessor,
		matcher:      cfg.Matcher,
		engine:       cfg.Engine,
		store:        cfg.Store,
		workers:      workers,
		outputDir:    cfg.OutputDir,
		now:          time.Now,
	}
}

// Inputs are the files of one folder, each list sorted by file name.
type Inputs struct {
	Invoices    []string
	Screenshots []string
}

// Scan classifies the files directly inside folder. PDFs are invoices and
// images whose name carries the payment marker are screenshots; anything
// else is ignored.
func (s *BatchService) Scan(folder string) (Inputs, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return Inputs{}, fmt.Errorf("failed to read folder: %w", err)
	}

	var in Inputs
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		path := filepath.Join(folder, name)
		switch {
		case strings.EqualFold(filepath.Ext(name), ".pdf"):
			in.Invoices = append(in.Invoices, path)
		case IsImageFile(name) && s.matcher.IsPayment(name):
			in.Screenshots = append(in.Screenshots, path)
		}
	}

	byName := func(paths []string) {
		sort.Slice(paths, func(i, j int) bool { return filepath.Base(paths[i]) < filepath.Base(paths[j]) })
	}
	byName(in.Invoices)
	byName(in.Screenshots)

	if len(in.Invoices) == 0 && len(in.Screenshots) == 0 {
		return in, dto.ErrNoInputFiles
	}
	return in, nil
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeExtracted
	outcomeFailed
	outcomeNoAmount
)

// Run processes folder end to end. An empty id gets a fresh one. Only
// cancellation and output errors fail the batch; unreadable files are
// logged, counted and skipped.
func (s *BatchService) Run(ctx context.Context, id string, req dto.StartBatchRequest) (*dto.BatchResult, error) {
	if id == "" {
		id = uuid.NewString()
	}
	log := logger.FromContext(ctx).With().Str("batch_id", id).Logger()
	ctx = logger.WithContext(ctx, log)

	summary := &dto.BatchSummary{
		ID:         id,
		FolderPath: req.FolderPath,
		Status:     dto.BatchStatusRunning,
		StartedAt:  s.now(),
	}
	s.save(ctx, summary)

	in, err := s.Scan(req.FolderPath)
	if err != nil {
		return nil, s.fail(ctx, summary, err)
	}
	summary.InvoicesScanned = len(in.Invoices)
	summary.ScreenshotsScanned = len(in.Screenshots)
	log.Info().Int("invoices", len(in.Invoices)).Int("screenshots", len(in.Screenshots)).Str("folder", req.FolderPath).Msg("batch started")

	invoices, payments, err := s.extract(ctx, in, summary)
	if err != nil {
		return nil, s.fail(ctx, summary, err)
	}

	records := MatchAndReconcile(ctx, s.matcher, s.engine, invoices, payments)
	tally(summary, records)

	outDir := req.OutputDir
	if outDir == "" {
		outDir = s.outputDir
	}
	if err := s.writeOutputs(ctx, outDir, in, records, summary); err != nil {
		return nil, s.fail(ctx, summary, err)
	}

	finished := s.now()
	summary.FinishedAt = &finished
	summary.Status = dto.BatchStatusCompleted
	if s.store != nil {
		if err := s.store.SaveRecords(id, records); err != nil {
			log.Error().Err(err).Msg("failed to store records")
		}
	}
	s.save(ctx, summary)

	log.Info().
		Int("matched", summary.Matched).
		Int("mismatched", summary.Mismatched).
		Int("invoices_failed", summary.InvoicesFailed).
		Int("screenshots_failed", summary.ScreenshotsFailed).
		Str("report", summary.ReportPath).
		Msg("batch completed")

	return &dto.BatchResult{Summary: *summary, Records: records}, nil
}

// extract runs every file through the worker pool. Each task writes only
// its own slot; slots are merged once all tasks are done.
func (s *BatchService) extract(ctx context.Context, in Inputs, summary *dto.BatchSummary) ([]dto.InvoiceRecord, []dto.PaymentRecord, error) {
	log := logger.FromContext(ctx)

	invoiceSlots := make([]dto.InvoiceRecord, len(in.Invoices))
	invoiceOutcomes := make([]outcome, len(in.Invoices))
	paymentSlots := make([]dto.PaymentRecord, len(in.Screenshots))
	paymentOutcomes := make([]outcome, len(in.Screenshots))

	total := len(in.Invoices) + len(in.Screenshots)
	var done atomic.Int64
	progress := func(file string) {
		log.Info().Str("file", file).Int64("done", done.Add(1)).Int("total", total).Msg("file processed")
	}

	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for i, path := range in.Invoices {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := filepath.Base(path)
			rec, err := s.invoices.Extract(ctx, path)
			if err != nil {
				log.Error().Err(err).Str("file", name).Msg("failed to extract invoice")
				invoiceOutcomes[i] = outcomeFailed
			} else {
				invoiceSlots[i] = rec
				invoiceOutcomes[i] = outcomeExtracted
			}
			progress(name)
			return nil
		})
	}

	for i, path := range in.Screenshots {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := filepath.Base(path)
			img, err := ReadImage(path)
			if err != nil {
				log.Error().Err(err).Str("file", name).Msg("failed to read screenshot")
				paymentOutcomes[i] = outcomeFailed
				progress(name)
				return nil
			}
			amount, ok := s.payments.Extract(ctx, img)
			if !ok {
				log.Warn().Str("file", name).Msg("no payment amount found")
				paymentOutcomes[i] = outcomeNoAmount
			} else {
				paymentSlots[i] = dto.PaymentRecord{Filename: name, Amount: amount}
				paymentOutcomes[i] = outcomeExtracted
			}
			progress(name)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	invoices := make([]dto.InvoiceRecord, 0, len(invoiceSlots))
	for i, rec := range invoiceSlots {
		switch invoiceOutcomes[i] {
		case outcomeExtracted:
			invoices = append(invoices, rec)
			summary.InvoicesExtracted++
		case outcomeFailed:
			summary.InvoicesFailed++
		}
	}
	payments := make([]dto.PaymentRecord, 0, len(paymentSlots))
	for i, rec := range paymentSlots {
		switch paymentOutcomes[i] {
		case outcomeExtracted:
			payments = append(payments, rec)
			summary.ScreenshotsExtracted++
		case outcomeFailed:
			summary.ScreenshotsFailed++
		case outcomeNoAmount:
			summary.ScreenshotsNoAmount++
		}
	}

	sort.SliceStable(invoices, func(i, j int) bool { return invoices[i].Filename < invoices[j].Filename })
	sort.SliceStable(payments, func(i, j int) bool { return payments[i].Filename < payments[j].Filename })
	return invoices, payments, nil
}

func tally(summary *dto.BatchSummary, records []dto.ReconciledRecord) {
	for _, rec := range records {
		switch {
		case rec.Invoice != nil && rec.Payment != nil:
			summary.Matched++
		case rec.Invoice != nil:
			summary.UnmatchedInvoices++
		default:
			summary.UnmatchedPayments++
		}
		if rec.Mismatch {
			summary.Mismatched++
		}
	}
}

// writeOutputs persists the CSV report and collates the inputs into two
// PDFs. Collation problems are logged; only a failed report fails the batch.
func (s *BatchService) writeOutputs(ctx context.Context, outDir string, in Inputs, records []dto.ReconciledRecord, summary *dto.BatchSummary) error {
	log := logger.FromContext(ctx)

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	stamp := summary.StartedAt.Format("20060102")
	reportPath := filepath.Join(outDir, fmt.Sprintf("reconciled_%s.csv", stamp))
	if err := report.WriteFile(reportPath, records); err != nil {
		return err
	}
	summary.ReportPath = reportPath

	if s.pdfProcessor == nil {
		return nil
	}

	if len(in.Invoices) > 0 {
		merged := filepath.Join(outDir, fmt.Sprintf("merged_%s.pdf", stamp))
		if err := s.pdfProcessor.MergeFiles(in.Invoices, merged); err != nil {
			log.Error().Err(err).Msg("failed to merge invoices")
		} else {
			summary.MergedInvoicesPath = merged
		}
	}
	if len(in.Screenshots) > 0 {
		merged := filepath.Join(outDir, fmt.Sprintf("merged_%s_%s.pdf", stamp, s.matcher.Marker))
		if err := s.pdfProcessor.ImportImages(in.Screenshots, merged); err != nil {
			log.Error().Err(err).Msg("failed to collate screenshots")
		} else {
			summary.MergedPaymentsPath = merged
		}
	}
	return nil
}

func (s *BatchService) fail(ctx context.Context, summary *dto.BatchSummary, err error) error {
	finished := s.now()
	summary.FinishedAt = &finished
	summary.Status = dto.BatchStatusFailed
	if errors.Is(err, context.Canceled) {
		summary.Status = dto.BatchStatusCancelled
	}
	summary.Error = err.Error()
	s.save(ctx, summary)

	logger.FromContext(ctx).Error().Err(err).Str("status", string(summary.Status)).Msg("batch stopped")
	return err
}

func (s *BatchService) save(ctx context.Context, summary *dto.BatchSummary) {
	if s.store == nil {
		return
	}
	if err := s.store.SaveBatch(summary); err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("failed to store batch summary")
	}
}
