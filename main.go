package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Aashish23092/invoice-reconcile/client"
	"github.com/Aashish23092/invoice-reconcile/config"
	"github.com/Aashish23092/invoice-reconcile/dto"
	"github.com/Aashish23092/invoice-reconcile/handler"
	"github.com/Aashish23092/invoice-reconcile/logger"
	"github.com/Aashish23092/invoice-reconcile/service"
	"github.com/Aashish23092/invoice-reconcile/store"
)

func main() {
	fs := ff.NewFlagSet("invoice-reconcile")
	var (
		configPath = fs.StringLong("config", "", "YAML configuration file (optional)")
		dir        = fs.StringLong("dir", "", "Folder of invoices and payment screenshots to reconcile once")
		outDir     = fs.StringLong("out", "", "Output directory (overrides output_dir)")
		serve      = fs.BoolLong("serve", "Run the HTTP server instead of a one-shot batch")
		port       = fs.StringLong("port", "", "HTTP server port (overrides server_port)")
		workers    = fs.IntLong("workers", 0, "Concurrent files (overrides workers)")
		tessdata   = fs.StringLong("tessdata", "", "Tesseract tessdata directory (overrides ocr.tessdata)")
		marker     = fs.StringLong("marker", "", "Payment screenshot filename marker (overrides match.marker)")
		tolerance  = fs.StringLong("tolerance", "", "Mismatch threshold in percent (overrides reconcile.tolerance)")
		dbPath     = fs.StringLong("db", "", "Batch database file (overrides db_path)")
		debug      = fs.BoolLong("debug", "Enable debug logging")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECONCILE"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log := logger.New()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// explicit flags win over the file and environment
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *port != "" {
		cfg.ServerPort = *port
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}
	if *tessdata != "" {
		cfg.OCR.TessdataPrefix = *tessdata
	}
	if *marker != "" {
		cfg.Match.Marker = *marker
	}
	if *tolerance != "" {
		t, err := strconv.ParseFloat(*tolerance, 64)
		if err != nil {
			log.Fatal().Err(err).Str("tolerance", *tolerance).Msg("invalid tolerance")
		}
		cfg.Reconcile.Tolerance = t
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Recognition engines are resolved before any file is touched.
	paymentOCR := client.NewTesseractClient(cfg.OCR.TessdataPrefix, cfg.OCR.PaymentLanguages...)
	invoiceOCR := paymentOCR.WithLanguages(cfg.OCR.InvoiceLanguages...)
	for _, c := range []*client.TesseractClient{paymentOCR, invoiceOCR} {
		version, err := c.ValidateEngine()
		if err != nil {
			log.Fatal().Err(err).Str("tessdata", cfg.OCR.TessdataPrefix).Msg("recognition engine unavailable")
		}
		log.Info().Str("version", version).Strs("languages", c.Languages()).Msg("recognition engine ready")
	}

	if !*serve && *dir == "" {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: either --dir or --serve is required")
		os.Exit(1)
	}

	pdfProcessor := service.NewPDFProcessor()
	batchCfg := service.BatchConfig{
		Invoices:     service.NewInvoiceService(pdfProcessor, invoiceOCR),
		Payments:     newAmountVoter(cfg, paymentOCR),
		PDFProcessor: pdfProcessor,
		Matcher:      service.NewRecordMatcher(cfg.Match.Marker),
		Engine:       service.NewReconciliationEngine(cfg.Reconcile.Tolerance),
		Workers:      cfg.Workers,
		OutputDir:    cfg.OutputDir,
	}

	if *serve {
		runServer(log, cfg, batchCfg)
		return
	}
	runOnce(log, *dir, batchCfg)
}

func newAmountVoter(cfg *config.Config, recognizer service.Recognizer) *service.AmountVoter {
	voter := service.NewAmountVoter(recognizer)
	voter.Consensus = cfg.OCR.Consensus
	voter.Concurrency = cfg.OCR.Concurrency

	minAmount := cfg.OCR.MinAmount
	if voter.Consensus == service.ConsensusTallest {
		// the tallest line is often a balance or a short code below one unit
		minAmount = max(minAmount, 1)
	}
	voter.Window = service.AmountWindow{
		Min: decimal.NewFromFloat(minAmount),
		Max: decimal.NewFromFloat(cfg.OCR.MaxAmount),
	}
	return voter
}

func runOnce(log zerolog.Logger, dir string, batchCfg service.BatchConfig) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithContext(ctx, log)

	result, err := service.NewBatchService(batchCfg).Run(ctx, "", dto.StartBatchRequest{FolderPath: dir})
	if err != nil {
		log.Fatal().Err(err).Str("folder", dir).Msg("batch failed")
	}

	s := result.Summary
	fmt.Printf("invoices:    %d scanned, %d extracted, %d failed\n", s.InvoicesScanned, s.InvoicesExtracted, s.InvoicesFailed)
	fmt.Printf("screenshots: %d scanned, %d extracted, %d failed, %d without amount\n",
		s.ScreenshotsScanned, s.ScreenshotsExtracted, s.ScreenshotsFailed, s.ScreenshotsNoAmount)
	fmt.Printf("matched:     %d (%d flagged for review)\n", s.Matched, s.Mismatched)
	fmt.Printf("unmatched:   %d invoices, %d payments\n", s.UnmatchedInvoices, s.UnmatchedPayments)
	fmt.Printf("report:      %s\n", s.ReportPath)
	if s.MergedInvoicesPath != "" {
		fmt.Printf("invoices:    %s\n", s.MergedInvoicesPath)
	}
	if s.MergedPaymentsPath != "" {
		fmt.Printf("payments:    %s\n", s.MergedPaymentsPath)
	}
}

func runServer(log zerolog.Logger, cfg *config.Config, batchCfg service.BatchConfig) {
	db, err := store.NewBoltStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	defer db.Close()

	batchCfg.Store = db
	jobs := service.NewJobManager(service.NewBatchService(batchCfg), db, logger.Console(), cfg.MaxEvents)
	batchHandler := handler.NewBatchHandler(jobs, log)

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "Invoice Reconciliation",
		})
	})

	batchHandler.Register(router.Group("/api/v1"))

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("starting invoice reconciliation service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	if err := jobs.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("batches did not stop in time")
	}
}
