package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultTessdataPrefix = "/usr/share/tesseract-ocr/5/tessdata"

type Config struct {
	ServerPort string          `yaml:"server_port"`
	OutputDir  string          `yaml:"output_dir"`
	DBPath     string          `yaml:"db_path"`
	Workers    int             `yaml:"workers"`
	OCR        OCRConfig       `yaml:"ocr"`
	Match      MatchConfig     `yaml:"match"`
	Reconcile  ReconcileConfig `yaml:"reconcile"`
	MaxEvents  int             `yaml:"max_events"`
}

type OCRConfig struct {
	// TessdataPrefix is the directory holding *.traineddata files.
	TessdataPrefix string `yaml:"tessdata"`
	// PaymentLanguages are used for screenshots; payment apps render digits in Latin script.
	PaymentLanguages []string `yaml:"payment_languages"`
	// InvoiceLanguages are used when a scanned invoice has to be OCR'd.
	InvoiceLanguages []string `yaml:"invoice_languages"`
	// Consensus is "majority" or "tallest".
	Consensus string `yaml:"consensus"`

	MinAmount   float64 `yaml:"min_amount"`
	MaxAmount   float64 `yaml:"max_amount"`
	Concurrency int     `yaml:"concurrency"`
}

type MatchConfig struct {
	// Marker identifies payment screenshots by filename, case-insensitively.
	Marker string `yaml:"marker"`
}

type ReconcileConfig struct {
	// Tolerance is the error percentage above which a pair is flagged.
	Tolerance float64 `yaml:"tolerance"`
}

// Default returns the configuration used when no file or env is present.
func Default() *Config {
	return &Config{
		ServerPort: "8080",
		OutputDir:  "output",
		DBPath:     "reconcile.db",
		Workers:    runtime.NumCPU(),
		OCR: OCRConfig{
			TessdataPrefix:   DefaultTessdataPrefix,
			PaymentLanguages: []string{"eng"},
			InvoiceLanguages: []string{"chi_sim", "eng"},
			Consensus:        "majority",
			MinAmount:        0.01,
			MaxAmount:        1000000,
			Concurrency:      1,
		},
		Match:     MatchConfig{Marker: "log"},
		Reconcile: ReconcileConfig{Tolerance: 10},
		MaxEvents: 1024,
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// and environment overrides, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		cfg.ServerPort = v
	}
	if v := os.Getenv("TESSDATA_PREFIX"); v != "" {
		cfg.OCR.TessdataPrefix = v
	}
	// OCR_LANGUAGES applies to payment screenshots only
	if v := os.Getenv("OCR_LANGUAGES"); v != "" {
		cfg.OCR.PaymentLanguages = splitList(v)
	}
	if v := os.Getenv("INVOICE_OCR_LANGUAGES"); v != "" {
		cfg.OCR.InvoiceLanguages = splitList(v)
	}
	if v := os.Getenv("OUTPUT_DIR"); v != "" {
		cfg.OutputDir = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PAYMENT_MARKER"); v != "" {
		cfg.Match.Marker = v
	}
	if v := os.Getenv("RECONCILE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RECONCILE_WORKERS %q: %w", v, err)
		}
		cfg.Workers = n
	}
	if v := os.Getenv("RECONCILE_TOLERANCE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid RECONCILE_TOLERANCE %q: %w", v, err)
		}
		cfg.Reconcile.Tolerance = f
	}
	return nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.OCR.Concurrency <= 0 {
		c.OCR.Concurrency = 1
	}
	if strings.TrimSpace(c.Match.Marker) == "" {
		return fmt.Errorf("match.marker must not be empty")
	}
	if c.Reconcile.Tolerance < 0 {
		return fmt.Errorf("reconcile.tolerance must be >= 0, got %v", c.Reconcile.Tolerance)
	}
	if c.OCR.MaxAmount <= c.OCR.MinAmount {
		return fmt.Errorf("ocr.max_amount (%v) must exceed ocr.min_amount (%v)", c.OCR.MaxAmount, c.OCR.MinAmount)
	}
	switch c.OCR.Consensus {
	case "majority", "tallest":
	default:
		return fmt.Errorf("ocr.consensus must be majority or tallest, got %q", c.OCR.Consensus)
	}
	if len(c.OCR.PaymentLanguages) == 0 {
		c.OCR.PaymentLanguages = []string{"eng"}
	}
	if len(c.OCR.InvoiceLanguages) == 0 {
		c.OCR.InvoiceLanguages = c.OCR.PaymentLanguages
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '+' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
