package service

import (
	"context"
	"image"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Aashish23092/invoice-reconcile/client"
	"github.com/Aashish23092/invoice-reconcile/logger"
)

// Recognizer turns one page image into text under a segmentation mode.
type Recognizer interface {
	Recognize(ctx context.Context, page client.Page, mode client.PageSegMode) (string, error)
}

// WordRecognizer additionally reports word boxes.
type WordRecognizer interface {
	RecognizeWords(ctx context.Context, page client.Page, mode client.PageSegMode) ([]client.Word, error)
}

// Consensus policies.
const (
	ConsensusMajority = "majority"
	ConsensusTallest  = "tallest"
)

// DefaultModes lists the segmentation modes tried on every variant.
var DefaultModes = []client.PageSegMode{
	client.PSMAuto,
	client.PSMSingleColumn,
	client.PSMSingleBlock,
	client.PSMSingleLine,
	client.PSMSingleWord,
	client.PSMSparseText,
	client.PSMSparseOSD,
	client.PSMRawLine,
}

// DefaultAmountPatterns match amounts the way payment apps print them.
// Only signed or parenthesized matches become candidates.
var DefaultAmountPatterns = compilePatterns(
	`-\d+\.\d{2}`,
	`[-—−]\s*\d+\.\d{2}`,
	`[-—−]\d+\.\d{2}`,
	`\(\d+\.\d{2}\)`,
	`支付\s*[-—−]?\s*\d+\.\d{2}`,
	`¥\s*[-—−]?\d+\.\d{2}`,
	`实付\s*[-—−]?\s*\d+\.\d{2}`,
	`付款\s*[-—−]?\s*\d+\.\d{2}`,
	`总计\s*[-—−]?\s*\d+\.\d{2}`,
	`(?i)(?:amount|total|paid)\s*[:：]?\s*[-—−]\s*\d+\.\d{2}`,
)

var candidateNumber = regexp.MustCompile(`\d+\.\d{2}`)

func compilePatterns(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// ExtractionCandidate is one amount read by one (variant, mode, pattern).
type ExtractionCandidate struct {
	Value   decimal.Decimal
	Height  int
	Variant string
	Mode    client.PageSegMode
	Pattern string
}

// AmountWindow bounds plausible amounts: Min <= v < Max and v > 0.
type AmountWindow struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func DefaultAmountWindow() AmountWindow {
	return AmountWindow{
		Min: decimal.RequireFromString("0.01"),
		Max: decimal.NewFromInt(1000000),
	}
}

func (w AmountWindow) Contains(v decimal.Decimal) bool {
	return v.IsPositive() && v.GreaterThanOrEqual(w.Min) && v.LessThan(w.Max)
}

// AmountVoter recovers the paid amount from a payment screenshot by running
// every preprocessing variant through every segmentation mode and voting
// over the amounts found.
type AmountVoter struct {
	Recognizer  Recognizer
	Modes       []client.PageSegMode
	Patterns    []*regexp.Regexp
	Window      AmountWindow
	Consensus   string
	Concurrency int
}

func NewAmountVoter(recognizer Recognizer) *AmountVoter {
	return &AmountVoter{
		Recognizer:  recognizer,
		Modes:       DefaultModes,
		Patterns:    DefaultAmountPatterns,
		Window:      DefaultAmountWindow(),
		Consensus:   ConsensusMajority,
		Concurrency: 1,
	}
}

// Extract returns the consensus amount, or false when no candidate survived.
func (v *AmountVoter) Extract(ctx context.Context, img image.Image) (decimal.Decimal, bool) {
	candidates := v.Candidates(ctx, img)

	var (
		amount decimal.Decimal
		ok     bool
	)
	if v.Consensus == ConsensusTallest {
		amount, ok = Tallest(candidates)
	} else {
		amount, ok = Vote(candidates)
	}

	log := logger.FromContext(ctx)
	if ok {
		log.Debug().Str("amount", amount.StringFixed(2)).Int("candidates", len(candidates)).Msg("payment amount selected")
	} else {
		log.Debug().Int("candidates", len(candidates)).Msg("no payment amount found")
	}
	return amount, ok
}

type recognition struct {
	page client.Page
	mode client.PageSegMode
	text string
	// words is set instead of text under the tallest policy
	words []client.Word
	ok    bool
}

// Candidates runs the recognition matrix and returns every candidate in
// (variant, mode, pattern, match) order. Recognition may run concurrently;
// the returned order never depends on it.
func (v *AmountVoter) Candidates(ctx context.Context, img image.Image) []ExtractionCandidate {
	log := logger.FromContext(ctx)

	pages := BuildVariants(img)
	runs := make([]recognition, 0, len(pages)*len(v.Modes))
	for _, page := range pages {
		for _, mode := range v.Modes {
			runs = append(runs, recognition{page: page, mode: mode})
		}
	}

	words, useWords := v.Recognizer.(WordRecognizer)
	if v.Consensus == ConsensusTallest && !useWords {
		log.Warn().Msg("recognizer reports no word boxes, tallest consensus falls back to the first candidate")
	}
	useWords = useWords && v.Consensus == ConsensusTallest

	g := new(errgroup.Group)
	g.SetLimit(max(1, v.Concurrency))
	for i := range runs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			run := &runs[i]
			var err error
			if useWords {
				run.words, err = words.RecognizeWords(ctx, run.page, run.mode)
			} else {
				run.text, err = v.Recognizer.Recognize(ctx, run.page, run.mode)
			}
			if err != nil {
				log.Warn().Err(err).Str("variant", run.page.Variant).Str("mode", run.mode.String()).Msg("recognition failed, skipping")
				return nil
			}
			run.ok = true
			return nil
		})
	}
	_ = g.Wait()

	var candidates []ExtractionCandidate
	for _, run := range runs {
		if !run.ok {
			continue
		}
		if useWords {
			for _, w := range run.words {
				candidates = append(candidates, v.match(w.Text, w.Height, run.page.Variant, run.mode)...)
			}
			continue
		}
		candidates = append(candidates, v.match(run.text, 0, run.page.Variant, run.mode)...)
	}
	return candidates
}

func (v *AmountVoter) match(text string, height int, variant string, mode client.PageSegMode) []ExtractionCandidate {
	var out []ExtractionCandidate
	for _, re := range v.Patterns {
		for _, m := range re.FindAllString(text, -1) {
			value, ok := parseNegativeAmount(m)
			if !ok || !v.Window.Contains(value) {
				continue
			}
			out = append(out, ExtractionCandidate{
				Value:   value,
				Height:  height,
				Variant: variant,
				Mode:    mode,
				Pattern: re.String(),
			})
		}
	}
	return out
}

// parseNegativeAmount returns the magnitude of a matched amount if it was
// printed as negative, either with a dash of any kind or in parentheses.
func parseNegativeAmount(match string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(match)
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	if !negative {
		negative = strings.ContainsAny(s, "-—−")
	}
	if !negative {
		return decimal.Decimal{}, false
	}

	num := candidateNumber.FindString(s)
	if num == "" {
		return decimal.Decimal{}, false
	}
	value, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return value.Abs(), true
}

// Vote returns the most frequent two-decimal value. Ties go to the value
// seen first.
func Vote(candidates []ExtractionCandidate) (decimal.Decimal, bool) {
	counts := make(map[string]int)
	values := make(map[string]decimal.Decimal)
	var order []string

	for _, c := range candidates {
		key := c.Value.StringFixed(2)
		if _, seen := counts[key]; !seen {
			order = append(order, key)
			values[key] = c.Value.Round(2)
		}
		counts[key]++
	}
	if len(order) == 0 {
		return decimal.Decimal{}, false
	}

	best := order[0]
	for _, key := range order[1:] {
		if counts[key] > counts[best] {
			best = key
		}
	}
	return values[best], true
}

// Tallest returns the candidate rendered with the largest glyphs. Ties go
// to the candidate seen first.
func Tallest(candidates []ExtractionCandidate) (decimal.Decimal, bool) {
	if len(candidates) == 0 {
		return decimal.Decimal{}, false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Height > best.Height {
			best = c
		}
	}
	return best.Value.Round(2), true
}
