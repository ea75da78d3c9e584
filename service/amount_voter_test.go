package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aashish23092/invoice-reconcile/client"
	"github.com/Aashish23092/invoice-reconcile/logger"
)

// scriptedRecognizer returns canned text per (variant, mode).
type scriptedRecognizer struct {
	texts    map[string]string
	words    map[string][]client.Word
	failures map[string]bool
	calls    atomic.Int64
}

func scriptKey(variant string, mode client.PageSegMode) string {
	return fmt.Sprintf("%s/%d", variant, mode)
}

func (r *scriptedRecognizer) Recognize(_ context.Context, page client.Page, mode client.PageSegMode) (string, error) {
	r.calls.Add(1)
	key := scriptKey(page.Variant, mode)
	if r.failures[key] {
		return "", errors.New("engine crashed")
	}
	return r.texts[key], nil
}

type wordRecognizer struct {
	*scriptedRecognizer
}

func (r wordRecognizer) RecognizeWords(_ context.Context, page client.Page, mode client.PageSegMode) ([]client.Word, error) {
	return r.words[scriptKey(page.Variant, mode)], nil
}

func screenshot() image.Image {
	return image.NewGray(image.Rect(0, 0, 16, 16))
}

func TestAmountVoterRunsFullMatrix(t *testing.T) {
	rec := &scriptedRecognizer{}
	NewAmountVoter(rec).Extract(context.Background(), screenshot())

	assert.Equal(t, int64(4*len(DefaultModes)), rec.calls.Load())
}

func TestAmountVoterSingleCombination(t *testing.T) {
	rec := &scriptedRecognizer{texts: map[string]string{
		scriptKey(VariantOtsu, client.PSMSingleLine): "支付成功\n-42.50\n",
	}}

	amount, ok := NewAmountVoter(rec).Extract(context.Background(), screenshot())

	require.True(t, ok)
	assert.Equal(t, "42.50", amount.StringFixed(2))
}

func TestAmountVoterMajority(t *testing.T) {
	texts := map[string]string{}
	for _, mode := range DefaultModes {
		texts[scriptKey(VariantGray, mode)] = "-12.34"
	}
	for _, mode := range DefaultModes[:3] {
		texts[scriptKey(VariantCLAHE, mode)] = "-99.99"
	}
	texts[scriptKey(VariantAdaptive, client.PSMRawLine)] = "(56.00)"

	for _, workers := range []int{1, 4} {
		voter := NewAmountVoter(&scriptedRecognizer{texts: texts})
		voter.Concurrency = workers

		amount, ok := voter.Extract(context.Background(), screenshot())

		require.True(t, ok)
		assert.Equal(t, "12.34", amount.StringFixed(2), "concurrency %d", workers)
	}
}

func TestAmountVoterTieGoesToFirstEncountered(t *testing.T) {
	rec := &scriptedRecognizer{texts: map[string]string{
		scriptKey(VariantGray, client.PSMAuto):        "(10.00)",
		scriptKey(VariantAdaptive, client.PSMRawLine): "(20.00)",
	}}

	amount, ok := NewAmountVoter(rec).Extract(context.Background(), screenshot())

	require.True(t, ok)
	assert.Equal(t, "10.00", amount.StringFixed(2))
}

func TestAmountVoterSkipsFailedRecognitions(t *testing.T) {
	failures := map[string]bool{}
	for _, variant := range []string{VariantGray, VariantCLAHE, VariantOtsu} {
		for _, mode := range DefaultModes {
			failures[scriptKey(variant, mode)] = true
		}
	}
	rec := &scriptedRecognizer{
		failures: failures,
		texts: map[string]string{
			scriptKey(VariantGray, client.PSMAuto):            "-1.00",
			scriptKey(VariantAdaptive, client.PSMSparseText): "实付 —88.80",
		},
	}

	amount, ok := NewAmountVoter(rec).Extract(context.Background(), screenshot())

	require.True(t, ok)
	assert.Equal(t, "88.80", amount.StringFixed(2))
	assert.Equal(t, int64(4*len(DefaultModes)), rec.calls.Load())
}

func TestAmountVoterIgnoresUnsignedAmounts(t *testing.T) {
	rec := &scriptedRecognizer{texts: map[string]string{
		scriptKey(VariantGray, client.PSMAuto): "支付 12.34\n余额 ¥500.00",
	}}

	_, ok := NewAmountVoter(rec).Extract(context.Background(), screenshot())

	assert.False(t, ok)
}

func TestAmountVoterWindow(t *testing.T) {
	rec := &scriptedRecognizer{texts: map[string]string{
		scriptKey(VariantGray, client.PSMAuto):      "-0.00",
		scriptKey(VariantGray, client.PSMSingleLine): "-1000000.00",
	}}
	_, ok := NewAmountVoter(rec).Extract(context.Background(), screenshot())
	assert.False(t, ok)

	rec.texts[scriptKey(VariantOtsu, client.PSMAuto)] = "−999999.99"
	amount, ok := NewAmountVoter(rec).Extract(context.Background(), screenshot())
	require.True(t, ok)
	assert.Equal(t, "999999.99", amount.StringFixed(2))
}

func TestAmountVoterCandidatesOrder(t *testing.T) {
	rec := &scriptedRecognizer{texts: map[string]string{
		scriptKey(VariantAdaptive, client.PSMAuto): "(3.00)",
		scriptKey(VariantGray, client.PSMRawLine):  "(1.00)",
		scriptKey(VariantCLAHE, client.PSMAuto):    "(2.00)",
	}}

	voter := NewAmountVoter(rec)
	voter.Concurrency = 8
	candidates := voter.Candidates(context.Background(), screenshot())

	require.Len(t, candidates, 3)
	assert.Equal(t, VariantGray, candidates[0].Variant)
	assert.Equal(t, client.PSMRawLine, candidates[0].Mode)
	assert.Equal(t, VariantCLAHE, candidates[1].Variant)
	assert.Equal(t, VariantAdaptive, candidates[2].Variant)
	assert.Equal(t, `\(\d+\.\d{2}\)`, candidates[2].Pattern)
}

func TestAmountVoterTallestPolicy(t *testing.T) {
	rec := wordRecognizer{&scriptedRecognizer{words: map[string][]client.Word{
		scriptKey(VariantGray, client.PSMAuto): {
			{Text: "-5.00", Height: 12},
			{Text: "-88.00", Height: 40},
			{Text: "12.00", Height: 90},
		},
	}}}

	voter := NewAmountVoter(rec)
	voter.Consensus = ConsensusTallest
	amount, ok := voter.Extract(context.Background(), screenshot())

	require.True(t, ok)
	assert.Equal(t, "88.00", amount.StringFixed(2))
}

func TestAmountVoterTallestWithoutWordBoxes(t *testing.T) {
	rec := &scriptedRecognizer{texts: map[string]string{
		scriptKey(VariantGray, client.PSMAuto): "-7.00 -88.00",
	}}
	buf := &bytes.Buffer{}
	ctx := logger.WithContext(context.Background(), logger.NewWithWriter(zerolog.SyncWriter(buf)))

	voter := NewAmountVoter(rec)
	voter.Consensus = ConsensusTallest
	amount, ok := voter.Extract(ctx, screenshot())

	require.True(t, ok)
	assert.Equal(t, "7.00", amount.StringFixed(2))
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), "no word boxes")
}

func TestAmountVoterCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec := &scriptedRecognizer{}

	_, ok := NewAmountVoter(rec).Extract(ctx, screenshot())

	assert.False(t, ok)
	assert.Zero(t, rec.calls.Load())
}

func TestVote(t *testing.T) {
	c := func(v string) ExtractionCandidate {
		return ExtractionCandidate{Value: decimal.RequireFromString(v)}
	}

	_, ok := Vote(nil)
	assert.False(t, ok)

	amount, ok := Vote([]ExtractionCandidate{c("1.00"), c("2.00"), c("2.0"), c("1.001")})
	require.True(t, ok)
	// "1.00" and "1.001" share a two-decimal key, as do "2.00" and "2.0"; 1.00 was first
	assert.Equal(t, "1.00", amount.StringFixed(2))
}

func TestParseNegativeAmount(t *testing.T) {
	cases := map[string]string{
		"-12.34":   "12.34",
		"— 12.34":  "12.34",
		"(7.50)":   "7.50",
		"¥-3.20":   "3.20",
		"支付 −9.99": "9.99",
	}
	for in, want := range cases {
		got, ok := parseNegativeAmount(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got.StringFixed(2), in)
	}

	_, ok := parseNegativeAmount("总计 15.00")
	assert.False(t, ok)
}
