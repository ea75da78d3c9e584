package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Aashish23092/invoice-reconcile/dto"
)

// fieldRule pairs a pattern with the normalizer applied to its first capture.
type fieldRule struct {
	re        *regexp.Regexp
	normalize func(string) string
}

func rule(pattern string, normalize func(string) string) fieldRule {
	return fieldRule{re: regexp.MustCompile(pattern), normalize: normalize}
}

const datePart = `(\d{4}[-年/]\d{1,2}[-月/]\d{1,2}日?)`

var invoiceNumberRules = []fieldRule{
	rule(`发票号码[:：]\s*(\w+)`, strings.TrimSpace),
	rule(`发票号码\s*[:：]?\s*(\w+)`, strings.TrimSpace),
	rule(`NO[.：]\s*(\w+)`, strings.TrimSpace),
	rule(`发票代码[:：]\s*(\w+)`, strings.TrimSpace),
	rule(`(?i)invoice\s*(?:no|number)\.?[:：]?\s*(\w+)`, strings.TrimSpace),
	rule(`[Nn][Oo]\.?\s*(\w+)`, strings.TrimSpace),
}

var invoiceDateRules = []fieldRule{
	rule(`开票日期[:：]\s*`+datePart, NormalizeDate),
	rule(`开票日期\s*[:：]?\s*`+datePart, NormalizeDate),
	rule(`日期[:：]\s*`+datePart, NormalizeDate),
	rule(datePart+`\s*日期`, NormalizeDate),
	rule(`(?i)invoice\s*date[:：]?\s*`+datePart, NormalizeDate),
}

var supplierRules = []fieldRule{
	rule(`名\s*称[:：]\s*([^\n]*)`, CleanName),
	rule(`销\s*售\s*方[:：]\s*([^\n]*)`, CleanName),
	rule(`供\s*应\s*商[:：]\s*([^\n]*)`, CleanName),
	rule(`销售方名称[:：]\s*([^\n]*)`, CleanName),
	rule(`公司名称[:：]\s*([^\n]*)`, CleanName),
	rule(`(?i)(?:seller|supplier|vendor)[:：]\s*([^\n]*)`, CleanName),
}

var itemNameRules = []fieldRule{
	rule(`货物或应税劳务、服务名称\s*([^\n]*)`, CleanName),
	rule(`商品名称\s*([^\n]*)`, CleanName),
	rule(`项目名称\s*([^\n]*)`, CleanName),
	rule(`商品或服务名称\s*([^\n]*)`, CleanName),
}

const amountNumber = `(\d[\d,]*(?:\.\d+)?)`

// Every match of every amount pattern is a candidate; the largest wins.
var amountPatterns = compileAll(
	`金额[:：]\s*[¥￥]?\s*`+amountNumber,
	`合\s*计[:：]\s*[¥￥]?\s*`+amountNumber,
	`价税合计[:：]\s*[¥￥]?\s*`+amountNumber,
	`小写[:：]\s*[¥￥]?\s*`+amountNumber,
	`[¥￥]\s*`+amountNumber,
	`人民币\s*[¥￥]?\s*`+amountNumber,
	`总额[:：]\s*[¥￥]?\s*`+amountNumber,
	`应付金额[:：]\s*[¥￥]?\s*`+amountNumber,
	`(?i)total[:：]\s*[¥￥$]?\s*`+amountNumber,
)

var (
	dateSeparators = strings.NewReplacer("年", "-", "月", "-", "/", "-", "日", "")
	nameNoise      = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// ParseInvoice extracts structured invoice fields from document text.
func ParseInvoice(text, filename string) dto.InvoiceRecord {
	return ParseInvoiceWithLogger(text, filename, zerolog.Nop())
}

// ParseInvoiceWithLogger is ParseInvoice with diagnostics written to log.
func ParseInvoiceWithLogger(text, filename string, log zerolog.Logger) dto.InvoiceRecord {
	rec := dto.InvoiceRecord{
		Filename:      filename,
		InvoiceNumber: firstMatch(text, invoiceNumberRules),
		InvoiceDate:   firstMatch(text, invoiceDateRules),
		Supplier:      firstMatch(text, supplierRules),
		Amount:        maxAmount(text),
		ItemName:      firstMatch(text, itemNameRules),
	}

	if rec.ItemName == nil {
		if name := ItemNameFromFilename(filename); name != "" {
			rec.ItemName = &name
			log.Debug().Str("file", filename).Str("item_name", name).Msg("item name taken from filename")
		}
	}

	ev := log.Debug().Str("file", filename).
		Str("invoice_number", dto.StringValue(rec.InvoiceNumber)).
		Str("invoice_date", dto.StringValue(rec.InvoiceDate)).
		Str("supplier", dto.StringValue(rec.Supplier))
	if rec.Amount.Valid {
		ev = ev.Str("amount", rec.Amount.Decimal.StringFixed(2))
	}
	ev.Msg("invoice fields extracted")

	return rec
}

// firstMatch evaluates rules in order and stops at the first pattern that
// matches. An empty normalized capture yields nil.
func firstMatch(text string, rules []fieldRule) *string {
	for _, r := range rules {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		return dto.StringPtr(r.normalize(m[1]))
	}
	return nil
}

func maxAmount(text string) decimal.NullDecimal {
	var best decimal.NullDecimal
	for _, re := range amountPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			v, err := decimal.NewFromString(strings.ReplaceAll(m[1], ",", ""))
			if err != nil {
				continue
			}
			if !best.Valid || v.GreaterThan(best.Decimal) {
				best = decimal.NullDecimal{Decimal: v, Valid: true}
			}
		}
	}
	return best
}

// NormalizeDate turns "2024年3月5日" or "2024/03/05" into "2024-03-05".
func NormalizeDate(s string) string {
	s = dateSeparators.Replace(strings.TrimSpace(s))
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return s
	}
	for i := 1; i < 3; i++ {
		if len(parts[i]) == 1 {
			parts[i] = "0" + parts[i]
		}
	}
	return fmt.Sprintf("%s-%s-%s", parts[0], parts[1], parts[2])
}

// CleanName drops layout noise, keeping letters (CJK included), digits,
// underscores and whitespace.
func CleanName(s string) string {
	return strings.TrimSpace(nameNoise.ReplaceAllString(s, ""))
}
