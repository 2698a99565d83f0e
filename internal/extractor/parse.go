package extractor

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"1/2/06",
	"02.01.2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"January 2, 2006",
	"January 2 2006",
	"2 Jan 2006",
	"02 Jan 2006",
	"2 January 2006",
}

var (
	dateTokenRe = regexp.MustCompile(`(?i)\b(\d{4}[-/]\d{1,2}[-/]\d{1,2}|\d{1,2}[/.]\d{1,2}[/.]\d{2,4}|` +
		`(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}|` +
		`\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{4})\b`)
	moneyTokenRe = regexp.MustCompile(`(?:[$€£]\s?)?(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)`)
)

// ParseAmount parses a user- or OCR-supplied money string such as "$1,234.50".
// Negative and empty amounts are rejected.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("$", "", "€", "", "£", "", ",", "", " ", "").Replace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

// ParseDate accepts the layouts receipts commonly use.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FindDate returns the first parseable date in text formatted as YYYY-MM-DD.
func FindDate(text string) (string, bool) {
	for _, m := range dateTokenRe.FindAllString(text, -1) {
		if t, ok := ParseDate(strings.ReplaceAll(m, "-", "/")); ok {
			return t.Format(DateLayout), true
		}
		if t, ok := ParseDate(m); ok {
			return t.Format(DateLayout), true
		}
	}
	return "", false
}

// DetectCurrency looks for a currency symbol or ISO code in text.
func DetectCurrency(text string) string {
	upper := strings.ToUpper(text)
	switch {
	case strings.Contains(text, "€") || strings.Contains(upper, "EUR"):
		return "EUR"
	case strings.Contains(text, "£") || strings.Contains(upper, "GBP"):
		return "GBP"
	case strings.Contains(upper, "RUB") || strings.Contains(text, "₽"):
		return "RUB"
	case strings.Contains(text, "$") || strings.Contains(upper, "USD"):
		return "USD"
	}
	return ""
}

func amountsIn(line string) []decimal.Decimal {
	var out []decimal.Decimal
	for _, m := range moneyTokenRe.FindAllStringSubmatch(line, -1) {
		if d, ok := ParseAmount(m[1]); ok {
			out = append(out, d)
		}
	}
	return out
}
