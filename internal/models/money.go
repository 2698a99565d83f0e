package models

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

const DefaultCurrency = money.USD

// NormalizeCurrency upper-cases code and falls back to DefaultCurrency for
// codes go-money does not know.
func NormalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || money.GetCurrency(code) == nil {
		return DefaultCurrency
	}
	return code
}

// KnownCurrency reports whether go-money knows code.
func KnownCurrency(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	return code != "" && money.GetCurrency(code) != nil
}

// FormatAmount renders amount with the currency's grapheme and fraction,
// e.g. "$12.00".
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(NormalizeCurrency(currency))
	minor := amount.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}
