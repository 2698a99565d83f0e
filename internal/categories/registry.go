// Package categories holds the fixed expense category list and the
// payment-method affinity table shared by every extractor.
package categories

import "strings"

const (
	FoodDining     = "Food & Dining"
	Transportation = "Transportation"
	Shopping       = "Shopping"
	Entertainment  = "Entertainment"
	Utilities      = "Bills & Utilities"
	Healthcare     = "Healthcare"
	Travel         = "Travel"
	Education      = "Education"
	Business       = "Business"
	Other          = "Other"
)

const (
	CreditCard    = "Credit Card"
	DebitCard     = "Debit Card"
	Cash          = "Cash"
	DigitalWallet = "Digital Wallet"
	BankTransfer  = "Bank Transfer"
)

// all is ordered; the order is the default suggestion order.
var all = []string{
	FoodDining,
	Shopping,
	Transportation,
	Entertainment,
	Utilities,
	Healthcare,
	Travel,
	Education,
	Business,
	Other,
}

var paymentAffinity = map[string][]string{
	FoodDining:     {CreditCard, DebitCard, Cash, DigitalWallet},
	Shopping:       {CreditCard, DebitCard, DigitalWallet},
	Transportation: {DigitalWallet, CreditCard, DebitCard, Cash},
	Entertainment:  {CreditCard, DigitalWallet, DebitCard},
	Utilities:      {BankTransfer, DebitCard, CreditCard},
	Healthcare:     {DebitCard, CreditCard, Cash},
	Travel:         {CreditCard, DigitalWallet},
	Education:      {BankTransfer, CreditCard, DebitCard},
	Business:       {CreditCard, BankTransfer},
	Other:          {CreditCard, DebitCard, Cash},
}

var paymentMethods = []string{CreditCard, DebitCard, Cash, DigitalWallet, BankTransfer}

// All returns a copy of the registry in default order.
func All() []string {
	out := make([]string, len(all))
	copy(out, all)
	return out
}

// PaymentMethods returns every known payment method.
func PaymentMethods() []string {
	out := make([]string, len(paymentMethods))
	copy(out, paymentMethods)
	return out
}

// Valid reports whether name is an exact registry entry.
func Valid(name string) bool {
	for _, c := range all {
		if c == name {
			return true
		}
	}
	return false
}

// Lookup resolves name case-insensitively to its canonical spelling.
func Lookup(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, c := range all {
		if strings.EqualFold(c, name) {
			return c, true
		}
	}
	return "", false
}

// Affinity returns the payment methods typical for a category, most likely
// first. Unknown categories get the Other list.
func Affinity(category string) []string {
	methods, ok := paymentAffinity[category]
	if !ok {
		methods = paymentAffinity[Other]
	}
	out := make([]string, len(methods))
	copy(out, methods)
	return out
}

// DefaultPaymentMethod is the first affinity entry of category.
func DefaultPaymentMethod(category string) string {
	return Affinity(category)[0]
}

// AllowsPaymentMethod reports whether method is on category's affinity list.
func AllowsPaymentMethod(category, method string) bool {
	for _, m := range Affinity(category) {
		if m == method {
			return true
		}
	}
	return false
}

// LookupPaymentMethod resolves a payment method name case-insensitively.
func LookupPaymentMethod(name string) (string, bool) {
	name = strings.TrimSpace(name)
	for _, m := range paymentMethods {
		if strings.EqualFold(m, name) {
			return m, true
		}
	}
	return "", false
}
