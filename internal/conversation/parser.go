package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"expense-intake/internal/categories"
	"expense-intake/internal/extractor"
	"expense-intake/internal/models"
)

// Intent is the coarse class of a reply to a confirmation prompt.
type Intent int

const (
	IntentOther Intent = iota
	IntentAffirmative
	IntentNegative
)

const stopWords = `for|on|yesterday|today|with|using|via|by|last|this|and|paid|` +
	`(?:\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\s+(?:days?|weeks?|months?)\s+ago`

var (
	amountRe = regexp.MustCompile(`(?i)(?:[$€£]\s?(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?))|` +
		`(?:\b(\d+(?:\.\d{1,2})?)\s*(?:dollars?|usd|bucks|euros?|eur|pounds?|gbp)\b)`)
	merchantRe    = regexp.MustCompile(`(?i)\b(?:at|from)\s+(.+?)(?:\s+(?:` + stopWords + `)\b|[,!?;]|\.(?:\s|$)|$)`)
	descriptionRe = regexp.MustCompile(`(?i)\bfor\s+(.+?)(?:\s+(?:at|from|` + stopWords + `)\b|[,!?;]|\.(?:\s|$)|$)`)
	relativeRe    = regexp.MustCompile(`(?i)\b(\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)\s+(day|week|month)s?\s+ago\b`)
	todayRe       = regexp.MustCompile(`(?i)\btoday\b`)
	yesterdayRe   = regexp.MustCompile(`(?i)\byesterday\b`)
	bareAmountRe  = regexp.MustCompile(`(?i)^(?:[$€£]\s?)?(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)(?:\s*(?:dollars?|usd|bucks|euros?|eur|pounds?|gbp))?$`)

	negativeRe    = regexp.MustCompile(`(?i)\b(no|nope|nah|wrong|incorrect|change|edit|modify|fix|update|not right|not correct)\b`)
	affirmativeRe = regexp.MustCompile(`(?i)\b(yes|yeah|yep|yup|sure|ok|okay|correct|confirm|confirmed|save|looks good|perfect|right|submit|done|go ahead)\b`)
)

// fillerObjects are never a description: "save it for me".
var fillerObjects = map[string]bool{
	"me": true, "us": true, "it": true, "that": true, "this": true, "them": true,
	"you": true, "now": true, "later": true, "sure": true,
}

// maxMerchantWords bounds a bare reply read as a merchant name.
const maxMerchantWords = 6

var numberWords = map[string]int{
	"a": 1, "an": 1, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6,
	"seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12,
}

type alias struct {
	re       *regexp.Regexp
	resolved string
}

var categoryAliases = []alias{
	{regexp.MustCompile(`(?i)\b(food|dining)\b`), categories.FoodDining},
	{regexp.MustCompile(`(?i)\btransport(ation)?\b`), categories.Transportation},
	{regexp.MustCompile(`(?i)\bshopping\b`), categories.Shopping},
	{regexp.MustCompile(`(?i)\bentertainment\b`), categories.Entertainment},
	{regexp.MustCompile(`(?i)\b(bills|utilities)\b`), categories.Utilities},
	{regexp.MustCompile(`(?i)\b(healthcare|health|medical)\b`), categories.Healthcare},
	{regexp.MustCompile(`(?i)\btravel\b`), categories.Travel},
	{regexp.MustCompile(`(?i)\beducation\b`), categories.Education},
	{regexp.MustCompile(`(?i)\bbusiness\b`), categories.Business},
}

var paymentAliases = []alias{
	{regexp.MustCompile(`(?i)\b(debit card|debit)\b`), categories.DebitCard},
	{regexp.MustCompile(`(?i)\b(credit card|credit|visa|mastercard|amex)\b`), categories.CreditCard},
	{regexp.MustCompile(`(?i)\bcash\b`), categories.Cash},
	{regexp.MustCompile(`(?i)\b(apple pay|google pay|paypal|venmo|wallet)\b`), categories.DigitalWallet},
	{regexp.MustCompile(`(?i)\b(bank transfer|wire transfer|transfer)\b`), categories.BankTransfer},
}

// Parser pulls expense fields out of one chat message. Relative dates are
// resolved against now at the time of parsing.
type Parser struct {
	now func() time.Time
}

func NewParser(now func() time.Time) *Parser {
	if now == nil {
		now = time.Now
	}
	return &Parser{now: now}
}

// Extract returns only the fields the message mentions.
func (p *Parser) Extract(text string) models.ExpenseDraft {
	var d models.ExpenseDraft

	if m := amountRe.FindStringSubmatch(text); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if amount, ok := extractor.ParseAmount(raw); ok {
			d.Amount = amount.String()
		}
		d.Currency = currencyOf(m[0])
	}

	if m := merchantRe.FindStringSubmatch(text); m != nil {
		if merchant := cleanPhrase(m[1]); merchant != "" && !startsWithAmount(merchant) {
			d.Merchant = merchant
		}
	}

	if m := descriptionRe.FindStringSubmatch(text); m != nil {
		if desc := cleanPhrase(m[1]); desc != "" && !startsWithAmount(desc) && !fillerObjects[strings.ToLower(desc)] {
			d.Description = desc
		}
	}

	d.Date = p.date(text)

	for _, a := range categoryAliases {
		if a.re.MatchString(text) {
			d.Category = a.resolved
			break
		}
	}
	for _, a := range paymentAliases {
		if a.re.MatchString(text) {
			d.PaymentMethod = a.resolved
			break
		}
	}

	return d
}

func (p *Parser) date(text string) string {
	if d, ok := extractor.FindDate(text); ok {
		return d
	}

	now := p.now()
	if m := relativeRe.FindStringSubmatch(text); m != nil {
		n, ok := numberWords[strings.ToLower(m[1])]
		if !ok {
			n, _ = strconv.Atoi(m[1])
		}
		switch strings.ToLower(m[2]) {
		case "day":
			return now.AddDate(0, 0, -n).Format(extractor.DateLayout)
		case "week":
			return now.AddDate(0, 0, -7*n).Format(extractor.DateLayout)
		case "month":
			return now.AddDate(0, -n, 0).Format(extractor.DateLayout)
		}
	}
	if yesterdayRe.MatchString(text) {
		return now.AddDate(0, 0, -1).Format(extractor.DateLayout)
	}
	if todayRe.MatchString(text) {
		return now.Format(extractor.DateLayout)
	}
	return ""
}

// Classify reports whether text confirms or rejects. Negation is checked
// first so "not correct" is negative.
func Classify(text string) Intent {
	switch {
	case negativeRe.MatchString(text):
		return IntentNegative
	case affirmativeRe.MatchString(text):
		return IntentAffirmative
	default:
		return IntentOther
	}
}

// Answer reads a bare reply as the single field the last prompt asked for,
// so "12.50" answers "how much" and "Starbucks" answers "where".
func (p *Parser) Answer(text, field string) models.ExpenseDraft {
	var d models.ExpenseDraft
	text = strings.TrimRight(strings.TrimSpace(text), ".!")

	switch field {
	case "amount":
		m := bareAmountRe.FindStringSubmatch(text)
		if m == nil {
			return d
		}
		if amount, ok := extractor.ParseAmount(m[1]); ok {
			d.Amount = amount.String()
			d.Currency = currencyOf(text)
		}
	case "merchant":
		phrase := cleanPhrase(text)
		for _, prefix := range []string{"at ", "from "} {
			if len(phrase) > len(prefix) && strings.EqualFold(phrase[:len(prefix)], prefix) {
				phrase = cleanPhrase(phrase[len(prefix):])
			}
		}
		if phrase == "" || startsWithAmount(phrase) || strings.ContainsAny(phrase, "?") {
			return d
		}
		if len(strings.Fields(phrase)) > maxMerchantWords || Classify(phrase) != IntentOther {
			return d
		}
		d.Merchant = phrase
	}
	return d
}

func currencyOf(match string) string {
	lower := strings.ToLower(match)
	switch {
	case strings.Contains(match, "€") || strings.Contains(lower, "eur"):
		return "EUR"
	case strings.Contains(match, "£") || strings.Contains(lower, "pound") || strings.Contains(lower, "gbp"):
		return "GBP"
	default:
		return "USD"
	}
}

func cleanPhrase(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"'`+"`")
	return strings.TrimSpace(s)
}

func startsWithAmount(s string) bool {
	return s != "" && (strings.ContainsRune("$€£0123456789", rune(s[0])))
}
