package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"expense-intake/internal/categories"
	"expense-intake/internal/llm"
	"expense-intake/internal/models"
	"expense-intake/pkg/config"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlaceholderText stands in for documents nothing could be read from, so
// results always carry some extracted text.
const PlaceholderText = "No readable text was found in the document."

// defaultFieldConfidence applies when a provider returns fields without a
// confidence of its own.
const defaultFieldConfidence = 0.8

// ReceiptFields is the canonical shape of a receipt extraction before
// categorization. Every provider response is normalized into it.
type ReceiptFields struct {
	Merchant      string
	Amount        string
	Currency      string
	Date          string
	Description   string
	Notes         string
	Category      string
	PaymentMethod string
	Confidence    *float64
}

// Empty reports whether no expense-like field is set.
func (f ReceiptFields) Empty() bool {
	return f.Merchant == "" && f.Amount == "" && f.Description == "" && f.Category == ""
}

// Over fills the blank fields of f from base.
func (f ReceiptFields) Over(base ReceiptFields) ReceiptFields {
	pick := func(a, b string) string {
		if strings.TrimSpace(a) != "" {
			return strings.TrimSpace(a)
		}
		return b
	}
	out := ReceiptFields{
		Merchant:      pick(f.Merchant, base.Merchant),
		Amount:        pick(f.Amount, base.Amount),
		Currency:      pick(f.Currency, base.Currency),
		Date:          pick(f.Date, base.Date),
		Description:   pick(f.Description, base.Description),
		Notes:         pick(f.Notes, base.Notes),
		Category:      pick(f.Category, base.Category),
		PaymentMethod: pick(f.PaymentMethod, base.PaymentMethod),
		Confidence:    f.Confidence,
	}
	if out.Confidence == nil {
		out.Confidence = base.Confidence
	}
	return out
}

// ReceiptExtractor turns normalized document text into a
// ReceiptExtractionResult. Like the Categorizer it never fails.
type ReceiptExtractor struct {
	completer   llm.Completer
	categorizer *Categorizer
	timeout     time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func NewReceiptExtractor(completer llm.Completer, categorizer *Categorizer, cfg *config.LLMConfig, logger *zap.Logger) *ReceiptExtractor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &ReceiptExtractor{
		completer:   completer,
		categorizer: categorizer,
		timeout:     timeout,
		now:         time.Now,
		logger:      logger,
	}
}

// Extract reads receipt fields out of text through the provider, falling back
// to ParseReceiptText. Source is left for the caller to set.
func (r *ReceiptExtractor) Extract(ctx context.Context, text string) models.ReceiptExtractionResult {
	text = NormalizeText(text)
	if text == "" {
		return r.resolve(ctx, ReceiptFields{}, "", false)
	}

	if r.completer == nil {
		return r.resolve(ctx, ParseReceiptText(text), text, false)
	}

	fields, err := r.extractRemote(ctx, text)
	if err != nil {
		r.logger.Warn("Provider receipt extraction failed, using local parser",
			zap.String("provider", r.completer.Name()),
			zap.Error(err),
		)
		return r.resolve(ctx, ParseReceiptText(text), text, false)
	}
	return r.resolve(ctx, fields.Over(ParseReceiptText(text)), text, true)
}

// Resolve completes fields that came from a document provider: blanks are
// filled from the text, the category is validated or derived.
func (r *ReceiptExtractor) Resolve(ctx context.Context, fields ReceiptFields, text string) models.ReceiptExtractionResult {
	text = NormalizeText(text)
	return r.resolve(ctx, fields.Over(ParseReceiptText(text)), text, true)
}

func (r *ReceiptExtractor) resolve(ctx context.Context, f ReceiptFields, text string, useProvider bool) models.ReceiptExtractionResult {
	amount, _ := ParseAmount(f.Amount)
	currency := f.Currency
	if currency == "" {
		currency = DetectCurrency(text)
	}
	currency = models.NormalizeCurrency(currency)

	date := ""
	if t, ok := ParseDate(f.Date); ok {
		date = t.Format(DateLayout)
	}

	ec := models.ExpenseContext{
		Merchant:    f.Merchant,
		Amount:      amount,
		Currency:    currency,
		Description: f.Description,
		Notes:       f.Notes,
	}

	var res models.ExtractionResult
	switch {
	case f.Category != "":
		confidence := defaultFieldConfidence
		if f.Confidence != nil {
			confidence = normalizeConfidence(*f.Confidence)
		}
		category, conf, _ := resolveCategory(f.Category, confidence, "")
		res = models.ExtractionResult{Category: category, Confidence: conf}
	case useProvider && r.categorizer != nil:
		res = r.categorizer.Categorize(ctx, ec)
	default:
		res = r.rules().Categorize(ec)
		if ec.Merchant == "" && ec.Description == "" {
			res = r.rules().CategorizeText(text)
		}
	}

	confidence := res.Confidence
	if f.Merchant == "" || amount.IsZero() {
		confidence = models.MinConfidence
	}

	description := f.Description
	if description == "" && f.Merchant != "" {
		description = "Purchase at " + f.Merchant
	}

	if text == "" {
		text = PlaceholderText
	}

	return models.ReceiptExtractionResult{
		Merchant:      f.Merchant,
		Amount:        amount,
		Currency:      currency,
		Description:   description,
		Date:          date,
		Notes:         f.Notes,
		Category:      res.Category,
		PaymentMethod: resolvePaymentMethod(res.Category, f.PaymentMethod),
		Confidence:    models.ClampConfidence(confidence),
		ExtractedText: text,
	}
}

func (r *ReceiptExtractor) rules() *RuleExtractor {
	if r.categorizer != nil {
		return r.categorizer.Rules()
	}
	return NewRuleExtractor()
}

var receiptTool = &llm.Tool{
	Name:        "extract_receipt",
	Description: "Extract the expense recorded on a receipt or invoice",
	Params: []llm.Param{
		{Name: "merchant", Type: "string", Required: true, Description: "Store or vendor name."},
		{Name: "amount", Type: "number", Required: true, Description: "Total amount paid, without currency symbol."},
		{Name: "currency", Type: "string", Description: "ISO 4217 currency code."},
		{Name: "date", Type: "string", Description: "Transaction date as YYYY-MM-DD."},
		{Name: "description", Type: "string", Description: "Short description of what was bought."},
		{Name: "category", Type: "string", Enum: categories.All(), Description: "Expense category."},
		{Name: "paymentMethod", Type: "string", Enum: categories.PaymentMethods(), Description: "Payment method if printed."},
		{Name: "confidence", Type: "number", Description: "Confidence between 0 and 1."},
	},
}

func (r *ReceiptExtractor) extractRemote(ctx context.Context, text string) (ReceiptFields, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	content, err := r.completer.Complete(ctx, llm.Request{
		System: fmt.Sprintf("You extract expenses from receipt text. Today is %s. Never invent values that are not in the text.",
			r.now().Format(DateLayout)),
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Receipt text:\n" + text}},
		Tool:     receiptTool,
	})
	if err != nil {
		return ReceiptFields{}, err
	}
	return ParseReceiptFields(content)
}

// ParseReceiptFields decodes a JSON receipt object. Amount and confidence may
// be numbers or numeric strings.
func ParseReceiptFields(content string) (ReceiptFields, error) {
	raw, err := llm.ExtractJSONObject(content)
	if err != nil {
		return ReceiptFields{}, err
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return ReceiptFields{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	f := FieldsFromMap(m)
	if f.Empty() {
		return ReceiptFields{}, fmt.Errorf("%w: no receipt fields", ErrMalformedResponse)
	}
	return f, nil
}

// FieldsFromMap reads the known receipt keys out of a decoded JSON object.
func FieldsFromMap(m map[string]any) ReceiptFields {
	f := ReceiptFields{
		Merchant:      stringField(m, "merchant", "vendor", "store"),
		Amount:        stringField(m, "amount", "total"),
		Currency:      stringField(m, "currency"),
		Date:          stringField(m, "date"),
		Description:   stringField(m, "description"),
		Notes:         stringField(m, "notes"),
		Category:      stringField(m, "category"),
		PaymentMethod: stringField(m, "paymentMethod", "payment_method"),
	}
	if c := stringField(m, "confidence"); c != "" {
		if v, err := strconv.ParseFloat(c, 64); err == nil {
			f.Confidence = &v
		}
	}
	return f
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return decimal.NewFromFloat(v).String()
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// NormalizeText trims lines and drops blank ones.
func NormalizeText(text string) string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

var (
	pricedRe    = regexp.MustCompile(`[$€£]\s?\d{1,3}(?:,\d{3})*(?:\.\d{1,2})?|\d{1,3}(?:,\d{3})*\.\d{2}\b`)
	lettersRe   = regexp.MustCompile(`[A-Za-z]{2,}`)
	headerNoise = []string{"receipt", "invoice", "tel:", "tel.", "phone", "www.", "http", "date", "order #", "welcome", "thank you", "total", "amount", "currency", "description", "tax "}
)

// ParseReceiptText is the local receipt parser: merchant from the first
// header-like line, amount from the last total line (never subtotal) or the
// largest priced value, plus date and currency when present.
func ParseReceiptText(text string) ReceiptFields {
	text = NormalizeText(text)
	if text == "" {
		return ReceiptFields{}
	}
	lines := strings.Split(text, "\n")

	f := ReceiptFields{Currency: DetectCurrency(text)}
	if d, ok := FindDate(text); ok {
		f.Date = d
	}

	for _, line := range lines {
		if isHeaderLine(line) {
			f.Merchant = line
			break
		}
	}

	var total, largest decimal.Decimal
	haveTotal := false
	for _, line := range lines {
		clean := dateTokenRe.ReplaceAllString(line, " ")
		lower := strings.ToLower(clean)
		if strings.Contains(lower, "total") && !strings.Contains(lower, "subtotal") && !strings.Contains(lower, "sub total") {
			if amounts := amountsIn(clean); len(amounts) > 0 {
				total = amounts[len(amounts)-1]
				haveTotal = true
			}
		}
		for _, m := range pricedRe.FindAllString(clean, -1) {
			if d, ok := ParseAmount(m); ok && d.GreaterThan(largest) {
				largest = d
			}
		}
	}
	switch {
	case haveTotal:
		f.Amount = total.StringFixed(2)
	case largest.IsPositive():
		f.Amount = largest.StringFixed(2)
	}

	return f
}

func isHeaderLine(line string) bool {
	if len(lettersRe.FindAllString(line, -1)) == 0 {
		return false
	}
	lower := strings.ToLower(line)
	for _, n := range headerNoise {
		if strings.Contains(lower, n) {
			return false
		}
	}
	digits := 0
	for _, r := range line {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits*2 < len(line)
}
