// Package extractor turns expense contexts and normalized document text into
// categorized results. Everything here is total: provider failures degrade to
// the deterministic RuleExtractor instead of surfacing errors.
package extractor

import (
	"fmt"
	"strings"

	"expense-intake/internal/categories"
	"expense-intake/internal/models"
)

type keywordGroup struct {
	category   string
	confidence float64
	keywords   []string
}

// Order matters: the first matching group wins.
var keywordGroups = []keywordGroup{
	{
		category:   categories.FoodDining,
		confidence: 0.9,
		keywords: []string{
			"starbucks", "mcdonald", "burger", "pizza", "restaurant", "cafe", "café", "coffee",
			"subway", "chipotle", "domino", "dunkin", "kfc", "taco", "sushi", "bakery", "diner",
			"grill", "bistro", "doordash", "grubhub", "uber eats", "lunch", "dinner", "breakfast",
		},
	},
	{
		category:   categories.Transportation,
		confidence: 0.85,
		keywords: []string{
			"uber", "lyft", "taxi", "shell", "chevron", "exxon", "mobil", "fuel",
			"gas station", "parking", "metro", "transit", "amtrak", "bus ", "toll",
		},
	},
	{
		category:   categories.Shopping,
		confidence: 0.8,
		keywords: []string{
			"amazon", "walmart", "target", "costco", "staples", "office depot", "officemax",
			"best buy", "ikea", "home depot", "office supplies", "store", "market", "shop",
		},
	},
	{
		category:   categories.Utilities,
		confidence: 0.85,
		keywords: []string{
			"electric", "water bill", "internet", "comcast", "xfinity", "verizon", "at&t",
			"t-mobile", "spectrum", "utility", "utilities", "energy", "power company",
		},
	},
}

// RuleExtractor is the dependency-free categorizer of last resort. It holds no
// state; identical input always yields identical output.
type RuleExtractor struct{}

func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// Categorize matches the merchant first and the description second.
func (r *RuleExtractor) Categorize(ec models.ExpenseContext) models.ExtractionResult {
	if res, ok := r.match(ec.Merchant, "merchant name"); ok {
		return res
	}
	if res, ok := r.match(ec.Description, "description"); ok {
		return res
	}
	return noMatch()
}

// CategorizeText applies the keyword groups to free text.
func (r *RuleExtractor) CategorizeText(text string) models.ExtractionResult {
	if res, ok := r.match(text, "text"); ok {
		return res
	}
	return noMatch()
}

func (r *RuleExtractor) match(text, field string) (models.ExtractionResult, bool) {
	group, keyword, ok := matchGroup(text)
	if !ok {
		return models.ExtractionResult{}, false
	}
	return models.ExtractionResult{
		Category:               group.category,
		Confidence:             group.confidence,
		Reasoning:              fmt.Sprintf("Matched keyword %q in %s", keyword, field),
		SuggestedPaymentMethod: categories.DefaultPaymentMethod(group.category),
	}, true
}

func noMatch() models.ExtractionResult {
	return models.ExtractionResult{
		Category:               categories.Other,
		Confidence:             models.MinConfidence,
		Reasoning:              "No known merchant pattern matched",
		SuggestedPaymentMethod: categories.DefaultPaymentMethod(categories.Other),
	}
}

func matchGroup(text string) (keywordGroup, string, bool) {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return keywordGroup{}, "", false
	}
	lower += " "
	for _, g := range keywordGroups {
		for _, kw := range g.keywords {
			if strings.Contains(lower, kw) {
				return g, strings.TrimSpace(kw), true
			}
		}
	}
	return keywordGroup{}, "", false
}

const maxSuggestions = 3

// Suggest returns up to three category names for a partially typed merchant:
// the keyword match first, then the registry's default order.
func (r *RuleExtractor) Suggest(partial string) []string {
	out := make([]string, 0, maxSuggestions)
	if g, _, ok := matchGroup(partial); ok {
		out = append(out, g.category)
	}
	for _, c := range categories.All() {
		if len(out) == maxSuggestions {
			break
		}
		if c == categories.Other || contains(out, c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// HintFromFilename derives a category hint from words in a file name, or ""
// when nothing matches.
func (r *RuleExtractor) HintFromFilename(name string) string {
	words := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(name)
	if g, _, ok := matchGroup(words); ok {
		return g.category
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
