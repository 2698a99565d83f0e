package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"expense-intake/internal/categories"
	"expense-intake/internal/llm"
	"expense-intake/internal/models"
	"expense-intake/pkg/config"

	"go.uber.org/zap"
)

// ErrMalformedResponse marks provider output that parsed but failed schema
// validation.
var ErrMalformedResponse = errors.New("malformed provider response")

const (
	defaultProviderTimeout = 20 * time.Second
	defaultBatchWorkers    = 8
)

// Categorizer resolves an ExpenseContext through the completion provider and
// silently degrades to the RuleExtractor on any failure.
type Categorizer struct {
	completer llm.Completer
	rules     *RuleExtractor
	cache     *resultCache
	timeout   time.Duration
	workers   int
	logger    *zap.Logger
}

// NewCategorizer accepts a nil completer; every call then takes the
// rule-based path.
func NewCategorizer(completer llm.Completer, cfg *config.LLMConfig, logger *zap.Logger) *Categorizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	workers := cfg.BatchWorkers
	if workers <= 0 {
		workers = defaultBatchWorkers
	}
	return &Categorizer{
		completer: completer,
		rules:     NewRuleExtractor(),
		cache:     newResultCache(cfg.CacheTTL),
		timeout:   timeout,
		workers:   workers,
		logger:    logger,
	}
}

func (c *Categorizer) Rules() *RuleExtractor { return c.rules }

// Categorize always returns a valid result; provider errors never escape.
func (c *Categorizer) Categorize(ctx context.Context, ec models.ExpenseContext) models.ExtractionResult {
	if c.completer == nil {
		return c.rules.Categorize(ec)
	}

	key := cacheKey(ec)
	if res, ok := c.cache.get(key); ok {
		c.logger.Debug("Categorization cache hit", zap.String("merchant", ec.Merchant))
		return res
	}

	res, err := c.categorizeRemote(ctx, ec)
	if err != nil {
		c.logger.Warn("Provider categorization failed, using rule-based fallback",
			zap.String("provider", c.completer.Name()),
			zap.String("merchant", ec.Merchant),
			zap.Error(err),
		)
		return c.rules.Categorize(ec)
	}

	c.cache.set(key, res)
	c.logger.Info("Expense categorized",
		zap.String("merchant", ec.Merchant),
		zap.String("category", res.Category),
		zap.Float64("confidence", res.Confidence),
	)
	return res
}

// CategorizeBatch categorizes every context concurrently and returns results
// in input order. A failed element degrades alone.
func (c *Categorizer) CategorizeBatch(ctx context.Context, contexts []models.ExpenseContext) []models.ExtractionResult {
	results := make([]models.ExtractionResult, len(contexts))
	sem := make(chan struct{}, c.workers)
	var wg sync.WaitGroup

	for i, ec := range contexts {
		wg.Add(1)
		go func(idx int, ec models.ExpenseContext) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = c.rules.Categorize(ec)
				return
			}

			results[idx] = c.Categorize(ctx, ec)
		}(i, ec)
	}

	wg.Wait()
	return results
}

func (c *Categorizer) categorizeRemote(ctx context.Context, ec models.ExpenseContext) (models.ExtractionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	content, err := c.completer.Complete(ctx, categorizeRequest(ec))
	if err != nil {
		return models.ExtractionResult{}, err
	}
	return parseCategorization(content)
}

var categorizeTool = &llm.Tool{
	Name:        "categorize_expense",
	Description: "Assign the expense to one category",
	Params: []llm.Param{
		{Name: "category", Type: "string", Required: true, Enum: categories.All(), Description: "Category name, exactly as listed."},
		{Name: "confidence", Type: "number", Required: true, Description: "Confidence between 0 and 1."},
		{Name: "reasoning", Type: "string", Required: true, Description: "One short sentence explaining the choice."},
		{Name: "suggestedPaymentMethod", Type: "string", Enum: categories.PaymentMethods(), Description: "Likely payment method."},
	},
}

func categorizeRequest(ec models.ExpenseContext) llm.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Merchant: %s\n", ec.Merchant)
	fmt.Fprintf(&b, "Amount: %s %s\n", ec.Amount.StringFixed(2), models.NormalizeCurrency(ec.Currency))
	if ec.Date != nil {
		fmt.Fprintf(&b, "Date: %s\n", ec.Date.Format(DateLayout))
	}
	if ec.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", ec.Description)
	}
	if ec.Notes != "" {
		fmt.Fprintf(&b, "Notes: %s\n", ec.Notes)
	}

	return llm.Request{
		System: "You are an expense categorization assistant. Choose exactly one category from: " +
			strings.Join(categories.All(), ", ") + ".",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: b.String()}},
		Tool:     categorizeTool,
	}
}

type categorizationPayload struct {
	Category               *string  `json:"category"`
	Confidence             *float64 `json:"confidence"`
	Reasoning              *string  `json:"reasoning"`
	SuggestedPaymentMethod string   `json:"suggestedPaymentMethod"`
}

// parseCategorization validates provider output. An unknown category is
// rewritten to Other with a confidence penalty; the reasoning names the
// model's original suggestion.
func parseCategorization(content string) (models.ExtractionResult, error) {
	raw, err := llm.ExtractJSONObject(content)
	if err != nil {
		return models.ExtractionResult{}, err
	}

	var p categorizationPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.ExtractionResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if p.Category == nil || strings.TrimSpace(*p.Category) == "" {
		return models.ExtractionResult{}, fmt.Errorf("%w: missing category", ErrMalformedResponse)
	}
	if p.Confidence == nil {
		return models.ExtractionResult{}, fmt.Errorf("%w: missing confidence", ErrMalformedResponse)
	}
	if p.Reasoning == nil || strings.TrimSpace(*p.Reasoning) == "" {
		return models.ExtractionResult{}, fmt.Errorf("%w: missing reasoning", ErrMalformedResponse)
	}

	category, confidence, reasoning := resolveCategory(*p.Category, normalizeConfidence(*p.Confidence), strings.TrimSpace(*p.Reasoning))

	return models.ExtractionResult{
		Category:               category,
		Confidence:             confidence,
		Reasoning:              reasoning,
		SuggestedPaymentMethod: resolvePaymentMethod(category, p.SuggestedPaymentMethod),
	}, nil
}

// resolveCategory maps a suggested category onto the registry.
func resolveCategory(suggested string, confidence float64, reasoning string) (string, float64, string) {
	if canonical, ok := categories.Lookup(suggested); ok {
		return canonical, models.ClampConfidence(confidence), reasoning
	}
	reasoning = fmt.Sprintf("Suggested category %q is not a known category, filed under %s. %s",
		strings.TrimSpace(suggested), categories.Other, reasoning)
	return categories.Other, models.ClampConfidence(confidence * models.OffRegistryPenalty), strings.TrimSpace(reasoning)
}

// normalizeConfidence treats values above 1 as percentages.
func normalizeConfidence(c float64) float64 {
	if c > 1 && c <= 100 {
		return c / 100
	}
	return c
}

func resolvePaymentMethod(category, suggested string) string {
	if m, ok := categories.LookupPaymentMethod(suggested); ok && categories.AllowsPaymentMethod(category, m) {
		return m
	}
	return categories.DefaultPaymentMethod(category)
}

func cacheKey(ec models.ExpenseContext) string {
	return strings.Join([]string{
		strings.ToLower(strings.TrimSpace(ec.Merchant)),
		ec.Amount.String(),
		models.NormalizeCurrency(ec.Currency),
		strings.ToLower(strings.TrimSpace(ec.Description)),
	}, "|")
}

const maxCacheEntries = 1024

type cacheEntry struct {
	expiry time.Time
	result models.ExtractionResult
}

// resultCache keeps successful provider categorizations for a TTL. Fallback
// results are never cached so a recovered provider is used again.
type resultCache struct {
	entries map[string]cacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{entries: make(map[string]cacheEntry), ttl: ttl}
}

func (c *resultCache) get(key string) (models.ExtractionResult, bool) {
	if c.ttl <= 0 {
		return models.ExtractionResult{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiry) {
		return models.ExtractionResult{}, false
	}
	return entry.result, true
}

func (c *resultCache) set(key string, res models.ExtractionResult) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if len(c.entries) >= maxCacheEntries {
		for k, e := range c.entries {
			if now.After(e.expiry) {
				delete(c.entries, k)
			}
		}
	}
	if len(c.entries) >= maxCacheEntries {
		return
	}
	c.entries[key] = cacheEntry{result: res, expiry: now.Add(c.ttl)}
}
