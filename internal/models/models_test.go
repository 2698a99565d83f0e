package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestClampConfidence(t *testing.T) {
	assert.Equal(t, MinConfidence, ClampConfidence(0.2))
	assert.Equal(t, MaxConfidence, ClampConfidence(1.7))
	assert.Equal(t, 0.85, ClampConfidence(0.85))
}

func TestDraftMergeKeepsExistingValues(t *testing.T) {
	d := ExpenseDraft{Merchant: "Starbucks", Amount: "5.50"}

	merged := d.Merge(ExpenseDraft{Description: "coffee"})
	assert.Equal(t, "Starbucks", merged.Merchant)
	assert.Equal(t, "5.50", merged.Amount)
	assert.Equal(t, "coffee", merged.Description)

	merged = merged.Merge(ExpenseDraft{Amount: "6"})
	assert.Equal(t, "6", merged.Amount)
	assert.Equal(t, "coffee", merged.Description)

	assert.Equal(t, merged, merged.Merge(ExpenseDraft{}))
}

func TestDraftMissing(t *testing.T) {
	assert.Equal(t, []string{"amount", "merchant"}, ExpenseDraft{}.Missing())
	assert.Empty(t, ExpenseDraft{Amount: "1", Merchant: "x"}.Missing())
}

func TestRecent(t *testing.T) {
	c := &ConversationContext{}
	for i := 0; i < 15; i++ {
		c.Messages = append(c.Messages, Message{Role: RoleUser, Content: string(rune('a' + i))})
	}
	recent := c.Recent(10)
	assert.Len(t, recent, 10)
	assert.Equal(t, "f", recent[0].Content)
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "EUR", NormalizeCurrency("eur"))
	assert.Equal(t, DefaultCurrency, NormalizeCurrency("???"))
	assert.Equal(t, "$12.00", FormatAmount(decimal.NewFromInt(12), "USD"))
}
