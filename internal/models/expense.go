package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// MinConfidence is the plausibility floor; no result is reported below it.
	MinConfidence = 0.7
	MaxConfidence = 1.0
	// OffRegistryPenalty scales confidence when a category had to be coerced
	// to Other.
	OffRegistryPenalty = 0.8
)

// ClampConfidence bounds c to [MinConfidence, MaxConfidence].
func ClampConfidence(c float64) float64 {
	if c < MinConfidence || c != c {
		return MinConfidence
	}
	if c > MaxConfidence {
		return MaxConfidence
	}
	return c
}

// ExpenseContext is the input to every categorizer.
type ExpenseContext struct {
	Merchant    string          `json:"merchant"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Date        *time.Time      `json:"date,omitempty"`
	Description string          `json:"description,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

type ExtractionResult struct {
	Category               string  `json:"category"`
	Confidence             float64 `json:"confidence"`
	Reasoning              string  `json:"reasoning"`
	SuggestedPaymentMethod string  `json:"suggestedPaymentMethod"`
}

// Expense is a persisted, user-confirmed expense record.
type Expense struct {
	ID            uuid.UUID       `db:"id"`
	UserID        uuid.UUID       `db:"user_id"`
	ArtifactID    *uuid.UUID      `db:"artifact_id"`
	Merchant      string          `db:"merchant"`
	Amount        decimal.Decimal `db:"amount"`
	Currency      string          `db:"currency"`
	Date          time.Time       `db:"date"`
	Description   string          `db:"description"`
	Category      string          `db:"category"`
	PaymentMethod string          `db:"payment_method"`
	Notes         string          `db:"notes"`
	Confidence    float64         `db:"confidence"`
	Source        Source          `db:"source"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}
