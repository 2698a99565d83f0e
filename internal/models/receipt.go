package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source names the path that produced an extraction.
type Source string

const (
	SourceOCR       Source = "ocr"
	SourcePrimary   Source = "primary"
	SourceSecondary Source = "secondary"
	SourceLocalPDF  Source = "local_pdf"
	SourceText      Source = "text"
	SourceFallback  Source = "fallback"
	SourceChat      Source = "chat"
	SourceManual    Source = "manual"
)

func (s Source) Valid() bool {
	switch s {
	case SourceOCR, SourcePrimary, SourceSecondary, SourceLocalPDF, SourceText, SourceFallback, SourceChat, SourceManual:
		return true
	}
	return false
}

type ReceiptExtractionResult struct {
	Merchant      string          `json:"merchant"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Description   string          `json:"description"`
	Date          string          `json:"date,omitempty"`
	Notes         string          `json:"notes,omitempty"`
	Category      string          `json:"category"`
	PaymentMethod string          `json:"paymentMethod"`
	Confidence    float64         `json:"confidence"`
	ExtractedText string          `json:"extractedText"`
	StorageRef    *string         `json:"storageRef,omitempty"`
	Source        Source          `json:"source"`
}

// Artifact is the metadata row of a stored upload.
type Artifact struct {
	ID          uuid.UUID `db:"id"`
	UserID      uuid.UUID `db:"user_id"`
	FileName    string    `db:"file_name"`
	ContentType string    `db:"content_type"`
	FileSize    int64     `db:"file_size"`
	StorageKey  string    `db:"storage_key"`
	URL         string    `db:"url"`
	Source      Source    `db:"source"`
	CreatedAt   time.Time `db:"created_at"`
}
