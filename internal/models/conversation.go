package models

import (
	"time"

	"github.com/google/uuid"
)

// Step is the conversation state.
type Step string

const (
	StepInitial    Step = "initial"
	StepCollecting Step = "collecting"
	StepConfirming Step = "confirming"
	StepEditing    Step = "editing"
	StepComplete   Step = "complete"
)

func (s Step) Valid() bool {
	switch s {
	case StepInitial, StepCollecting, StepConfirming, StepEditing, StepComplete:
		return true
	}
	return false
}

func (s Step) Terminal() bool { return s == StepComplete }

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExpenseDraft is the partially filled record of a conversation. Every field
// is optional; Amount and Date are kept as the user phrased them after
// normalization ("12", "2026-10-16").
type ExpenseDraft struct {
	Merchant      string `json:"merchant,omitempty"`
	Amount        string `json:"amount,omitempty"`
	Currency      string `json:"currency,omitempty"`
	Date          string `json:"date,omitempty"`
	Description   string `json:"description,omitempty"`
	Category      string `json:"category,omitempty"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// Merge returns d with every non-empty field of update applied. Empty fields
// in update never clear existing values.
func (d ExpenseDraft) Merge(update ExpenseDraft) ExpenseDraft {
	pick := func(old, next string) string {
		if next != "" {
			return next
		}
		return old
	}
	return ExpenseDraft{
		Merchant:      pick(d.Merchant, update.Merchant),
		Amount:        pick(d.Amount, update.Amount),
		Currency:      pick(d.Currency, update.Currency),
		Date:          pick(d.Date, update.Date),
		Description:   pick(d.Description, update.Description),
		Category:      pick(d.Category, update.Category),
		PaymentMethod: pick(d.PaymentMethod, update.PaymentMethod),
		Notes:         pick(d.Notes, update.Notes),
	}
}

func (d ExpenseDraft) IsEmpty() bool {
	return d == ExpenseDraft{}
}

// Missing lists the required fields still unset.
func (d ExpenseDraft) Missing() []string {
	var missing []string
	if d.Amount == "" {
		missing = append(missing, "amount")
	}
	if d.Merchant == "" {
		missing = append(missing, "merchant")
	}
	return missing
}

// ConversationContext is owned by exactly one chat session.
type ConversationContext struct {
	ID             uuid.UUID    `json:"id"`
	UserID         uuid.UUID    `json:"userId"`
	Messages       []Message    `json:"messages"`
	CurrentExpense ExpenseDraft `json:"currentExpense"`
	Step           Step         `json:"conversationStep"`
	Categories     []string     `json:"categories"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Recent returns at most n of the latest messages.
func (c *ConversationContext) Recent(n int) []Message {
	if n <= 0 || len(c.Messages) <= n {
		return c.Messages
	}
	return c.Messages[len(c.Messages)-n:]
}

// TurnResult is what one processed user message yields.
type TurnResult struct {
	Message          string       `json:"message"`
	ExtractedData    ExpenseDraft `json:"extractedData"`
	NextStep         Step         `json:"nextStep"`
	IsComplete       bool         `json:"isComplete"`
	NeedsUserInput   bool         `json:"needsUserInput"`
	SuggestedActions []string     `json:"suggestedActions,omitempty"`
}
