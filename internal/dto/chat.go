package dto

import "expense-intake/internal/models"

type ChatMessageRequest struct {
	Message string `json:"message"`
}

type ChatSessionResponse struct {
	Conversation models.ConversationContext `json:"conversation"`
}

// ChatTurnResponse carries the turn and, once the conversation completed, the
// saved expense.
type ChatTurnResponse struct {
	SessionID    string              `json:"sessionId"`
	Turn         models.TurnResult   `json:"turn"`
	CurrentDraft models.ExpenseDraft `json:"currentExpense"`
	Expense      *ExpenseResponse    `json:"expense,omitempty"`
}
