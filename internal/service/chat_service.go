package service

import (
	"context"

	"expense-intake/internal/conversation"
	"expense-intake/internal/dto"
	"expense-intake/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ChatService struct {
	store    *conversation.Store
	machine  *conversation.Machine
	expenses *ExpenseService
	logger   *zap.Logger
}

func NewChatService(store *conversation.Store, machine *conversation.Machine, expenses *ExpenseService, logger *zap.Logger) *ChatService {
	return &ChatService{
		store:    store,
		machine:  machine,
		expenses: expenses,
		logger:   logger,
	}
}

func (s *ChatService) Start(userID uuid.UUID) *dto.ChatSessionResponse {
	conv := s.store.Create(userID)
	s.logger.Debug("Conversation started", zap.String("conversation_id", conv.ID.String()))
	return &dto.ChatSessionResponse{Conversation: conv}
}

func (s *ChatService) Get(userID, sessionID uuid.UUID) (*dto.ChatSessionResponse, error) {
	conv, err := s.store.Get(sessionID, userID)
	if err != nil {
		return nil, err
	}
	return &dto.ChatSessionResponse{Conversation: conv}, nil
}

// Send processes one user message. When the turn completes the conversation
// the expense is saved inside the same locked update, so a failed save leaves
// the session at its previous step, and the session is then discarded.
func (s *ChatService) Send(ctx context.Context, userID, sessionID uuid.UUID, message string) (*dto.ChatTurnResponse, error) {
	var (
		turn    models.TurnResult
		expense *dto.ExpenseResponse
	)
	conv, err := s.store.Update(sessionID, userID, func(conv *models.ConversationContext) error {
		var err error
		turn, err = s.machine.Turn(ctx, conv, message)
		if err != nil {
			return err
		}
		if turn.IsComplete {
			expense, err = s.expenses.SaveDraft(ctx, userID, conv.CurrentExpense)
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if turn.IsComplete {
		s.store.Delete(sessionID)
	}

	return &dto.ChatTurnResponse{
		SessionID:    sessionID.String(),
		Turn:         turn,
		CurrentDraft: conv.CurrentExpense,
		Expense:      expense,
	}, nil
}
