package service

import (
	"context"

	"expense-intake/internal/ingest"
	"expense-intake/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReceiptService struct {
	pipeline *ingest.Pipeline
	expenses *ExpenseService
	logger   *zap.Logger
}

func NewReceiptService(pipeline *ingest.Pipeline, expenses *ExpenseService, logger *zap.Logger) *ReceiptService {
	return &ReceiptService{
		pipeline: pipeline,
		expenses: expenses,
		logger:   logger,
	}
}

// Extract runs an uploaded artifact through the pipeline. The result is
// returned for review; nothing is saved as an expense.
func (s *ReceiptService) Extract(ctx context.Context, userID uuid.UUID, name, contentType string, data []byte) (*models.ReceiptExtractionResult, error) {
	res, err := s.pipeline.Process(ctx, ingest.Artifact{
		Name:        name,
		ContentType: contentType,
		Data:        data,
		UserID:      userID.String(),
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (s *ReceiptService) ExtractText(ctx context.Context, text string) (*models.ReceiptExtractionResult, error) {
	res, err := s.pipeline.ProcessText(ctx, text)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// Import extracts and saves in one step, for sources without a review step
// such as the inbox directory.
func (s *ReceiptService) Import(ctx context.Context, userID uuid.UUID, name string, data []byte) error {
	res, err := s.Extract(ctx, userID, name, "", data)
	if err != nil {
		return err
	}
	expense, err := s.expenses.SaveReceipt(ctx, userID, *res)
	if err != nil {
		return err
	}
	s.logger.Info("Receipt imported",
		zap.String("file", name),
		zap.String("expense_id", expense.ID),
		zap.String("source", string(res.Source)),
	)
	return nil
}
