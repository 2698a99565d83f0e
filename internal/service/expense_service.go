package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"expense-intake/internal/categories"
	"expense-intake/internal/dto"
	"expense-intake/internal/extractor"
	"expense-intake/internal/models"
	"expense-intake/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxBatchSize = 100

var (
	ErrInvalidExpense  = errors.New("invalid expense")
	ErrExpenseNotFound = errors.New("expense not found")
)

// ExpenseStore is the persistence the expense service needs.
type ExpenseStore interface {
	Create(ctx context.Context, e *models.Expense) error
	ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Expense, error)
	GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Expense, error)
}

type ExpenseService struct {
	categorizer *extractor.Categorizer
	repo        ExpenseStore
	now         func() time.Time
	logger      *zap.Logger
}

func NewExpenseService(categorizer *extractor.Categorizer, repo ExpenseStore, logger *zap.Logger) *ExpenseService {
	return &ExpenseService{
		categorizer: categorizer,
		repo:        repo,
		now:         time.Now,
		logger:      logger,
	}
}

func (s *ExpenseService) Categorize(ctx context.Context, req *dto.CategorizeRequest) (*dto.CategorizeResponse, error) {
	ec, err := toExpenseContext(req)
	if err != nil {
		return nil, err
	}
	resp := toCategorizeResponse(s.categorizer.Categorize(ctx, ec))
	return &resp, nil
}

// CategorizeBatch keeps results in request order. One invalid element rejects
// the whole batch before any provider call.
func (s *ExpenseService) CategorizeBatch(ctx context.Context, req *dto.CategorizeBatchRequest) (*dto.CategorizeBatchResponse, error) {
	if len(req.Expenses) == 0 {
		return nil, fmt.Errorf("%w: no expenses given", ErrInvalidExpense)
	}
	if len(req.Expenses) > maxBatchSize {
		return nil, fmt.Errorf("%w: at most %d expenses per batch", ErrInvalidExpense, maxBatchSize)
	}

	contexts := make([]models.ExpenseContext, len(req.Expenses))
	for i := range req.Expenses {
		ec, err := toExpenseContext(&req.Expenses[i])
		if err != nil {
			return nil, fmt.Errorf("expense %d: %w", i, err)
		}
		contexts[i] = ec
	}

	results := s.categorizer.CategorizeBatch(ctx, contexts)
	resp := &dto.CategorizeBatchResponse{Results: make([]dto.CategorizeResponse, len(results))}
	for i, r := range results {
		resp.Results[i] = toCategorizeResponse(r)
	}
	return resp, nil
}

func (s *ExpenseService) Suggestions(merchant string) *dto.SuggestionsResponse {
	return &dto.SuggestionsResponse{Suggestions: s.categorizer.Rules().Suggest(merchant)}
}

func (s *ExpenseService) Categories() *dto.CategoriesResponse {
	all := categories.All()
	resp := &dto.CategoriesResponse{
		Categories:     make([]dto.CategoryResponse, len(all)),
		PaymentMethods: categories.PaymentMethods(),
	}
	for i, c := range all {
		resp.Categories[i] = dto.CategoryResponse{Name: c, PaymentMethods: categories.Affinity(c)}
	}
	return resp
}

// Create saves a user-confirmed expense. A missing category is derived with
// the categorizer; an unknown one is rejected.
func (s *ExpenseService) Create(ctx context.Context, userID uuid.UUID, req *dto.CreateExpenseRequest) (*dto.ExpenseResponse, error) {
	e, err := s.build(ctx, userID, req)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, e); err != nil {
		return nil, fmt.Errorf("failed to save expense: %w", err)
	}

	s.logger.Info("Expense saved",
		zap.String("expense_id", e.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("category", e.Category),
		zap.String("source", string(e.Source)),
	)
	resp := toExpenseResponse(e)
	return &resp, nil
}

// SaveDraft saves the draft a completed conversation produced.
func (s *ExpenseService) SaveDraft(ctx context.Context, userID uuid.UUID, d models.ExpenseDraft) (*dto.ExpenseResponse, error) {
	return s.Create(ctx, userID, &dto.CreateExpenseRequest{
		Merchant:      d.Merchant,
		Amount:        d.Amount,
		Currency:      d.Currency,
		Date:          d.Date,
		Description:   d.Description,
		Category:      d.Category,
		PaymentMethod: d.PaymentMethod,
		Notes:         d.Notes,
		Source:        string(models.SourceChat),
	})
}

// SaveReceipt saves an extraction without user review. StorageRef, when
// present, links the expense to its artifact.
func (s *ExpenseService) SaveReceipt(ctx context.Context, userID uuid.UUID, r models.ReceiptExtractionResult) (*dto.ExpenseResponse, error) {
	merchant := r.Merchant
	if merchant == "" {
		merchant = "Unknown merchant"
	}
	confidence := r.Confidence
	req := &dto.CreateExpenseRequest{
		Merchant:      merchant,
		Amount:        r.Amount.String(),
		Currency:      r.Currency,
		Date:          r.Date,
		Description:   r.Description,
		Category:      r.Category,
		PaymentMethod: r.PaymentMethod,
		Notes:         r.Notes,
		Confidence:    &confidence,
		Source:        string(r.Source),
	}
	if r.StorageRef != nil {
		req.ArtifactID = *r.StorageRef
	}
	return s.Create(ctx, userID, req)
}

func (s *ExpenseService) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]dto.ExpenseResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	expenses, err := s.repo.ListByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}

	out := make([]dto.ExpenseResponse, len(expenses))
	for i, e := range expenses {
		out[i] = toExpenseResponse(e)
	}
	return out, nil
}

// Get returns one of the user's expenses.
func (s *ExpenseService) Get(ctx context.Context, userID, id uuid.UUID) (*dto.ExpenseResponse, error) {
	e, err := s.repo.GetByID(ctx, id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrExpenseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	resp := toExpenseResponse(e)
	return &resp, nil
}

func (s *ExpenseService) build(ctx context.Context, userID uuid.UUID, req *dto.CreateExpenseRequest) (*models.Expense, error) {
	merchant := strings.TrimSpace(req.Merchant)
	if merchant == "" {
		return nil, fmt.Errorf("%w: merchant is required", ErrInvalidExpense)
	}
	amount, ok := extractor.ParseAmount(req.Amount)
	if !ok {
		return nil, fmt.Errorf("%w: amount %q is not a valid non-negative number", ErrInvalidExpense, req.Amount)
	}
	currency := models.NormalizeCurrency(req.Currency)

	now := s.now()
	date := now
	if req.Date != "" {
		t, ok := extractor.ParseDate(req.Date)
		if !ok {
			return nil, fmt.Errorf("%w: date %q is not recognized", ErrInvalidExpense, req.Date)
		}
		date = t
	}

	source := models.SourceManual
	if req.Source != "" {
		source = models.Source(req.Source)
		if !source.Valid() {
			return nil, fmt.Errorf("%w: unknown source %q", ErrInvalidExpense, req.Source)
		}
	}

	var artifactID *uuid.UUID
	if req.ArtifactID != "" {
		id, err := uuid.Parse(req.ArtifactID)
		if err != nil {
			return nil, fmt.Errorf("%w: artifactId is not a UUID", ErrInvalidExpense)
		}
		artifactID = &id
	}

	confidence := models.MaxConfidence
	if req.Confidence != nil {
		confidence = models.ClampConfidence(*req.Confidence)
	}

	category := ""
	if req.Category != "" {
		c, ok := categories.Lookup(req.Category)
		if !ok {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidExpense, req.Category)
		}
		category = c
	} else {
		res := s.categorizer.Categorize(ctx, models.ExpenseContext{
			Merchant:    merchant,
			Amount:      amount,
			Currency:    currency,
			Date:        &date,
			Description: req.Description,
			Notes:       req.Notes,
		})
		category = res.Category
		if req.Confidence == nil {
			confidence = res.Confidence
		}
	}

	paymentMethod := categories.DefaultPaymentMethod(category)
	if req.PaymentMethod != "" {
		pm, ok := categories.LookupPaymentMethod(req.PaymentMethod)
		if !ok {
			return nil, fmt.Errorf("%w: unknown payment method %q", ErrInvalidExpense, req.PaymentMethod)
		}
		paymentMethod = pm
	}

	return &models.Expense{
		ID:            uuid.New(),
		UserID:        userID,
		ArtifactID:    artifactID,
		Merchant:      merchant,
		Amount:        amount,
		Currency:      currency,
		Date:          date,
		Description:   strings.TrimSpace(req.Description),
		Category:      category,
		PaymentMethod: paymentMethod,
		Notes:         strings.TrimSpace(req.Notes),
		Confidence:    confidence,
		Source:        source,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func toExpenseContext(req *dto.CategorizeRequest) (models.ExpenseContext, error) {
	if strings.TrimSpace(req.Merchant) == "" && strings.TrimSpace(req.Description) == "" {
		return models.ExpenseContext{}, fmt.Errorf("%w: merchant or description is required", ErrInvalidExpense)
	}

	ec := models.ExpenseContext{
		Merchant:    strings.TrimSpace(req.Merchant),
		Currency:    models.NormalizeCurrency(req.Currency),
		Description: strings.TrimSpace(req.Description),
		Notes:       strings.TrimSpace(req.Notes),
	}
	if req.Amount != "" {
		amount, ok := extractor.ParseAmount(req.Amount)
		if !ok {
			return models.ExpenseContext{}, fmt.Errorf("%w: amount %q is not a valid non-negative number", ErrInvalidExpense, req.Amount)
		}
		ec.Amount = amount
	}
	if req.Date != "" {
		t, ok := extractor.ParseDate(req.Date)
		if !ok {
			return models.ExpenseContext{}, fmt.Errorf("%w: date %q is not recognized", ErrInvalidExpense, req.Date)
		}
		ec.Date = &t
	}
	return ec, nil
}

func toCategorizeResponse(r models.ExtractionResult) dto.CategorizeResponse {
	return dto.CategorizeResponse{
		Category:               r.Category,
		Confidence:             r.Confidence,
		Reasoning:              r.Reasoning,
		SuggestedPaymentMethod: r.SuggestedPaymentMethod,
	}
}

func toExpenseResponse(e *models.Expense) dto.ExpenseResponse {
	resp := dto.ExpenseResponse{
		ID:            e.ID.String(),
		Merchant:      e.Merchant,
		Amount:        e.Amount.StringFixed(2),
		Currency:      e.Currency,
		Display:       models.FormatAmount(e.Amount, e.Currency),
		Date:          e.Date.Format(extractor.DateLayout),
		Description:   e.Description,
		Category:      e.Category,
		PaymentMethod: e.PaymentMethod,
		Notes:         e.Notes,
		Confidence:    e.Confidence,
		Source:        string(e.Source),
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
	if e.ArtifactID != nil {
		resp.ArtifactID = e.ArtifactID.String()
	}
	return resp
}
