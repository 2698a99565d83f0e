package repository

import (
	"context"
	"errors"

	"expense-intake/internal/models"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("record not found")

var expenseColumns = []string{
	"id", "user_id", "artifact_id", "merchant", "amount", "currency", "date", "description",
	"category", "payment_method", "notes", "confidence", "source", "created_at", "updated_at",
}

type ExpenseRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewExpenseRepository(db *pgxpool.Pool, logger *zap.Logger) *ExpenseRepository {
	return &ExpenseRepository{
		db:     db,
		logger: logger,
	}
}

func insertExpenseQuery(e *models.Expense) squirrel.InsertBuilder {
	return squirrel.Insert("expenses").
		Columns(expenseColumns...).
		Values(e.ID, e.UserID, e.ArtifactID, e.Merchant, e.Amount, e.Currency, e.Date, e.Description,
			e.Category, e.PaymentMethod, e.Notes, e.Confidence, e.Source, e.CreatedAt, e.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar)
}

func listExpensesQuery(userID uuid.UUID, limit, offset uint64) squirrel.SelectBuilder {
	return squirrel.Select(expenseColumns...).
		From("expenses").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("date DESC", "created_at DESC").
		Limit(limit).
		Offset(offset).
		PlaceholderFormat(squirrel.Dollar)
}

func (r *ExpenseRepository) Create(ctx context.Context, e *models.Expense) error {
	sql, args, err := insertExpenseQuery(e).ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

func (r *ExpenseRepository) ListByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Expense, error) {
	sql, args, err := listExpensesQuery(userID, uint64(limit), uint64(offset)).ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := []*models.Expense{}
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, e)
	}

	return expenses, rows.Err()
}

func (r *ExpenseRepository) GetByID(ctx context.Context, id, userID uuid.UUID) (*models.Expense, error) {
	query := squirrel.Select(expenseColumns...).
		From("expenses").
		Where(squirrel.Eq{"id": id, "user_id": userID}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	e, err := scanExpense(r.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

func scanExpense(row pgx.Row) (*models.Expense, error) {
	var e models.Expense
	if err := row.Scan(
		&e.ID, &e.UserID, &e.ArtifactID, &e.Merchant, &e.Amount, &e.Currency, &e.Date, &e.Description,
		&e.Category, &e.PaymentMethod, &e.Notes, &e.Confidence, &e.Source, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
