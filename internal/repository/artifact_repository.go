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

var artifactColumns = []string{
	"id", "user_id", "file_name", "content_type", "file_size", "storage_key", "url", "source", "created_at",
}

type ArtifactRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewArtifactRepository(db *pgxpool.Pool, logger *zap.Logger) *ArtifactRepository {
	return &ArtifactRepository{
		db:     db,
		logger: logger,
	}
}

func insertArtifactQuery(a *models.Artifact) squirrel.InsertBuilder {
	return squirrel.Insert("artifacts").
		Columns(artifactColumns...).
		Values(a.ID, a.UserID, a.FileName, a.ContentType, a.FileSize, a.StorageKey, a.URL, a.Source, a.CreatedAt).
		PlaceholderFormat(squirrel.Dollar)
}

func (r *ArtifactRepository) Create(ctx context.Context, a *models.Artifact) error {
	sql, args, err := insertArtifactQuery(a).ToSql()
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, sql, args...)
	return err
}

func (r *ArtifactRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Artifact, error) {
	query := squirrel.Select(artifactColumns...).
		From("artifacts").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar)

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, err
	}

	var a models.Artifact
	err = r.db.QueryRow(ctx, sql, args...).Scan(
		&a.ID, &a.UserID, &a.FileName, &a.ContentType, &a.FileSize, &a.StorageKey, &a.URL, &a.Source, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &a, nil
}
