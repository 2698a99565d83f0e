package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"expense-intake/internal/dto"
	"expense-intake/internal/ingest"
	"expense-intake/internal/models"
	"expense-intake/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// FileStore holds artifact bytes.
type FileStore interface {
	Put(ctx context.Context, owner, name string, data []byte) (key, url string, err error)
	Delete(key string) error
}

type ArtifactRecords interface {
	Create(ctx context.Context, a *models.Artifact) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Artifact, error)
}

// ArtifactService stores uploads for the ingestion pipeline. The returned
// reference is the artifact id.
type ArtifactService struct {
	files  FileStore
	repo   ArtifactRecords
	logger *zap.Logger
}

func NewArtifactService(files FileStore, repo ArtifactRecords, logger *zap.Logger) *ArtifactService {
	return &ArtifactService{
		files:  files,
		repo:   repo,
		logger: logger,
	}
}

// Save writes the file and its metadata row. The file is removed again when
// the row cannot be written.
func (s *ArtifactService) Save(ctx context.Context, a ingest.Artifact, source models.Source) (string, error) {
	userID, err := uuid.Parse(a.UserID)
	if err != nil {
		userID = uuid.Nil
	}

	key, url, err := s.files.Put(ctx, userID.String(), a.Name, a.Data)
	if err != nil {
		return "", err
	}

	artifact := &models.Artifact{
		ID:          uuid.New(),
		UserID:      userID,
		FileName:    a.Name,
		ContentType: a.ContentType,
		FileSize:    int64(len(a.Data)),
		StorageKey:  key,
		URL:         url,
		Source:      source,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.Create(ctx, artifact); err != nil {
		if delErr := s.files.Delete(key); delErr != nil {
			s.logger.Warn("Failed to remove orphaned artifact file", zap.String("key", key), zap.Error(delErr))
		}
		return "", fmt.Errorf("failed to record artifact: %w", err)
	}

	s.logger.Info("Artifact stored",
		zap.String("artifact_id", artifact.ID.String()),
		zap.String("file", a.Name),
		zap.Int64("size", artifact.FileSize),
	)
	return artifact.ID.String(), nil
}

func (s *ArtifactService) Get(ctx context.Context, userID, id uuid.UUID) (*dto.ArtifactResponse, error) {
	a, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}
	if a.UserID != userID {
		return nil, ErrArtifactNotFound
	}

	return &dto.ArtifactResponse{
		ID:          a.ID.String(),
		FileName:    a.FileName,
		ContentType: a.ContentType,
		FileSize:    a.FileSize,
		URL:         a.URL,
		Source:      string(a.Source),
		CreatedAt:   a.CreatedAt.Format(time.RFC3339),
	}, nil
}
