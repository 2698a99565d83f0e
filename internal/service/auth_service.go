package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"expense-intake/internal/dto"
	"expense-intake/internal/models"
	"expense-intake/internal/repository"
	"expense-intake/pkg/auth"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const minPasswordLength = 8

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidUser        = errors.New("invalid user")
)

type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	UpdateDefaultCurrency(ctx context.Context, id uuid.UUID, currency string) error
}

type AuthService struct {
	userRepo   UserStore
	jwtManager *auth.JWTManager
	logger     *zap.Logger
}

func NewAuthService(userRepo UserStore, jwtManager *auth.JWTManager, logger *zap.Logger) *AuthService {
	return &AuthService{
		userRepo:   userRepo,
		jwtManager: jwtManager,
		logger:     logger,
	}
}

func (s *AuthService) Register(ctx context.Context, req *dto.RegisterRequest) (*dto.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	username := strings.TrimSpace(req.Username)
	if username == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: username and a valid email are required", ErrInvalidUser)
	}
	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidUser, minPasswordLength)
	}

	existing, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}
	if existing != nil {
		return nil, ErrUserExists
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now()
	user := &models.User{
		ID:              uuid.New(),
		Username:        username,
		Email:           email,
		Password:        hashedPassword,
		DefaultCurrency: models.NormalizeCurrency(req.DefaultCurrency),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User registered", zap.String("user_id", user.ID.String()))
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, req *dto.LoginRequest) (*dto.AuthResponse, error) {
	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(req.Email)))
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	if !auth.CheckPasswordHash(req.Password, user.Password) {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*dto.AuthResponse, error) {
	claims, err := s.jwtManager.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrInvalidCredentials
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	return s.issue(user)
}

// Profile returns the signed-in user's account, including the currency new
// expenses default to.
func (s *AuthService) Profile(ctx context.Context, userID uuid.UUID) (*dto.UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	resp := userResponse(user)
	return &resp, nil
}

func (s *AuthService) UpdateSettings(ctx context.Context, userID uuid.UUID, req *dto.UpdateSettingsRequest) (*dto.UserResponse, error) {
	if !models.KnownCurrency(req.DefaultCurrency) {
		return nil, fmt.Errorf("%w: unknown currency %q", ErrInvalidUser, req.DefaultCurrency)
	}
	currency := models.NormalizeCurrency(req.DefaultCurrency)

	err := s.userRepo.UpdateDefaultCurrency(ctx, userID, currency)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update user settings: %w", err)
	}

	s.logger.Info("User settings updated", zap.String("user_id", userID.String()), zap.String("currency", currency))
	return s.Profile(ctx, userID)
}

func (s *AuthService) issue(user *models.User) (*dto.AuthResponse, error) {
	accessToken, err := s.jwtManager.GenerateToken(user.ID.String(), user.Username, user.Email)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.jwtManager.GenerateRefreshToken(user.ID.String())
	if err != nil {
		return nil, err
	}

	return &dto.AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.jwtManager.GetTokenDuration().Seconds()),
		User:         userResponse(user),
	}, nil
}

func userResponse(user *models.User) dto.UserResponse {
	return dto.UserResponse{
		ID:              user.ID.String(),
		Username:        user.Username,
		Email:           user.Email,
		DefaultCurrency: user.DefaultCurrency,
	}
}
