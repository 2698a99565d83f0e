package handlers

import (
	"errors"

	"expense-intake/internal/dto"
	"expense-intake/internal/service"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger,
	}
}

// authStatus maps account errors to a status and a message safe to return.
// ErrInvalidUser keeps its own text since it names the rejected field.
var authStatus = []struct {
	err  error
	code int
	msg  string
}{
	{service.ErrUserExists, fiber.StatusConflict, "User already exists"},
	{service.ErrInvalidUser, fiber.StatusBadRequest, ""},
	{service.ErrInvalidCredentials, fiber.StatusUnauthorized, "Invalid credentials"},
	{service.ErrUserNotFound, fiber.StatusNotFound, "User not found"},
}

func (h *AuthHandler) fail(c *fiber.Ctx, err error, msg string) error {
	for _, s := range authStatus {
		if errors.Is(err, s.err) {
			text := s.msg
			if text == "" {
				text = err.Error()
			}
			return c.Status(s.code).JSON(fiber.Map{"error": text})
		}
	}
	h.logger.Error(msg, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": msg,
	})
}

// Register godoc
// @Summary Register a new user
// @Description Creates an account. default_currency is an ISO code and falls back to USD when unknown.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.RegisterRequest true "Registration request"
// @Success 201 {object} dto.AuthResponse
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /user/auth/register [post]
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.authService.Register(c.UserContext(), &req)
	if err != nil {
		return h.fail(c, err, "Registration failed")
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// Login godoc
// @Summary Login user
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.LoginRequest true "Login request"
// @Success 200 {object} dto.AuthResponse
// @Failure 401 {object} map[string]string
// @Router /user/auth/login [post]
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.authService.Login(c.UserContext(), &req)
	if err != nil {
		return h.fail(c, err, "Login failed")
	}
	return c.JSON(resp)
}

// RefreshToken godoc
// @Summary Refresh access token
// @Description Exchange a refresh token for a new token pair. Access tokens are rejected.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.RefreshTokenRequest true "Refresh token request"
// @Success 200 {object} dto.AuthResponse
// @Failure 401 {object} map[string]string
// @Router /user/auth/refresh [post]
func (h *AuthHandler) RefreshToken(c *fiber.Ctx) error {
	var req dto.RefreshTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.authService.RefreshToken(c.UserContext(), req.RefreshToken)
	if err != nil {
		// same answer as a forged token
		if errors.Is(err, service.ErrUserNotFound) {
			err = service.ErrInvalidCredentials
		}
		return h.fail(c, err, "Token refresh failed")
	}
	return c.JSON(resp)
}

// Profile godoc
// @Summary Get the signed-in user
// @Tags auth
// @Produce json
// @Security Bearer
// @Success 200 {object} dto.UserResponse
// @Failure 401 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/me [get]
func (h *AuthHandler) Profile(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	resp, err := h.authService.Profile(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err, "Failed to get profile")
	}
	return c.JSON(resp)
}

// UpdateSettings godoc
// @Summary Change the default expense currency
// @Tags auth
// @Accept json
// @Produce json
// @Param request body dto.UpdateSettingsRequest true "Settings"
// @Security Bearer
// @Success 200 {object} dto.UserResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/v1/me/settings [put]
func (h *AuthHandler) UpdateSettings(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	var req dto.UpdateSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.authService.UpdateSettings(c.UserContext(), userID, &req)
	if err != nil {
		return h.fail(c, err, "Failed to update settings")
	}
	return c.JSON(resp)
}
