package handlers

import (
	"errors"

	"expense-intake/internal/dto"
	"expense-intake/internal/service"
	"expense-intake/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ExpenseHandler struct {
	expenseService *service.ExpenseService
	logger         *zap.Logger
}

func NewExpenseHandler(expenseService *service.ExpenseService, logger *zap.Logger) *ExpenseHandler {
	return &ExpenseHandler{
		expenseService: expenseService,
		logger:         logger,
	}
}

// Categorize godoc
// @Summary Categorize an expense
// @Description Returns a category, confidence and payment method. Never fails because of the model provider; rule-based matching is used instead.
// @Tags expenses
// @Accept json
// @Produce json
// @Param request body dto.CategorizeRequest true "Expense"
// @Security Bearer
// @Success 200 {object} dto.CategorizeResponse
// @Failure 400 {object} map[string]string
// @Router /api/v1/expenses/categorize [post]
func (h *ExpenseHandler) Categorize(c *fiber.Ctx) error {
	var req dto.CategorizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.expenseService.Categorize(c.UserContext(), &req)
	if err != nil {
		return h.fail(c, err, "Categorization failed")
	}
	return c.JSON(resp)
}

// CategorizeBatch godoc
// @Summary Categorize several expenses
// @Description Results are returned in request order.
// @Tags expenses
// @Accept json
// @Produce json
// @Param request body dto.CategorizeBatchRequest true "Expenses"
// @Security Bearer
// @Success 200 {object} dto.CategorizeBatchResponse
// @Failure 400 {object} map[string]string
// @Router /api/v1/expenses/categorize/batch [post]
func (h *ExpenseHandler) CategorizeBatch(c *fiber.Ctx) error {
	var req dto.CategorizeBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.expenseService.CategorizeBatch(c.UserContext(), &req)
	if err != nil {
		return h.fail(c, err, "Categorization failed")
	}
	return c.JSON(resp)
}

// Suggestions godoc
// @Summary Suggest categories for a merchant
// @Tags expenses
// @Produce json
// @Param merchant query string false "Partial merchant name"
// @Security Bearer
// @Success 200 {object} dto.SuggestionsResponse
// @Router /api/v1/expenses/suggestions [get]
func (h *ExpenseHandler) Suggestions(c *fiber.Ctx) error {
	return c.JSON(h.expenseService.Suggestions(c.Query("merchant")))
}

// Categories godoc
// @Summary List categories and their payment methods
// @Tags expenses
// @Produce json
// @Security Bearer
// @Success 200 {object} dto.CategoriesResponse
// @Router /api/v1/categories [get]
func (h *ExpenseHandler) Categories(c *fiber.Ctx) error {
	return c.JSON(h.expenseService.Categories())
}

// Create godoc
// @Summary Save a confirmed expense
// @Tags expenses
// @Accept json
// @Produce json
// @Param request body dto.CreateExpenseRequest true "Expense"
// @Security Bearer
// @Success 201 {object} dto.ExpenseResponse
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /api/v1/expenses [post]
func (h *ExpenseHandler) Create(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	var req dto.CreateExpenseRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.expenseService.Create(c.UserContext(), userID, &req)
	if err != nil {
		return h.fail(c, err, "Failed to save expense")
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

// List godoc
// @Summary List the user's expenses
// @Tags expenses
// @Produce json
// @Param limit query int false "Limit" default(20)
// @Param offset query int false "Offset" default(0)
// @Security Bearer
// @Success 200 {array} dto.ExpenseResponse
// @Failure 401 {object} map[string]string
// @Router /api/v1/expenses [get]
func (h *ExpenseHandler) List(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	expenses, err := h.expenseService.List(c.UserContext(), userID, c.QueryInt("limit", 20), c.QueryInt("offset", 0))
	if err != nil {
		return h.fail(c, err, "Failed to list expenses")
	}
	return c.JSON(expenses)
}

// Get godoc
// @Summary Get one of the user's expenses
// @Tags expenses
// @Produce json
// @Param id path string true "Expense ID"
// @Security Bearer
// @Success 200 {object} dto.ExpenseResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/expenses/{id} [get]
func (h *ExpenseHandler) Get(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid expense ID",
		})
	}

	resp, err := h.expenseService.Get(c.UserContext(), userID, id)
	if err != nil {
		if errors.Is(err, service.ErrExpenseNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Expense not found",
			})
		}
		return h.fail(c, err, "Failed to get expense")
	}
	return c.JSON(resp)
}

func (h *ExpenseHandler) fail(c *fiber.Ctx, err error, msg string) error {
	if errors.Is(err, service.ErrInvalidExpense) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	h.logger.Error(msg, zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": msg,
	})
}

func getUserID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return uuid.Nil, fiber.ErrUnauthorized
	}
	return userID, nil
}
