package handlers

import (
	"errors"
	"io"

	"expense-intake/internal/dto"
	"expense-intake/internal/ingest"
	"expense-intake/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReceiptHandler struct {
	receiptService  *service.ReceiptService
	artifactService *service.ArtifactService
	logger          *zap.Logger
}

func NewReceiptHandler(receiptService *service.ReceiptService, artifactService *service.ArtifactService, logger *zap.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		receiptService:  receiptService,
		artifactService: artifactService,
		logger:          logger,
	}
}

// Upload godoc
// @Summary Extract an expense from a receipt
// @Description Accepts an image, PDF or text file. Images go through OCR, PDFs through the document providers. The result is returned for review and is not saved.
// @Tags receipts
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Receipt file"
// @Security Bearer
// @Success 200 {object} models.ReceiptExtractionResult
// @Failure 400 {object} map[string]string
// @Failure 413 {object} map[string]string
// @Failure 415 {object} map[string]string
// @Failure 502 {object} map[string]string
// @Router /api/v1/receipts [post]
func (h *ReceiptHandler) Upload(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "File is required",
		})
	}

	src, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to open file",
		})
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read file",
		})
	}

	res, err := h.receiptService.Extract(c.UserContext(), userID, file.Filename, file.Header.Get("Content-Type"), data)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

// Text godoc
// @Summary Extract an expense from raw receipt text
// @Tags receipts
// @Accept json
// @Produce json
// @Param request body dto.ReceiptTextRequest true "Receipt text"
// @Security Bearer
// @Success 200 {object} models.ReceiptExtractionResult
// @Failure 400 {object} map[string]string
// @Router /api/v1/receipts/text [post]
func (h *ReceiptHandler) Text(c *fiber.Ctx) error {
	var req dto.ReceiptTextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	res, err := h.receiptService.ExtractText(c.UserContext(), req.Text)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(res)
}

// Artifact godoc
// @Summary Get a stored upload
// @Tags receipts
// @Produce json
// @Param id path string true "Artifact ID"
// @Security Bearer
// @Success 200 {object} dto.ArtifactResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/artifacts/{id} [get]
func (h *ReceiptHandler) Artifact(c *fiber.Ctx) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid artifact ID",
		})
	}

	a, err := h.artifactService.Get(c.UserContext(), userID, id)
	if err != nil {
		if errors.Is(err, service.ErrArtifactNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Artifact not found",
			})
		}
		h.logger.Error("Failed to get artifact", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to get artifact",
		})
	}
	return c.JSON(a)
}

// fail maps ingestion errors to responses. Provider details stay in the log.
func (h *ReceiptHandler) fail(c *fiber.Ctx, err error) error {
	var exhausted *ingest.ExhaustedError
	switch {
	case errors.Is(err, ingest.ErrEmptyArtifact):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ingest.ErrArtifactTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ingest.ErrUnsupportedType):
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{"error": err.Error()})
	case errors.As(err, &exhausted):
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": exhausted.UserMessage()})
	}
	h.logger.Error("Receipt extraction failed", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Receipt extraction failed",
	})
}
