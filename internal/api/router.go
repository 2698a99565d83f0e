package api

import (
	"errors"
	"os"

	"expense-intake/docs"
	"expense-intake/internal/api/handlers"
	"expense-intake/pkg/auth"
	"expense-intake/pkg/config"
	"expense-intake/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/swagger"
	"go.uber.org/zap"
)

type Handlers struct {
	Auth    *handlers.AuthHandler
	Expense *handlers.ExpenseHandler
	Receipt *handlers.ReceiptHandler
	Chat    *handlers.ChatHandler
}

func SetupRouter(
	cfg *config.Config,
	h Handlers,
	jwtManager *auth.JWTManager,
	appLogger *zap.Logger,
) *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BodyLimit:    cfg.Server.BodyLimit,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(logger.New())

	_ = docs.SwaggerInfo
	app.Get("/swagger/*", swagger.HandlerDefault)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if _, err := os.Stat(cfg.Storage.UploadDir); err == nil {
		appLogger.Info("Serving uploads", zap.String("path", cfg.Storage.UploadDir))
		app.Static("/uploads", cfg.Storage.UploadDir)
	} else {
		appLogger.Warn("Upload directory not found, uploads will not be served", zap.String("path", cfg.Storage.UploadDir))
	}

	user := app.Group("/user")

	authGroup := user.Group("/auth")
	authGroup.Post("/register", h.Auth.Register)
	authGroup.Post("/login", h.Auth.Login)
	authGroup.Post("/refresh", h.Auth.RefreshToken)

	protected := app.Group("/api/v1", middleware.AuthMiddleware(jwtManager, appLogger))

	protected.Get("/me", h.Auth.Profile)
	protected.Put("/me/settings", h.Auth.UpdateSettings)

	expenses := protected.Group("/expenses")
	expenses.Post("/categorize", h.Expense.Categorize)
	expenses.Post("/categorize/batch", h.Expense.CategorizeBatch)
	expenses.Get("/suggestions", h.Expense.Suggestions)
	expenses.Post("", h.Expense.Create)
	expenses.Get("", h.Expense.List)
	expenses.Get("/:id", h.Expense.Get)
	protected.Get("/categories", h.Expense.Categories)

	receipts := protected.Group("/receipts")
	receipts.Post("", h.Receipt.Upload)
	receipts.Post("/text", h.Receipt.Text)
	protected.Get("/artifacts/:id", h.Receipt.Artifact)

	chat := protected.Group("/chat/sessions")
	chat.Post("", h.Chat.Start)
	chat.Get("/:id", h.Chat.Get)
	chat.Post("/:id/messages", h.Chat.Send)

	return app
}
