package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"expense-intake/internal/api"
	"expense-intake/internal/api/handlers"
	"expense-intake/internal/conversation"
	"expense-intake/internal/extractor"
	"expense-intake/internal/inbox"
	"expense-intake/internal/ingest"
	"expense-intake/internal/llm"
	"expense-intake/internal/ocr"
	"expense-intake/internal/pdftext"
	"expense-intake/internal/repository"
	"expense-intake/internal/service"
	"expense-intake/internal/storage"
	"expense-intake/migrations"
	"expense-intake/pkg/auth"
	"expense-intake/pkg/config"
	"expense-intake/pkg/logger"
	"expense-intake/pkg/postgres"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// @title Expense Intake API
// @version 1.0
// @description Expense extraction from free text, receipt uploads and conversation
// @termsOfService http://swagger.io/terms/

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logger.Level); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	appLogger := logger.Get()
	appLogger.Info("Starting expense intake service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := postgres.Migrate(ctx, db, migrations.FS, appLogger); err != nil {
		appLogger.Fatal("Failed to migrate database", zap.Error(err))
	}

	userRepo := repository.NewUserRepository(db, appLogger)
	expenseRepo := repository.NewExpenseRepository(db, appLogger)
	artifactRepo := repository.NewArtifactRepository(db, appLogger)

	jwtManager := auth.NewJWTManager(cfg.JWT.SecretKey, cfg.JWT.Expiration, cfg.JWT.RefreshExp)

	completer, err := llm.New(ctx, &cfg.LLM, logger.Named("llm"))
	if err != nil {
		appLogger.Fatal("Failed to initialize completion provider", zap.Error(err))
	}
	if closer, ok := completer.(io.Closer); ok {
		defer closer.Close()
	}

	categorizer := extractor.NewCategorizer(completer, &cfg.LLM, logger.Named("categorizer"))
	receipts := extractor.NewReceiptExtractor(completer, categorizer, &cfg.LLM, logger.Named("receipts"))

	ocrProvider, err := ocr.New(&cfg.OCR, &cfg.LLM, logger.Named("ocr"))
	if err != nil {
		appLogger.Fatal("Failed to initialize OCR provider", zap.Error(err))
	}

	disk, err := storage.NewDisk(&cfg.Storage, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize upload storage", zap.Error(err))
	}
	artifactService := service.NewArtifactService(disk, artifactRepo, appLogger)

	pipeline := ingest.NewPipeline(
		&cfg.Ingest,
		ocrProvider,
		cfg.OCR.Timeout,
		ingest.NewWorkflow(&cfg.Workflow, logger.Named("workflow")),
		ingest.NewFunction(&cfg.Function, logger.Named("function")),
		receipts,
		logger.Named("ingest"),
		ingest.WithPDFText(pdftext.NewReader(appLogger)),
		ingest.WithStore(artifactService),
	)

	authService := service.NewAuthService(userRepo, jwtManager, appLogger)
	expenseService := service.NewExpenseService(categorizer, expenseRepo, appLogger)
	receiptService := service.NewReceiptService(pipeline, expenseService, appLogger)

	sessions := conversation.NewStore(cfg.Chat.SessionTTL)
	machine := conversation.NewMachine(completer, categorizer, &cfg.Chat, &cfg.LLM, logger.Named("conversation"))
	chatService := service.NewChatService(sessions, machine, expenseService, appLogger)

	app := api.SetupRouter(cfg, api.Handlers{
		Auth:    handlers.NewAuthHandler(authService, appLogger),
		Expense: handlers.NewExpenseHandler(expenseService, appLogger),
		Receipt: handlers.NewReceiptHandler(receiptService, artifactService, appLogger),
		Chat:    handlers.NewChatHandler(chatService, appLogger),
	}, jwtManager, appLogger)

	if cfg.Inbox.Dir != "" {
		startInbox(ctx, cfg, receiptService, appLogger)
	}

	go func() {
		addr := ":" + cfg.Server.Port
		appLogger.Info("Server starting", zap.String("address", addr))
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	appLogger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		appLogger.Error("Server shutdown error", zap.Error(err))
	}
}

// startInbox watches the inbox directory and saves every receipt dropped there
// for the configured user.
func startInbox(ctx context.Context, cfg *config.Config, receipts *service.ReceiptService, appLogger *zap.Logger) {
	userID, err := uuid.Parse(cfg.Inbox.UserID)
	if err != nil {
		appLogger.Fatal("INBOX_USER_ID must be a user UUID when INBOX_DIR is set", zap.Error(err))
	}

	handle := func(ctx context.Context, name string, data []byte) error {
		return receipts.Import(ctx, userID, name, data)
	}
	watcher := inbox.NewWatcher(&cfg.Inbox, cfg.Ingest.MaxUploadBytes, handle, logger.Named("inbox"))

	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			appLogger.Error("Inbox watcher stopped", zap.Error(err))
		}
	}()
}
