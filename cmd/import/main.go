// Command import extracts and saves every receipt in a directory for one
// user. Files already imported with the same content are skipped.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"expense-intake/internal/extractor"
	"expense-intake/internal/ingest"
	"expense-intake/internal/llm"
	"expense-intake/internal/ocr"
	"expense-intake/internal/pdftext"
	"expense-intake/internal/repository"
	"expense-intake/internal/service"
	"expense-intake/internal/storage"
	"expense-intake/migrations"
	"expense-intake/pkg/config"
	"expense-intake/pkg/logger"
	"expense-intake/pkg/postgres"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var receiptExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".pdf": true, ".txt": true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type importOptions struct {
	dir       string
	user      string
	cacheName string
}

func newRootCmd() *cobra.Command {
	opts := &importOptions{}
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Extract and save every receipt in a directory",
		Long: `import runs each receipt file in --dir through the ingestion pipeline and
saves the result as an expense owned by --user. Files already imported with the
same content are skipped; failed files are retried on the next run.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, err := uuid.Parse(opts.user)
			if err != nil {
				return fmt.Errorf("invalid --user: %w", err)
			}
			return runImport(cmd.Context(), opts, userID, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.dir, "dir", ".", "directory with receipts")
	cmd.Flags().StringVar(&opts.user, "user", "", "owner user ID")
	cmd.Flags().StringVar(&opts.cacheName, "cache", ".import_cache.json", "cache file name inside --dir")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runImport(ctx context.Context, opts *importOptions, userID uuid.UUID, progress io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Logger.Level); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()
	appLogger := logger.Get()

	db, err := postgres.NewPool(ctx, &cfg.Database, appLogger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db, migrations.FS, appLogger); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	completer, err := llm.New(ctx, &cfg.LLM, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize completion provider: %w", err)
	}
	if closer, ok := completer.(io.Closer); ok {
		defer closer.Close()
	}
	ocrProvider, err := ocr.New(&cfg.OCR, &cfg.LLM, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize OCR provider: %w", err)
	}
	disk, err := storage.NewDisk(&cfg.Storage, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize upload storage: %w", err)
	}

	categorizer := extractor.NewCategorizer(completer, &cfg.LLM, appLogger)
	artifacts := service.NewArtifactService(disk, repository.NewArtifactRepository(db, appLogger), appLogger)
	pipeline := ingest.NewPipeline(
		&cfg.Ingest,
		ocrProvider,
		cfg.OCR.Timeout,
		ingest.NewWorkflow(&cfg.Workflow, appLogger),
		ingest.NewFunction(&cfg.Function, appLogger),
		extractor.NewReceiptExtractor(completer, categorizer, &cfg.LLM, appLogger),
		appLogger,
		ingest.WithPDFText(pdftext.NewReader(appLogger)),
		ingest.WithStore(artifacts),
	)
	expenses := service.NewExpenseService(categorizer, repository.NewExpenseRepository(db, appLogger), appLogger)
	receipts := service.NewReceiptService(pipeline, expenses, appLogger)

	imported, err := importDir(ctx, opts.dir, filepath.Join(opts.dir, opts.cacheName), userID, receipts.Import, progress, appLogger)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	appLogger.Info("Import completed", zap.Int("imported", imported))
	return nil
}

type importFunc func(ctx context.Context, userID uuid.UUID, name string, data []byte) error

// importDir imports every receipt file in dir that the cache has not seen.
// A failed file is logged and left out of the cache so the next run retries it.
// Progress is drawn on progress.
func importDir(ctx context.Context, dir, cacheFile string, userID uuid.UUID, importFn importFunc, progress io.Writer, logger *zap.Logger) (int, error) {
	cache, err := loadCache(cacheFile)
	if err != nil {
		return 0, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !receiptExts[strings.ToLower(filepath.Ext(name))] {
			continue
		}
		names = append(names, name)
	}

	bar := progressbar.NewOptions(len(names),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Importing receipts"),
		progressbar.OptionShowElapsedTimeOnFinish(),
	)
	defer func() { _ = bar.Finish() }()

	imported := 0
	for _, name := range names {
		_ = bar.Add(1)
		if ctx.Err() != nil {
			break
		}
		path := filepath.Join(dir, name)

		hash, err := fileHash(path)
		if err != nil {
			logger.Warn("Failed to calculate file hash, will import anyway", zap.String("path", path), zap.Error(err))
		}
		if cache.Seen(path, hash) {
			logger.Info("Receipt already imported, skipping", zap.String("path", path))
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("Failed to read receipt", zap.String("path", path), zap.Error(err))
			continue
		}
		if err := importFn(ctx, userID, name, data); err != nil {
			logger.Error("Failed to import receipt", zap.String("path", path), zap.Error(err))
			continue
		}

		imported++
		cache.ImportedFiles[path] = ImportedFile{
			FilePath:   path,
			FileHash:   hash,
			ImportedAt: time.Now(),
		}
	}

	if err := saveCache(cacheFile, cache); err != nil {
		logger.Warn("Failed to save cache", zap.Error(err))
	}
	return imported, nil
}
