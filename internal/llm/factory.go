package llm

import (
	"context"
	"fmt"

	"expense-intake/pkg/config"

	"go.uber.org/zap"
)

// New builds the configured Completer. A nil Completer with a nil error means
// no provider is configured and callers stay on their local paths.
func New(ctx context.Context, cfg *config.LLMConfig, logger *zap.Logger) (Completer, error) {
	switch cfg.Provider {
	case "", "none":
		logger.Info("No completion provider configured, using rule-based extraction only")
		return nil, nil
	case "gigachat":
		return NewGigaChat(ctx, cfg, logger)
	case "gemini":
		return NewGemini(ctx, cfg, logger)
	case "openai":
		return NewOpenAI(cfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, cfg.Provider)
	}
}
