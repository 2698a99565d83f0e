// Package ocr recognizes text in receipt images. Engines are acquired per
// call and released on every exit path.
package ocr

import (
	"context"
	"errors"
	"fmt"

	"expense-intake/pkg/config"

	"go.uber.org/zap"
)

var (
	ErrEmptyImage   = errors.New("empty image")
	ErrNotSupported = errors.New("unsupported OCR provider")
)

// Engine is one acquired OCR instance. It must be closed after use.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
	Close() error
}

// Provider hands out engines.
type Provider interface {
	Name() string
	Acquire(ctx context.Context) (Engine, error)
}

type result struct {
	text string
	err  error
}

// Recognize acquires an engine from p, runs recognition and releases the
// engine. The engine is owned by the recognition goroutine: it is closed
// before the result is delivered, and also when ctx expires first.
func Recognize(ctx context.Context, p Provider, image []byte, logger *zap.Logger) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyImage
	}

	engine, err := p.Acquire(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to acquire %s engine: %w", p.Name(), err)
	}

	done := make(chan result, 1)
	go func() {
		var r result
		defer func() { done <- r }()
		defer func() {
			if err := engine.Close(); err != nil {
				logger.Warn("Failed to release OCR engine", zap.String("provider", p.Name()), zap.Error(err))
			}
		}()
		r.text, r.err = engine.Recognize(ctx, image)
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return "", fmt.Errorf("%s recognition failed: %w", p.Name(), r.err)
		}
		return r.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// New builds the configured provider.
func New(cfg *config.OCRConfig, llmCfg *config.LLMConfig, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "", "tesseract":
		return NewTesseract(cfg.Languages), nil
	case "gigachat":
		return NewVision(cfg, llmCfg, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotSupported, cfg.Provider)
	}
}
