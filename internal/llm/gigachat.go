package llm

import (
	"context"
	"fmt"
	"strings"

	"expense-intake/pkg/config"

	"github.com/Role1776/gigago"
	"go.uber.org/zap"
)

const (
	gigachatDefaultModel = "GigaChat"
	gigachatTemperature  = 0.2
)

// GigaChat completes prompts through the gigago client. The client accepts a
// single user turn per call, so history is flattened into a transcript.
type GigaChat struct {
	client    *gigago.Client
	modelName string
	logger    *zap.Logger
}

func NewGigaChat(ctx context.Context, cfg *config.LLMConfig, logger *zap.Logger) (*GigaChat, error) {
	opts := []gigago.Option{
		gigago.WithCustomScope(cfg.Scope),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
		logger.Warn("GigaChat TLS certificate verification is disabled")
	}

	client, err := gigago.NewClient(ctx, cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GigaChat client: %w", err)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = gigachatDefaultModel
	}
	logger.Info("Using GigaChat completion provider", zap.String("model", modelName))

	return &GigaChat{client: client, modelName: modelName, logger: logger}, nil
}

func (g *GigaChat) Name() string { return "gigachat" }

func (g *GigaChat) Complete(ctx context.Context, req Request) (string, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.SystemInstruction = systemPrompt(req)
	model.Temperature = gigachatTemperature

	messages := []gigago.Message{
		{Role: gigago.RoleUser, Content: transcript(req.Messages)},
	}

	resp, err := model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("failed to generate response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	g.logger.Debug("GigaChat completion", zap.Int("length", len(content)))
	return content, nil
}

func (g *GigaChat) Close() error {
	if g.client != nil {
		g.client.Close()
	}
	return nil
}
