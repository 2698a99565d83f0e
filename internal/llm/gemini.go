package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"expense-intake/pkg/config"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-2.0-flash"

// Gemini uses native function calling when a Tool is requested; the call
// arguments are returned re-encoded as a JSON object.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

func NewGemini(ctx context.Context, cfg *config.LLMConfig, logger *zap.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = geminiDefaultModel
	}
	logger.Info("Using Gemini completion provider", zap.String("model", model))
	return &Gemini{client: client, model: model, temperature: float32(cfg.Temperature), logger: logger}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Complete(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Tool != nil {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{declaration(req.Tool)}}}
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrNoChoices
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.FunctionCall != nil {
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil {
				return "", fmt.Errorf("failed to encode function call arguments: %w", err)
			}
			return string(args), nil
		}
		text.WriteString(part.Text)
	}
	return strings.TrimSpace(text.String()), nil
}

func declaration(t *Tool) *genai.FunctionDeclaration {
	props := make(map[string]*genai.Schema, len(t.Params))
	var required []string
	for _, p := range t.Params {
		props[p.Name] = paramSchema(p)
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
		Parameters: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   required,
		},
	}
}

func paramSchema(p Param) *genai.Schema {
	s := &genai.Schema{Description: p.Description, Enum: p.Enum}
	switch p.Type {
	case "number":
		s.Type = genai.TypeNumber
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
		s.Items = &genai.Schema{Type: genai.TypeString}
	case "object":
		s.Type = genai.TypeObject
		s.Properties = map[string]*genai.Schema{}
	default:
		s.Type = genai.TypeString
	}
	return s
}
