package ingest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"expense-intake/pkg/config"

	"go.uber.org/zap"
)

// Function is the secondary PDF provider, a managed request/response
// function. It takes the artifact base64-encoded in a JSON body and answers
// with the expense fields directly.
type Function struct {
	url        string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

func NewFunction(cfg *config.FunctionConfig, logger *zap.Logger) *Function {
	return &Function{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		timeout:    cfg.Timeout,
		httpClient: &http.Client{},
		logger:     logger,
	}
}

func (f *Function) Name() string { return "secondary" }

// Timeout is the time Submit needs; the pipeline reserves it from the
// overall budget.
func (f *Function) Timeout() time.Duration { return f.timeout }

type functionRequest struct {
	File     string `json:"file"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType"`
	UserID   string `json:"userId,omitempty"`
}

func (f *Function) Submit(ctx context.Context, a Artifact) (Extraction, error) {
	if f.url == "" {
		return Extraction{}, ErrNotConfigured
	}
	ctx, cancel := withTimeout(ctx, f.timeout)
	defer cancel()

	payload, err := json.Marshal(functionRequest{
		File:     base64.StdEncoding.EncodeToString(a.Data),
		Filename: a.Name,
		MimeType: a.ContentType,
		UserID:   a.UserID,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(payload))
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	f.logger.Debug("Submitting document to function provider", zap.String("file", a.Name), zap.Int("bytes", len(a.Data)))

	return doJSON(f.httpClient, req, false)
}
