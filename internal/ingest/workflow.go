package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"expense-intake/pkg/config"

	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// Workflow is the primary PDF provider: a long-running workflow service
// reached through a webhook. Health is probed with a GET against the same
// URL; submissions are multipart POSTs with bounded, fixed-delay retry.
type Workflow struct {
	url            string
	healthTimeout  time.Duration
	requestTimeout time.Duration
	maxAttempts    int
	retryDelay     time.Duration
	httpClient     *http.Client
	logger         *zap.Logger
}

func NewWorkflow(cfg *config.WorkflowConfig, logger *zap.Logger) *Workflow {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return &Workflow{
		url:            cfg.URL,
		healthTimeout:  cfg.HealthTimeout,
		requestTimeout: cfg.RequestTimeout,
		maxAttempts:    attempts,
		retryDelay:     cfg.RetryDelay,
		httpClient:     &http.Client{},
		logger:         logger,
	}
}

func (w *Workflow) Name() string { return "primary" }

// Health reports whether the webhook answers. Any status below 500 counts as
// reachable, since webhooks commonly reject GET with 404 or 405.
func (w *Workflow) Health(ctx context.Context) error {
	if w.url == "" {
		return ErrNotConfigured
	}
	ctx, cancel := withTimeout(ctx, w.healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

// Submit posts the artifact, retrying transport failures and 5xx replies.
// A malformed reply is not retried.
func (w *Workflow) Submit(ctx context.Context, a Artifact) (Extraction, error) {
	if w.url == "" {
		return Extraction{}, ErrNotConfigured
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		ext, err := w.submitOnce(ctx, a)
		if err == nil {
			return ext, nil
		}
		lastErr = err

		if !retryable(err) || attempt == w.maxAttempts || ctx.Err() != nil {
			break
		}

		w.logger.Warn("Workflow submission failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", w.maxAttempts),
			zap.Duration("delay", w.retryDelay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return Extraction{}, ctx.Err()
		case <-time.After(w.retryDelay):
		}
	}
	return Extraction{}, lastErr
}

func (w *Workflow) submitOnce(ctx context.Context, a Artifact) (Extraction, error) {
	ctx, cancel := withTimeout(ctx, w.requestTimeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, a.Name))
	header.Set("Content-Type", a.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(a.Data); err != nil {
		return Extraction{}, fmt.Errorf("failed to write file: %w", err)
	}
	if err := writer.WriteField("filename", a.Name); err != nil {
		return Extraction{}, fmt.Errorf("failed to write filename field: %w", err)
	}
	if a.UserID != "" {
		if err := writer.WriteField("userId", a.UserID); err != nil {
			return Extraction{}, fmt.Errorf("failed to write userId field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return Extraction{}, fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, &body)
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	return doJSON(w.httpClient, req, true)
}

// doJSON executes req and normalizes a JSON reply.
func doJSON(client *http.Client, req *http.Request, allowEnvelope bool) (Extraction, error) {
	resp, err := client.Do(req)
	if err != nil {
		return Extraction{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Extraction{}, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Extraction{}, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	return normalizeResponse(data, allowEnvelope)
}

func retryable(err error) bool {
	if errors.Is(err, ErrMalformed) || errors.Is(err, ErrProviderFailed) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}
	return true
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
