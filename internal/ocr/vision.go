package ocr

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"expense-intake/pkg/config"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const visionPrompt = `Extract all text from this receipt or invoice image.
Return ONLY the text visible in the image, line by line, without commentary.
If the text is unreadable, return an empty string.`

// refusalPhrases mark model replies that are apologies rather than text.
var refusalPhrases = []string{
	"cannot help",
	"cannot process",
	"please provide",
	"unable to read",
	"не могу помочь",
	"не могу обработать",
	"не могу извлечь",
	"предоставьте содержимое",
}

// Vision recognizes text through the GigaChat files and chat completions API.
// Acquire obtains an access token; the engine uploads the image, asks the
// model to transcribe it and deletes the upload on Close.
type Vision struct {
	baseURL    string
	oauthURL   string
	apiKey     string
	scope      string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewVision(cfg *config.OCRConfig, llmCfg *config.LLMConfig, logger *zap.Logger) *Vision {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if llmCfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
		logger.Warn("Vision OCR TLS certificate verification is disabled")
	}
	model := llmCfg.Model
	if model == "" {
		model = "GigaChat"
	}
	return &Vision{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		oauthURL:   cfg.OAuthURL,
		apiKey:     llmCfg.APIKey,
		scope:      llmCfg.Scope,
		model:      model,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (v *Vision) Name() string { return "gigachat-vision" }

func (v *Vision) Acquire(ctx context.Context) (Engine, error) {
	token, err := v.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return &visionEngine{vision: v, token: token}, nil
}

// accessToken exchanges the Base64 authorization key for a bearer token.
func (v *Vision) accessToken(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("scope", v.scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.oauthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create OAuth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", uuid.New().String())
	req.Header.Set("Authorization", "Basic "+v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("OAuth failed with status %d: %s", resp.StatusCode, string(body))
	}

	var oauthResp struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&oauthResp); err != nil {
		return "", fmt.Errorf("failed to decode OAuth response: %w", err)
	}
	if oauthResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in OAuth response")
	}
	return oauthResp.AccessToken, nil
}

type visionEngine struct {
	vision *Vision
	token  string
	fileID string
}

func (e *visionEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	fileID, err := e.upload(ctx, image)
	if err != nil {
		return "", err
	}
	e.fileID = fileID

	text, err := e.transcribe(ctx, fileID)
	if err != nil {
		return "", err
	}

	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return "", fmt.Errorf("model returned a refusal instead of text: %q", text)
		}
	}
	return text, nil
}

func (e *visionEngine) upload(ctx context.Context, image []byte) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("purpose", "general"); err != nil {
		return "", fmt.Errorf("failed to write purpose field: %w", err)
	}

	mimeType := http.DetectContentType(image)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="receipt%s"`, extensionFor(mimeType)))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("failed to copy image: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.vision.baseURL+"/files", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.vision.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(b))
	}

	var uploadResp struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&uploadResp); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	return uploadResp.ID, nil
}

func (e *visionEngine) transcribe(ctx context.Context, fileID string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model": e.vision.model,
		"messages": []map[string]any{{
			"role":        "user",
			"content":     visionPrompt,
			"attachments": []string{fileID},
		}},
		"temperature": 0.1,
		"stream":      false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.vision.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.vision.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("vision API failed with status %d: %s", resp.StatusCode, string(b))
	}

	var visionResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&visionResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(visionResp.Choices) == 0 {
		return "", fmt.Errorf("no response from vision API")
	}
	return strings.TrimSpace(visionResp.Choices[0].Message.Content), nil
}

// Close deletes the uploaded image. It runs after the caller may have given
// up, so it uses its own short deadline.
func (e *visionEngine) Close() error {
	if e.fileID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.vision.baseURL+"/files/"+url.PathEscape(e.fileID)+"/delete", nil)
	if err != nil {
		return fmt.Errorf("failed to create delete request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.vision.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to delete uploaded image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete failed with status %d", resp.StatusCode)
	}
	e.fileID = ""
	return nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}
