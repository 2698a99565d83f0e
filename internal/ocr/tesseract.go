package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract runs the local tesseract engine. Every Acquire creates a fresh
// client; gosseract clients are not safe for concurrent use.
type Tesseract struct {
	languages []string
}

func NewTesseract(languages []string) *Tesseract {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	return &Tesseract{languages: languages}
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Acquire(ctx context.Context) (Engine, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage(t.languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR languages: %w", err)
	}
	return &tesseractEngine{client: client}, nil
}

type tesseractEngine struct {
	client *gosseract.Client
}

func (e *tesseractEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	if err := e.client.SetImageFromBytes(image); err != nil {
		return "", fmt.Errorf("failed to load image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("failed to recognize text: %w", err)
	}
	return text, nil
}

func (e *tesseractEngine) Close() error {
	return e.client.Close()
}
