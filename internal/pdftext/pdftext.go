// Package pdftext reads the embedded text layer of PDF documents with MuPDF.
package pdftext

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

var ErrNoText = errors.New("no text found in PDF")

type Reader struct {
	logger *zap.Logger
}

func NewReader(logger *zap.Logger) *Reader {
	return &Reader{logger: logger}
}

type pageText struct {
	text  string
	pages int
	err   error
}

// Text concatenates the text of every page. Scanned PDFs without a text
// layer yield ErrNoText.
func (r *Reader) Text(ctx context.Context, data []byte) (string, error) {
	done := make(chan pageText, 1)
	go func() {
		text, pages, err := r.extract(data)
		done <- pageText{text: text, pages: pages, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", res.err
		}
		r.logger.Info("PDF text extracted using go-fitz",
			zap.Int("pages", res.pages),
			zap.Int("text_length", len(res.text)),
		)
		return res.text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Reader) extract(data []byte) (string, int, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var b strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			r.logger.Warn("Failed to extract text from page", zap.Int("page", i+1), zap.Error(err))
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", doc.NumPage(), ErrNoText
	}
	return text, doc.NumPage(), nil
}
