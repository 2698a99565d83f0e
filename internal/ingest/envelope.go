package ingest

import (
	"encoding/json"
	"fmt"
	"strings"

	"expense-intake/internal/extractor"

	"github.com/PaesslerAG/jsonpath"
)

// Extraction is the canonical result of a document provider.
type Extraction struct {
	Fields extractor.ReceiptFields
	Text   string
}

var textPaths = []string{"$.extractedText", "$.extracted_text", "$.text", "$.rawText"}

// normalizeResponse is the single place where provider response shapes are
// told apart. It accepts a {success, data, error} envelope (when
// allowEnvelope is set), a bare expense object, or either wrapped in a
// one-element array.
func normalizeResponse(body []byte, allowEnvelope bool) (Extraction, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if list, ok := doc.([]any); ok {
		if len(list) == 0 {
			return Extraction{}, fmt.Errorf("%w: empty array", ErrMalformed)
		}
		first, err := jsonpath.Get("$[0]", list)
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		doc = first
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return Extraction{}, fmt.Errorf("%w: expected an object, got %T", ErrMalformed, doc)
	}

	if allowEnvelope {
		if success, err := jsonpath.Get("$.success", obj); err == nil {
			data, err := unwrapEnvelope(obj, success)
			if err != nil {
				return Extraction{}, err
			}
			obj = data
		}
	}

	fields := extractor.FieldsFromMap(obj)
	if fields.Empty() {
		return Extraction{}, fmt.Errorf("%w: no expense fields", ErrMalformed)
	}
	return Extraction{Fields: fields, Text: lookupString(obj, textPaths...)}, nil
}

func unwrapEnvelope(obj map[string]any, success any) (map[string]any, error) {
	if ok, isBool := success.(bool); !isBool || !ok {
		msg := lookupString(obj, "$.error", "$.message")
		if msg == "" {
			msg = "no error message"
		}
		return nil, fmt.Errorf("%w: %s", ErrProviderFailed, msg)
	}

	data, err := jsonpath.Get("$.data", obj)
	if err != nil {
		return nil, fmt.Errorf("%w: envelope without data", ErrMalformed)
	}
	m, ok := data.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: envelope data is %T", ErrMalformed, data)
	}
	return m, nil
}

func lookupString(obj map[string]any, paths ...string) string {
	for _, p := range paths {
		v, err := jsonpath.Get(p, obj)
		if err != nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
