package ingest

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"expense-intake/internal/categories"
	"expense-intake/internal/extractor"
	"expense-intake/internal/models"
	"expense-intake/internal/ocr"
	"expense-intake/pkg/config"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF")

type fakePrimary struct {
	healthErr error
	ext       Extraction
	submitErr error
	block     bool
	submits   atomic.Int32
}

func (f *fakePrimary) Name() string { return "primary" }

func (f *fakePrimary) Health(ctx context.Context) error { return f.healthErr }

func (f *fakePrimary) Submit(ctx context.Context, a Artifact) (Extraction, error) {
	f.submits.Add(1)
	if f.block {
		<-ctx.Done()
		return Extraction{}, ctx.Err()
	}
	return f.ext, f.submitErr
}

type fakeSecondary struct {
	ext     Extraction
	err     error
	timeout time.Duration
	calls   atomic.Int32
}

func (f *fakeSecondary) Name() string { return "secondary" }

func (f *fakeSecondary) Timeout() time.Duration { return f.timeout }

func (f *fakeSecondary) Submit(ctx context.Context, a Artifact) (Extraction, error) {
	f.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return Extraction{}, err
	}
	return f.ext, f.err
}

type fakeStore struct {
	err   error
	saved atomic.Int32
}

func (s *fakeStore) Save(ctx context.Context, a Artifact, source models.Source) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.saved.Add(1)
	return "/uploads/" + a.Name, nil
}

type fakeOCR struct {
	text string
	err  error
}

func (f *fakeOCR) Name() string { return "fake-ocr" }

func (f *fakeOCR) Acquire(ctx context.Context) (ocr.Engine, error) { return f, nil }

func (f *fakeOCR) Recognize(ctx context.Context, image []byte) (string, error) { return f.text, f.err }

func (f *fakeOCR) Close() error { return nil }

var secondaryExtraction = Extraction{
	Fields: extractor.ReceiptFields{Merchant: "Acme Office Supply", Amount: "42.10", Category: "Shopping"},
	Text:   "ACME OFFICE SUPPLY\nTOTAL 42.10",
}

func newPipeline(t *testing.T, ocrProvider ocr.Provider, primary PrimaryProvider, secondary SecondaryProvider, opts ...Option) *Pipeline {
	t.Helper()
	logger := zaptest.NewLogger(t)
	llmCfg := &config.LLMConfig{}
	receipts := extractor.NewReceiptExtractor(nil, extractor.NewCategorizer(nil, llmCfg, logger), llmCfg, logger)
	cfg := &config.IngestConfig{MaxUploadBytes: 1 << 20, MinOCRChars: 10, TotalBudget: 5 * time.Second}
	return NewPipeline(cfg, ocrProvider, time.Second, primary, secondary, receipts, logger, opts...)
}

func TestPDFUnhealthyPrimaryIsNeverSubmitted(t *testing.T) {
	primary := &fakePrimary{healthErr: errors.New("dial tcp: connection refused")}
	secondary := &fakeSecondary{ext: secondaryExtraction}
	p := newPipeline(t, nil, primary, secondary)

	res, err := p.Process(context.Background(), Artifact{Name: "invoice.pdf", ContentType: "application/pdf", Data: pdfBytes})

	require.NoError(t, err)
	assert.Equal(t, int32(0), primary.submits.Load())
	assert.Equal(t, int32(1), secondary.calls.Load())
	assert.Equal(t, models.SourceSecondary, res.Source)
	assert.Equal(t, "Acme Office Supply", res.Merchant)
	assert.True(t, decimal.RequireFromString("42.10").Equal(res.Amount))
	assert.Equal(t, categories.Shopping, res.Category)
}

func TestPDFPrimarySuccess(t *testing.T) {
	primary := &fakePrimary{ext: Extraction{Fields: extractor.ReceiptFields{Merchant: "Comcast", Amount: "89.99", Date: "2024-02-01"}}}
	secondary := &fakeSecondary{}
	p := newPipeline(t, nil, primary, secondary)

	res, err := p.Process(context.Background(), Artifact{Name: "bill.pdf", Data: pdfBytes})

	require.NoError(t, err)
	assert.Equal(t, models.SourcePrimary, res.Source)
	assert.Equal(t, categories.Utilities, res.Category)
	assert.Equal(t, "2024-02-01", res.Date)
	assert.Contains(t, res.ExtractedText, "Comcast")
	assert.Equal(t, int32(0), secondary.calls.Load())
}

func TestPDFPrimarySubmitFailureFallsBackToSecondary(t *testing.T) {
	primary := &fakePrimary{submitErr: &StatusError{Code: 502, Body: "bad gateway"}}
	secondary := &fakeSecondary{ext: secondaryExtraction}
	p := newPipeline(t, nil, primary, secondary)

	res, err := p.Process(context.Background(), Artifact{Name: "invoice.pdf", ContentType: "application/pdf", Data: pdfBytes})

	require.NoError(t, err)
	assert.Equal(t, int32(1), primary.submits.Load())
	assert.Equal(t, models.SourceSecondary, res.Source)
}

func TestPDFSecondaryKeepsItsBudget(t *testing.T) {
	primary := &fakePrimary{block: true}
	secondary := &fakeSecondary{ext: secondaryExtraction, timeout: 200 * time.Millisecond}
	p := newPipeline(t, nil, primary, secondary)
	p.cfg.TotalBudget = 400 * time.Millisecond

	start := time.Now()
	res, err := p.Process(context.Background(), Artifact{Name: "slow.pdf", ContentType: "application/pdf", Data: pdfBytes})

	require.NoError(t, err)
	assert.Equal(t, models.SourceSecondary, res.Source)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestPDFBothProvidersUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	logger := zaptest.NewLogger(t)
	primary := NewWorkflow(&config.WorkflowConfig{URL: url, HealthTimeout: time.Second, RequestTimeout: time.Second, MaxAttempts: 2}, logger)
	secondary := NewFunction(&config.FunctionConfig{URL: url, Timeout: time.Second}, logger)
	store := &fakeStore{}
	p := newPipeline(t, nil, primary, secondary, WithStore(store))

	_, err := p.Process(context.Background(), Artifact{Name: "invoice.pdf", ContentType: "application/pdf", Data: pdfBytes})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Failures, 2)
	assert.Equal(t, "health check", exhausted.Failures[0].Stage)

	msg := exhausted.UserMessage()
	assert.Equal(t, msgNetwork, msg)
	for _, leak := range []string{"primary", "secondary", "refused", "dial", url} {
		assert.NotContains(t, msg, leak)
	}
	assert.Equal(t, int32(0), store.saved.Load())
}

func TestPDFBothProvidersFailWithTextLayerReader(t *testing.T) {
	primary := &fakePrimary{healthErr: errors.New("dial tcp: connection refused")}
	secondary := &fakeSecondary{err: errors.New("dial tcp: connection refused")}
	store := &fakeStore{}
	reader := &fakePDFText{text: "Staples\nTotal $15.99"}
	p := newPipeline(t, nil, primary, secondary, WithPDFText(reader), WithStore(store))
	p.cfg.LocalPDF = false

	res, err := p.Process(context.Background(), Artifact{Name: "invoice.pdf", ContentType: "application/pdf", Data: pdfBytes})

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Empty(t, res.Source)
	assert.Equal(t, int32(0), store.saved.Load())
}

type fakePDFText struct {
	text string
	err  error
}

func (f *fakePDFText) Text(ctx context.Context, data []byte) (string, error) { return f.text, f.err }

func TestPDFLocalTextLayerIsLastResort(t *testing.T) {
	primary := &fakePrimary{healthErr: ErrUnhealthy}
	secondary := &fakeSecondary{err: ErrNotConfigured}
	p := newPipeline(t, nil, primary, secondary, WithPDFText(&fakePDFText{text: "Staples\nTotal $15.99"}))
	p.cfg.LocalPDF = true

	res, err := p.Process(context.Background(), Artifact{Name: "scan.pdf", ContentType: "application/pdf", Data: pdfBytes})

	require.NoError(t, err)
	assert.Equal(t, models.SourceLocalPDF, res.Source)
	assert.Equal(t, "Staples", res.Merchant)
	assert.Equal(t, categories.Shopping, res.Category)
}

func TestImageOCRGarbageFallsBackToSyntheticText(t *testing.T) {
	now := time.Date(2025, 3, 9, 15, 0, 0, 0, time.UTC)
	p := newPipeline(t, &fakeOCR{text: "x#7\n\n"}, &fakePrimary{}, &fakeSecondary{}, WithClock(func() time.Time { return now }))

	res, err := p.Process(context.Background(), Artifact{Name: "starbucks_receipt.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff}})

	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, res.Source)
	assert.NotEmpty(t, res.ExtractedText)
	assert.Contains(t, res.ExtractedText, "starbucks_receipt.jpg")
	assert.Contains(t, res.ExtractedText, "2025-03-09")
	assert.Equal(t, categories.FoodDining, res.Category)
	assert.Equal(t, models.MinConfidence, res.Confidence)
}

func TestImageOCRErrorFallsBack(t *testing.T) {
	p := newPipeline(t, &fakeOCR{err: errors.New("tesseract crashed")}, &fakePrimary{}, &fakeSecondary{})

	res, err := p.Process(context.Background(), Artifact{Name: "IMG_0042.png", ContentType: "image/png", Data: []byte{1, 2, 3}})

	require.NoError(t, err)
	assert.Equal(t, models.SourceFallback, res.Source)
	assert.Equal(t, categories.Other, res.Category)
	assert.Contains(t, res.ExtractedText, "IMG_0042.png")
}

func TestImageOCRSuccess(t *testing.T) {
	p := newPipeline(t, &fakeOCR{text: "SHELL STATION 42\n\nPUMP 4\nTOTAL $38.20\n"}, &fakePrimary{}, &fakeSecondary{})

	res, err := p.Process(context.Background(), Artifact{Name: "fuel.jpg", ContentType: "image/jpeg", Data: []byte{0xff}})

	require.NoError(t, err)
	assert.Equal(t, models.SourceOCR, res.Source)
	assert.Equal(t, categories.Transportation, res.Category)
	assert.True(t, decimal.RequireFromString("38.20").Equal(res.Amount))
	assert.NotContains(t, res.ExtractedText, "\n\n")
}

func TestStorageFailureIsNotFatal(t *testing.T) {
	p := newPipeline(t, &fakeOCR{text: "Corner Market\nTOTAL 12.00"}, &fakePrimary{}, &fakeSecondary{},
		WithStore(&fakeStore{err: errors.New("disk full")}))

	res, err := p.Process(context.Background(), Artifact{Name: "r.jpg", ContentType: "image/jpeg", Data: []byte{1}})

	require.NoError(t, err)
	assert.Nil(t, res.StorageRef)
	assert.Equal(t, "Corner Market", res.Merchant)
}

func TestStoredArtifactReference(t *testing.T) {
	store := &fakeStore{}
	p := newPipeline(t, &fakeOCR{text: "Corner Market\nTOTAL 12.00"}, &fakePrimary{}, &fakeSecondary{}, WithStore(store))

	res, err := p.Process(context.Background(), Artifact{Name: "r.jpg", ContentType: "image/jpeg", Data: []byte{1}})

	require.NoError(t, err)
	require.NotNil(t, res.StorageRef)
	assert.Equal(t, "/uploads/r.jpg", *res.StorageRef)
	assert.Equal(t, int32(1), store.saved.Load())
}

func TestValidation(t *testing.T) {
	p := newPipeline(t, nil, &fakePrimary{}, &fakeSecondary{})
	p.cfg.MaxUploadBytes = 8

	_, err := p.Process(context.Background(), Artifact{Name: "empty.jpg", ContentType: "image/jpeg"})
	assert.ErrorIs(t, err, ErrEmptyArtifact)

	_, err = p.Process(context.Background(), Artifact{Name: "big.jpg", ContentType: "image/jpeg", Data: make([]byte, 9)})
	assert.ErrorIs(t, err, ErrArtifactTooLarge)

	_, err = p.Process(context.Background(), Artifact{Name: "a.zip", ContentType: "application/zip", Data: []byte("PK")})
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestTextPassThrough(t *testing.T) {
	p := newPipeline(t, nil, &fakePrimary{}, &fakeSecondary{})

	res, err := p.ProcessText(context.Background(), "Lyft ride\n2024-06-01\nTotal $23.10")
	require.NoError(t, err)
	assert.Equal(t, models.SourceText, res.Source)
	assert.Equal(t, categories.Transportation, res.Category)

	res, err = p.Process(context.Background(), Artifact{Name: "note.txt", Data: []byte("Lyft ride\nTotal $23.10")})
	require.NoError(t, err)
	assert.Equal(t, models.SourceText, res.Source)

	_, err = p.ProcessText(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyArtifact)
}

func TestWorkflowRetriesThenSucceeds(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if posts.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "invoice.pdf", r.FormValue("filename"))
		assert.Equal(t, "user-1", r.FormValue("userId"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"merchant": "Delta", "amount": 310.4, "extractedText": "DELTA AIR LINES"},
		})
	}))
	defer srv.Close()

	w := NewWorkflow(&config.WorkflowConfig{URL: srv.URL, MaxAttempts: 3, RetryDelay: time.Millisecond, RequestTimeout: time.Second}, zaptest.NewLogger(t))

	require.NoError(t, w.Health(context.Background()))
	ext, err := w.Submit(context.Background(), Artifact{Name: "invoice.pdf", ContentType: "application/pdf", Data: pdfBytes, UserID: "user-1"})

	require.NoError(t, err)
	assert.Equal(t, int32(3), posts.Load())
	assert.Equal(t, "Delta", ext.Fields.Merchant)
	assert.Equal(t, "310.4", ext.Fields.Amount)
	assert.Equal(t, "DELTA AIR LINES", ext.Text)
}

func TestWorkflowGivesUpAfterMaxAttempts(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	w := NewWorkflow(&config.WorkflowConfig{URL: srv.URL, MaxAttempts: 2, RetryDelay: time.Millisecond}, zaptest.NewLogger(t))
	_, err := w.Submit(context.Background(), Artifact{Name: "a.pdf", Data: pdfBytes})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, int32(2), posts.Load())
}

func TestWorkflowMalformedReplyIsNotRetried(t *testing.T) {
	var posts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts.Add(1)
		_, _ = w.Write([]byte(`{"success": true}`))
	}))
	defer srv.Close()

	w := NewWorkflow(&config.WorkflowConfig{URL: srv.URL, MaxAttempts: 3, RetryDelay: time.Millisecond}, zaptest.NewLogger(t))
	_, err := w.Submit(context.Background(), Artifact{Name: "a.pdf", Data: pdfBytes})

	assert.ErrorIs(t, err, ErrMalformed)
	assert.Equal(t, int32(1), posts.Load())
}

func TestWorkflowUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := NewWorkflow(&config.WorkflowConfig{URL: srv.URL}, zap.NewNop())
	assert.ErrorIs(t, w.Health(context.Background()), ErrUnhealthy)

	assert.ErrorIs(t, NewWorkflow(&config.WorkflowConfig{}, zap.NewNop()).Health(context.Background()), ErrNotConfigured)
}

func TestFunctionSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fn-key", r.Header.Get("Authorization"))
		var req functionRequest
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			data, err := base64.StdEncoding.DecodeString(req.File)
			assert.NoError(t, err)
			assert.Equal(t, pdfBytes, data)
			assert.Equal(t, "invoice.pdf", req.Filename)
			assert.Equal(t, "user-9", req.UserID)
		}
		_, _ = w.Write([]byte(`{"merchant":"Hilton","amount":"220.00","currency":"EUR","date":"2024-09-14"}`))
	}))
	defer srv.Close()

	f := NewFunction(&config.FunctionConfig{URL: srv.URL, APIKey: "fn-key", Timeout: time.Second}, zaptest.NewLogger(t))
	ext, err := f.Submit(context.Background(), Artifact{Name: "invoice.pdf", ContentType: "application/pdf", Data: pdfBytes, UserID: "user-9"})

	require.NoError(t, err)
	assert.Equal(t, "Hilton", ext.Fields.Merchant)
	assert.Equal(t, "EUR", ext.Fields.Currency)
}

func TestNormalizeResponse(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		envelope bool
		merchant string
		wantErr  error
	}{
		{"envelope", `{"success":true,"data":{"merchant":"Uber","amount":12}}`, true, "Uber", nil},
		{"bare object", `{"vendor":"Lyft","total":"9.50"}`, true, "Lyft", nil},
		{"array", `[{"success":true,"data":{"merchant":"Hertz","amount":80}}]`, true, "Hertz", nil},
		{"reported failure", `{"success":false,"error":"quota exceeded"}`, true, "", ErrProviderFailed},
		{"envelope data not object", `{"success":true,"data":"nope"}`, true, "", ErrMalformed},
		{"no fields", `{"status":"ok"}`, true, "", ErrMalformed},
		{"not json", `<html>`, true, "", ErrMalformed},
		{"string", `"hello"`, false, "", ErrMalformed},
		{"envelope ignored for bare providers", `{"success":true,"merchant":"Avis","amount":40}`, false, "Avis", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, err := normalizeResponse([]byte(tt.body), tt.envelope)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.merchant, ext.Fields.Merchant)
		})
	}
}

func TestExhaustedUserMessage(t *testing.T) {
	unreadable := &ExhaustedError{Failures: []*ProviderError{
		newProviderError("primary", "health check", ErrUnhealthy),
		newProviderError("secondary", "submission", ErrMalformed),
	}}
	assert.Equal(t, msgUnreadable, unreadable.UserMessage())

	unavailable := &ExhaustedError{Failures: []*ProviderError{
		newProviderError("primary", "health check", ErrNotConfigured),
		newProviderError("secondary", "submission", context.DeadlineExceeded),
	}}
	assert.Equal(t, msgUnavailable, unavailable.UserMessage())
	assert.True(t, strings.Contains(unavailable.Error(), "primary health check failed"))
	assert.ErrorIs(t, unavailable, context.DeadlineExceeded)
}

func TestReportedFailureKind(t *testing.T) {
	tests := []struct {
		name string
		body string
		want FailureKind
		msg  string
	}{
		{"quota", `{"success":false,"error":"quota exceeded"}`, KindUnavailable, msgUnavailable},
		{"internal", `{"success":false,"error":"internal error"}`, KindUnavailable, msgUnavailable},
		{"unreadable document", `{"success":false,"error":"Could not read document"}`, KindUnreadable, msgUnreadable},
		{"no text", `{"success":false,"error":"no text found in file"}`, KindUnreadable, msgUnreadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := normalizeResponse([]byte(tt.body), true)
			require.ErrorIs(t, err, ErrProviderFailed)

			failure := newProviderError("secondary", "submission", err)
			assert.Equal(t, tt.want, failure.Kind)

			exhausted := &ExhaustedError{Failures: []*ProviderError{
				newProviderError("primary", "health check", ErrNotConfigured),
				failure,
			}}
			assert.Equal(t, tt.msg, exhausted.UserMessage())
		})
	}
}
