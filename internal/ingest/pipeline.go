// Package ingest turns uploaded artifacts into receipt extractions. Images go
// through OCR, PDFs through a cascade of document providers and text straight
// to the receipt extractor. Only validation errors and total exhaustion of the
// PDF cascade reach the caller; every other failure degrades to the next
// option.
package ingest

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"expense-intake/internal/categories"
	"expense-intake/internal/extractor"
	"expense-intake/internal/models"
	"expense-intake/internal/ocr"
	"expense-intake/pkg/config"

	"go.uber.org/zap"
)

const storeTimeout = 10 * time.Second

// Artifact is one uploaded document.
type Artifact struct {
	Name        string
	ContentType string
	Data        []byte
	UserID      string
}

type PrimaryProvider interface {
	Name() string
	Health(ctx context.Context) error
	Submit(ctx context.Context, a Artifact) (Extraction, error)
}

type SecondaryProvider interface {
	Name() string
	Timeout() time.Duration
	Submit(ctx context.Context, a Artifact) (Extraction, error)
}

// PDFTextReader reads a PDF's embedded text layer.
type PDFTextReader interface {
	Text(ctx context.Context, data []byte) (string, error)
}

// ArtifactStore persists an artifact and returns a public reference to it.
type ArtifactStore interface {
	Save(ctx context.Context, a Artifact, source models.Source) (string, error)
}

type Option func(*Pipeline)

func WithPDFText(r PDFTextReader) Option {
	return func(p *Pipeline) { p.pdf = r }
}

func WithStore(s ArtifactStore) Option {
	return func(p *Pipeline) { p.store = s }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

type Pipeline struct {
	ocr        ocr.Provider
	ocrTimeout time.Duration
	primary    PrimaryProvider
	secondary  SecondaryProvider
	pdf        PDFTextReader
	store      ArtifactStore
	receipts   *extractor.ReceiptExtractor
	rules      *extractor.RuleExtractor
	cfg        config.IngestConfig
	now        func() time.Time
	logger     *zap.Logger
}

func NewPipeline(
	cfg *config.IngestConfig,
	ocrProvider ocr.Provider,
	ocrTimeout time.Duration,
	primary PrimaryProvider,
	secondary SecondaryProvider,
	receipts *extractor.ReceiptExtractor,
	logger *zap.Logger,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		ocr:        ocrProvider,
		ocrTimeout: ocrTimeout,
		primary:    primary,
		secondary:  secondary,
		receipts:   receipts,
		rules:      extractor.NewRuleExtractor(),
		cfg:        *cfg,
		now:        time.Now,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type artifactKind int

const (
	kindImage artifactKind = iota
	kindPDF
	kindText
)

// Process extracts an expense from a.
func (p *Pipeline) Process(ctx context.Context, a Artifact) (models.ReceiptExtractionResult, error) {
	kind, err := p.validate(&a)
	if err != nil {
		return models.ReceiptExtractionResult{}, err
	}

	ctx, cancel := withTimeout(ctx, p.cfg.TotalBudget)
	defer cancel()

	var res models.ReceiptExtractionResult
	switch kind {
	case kindImage:
		res = p.processImage(ctx, a)
	case kindPDF:
		res, err = p.processPDF(ctx, a)
		if err != nil {
			p.logger.Error("PDF extraction exhausted every provider", zap.String("file", a.Name), zap.Error(err))
			return models.ReceiptExtractionResult{}, err
		}
	case kindText:
		res = p.extractText(ctx, string(a.Data))
	}

	p.persist(ctx, a, &res)

	p.logger.Info("Artifact processed",
		zap.String("file", a.Name),
		zap.String("content_type", a.ContentType),
		zap.String("source", string(res.Source)),
		zap.String("category", res.Category),
		zap.Float64("confidence", res.Confidence),
		zap.Bool("stored", res.StorageRef != nil),
	)
	return res, nil
}

// ProcessText extracts an expense from already-normalized text. Nothing is
// stored.
func (p *Pipeline) ProcessText(ctx context.Context, text string) (models.ReceiptExtractionResult, error) {
	if strings.TrimSpace(text) == "" {
		return models.ReceiptExtractionResult{}, ErrEmptyArtifact
	}
	ctx, cancel := withTimeout(ctx, p.cfg.TotalBudget)
	defer cancel()
	return p.extractText(ctx, text), nil
}

func (p *Pipeline) validate(a *Artifact) (artifactKind, error) {
	if len(a.Data) == 0 {
		return 0, ErrEmptyArtifact
	}
	if p.cfg.MaxUploadBytes > 0 && int64(len(a.Data)) > p.cfg.MaxUploadBytes {
		return 0, fmt.Errorf("%w: %d bytes exceeds the %d byte limit", ErrArtifactTooLarge, len(a.Data), p.cfg.MaxUploadBytes)
	}

	mediaType := mediaTypeOf(a.ContentType)
	if mediaType == "" || mediaType == "application/octet-stream" {
		mediaType = mediaTypeOf(http.DetectContentType(a.Data))
	}
	a.ContentType = mediaType

	switch {
	case strings.HasPrefix(mediaType, "image/"):
		return kindImage, nil
	case mediaType == "application/pdf":
		return kindPDF, nil
	case strings.HasPrefix(mediaType, "text/"):
		return kindText, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedType, mediaType)
	}
}

func mediaTypeOf(contentType string) string {
	if contentType == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}

func (p *Pipeline) processImage(ctx context.Context, a Artifact) models.ReceiptExtractionResult {
	if p.ocr == nil {
		p.logger.Warn("No OCR provider configured, using fallback text", zap.String("file", a.Name))
		return p.synthetic(a)
	}

	ocrCtx, cancel := withTimeout(ctx, p.ocrTimeout)
	text, err := ocr.Recognize(ocrCtx, p.ocr, a.Data, p.logger)
	cancel()
	if err != nil {
		p.logger.Warn("OCR failed, using fallback text", zap.String("file", a.Name), zap.Error(err))
		return p.synthetic(a)
	}

	text = extractor.NormalizeText(text)
	if n := utf8.RuneCountInString(text); n < p.cfg.MinOCRChars {
		p.logger.Warn("OCR text too short, using fallback text",
			zap.String("file", a.Name),
			zap.Int("chars", n),
			zap.Int("min_chars", p.cfg.MinOCRChars),
		)
		return p.synthetic(a)
	}

	res := p.receipts.Extract(ctx, text)
	res.Source = models.SourceOCR
	return res
}

// synthetic is the named degradation for unreadable images: a result built
// from the file name and today's date that the user is expected to review.
func (p *Pipeline) synthetic(a Artifact) models.ReceiptExtractionResult {
	name := a.Name
	if name == "" {
		name = "receipt"
	}
	today := p.now().Format(extractor.DateLayout)

	category := p.rules.HintFromFilename(name)
	hint := category
	if category == "" {
		category = categories.Other
		hint = "none"
	}

	text := fmt.Sprintf("Receipt image %q could not be read automatically.\nDate: %s\nCategory hint: %s\nPlease review the merchant and amount.",
		name, today, hint)

	return models.ReceiptExtractionResult{
		Currency:      models.DefaultCurrency,
		Description:   "Receipt " + name,
		Date:          today,
		Category:      category,
		PaymentMethod: categories.DefaultPaymentMethod(category),
		Confidence:    models.MinConfidence,
		ExtractedText: text,
		Source:        models.SourceFallback,
	}
}

// processPDF runs the cascade: primary health probe and submission, then the
// secondary function, then the local text layer. The primary phase is capped
// so the secondary always keeps its own timeout within the total budget.
func (p *Pipeline) processPDF(ctx context.Context, a Artifact) (models.ReceiptExtractionResult, error) {
	var failures []*ProviderError

	primaryCtx, cancel := p.primaryBudget(ctx)
	if err := p.primary.Health(primaryCtx); err != nil {
		failures = append(failures, p.failed(p.primary.Name(), "health check", err))
	} else if ext, err := p.primary.Submit(primaryCtx, a); err != nil {
		failures = append(failures, p.failed(p.primary.Name(), "submission", err))
	} else {
		cancel()
		return p.finish(ctx, ext, models.SourcePrimary), nil
	}
	cancel()

	if ext, err := p.secondary.Submit(ctx, a); err != nil {
		failures = append(failures, p.failed(p.secondary.Name(), "submission", err))
	} else {
		return p.finish(ctx, ext, models.SourceSecondary), nil
	}

	if p.pdf != nil && p.cfg.LocalPDF {
		text, err := p.pdf.Text(ctx, a.Data)
		if err == nil {
			res := p.receipts.Extract(ctx, text)
			res.Source = models.SourceLocalPDF
			return res, nil
		}
		failures = append(failures, p.failed("local pdf", "text extraction", err))
	}

	return models.ReceiptExtractionResult{}, &ExhaustedError{Failures: failures}
}

func (p *Pipeline) failed(provider, stage string, err error) *ProviderError {
	pe := newProviderError(provider, stage, err)
	p.logger.Warn("Document provider failed, trying next option",
		zap.String("provider", provider),
		zap.String("stage", stage),
		zap.String("kind", string(pe.Kind)),
		zap.Error(err),
	)
	return pe
}

func (p *Pipeline) primaryBudget(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Until(deadline)-p.secondary.Timeout())
}

func (p *Pipeline) finish(ctx context.Context, ext Extraction, source models.Source) models.ReceiptExtractionResult {
	text := ext.Text
	if text == "" {
		text = fieldsText(ext.Fields)
	}
	res := p.receipts.Resolve(ctx, ext.Fields, text)
	res.Source = source
	return res
}

func (p *Pipeline) extractText(ctx context.Context, text string) models.ReceiptExtractionResult {
	res := p.receipts.Extract(ctx, strings.ToValidUTF8(text, ""))
	res.Source = models.SourceText
	return res
}

// persist stores the artifact out of band. Failure only costs the reference.
func (p *Pipeline) persist(ctx context.Context, a Artifact, res *models.ReceiptExtractionResult) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	ref, err := p.store.Save(ctx, a, res.Source)
	if err != nil {
		p.logger.Warn("Failed to store artifact", zap.String("file", a.Name), zap.Error(err))
		return
	}
	res.StorageRef = &ref
}

// fieldsText renders provider fields as text when the provider returned none.
func fieldsText(f extractor.ReceiptFields) string {
	var b strings.Builder
	for _, kv := range [][2]string{
		{"Merchant", f.Merchant},
		{"Amount", f.Amount},
		{"Currency", f.Currency},
		{"Date", f.Date},
		{"Description", f.Description},
	} {
		if kv[1] != "" {
			fmt.Fprintf(&b, "%s: %s\n", kv[0], kv[1])
		}
	}
	return strings.TrimSpace(b.String())
}
