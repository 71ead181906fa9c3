// Package docext converts filing PDF bytes to plain text.
//
// The primary strategy reads the PDF's structured text layer page by page
// and concatenates the pages with page breaks. Scanned notices have no
// usable text layer, so a required-keyword check gates a fallback: when
// the primary result lacks the keywords every page's images are run
// through an image-to-text Recognizer and the OCR result replaces the
// primary text wholesale; results from the two strategies are never
// merged page by page, which would duplicate or contradict fragments.
//
// When both strategies fail the extractor raises ExtractionError carrying
// the filing id; the caller records the filing as failed and does not
// retry inside this component.
package docext

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Recognizer turns one page image into text. Implementations are expected
// to be network-backed (vision model, OCR service) and must honour ctx.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// DefaultKeywords gate the fallback: primary text missing any of these is
// considered unusable for field extraction.
var DefaultKeywords = []string{"name", "voting power"}

// Options configures an Extractor.
type Options struct {
	// Keywords required (case-insensitively) in the primary text.
	// Default: DefaultKeywords.
	Keywords []string
	// Recognizer used for the OCR fallback. Nil disables the fallback:
	// gate failure then surfaces as an ExtractionError.
	Recognizer Recognizer
	// RecognizeTimeout bounds each per-page Recognize call. Default: 30s.
	RecognizeTimeout time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if len(o.Keywords) == 0 {
		o.Keywords = DefaultKeywords
	}
	if o.RecognizeTimeout <= 0 {
		o.RecognizeTimeout = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// ExtractionError reports that both extraction strategies failed for a
// filing.
type ExtractionError struct {
	FilingID string
	Primary  error
	Fallback error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("docext: filing %s: primary: %v; fallback: %v", e.FilingID, e.Primary, e.Fallback)
}

// Extractor extracts text from filing documents.
type Extractor struct {
	opts   Options
	logger *slog.Logger
}

// New creates an Extractor.
func New(opts Options) *Extractor {
	opts.defaults()
	return &Extractor{opts: opts, logger: opts.Logger}
}

// Text extracts plain text for one filing. The error, when non-nil, is an
// *ExtractionError.
func (e *Extractor) Text(ctx context.Context, filingID string, pdf []byte) (string, error) {
	primary, perr := extractTextLayer(pdf)
	if perr == nil && e.gate(primary) {
		return primary, nil
	}
	if perr == nil {
		e.logger.Debug("keyword gate failed, trying OCR", "filing", filingID)
	} else {
		e.logger.Debug("text layer extraction failed, trying OCR", "filing", filingID, "err", perr)
	}

	if e.opts.Recognizer == nil {
		if perr == nil {
			perr = errors.New("text layer missing required keywords")
		}
		return "", &ExtractionError{FilingID: filingID, Primary: perr, Fallback: errors.New("no recognizer configured")}
	}

	ocr, ferr := e.recognizePages(ctx, pdf)
	if ferr != nil {
		if perr == nil {
			perr = errors.New("text layer missing required keywords")
		}
		return "", &ExtractionError{FilingID: filingID, Primary: perr, Fallback: ferr}
	}
	// Wholesale replacement: the OCR text stands alone.
	return ocr, nil
}

// gate reports whether text contains every required keyword.
func (e *Extractor) gate(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range e.opts.Keywords {
		if !strings.Contains(lower, strings.ToLower(kw)) {
			return false
		}
	}
	return true
}

// extractTextLayer reads the structured text layer page by page and joins
// pages with form feeds.
func extractTextLayer(pdf []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), conf)
	if err != nil {
		return "", fmt.Errorf("pdfcpu read: %w", err)
	}

	var sb strings.Builder
	empty := 0
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		pageText := extractPageText(ctx, pageNr)
		if pageText == "" {
			empty++
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\f\n")
		}
		sb.WriteString(pageText)
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text content in %d pages", ctx.PageCount)
	}
	return sb.String(), nil
}

// extractPageText pulls text from one page's content stream.
func extractPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return decodeContentStream(data)
}

// recognizePages extracts each page's images and feeds them through the
// recognizer, joining pages with page breaks.
func (e *Extractor) recognizePages(ctx context.Context, pdf []byte) (string, error) {
	conf := model.NewDefaultConfiguration()
	pctx, err := api.ReadValidateAndOptimize(bytes.NewReader(pdf), conf)
	if err != nil {
		return "", fmt.Errorf("pdfcpu read: %w", err)
	}

	var sb strings.Builder
	recognized := 0
	for pageNr := 1; pageNr <= pctx.PageCount; pageNr++ {
		for _, img := range pageImages(pctx, pageNr) {
			text, err := e.recognizeOne(ctx, img)
			if err != nil {
				return "", fmt.Errorf("page %d: %w", pageNr, err)
			}
			if text == "" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n\f\n")
			}
			sb.WriteString(text)
			recognized++
		}
	}
	if recognized == 0 {
		return "", errors.New("no recognizable page images")
	}
	return sb.String(), nil
}

func (e *Extractor) recognizeOne(ctx context.Context, img []byte) (string, error) {
	rctx, cancel := context.WithTimeout(ctx, e.opts.RecognizeTimeout)
	defer cancel()
	return e.opts.Recognizer.Recognize(rctx, img)
}

// pageImages returns the raw image streams referenced by one page. Scanned
// notices carry one full-page image per page, typically DCT (JPEG) or
// Flate encoded.
func pageImages(ctx *model.Context, pageNr int) [][]byte {
	if ctx.Optimize == nil {
		return nil
	}
	var out [][]byte
	for _, objNr := range pdfcpu.ImageObjNrs(ctx, pageNr) {
		entry := ctx.Table[objNr]
		if entry == nil || entry.Free || entry.Compressed {
			continue
		}
		sd, ok := entry.Object.(types.StreamDict)
		if !ok {
			continue
		}
		if len(sd.Raw) > 0 {
			out = append(out, sd.Raw)
		}
	}
	return out
}
