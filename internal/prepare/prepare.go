// Package prepare normalizes raw input documents into a phase-agnostic form:
// PDFs become per-page text or a single image page, spreadsheets become
// header-preserving CSV text per sheet, images pass through as base64. One
// document's failure never aborts preparation of the rest.
package prepare

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extract/internal/model"
	"github.com/sells-group/menu-extract/internal/ocr"
)

// DefaultPDFMinTextChars is the extracted-text length below which a PDF is
// treated as a scan and handed to a vision call as one image page.
const DefaultPDFMinTextChars = 100

// Options tunes preparation behavior.
type Options struct {
	// PDFMinTextChars overrides DefaultPDFMinTextChars when positive.
	PDFMinTextChars int
}

// Stats aggregates what preparation produced, for planning downstream calls.
type Stats struct {
	Documents   int      `json:"documents"`
	Dropped     int      `json:"dropped"`
	Pages       int      `json:"pages"`
	Sheets      int      `json:"sheets"`
	TotalTokens int      `json:"total_tokens"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Preparer is Phase 0 of the pipeline.
type Preparer struct {
	extractor  ocr.Extractor
	httpClient *http.Client
	opts       Options
}

// New creates a Preparer using the given PDF text extractor.
func New(extractor ocr.Extractor, opts Options) *Preparer {
	if opts.PDFMinTextChars <= 0 {
		opts.PDFMinTextChars = DefaultPDFMinTextChars
	}
	return &Preparer{
		extractor:  extractor,
		httpClient: &http.Client{},
		opts:       opts,
	}
}

// Prepare normalizes every document. Documents that fail to fetch or parse,
// or that end up with no payload, are dropped with a recorded warning.
func (p *Preparer) Prepare(ctx context.Context, docs []model.DocumentMeta) ([]model.PreparedDocument, Stats) {
	log := zap.L()
	stats := Stats{}

	prepared := make([]model.PreparedDocument, 0, len(docs))
	for _, meta := range docs {
		doc, err := p.prepareOne(ctx, meta)
		if err != nil {
			stats.Dropped++
			stats.Warnings = append(stats.Warnings, "document "+meta.ID+" dropped: "+err.Error())
			log.Warn("prepare: document dropped",
				zap.String("document_id", meta.ID),
				zap.String("name", meta.Name),
				zap.Error(err),
			)
			continue
		}
		if !doc.HasPayload() {
			stats.Dropped++
			stats.Warnings = append(stats.Warnings, "document "+meta.ID+" dropped: no usable content")
			log.Warn("prepare: document has no usable content",
				zap.String("document_id", meta.ID),
			)
			continue
		}

		stats.Documents++
		stats.Pages += len(doc.Pages)
		stats.Sheets += len(doc.Sheets)
		stats.TotalTokens += doc.TokenEstimate()
		prepared = append(prepared, doc)
	}

	log.Info("prepare: done",
		zap.Int("documents", stats.Documents),
		zap.Int("dropped", stats.Dropped),
		zap.Int("pages", stats.Pages),
		zap.Int("sheets", stats.Sheets),
		zap.Int("token_estimate", stats.TotalTokens),
	)
	return prepared, stats
}

func (p *Preparer) prepareOne(ctx context.Context, meta model.DocumentMeta) (model.PreparedDocument, error) {
	data, err := p.fetch(ctx, meta)
	if err != nil {
		return model.PreparedDocument{}, err
	}

	switch {
	case meta.IsPDF():
		return p.preparePDF(ctx, meta, data)
	case meta.IsSpreadsheet():
		return prepareSpreadsheet(meta, data)
	case meta.IsImage():
		return prepareImage(meta, data), nil
	default:
		return model.PreparedDocument{}, eris.Errorf("prepare: unsupported mime type %q", meta.MimeType)
	}
}

// fetch resolves document bytes from the inline payload or by URL.
func (p *Preparer) fetch(ctx context.Context, meta model.DocumentMeta) ([]byte, error) {
	if meta.Content != "" {
		data, err := base64.StdEncoding.DecodeString(meta.Content)
		if err != nil {
			return nil, eris.Wrapf(err, "prepare: decode inline content for %s", meta.ID)
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "prepare: build fetch request for %s", meta.ID)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, eris.Wrapf(err, "prepare: fetch %s", meta.ID)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("prepare: fetch %s returned %d", meta.ID, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrapf(err, "prepare: read body for %s", meta.ID)
	}
	return data, nil
}

// preparePDF attempts text extraction. Sufficient text becomes one coarse
// non-image page; a scan with little or no text falls back to a single image
// page for a vision-capable call. The document itself is never failed for a
// thin extraction result.
func (p *Preparer) preparePDF(ctx context.Context, meta model.DocumentMeta, data []byte) (model.PreparedDocument, error) {
	doc := model.PreparedDocument{
		ID:       meta.ID,
		Name:     meta.Name,
		Kind:     model.KindPDF,
		MimeType: meta.MimeType,
		RawBytes: data,
	}

	text, err := p.extractor.ExtractText(ctx, data)
	if err != nil {
		zap.L().Warn("prepare: pdf text extraction failed, falling back to image",
			zap.String("document_id", meta.ID),
			zap.Error(err),
		)
		text = ""
	}

	text = strings.TrimSpace(text)
	if len(text) >= p.opts.PDFMinTextChars {
		doc.Pages = []model.PreparedPage{{
			PageNumber:    1,
			Content:       text,
			IsImage:       false,
			TokenEstimate: EstimateTokens(text),
		}}
		return doc, nil
	}

	doc.Pages = []model.PreparedPage{{
		PageNumber:    1,
		Content:       base64.StdEncoding.EncodeToString(data),
		IsImage:       true,
		TokenEstimate: ImageTokenEstimate,
	}}
	doc.Metadata = map[string]string{"pdf_fallback": "image"}
	return doc, nil
}

// prepareImage passes the image through as base64 content with a fixed token
// estimate.
func prepareImage(meta model.DocumentMeta, data []byte) model.PreparedDocument {
	return model.PreparedDocument{
		ID:       meta.ID,
		Name:     meta.Name,
		Kind:     model.KindImage,
		MimeType: meta.MimeType,
		Content:  base64.StdEncoding.EncodeToString(data),
		RawBytes: data,
	}
}
