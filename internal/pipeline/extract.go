package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/menu-extract/internal/cost"
	"github.com/sells-group/menu-extract/internal/model"
	"github.com/sells-group/menu-extract/internal/parse"
	"github.com/sells-group/menu-extract/internal/prepare"
	"github.com/sells-group/menu-extract/pkg/anthropic"
)

// extractionBatch is one unit of content submitted as a single generate
// call. Ephemeral: created and consumed entirely within phase 2.
type extractionBatch struct {
	ID        string
	Section   string
	Payload   string // text, or base64 for image/document payloads
	IsImage   bool
	MediaType string
	Tokens    int
	Tier      model.Tier
	Source    model.SourceInfo
}

// processedSet tracks which source regions have already been claimed by a
// batch, preventing the same page or sheet from being processed twice via
// two representations or two sections.
type processedSet struct {
	pages  map[string]map[int]bool
	sheets map[string]bool
}

func newProcessedSet() *processedSet {
	return &processedSet{
		pages:  make(map[string]map[int]bool),
		sheets: make(map[string]bool),
	}
}

func (s *processedSet) pageDone(docID string, page int) bool {
	return s.pages[docID][page]
}

func (s *processedSet) markPage(docID string, page int) {
	if s.pages[docID] == nil {
		s.pages[docID] = make(map[int]bool)
	}
	s.pages[docID][page] = true
}

func (s *processedSet) sheetDone(docID, sheet string) bool {
	return s.sheets[docID+"|"+sheet]
}

func (s *processedSet) markSheet(docID, sheet string) {
	s.sheets[docID+"|"+sheet] = true
}

// rawItemResponse mirrors the JSON shape phase 2 asks the model for.
type rawItemResponse struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Price       flexFloat `json:"price"`
	Category    string    `json:"category"`
}

// flexFloat decodes a JSON number or a numeric string; models occasionally
// quote prices.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	s = strings.TrimLeft(s, "$")
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = 0
		return nil // tolerate junk rather than failing the whole array
	}
	*f = flexFloat(v)
	return nil
}

// extractItems runs phase 2: build batches per section, dispatch them
// concurrently under the rate limiter, and aggregate the parsed items. A
// failed batch contributes an empty item list and a warning, never aborting
// the section or the run.
func (p *Pipeline) extractItems(ctx context.Context, tracker *cost.Tracker, structure *model.MenuStructure, prepared []model.PreparedDocument, rlog *runLog) ([]model.RawItem, error) {
	docs := make(map[string]model.PreparedDocument, len(prepared))
	for _, doc := range prepared {
		docs[doc.ID] = doc
	}

	batches := p.buildBatches(structure, docs, rlog)
	if len(batches) == 0 {
		rlog.warn("extract", "no batches could be built from the analyzed structure")
		return nil, nil
	}

	zap.L().Info("extract: dispatching batches", zap.Int("batches", len(batches)))

	var mu sync.Mutex
	var items []model.RawItem

	g, gctx := errgroup.WithContext(ctx)
	for _, batch := range batches {
		g.Go(func() error {
			batchItems, err := p.runBatch(gctx, tracker, batch)
			if err != nil {
				// Isolated: the batch yields nothing, the run continues.
				rlog.warn("extract", fmt.Sprintf("batch %s (%s) failed: %v", batch.ID, batch.Section, err))
				zap.L().Warn("extract: batch failed",
					zap.String("batch_id", batch.ID),
					zap.String("section", batch.Section),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			items = append(items, batchItems...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return items, eris.Wrap(err, "extract: run cancelled")
	}

	// Flag out-of-vocabulary categories; coercion waits until enrichment.
	for _, item := range items {
		if item.Category != "" && !p.vocab.HasCategory(item.Category) {
			rlog.warn("extract", fmt.Sprintf("item %q has category %q outside the allowed set", item.Name, item.Category))
		}
	}

	zap.L().Info("extract: done", zap.Int("items", len(items)))
	return items, nil
}

// buildBatches walks every section's document locations and produces
// batches sized to the section's token budget. Dedup fingerprints are
// global to the run: a (document, page) or (document, sheet) pair is
// batched at most once even when referenced by multiple sections.
func (p *Pipeline) buildBatches(structure *model.MenuStructure, docs map[string]model.PreparedDocument, rlog *runLog) []extractionBatch {
	seen := newProcessedSet()
	var batches []extractionBatch

	for _, section := range structure.Sections {
		// Smaller caps for oversized sections bound worst-case latency and
		// cost variance; larger caps for small sections minimize call count.
		budget := p.cfg.Extraction.BatchTokenBudget
		if section.IsOversized && p.cfg.Extraction.OversizedTokenBudget > 0 {
			budget = p.cfg.Extraction.OversizedTokenBudget
		}

		for _, loc := range section.DocumentLocations {
			doc, ok := docs[loc.DocumentID]
			if !ok {
				rlog.warn("extract", fmt.Sprintf("section %q references unknown document %s", section.Name, loc.DocumentID))
				continue
			}

			switch doc.Kind {
			case model.KindPDF:
				batches = append(batches, p.pdfBatches(section, loc, doc, seen)...)
			case model.KindImage:
				if seen.pageDone(doc.ID, 1) {
					continue
				}
				seen.markPage(doc.ID, 1)
				batches = append(batches, extractionBatch{
					ID:        uuid.NewString(),
					Section:   section.Name,
					Payload:   doc.Content,
					IsImage:   true,
					MediaType: doc.MimeType,
					Tokens:    prepare.ImageTokenEstimate,
					Tier:      p.routeTier(true, prepare.ImageTokenEstimate),
					Source:    model.SourceInfo{DocumentID: doc.ID, Page: 1},
				})
			case model.KindSpreadsheet:
				batches = append(batches, p.sheetBatches(section, loc, doc, budget, seen, rlog)...)
			}
		}
	}
	return batches
}

// pdfBatches batches text pages individually. Pages without extractable
// text fall back to an image batch, but only for page numbers not already
// satisfied by a text batch.
func (p *Pipeline) pdfBatches(section model.MenuSection, loc model.DocumentLocation, doc model.PreparedDocument, seen *processedSet) []extractionBatch {
	wanted := make(map[int]bool, len(loc.PageNumbers))
	for _, n := range loc.PageNumbers {
		wanted[n] = true
	}

	var batches []extractionBatch
	for _, page := range doc.Pages {
		if len(wanted) > 0 && !wanted[page.PageNumber] {
			continue
		}
		if seen.pageDone(doc.ID, page.PageNumber) {
			continue
		}
		seen.markPage(doc.ID, page.PageNumber)

		batch := extractionBatch{
			ID:      uuid.NewString(),
			Section: section.Name,
			Tokens:  page.TokenEstimate,
			Source:  model.SourceInfo{DocumentID: doc.ID, Page: page.PageNumber},
		}
		if page.IsImage {
			batch.Payload = page.Content
			batch.IsImage = true
			batch.MediaType = "application/pdf"
		} else {
			batch.Payload = page.Content
		}
		batch.Tier = p.routeTier(batch.IsImage, batch.Tokens)
		batches = append(batches, batch)
	}
	return batches
}

// sheetBatches chunks each referenced sheet under the token budget, header
// repeated per chunk. A sheet already claimed by another section is skipped
// with an explicit log instead of being silently duplicated.
func (p *Pipeline) sheetBatches(section model.MenuSection, loc model.DocumentLocation, doc model.PreparedDocument, budget int, seen *processedSet, rlog *runLog) []extractionBatch {
	names := loc.SheetNames
	if len(names) == 0 {
		for _, s := range doc.Sheets {
			names = append(names, s.Name)
		}
	}

	var batches []extractionBatch
	for _, name := range names {
		if seen.sheetDone(doc.ID, name) {
			rlog.info("extract", fmt.Sprintf("sheet %s/%s also referenced by section %q; already batched", doc.ID, name, section.Name))
			continue
		}
		sheet, ok := doc.Sheet(name)
		if !ok {
			rlog.warn("extract", fmt.Sprintf("section %q references unknown sheet %s/%s", section.Name, doc.ID, name))
			continue
		}
		seen.markSheet(doc.ID, name)

		for _, chunk := range prepare.SplitSheet(sheet, budget) {
			tokens := prepare.EstimateTokens(chunk.Content)
			batches = append(batches, extractionBatch{
				ID:      uuid.NewString(),
				Section: section.Name,
				Payload: chunk.Content,
				Tokens:  tokens,
				Tier:    p.routeTier(false, tokens),
				Source:  model.SourceInfo{DocumentID: doc.ID, Sheet: name},
			})
		}
	}
	return batches
}

// routeTier picks the model tier for one batch. Images always go to the
// fast vision tier; text batches above the large-text threshold are pinned
// there too, so a single huge page cannot land on an expensive model.
func (p *Pipeline) routeTier(isImage bool, tokens int) model.Tier {
	if isImage {
		return model.TierFast
	}
	if p.cfg.Extraction.LargeTextTokens > 0 && tokens > p.cfg.Extraction.LargeTextTokens {
		return model.TierFast
	}
	if p.cfg.Extraction.DefaultTier == string(model.TierCapable) {
		return model.TierCapable
	}
	return model.TierFast
}

// runBatch submits one batch and parses the response into items with
// section and source provenance attached.
func (p *Pipeline) runBatch(ctx context.Context, tracker *cost.Tracker, batch extractionBatch) ([]model.RawItem, error) {
	resp, err := p.callModel(ctx, tracker, cost.PhaseExtract, batch.Tier, p.buildBatchRequest(batch))
	if err != nil {
		return nil, err
	}

	raw, err := parse.Array[rawItemResponse](resp.Text())
	if err != nil {
		return nil, err
	}

	items := make([]model.RawItem, 0, len(raw))
	for _, r := range raw {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			continue
		}
		items = append(items, model.RawItem{
			Name:        name,
			Description: strings.TrimSpace(r.Description),
			Price:       float64(r.Price),
			Category:    strings.TrimSpace(r.Category),
			Section:     batch.Section,
			SourceInfo:  batch.Source,
		})
	}
	return items, nil
}

func (p *Pipeline) buildBatchRequest(batch extractionBatch) anthropic.MessageRequest {
	content := batch.Payload
	if batch.IsImage {
		content = "(attached below)"
	}
	prompt := fmt.Sprintf(extractPrompt,
		batch.Section,
		strings.Join(p.vocab.Categories, ", "),
		strings.Join(p.vocab.Sizes, ", "),
		content,
	)

	parts := []anthropic.ContentPart{anthropic.TextPart(prompt)}
	if batch.IsImage {
		if batch.MediaType == "application/pdf" {
			parts = append(parts, anthropic.InlineDocumentPart(batch.Payload))
		} else {
			parts = append(parts, anthropic.ImagePart(batch.MediaType, batch.Payload))
		}
	}

	return anthropic.MessageRequest{
		Model:     p.modelFor(batch.Tier),
		MaxTokens: int64(p.cfg.Extraction.MaxOutputTokens),
		System:    anthropic.BuildCachedSystemBlocks(extractSystemText),
		Messages:  []anthropic.Message{anthropic.UserMessage(parts...)},
	}
}
