package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/menu-extract/internal/cost"
	"github.com/sells-group/menu-extract/internal/fuzzy"
	"github.com/sells-group/menu-extract/internal/model"
	"github.com/sells-group/menu-extract/internal/parse"
	"github.com/sells-group/menu-extract/internal/upload"
	"github.com/sells-group/menu-extract/pkg/anthropic"
)

// modifierNameMatchThreshold is the minimum similarity ratio at which a
// modifier group name from a later batch is folded into an
// already-accumulated group instead of creating a near-duplicate.
const modifierNameMatchThreshold = 0.8

// enrichResponse mirrors the per-item JSON shape phase 3 asks the model
// for. Items are referenced by positional id so the response never repeats
// names or descriptions.
type enrichResponse struct {
	ID             int                   `json:"id"`
	Sizes          []model.SizeOption    `json:"sizes"`
	ModifierGroups []model.ModifierGroup `json:"modifier_groups"`
}

// enrichItems runs phase 3: a single enrichment call over all items with
// the source documents attached, falling back to a sequential batch fold
// when the single call fails or its response cannot be reconciled. Never
// fatal: on total failure every item is finalized with one default size.
func (p *Pipeline) enrichItems(ctx context.Context, tracker *cost.Tracker, items []model.RawItem, refs map[string]upload.Uploaded, rlog *runLog) []model.FinalItem {
	if len(items) == 0 {
		return nil
	}

	finals, err := p.enrichSingleCall(ctx, tracker, items, refs)
	if err == nil {
		zap.L().Info("enrich: single call succeeded", zap.Int("items", len(finals)))
		return finals
	}
	rlog.warn("enrich", fmt.Sprintf("single-call enrichment failed, falling back to batches: %v", err))
	zap.L().Warn("enrich: falling back to sequential batches", zap.Error(err))

	return p.enrichSequential(ctx, tracker, items, rlog)
}

// enrichSingleCall sends every item in one request, attaching the uploaded
// source documents so the model can read sizes and modifiers directly.
func (p *Pipeline) enrichSingleCall(ctx context.Context, tracker *cost.Tracker, items []model.RawItem, refs map[string]upload.Uploaded) ([]model.FinalItem, error) {
	prompt := fmt.Sprintf(enrichSinglePrompt,
		renderEnrichItems(items, 0),
		strings.Join(p.vocab.Sizes, ", "),
	)

	parts := []anthropic.ContentPart{anthropic.TextPart(prompt)}
	for _, ref := range refs {
		parts = append(parts, uploadedPart(ref))
	}

	req := anthropic.MessageRequest{
		Model:     p.modelFor(model.TierCapable),
		MaxTokens: int64(p.cfg.Extraction.MaxOutputTokens),
		System:    anthropic.BuildCachedSystemBlocks(enrichSystemText),
		Messages:  []anthropic.Message{anthropic.UserMessage(parts...)},
	}

	resp, err := p.callModel(ctx, tracker, cost.PhaseEnrich, model.TierCapable, req)
	if err != nil {
		return nil, err
	}
	rows, err := parse.Array[enrichResponse](resp.Text())
	if err != nil {
		return nil, err
	}

	return p.applyEnrichment(items, 0, rows, nil), nil
}

// enrichSequential folds over fixed-size batches in order, carrying the
// modifier groups accumulated so far into each prompt so later batches
// reuse earlier group names. Batch failures degrade to default sizes for
// that batch only.
func (p *Pipeline) enrichSequential(ctx context.Context, tracker *cost.Tracker, items []model.RawItem, rlog *runLog) []model.FinalItem {
	size := p.cfg.Extraction.EnrichBatchSize
	if size <= 0 {
		size = 20
	}

	var finals []model.FinalItem
	var accumulated []model.ModifierGroup

	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batch := items[start:end]

		if err := ctx.Err(); err != nil {
			rlog.warn("enrich", fmt.Sprintf("run cancelled; %d items finalized with default sizes", len(items)-start))
			for i := start; i < len(items); i++ {
				finals = append(finals, p.defaultFinal(items[i]))
			}
			return finals
		}

		rows, err := p.enrichBatch(ctx, tracker, batch, start, accumulated)
		if err != nil {
			rlog.warn("enrich", fmt.Sprintf("batch %d-%d failed, items get default sizes: %v", start, end-1, err))
			for _, item := range batch {
				finals = append(finals, p.defaultFinal(item))
			}
			continue
		}

		enriched := p.applyEnrichment(batch, start, rows, accumulated)
		finals = append(finals, enriched...)
		accumulated = mergeModifierGroups(accumulated, enriched)
	}

	zap.L().Info("enrich: sequential fold done",
		zap.Int("items", len(finals)),
		zap.Int("modifier_groups", len(accumulated)),
	)
	return finals
}

func (p *Pipeline) enrichBatch(ctx context.Context, tracker *cost.Tracker, batch []model.RawItem, offset int, accumulated []model.ModifierGroup) ([]enrichResponse, error) {
	prompt := fmt.Sprintf(enrichBatchPrompt,
		renderEnrichItems(batch, offset),
		renderModifierGroups(accumulated),
		strings.Join(p.vocab.Sizes, ", "),
	)

	req := anthropic.MessageRequest{
		Model:     p.modelFor(model.TierCapable),
		MaxTokens: int64(p.cfg.Extraction.MaxOutputTokens),
		System:    anthropic.BuildCachedSystemBlocks(enrichSystemText),
		Messages:  []anthropic.Message{anthropic.UserMessage(anthropic.TextPart(prompt))},
	}

	resp, err := p.callModel(ctx, tracker, cost.PhaseEnrich, model.TierCapable, req)
	if err != nil {
		return nil, err
	}
	return parse.Array[enrichResponse](resp.Text())
}

// applyEnrichment maps responses back onto items by positional id, coerces
// sizes and categories into the vocabulary, and guarantees at least one
// size per item. Items with no matching response row get the default size.
func (p *Pipeline) applyEnrichment(items []model.RawItem, offset int, rows []enrichResponse, known []model.ModifierGroup) []model.FinalItem {
	byID := make(map[int]enrichResponse, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	finals := make([]model.FinalItem, 0, len(items))
	for i, item := range items {
		row, ok := byID[offset+i]
		if !ok {
			finals = append(finals, p.defaultFinal(item))
			continue
		}

		final := model.FinalItem{RawItem: item}
		final.Category = p.vocab.CanonicalCategory(item.Category)

		for _, s := range row.Sizes {
			s.Size = p.vocab.CanonicalSize(s.Size)
			final.Sizes = append(final.Sizes, s)
		}
		if len(final.Sizes) == 0 {
			final.Sizes = []model.SizeOption{defaultSize(item)}
		}

		for _, g := range row.ModifierGroups {
			g.Name = strings.TrimSpace(g.Name)
			if g.Name == "" {
				continue
			}
			if match, ok := matchModifierGroup(known, g.Name); ok {
				g.Name = match.Name
			}
			final.ModifierGroups = append(final.ModifierGroups, g)
		}

		finals = append(finals, final)
	}
	return finals
}

// defaultFinal finalizes an item that received no enrichment: category
// coerced, one face-value default size, no modifiers.
func (p *Pipeline) defaultFinal(item model.RawItem) model.FinalItem {
	final := model.FinalItem{RawItem: item}
	final.Category = p.vocab.CanonicalCategory(item.Category)
	final.Sizes = []model.SizeOption{defaultSize(item)}
	return final
}

func defaultSize(item model.RawItem) model.SizeOption {
	return model.SizeOption{Size: model.SizeNA, Price: item.Price, IsDefault: true}
}

// matchModifierGroup finds an accumulated group whose name is close enough
// to name to be the same group under a variant spelling.
func matchModifierGroup(known []model.ModifierGroup, name string) (model.ModifierGroup, bool) {
	for _, g := range known {
		if fuzzy.Ratio(g.Name, name) >= modifierNameMatchThreshold {
			return g, true
		}
	}
	return model.ModifierGroup{}, false
}

// mergeModifierGroups extends the accumulated group list with any genuinely
// new groups seen in this batch's output.
func mergeModifierGroups(accumulated []model.ModifierGroup, finals []model.FinalItem) []model.ModifierGroup {
	for _, final := range finals {
		for _, g := range final.ModifierGroups {
			if _, ok := matchModifierGroup(accumulated, g.Name); !ok {
				accumulated = append(accumulated, g)
			}
		}
	}
	return accumulated
}

// renderEnrichItems flattens items into the numbered listing both enrich
// prompts embed. Offset keeps ids globally unique across sequential batches.
func renderEnrichItems(items []model.RawItem, offset int) string {
	var b strings.Builder
	for i, item := range items {
		fmt.Fprintf(&b, "%d. %s", offset+i, item.Name)
		if item.Price > 0 {
			fmt.Fprintf(&b, " ($%.2f)", item.Price)
		}
		if item.Description != "" {
			fmt.Fprintf(&b, " - %s", item.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func renderModifierGroups(groups []model.ModifierGroup) string {
	if len(groups) == 0 {
		return "(none yet)"
	}
	var b strings.Builder
	for _, g := range groups {
		fmt.Fprintf(&b, "- %s: %s\n", g.Name, strings.Join(g.Options, ", "))
	}
	return b.String()
}
