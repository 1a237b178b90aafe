package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extract/internal/cost"
	"github.com/sells-group/menu-extract/internal/model"
	"github.com/sells-group/menu-extract/internal/parse"
	"github.com/sells-group/menu-extract/internal/upload"
	"github.com/sells-group/menu-extract/pkg/anthropic"
)

// oversizedItemCount is the section size above which phase 2 tightens its
// per-batch token budget.
const oversizedItemCount = 100

// fallbackSectionName names the section synthesized for spreadsheets the
// model failed to reference.
const fallbackSectionName = "Menu Items"

// structureSection mirrors the JSON shape phase 1 asks the model for.
type structureSection struct {
	Name               string              `json:"name"`
	DocumentLocations  []structureLocation `json:"document_locations"`
	EstimatedItemCount int                 `json:"estimated_item_count"`
	Confidence         float64             `json:"confidence"`
}

type structureLocation struct {
	DocumentID  string   `json:"document_id"`
	PageNumbers []int    `json:"page_numbers,omitempty"`
	SheetNames  []string `json:"sheet_names,omitempty"`
}

// analyzeStructure issues the single multimodal phase-1 call, validates the
// returned sections, and heals spreadsheet coverage gaps. A structurally
// invalid response is fatal; a coverage gap is not.
func (p *Pipeline) analyzeStructure(ctx context.Context, tracker *cost.Tracker, prepared []model.PreparedDocument, refs map[string]upload.Uploaded, rlog *runLog) (*model.MenuStructure, error) {
	req := p.buildStructureRequest(prepared, refs)

	resp, err := p.callModel(ctx, tracker, cost.PhaseStructure, model.TierCapable, req)
	if err != nil {
		return nil, eris.Wrap(err, "structure: generate call")
	}

	raw, err := parse.Array[structureSection](resp.Text())
	if err != nil {
		return nil, eris.Wrap(err, "structure: parse response")
	}

	sections := make([]model.MenuSection, 0, len(raw))
	for i, rs := range raw {
		section, err := validateSection(rs, i)
		if err != nil {
			return nil, err
		}
		sections = append(sections, section)
	}

	structure := &model.MenuStructure{Sections: sections}
	p.healSpreadsheetCoverage(structure, prepared, rlog)

	zap.L().Info("structure: analysis complete",
		zap.Int("sections", len(structure.Sections)),
	)
	return structure, nil
}

// validateSection enforces the phase-1 structural preconditions: a
// non-empty name and at least one location naming a document. Violations
// abort the phase.
func validateSection(rs structureSection, idx int) (model.MenuSection, error) {
	if strings.TrimSpace(rs.Name) == "" {
		return model.MenuSection{}, eris.Errorf("structure: section %d has empty name", idx)
	}
	if len(rs.DocumentLocations) == 0 {
		return model.MenuSection{}, eris.Errorf("structure: section %q has no document locations", rs.Name)
	}

	locs := make([]model.DocumentLocation, 0, len(rs.DocumentLocations))
	for _, rl := range rs.DocumentLocations {
		if rl.DocumentID == "" {
			return model.MenuSection{}, eris.Errorf("structure: section %q has a location without document_id", rs.Name)
		}
		// A location carrying only a document_id means the whole document;
		// batch building expands it to every page or sheet.
		locs = append(locs, model.DocumentLocation{
			DocumentID:  rl.DocumentID,
			PageNumbers: rl.PageNumbers,
			SheetNames:  rl.SheetNames,
		})
	}

	confidence := rs.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return model.MenuSection{
		Name:               strings.TrimSpace(rs.Name),
		DocumentLocations:  locs,
		EstimatedItemCount: rs.EstimatedItemCount,
		IsOversized:        rs.EstimatedItemCount > oversizedItemCount,
		Confidence:         confidence,
	}, nil
}

// healSpreadsheetCoverage synthesizes one fallback section covering every
// spreadsheet document the model failed to reference. Guards against the
// common failure mode where the model silently drops a source.
func (p *Pipeline) healSpreadsheetCoverage(structure *model.MenuStructure, prepared []model.PreparedDocument, rlog *runLog) {
	var locs []model.DocumentLocation
	estimate := 0

	for _, doc := range prepared {
		if doc.Kind != model.KindSpreadsheet {
			continue
		}
		covered := false
		for _, s := range structure.Sections {
			if s.References(doc.ID) {
				covered = true
				break
			}
		}
		if covered {
			continue
		}

		loc := model.DocumentLocation{DocumentID: doc.ID}
		for _, sheet := range doc.Sheets {
			loc.SheetNames = append(loc.SheetNames, sheet.Name)
			estimate += sheet.RowCount
		}
		locs = append(locs, loc)
	}

	if len(locs) == 0 {
		return
	}

	for _, loc := range locs {
		rlog.warn("structure", "spreadsheet "+loc.DocumentID+" not referenced by any section; added to fallback section")
	}
	zap.L().Warn("structure: healing spreadsheet coverage gap",
		zap.Int("uncovered_documents", len(locs)),
		zap.Int("estimated_items", estimate),
	)

	structure.Sections = append(structure.Sections, model.MenuSection{
		Name:               fallbackSectionName,
		DocumentLocations:  locs,
		EstimatedItemCount: estimate,
		IsOversized:        estimate > oversizedItemCount,
		Confidence:         0.3,
	})
}

// buildStructureRequest assembles the one multimodal phase-1 request: the
// instruction block, a per-document reference block so the model can emit
// documentId-scoped locations, and the content itself (uploaded references
// where available, inline otherwise).
func (p *Pipeline) buildStructureRequest(prepared []model.PreparedDocument, refs map[string]upload.Uploaded) anthropic.MessageRequest {
	var refBlock strings.Builder
	for _, doc := range prepared {
		fmt.Fprintf(&refBlock, "- id: %s, name: %s, kind: %s", doc.ID, doc.Name, doc.Kind)
		if len(doc.Pages) > 0 {
			fmt.Fprintf(&refBlock, ", pages: %d", len(doc.Pages))
		}
		if len(doc.Sheets) > 0 {
			names := make([]string, len(doc.Sheets))
			for i, s := range doc.Sheets {
				names[i] = fmt.Sprintf("%s (%d rows)", s.Name, s.RowCount)
			}
			fmt.Fprintf(&refBlock, ", sheets: %s", strings.Join(names, ", "))
		}
		refBlock.WriteString("\n")
	}

	parts := []anthropic.ContentPart{
		anthropic.TextPart(fmt.Sprintf(structurePrompt,
			strings.Join(p.vocab.Categories, ", "),
			refBlock.String(),
		)),
	}
	parts = append(parts, p.documentParts(prepared, refs)...)

	return anthropic.MessageRequest{
		Model:     p.modelFor(model.TierCapable),
		MaxTokens: int64(p.cfg.Extraction.MaxOutputTokens),
		System:    anthropic.BuildCachedSystemBlocks(structureSystemText),
		Messages:  []anthropic.Message{anthropic.UserMessage(parts...)},
	}
}

// documentParts renders every prepared document as message content:
// uploaded PDFs and images by reference, unuploaded ones inline,
// spreadsheets and extracted text as labelled text blocks.
func (p *Pipeline) documentParts(prepared []model.PreparedDocument, refs map[string]upload.Uploaded) []anthropic.ContentPart {
	var parts []anthropic.ContentPart
	for _, doc := range prepared {
		switch doc.Kind {
		case model.KindPDF:
			if ref, ok := refs[doc.ID]; ok {
				parts = append(parts, uploadedPart(ref))
				continue
			}
			for _, page := range doc.Pages {
				if page.IsImage {
					// Image-fallback pages carry the whole PDF as base64;
					// the vision model reads it as a document.
					parts = append(parts, anthropic.InlineDocumentPart(page.Content))
				} else {
					parts = append(parts, anthropic.TextPart(fmt.Sprintf("--- Document %s, page %d ---\n%s", doc.ID, page.PageNumber, page.Content)))
				}
			}
		case model.KindImage:
			if ref, ok := refs[doc.ID]; ok {
				parts = append(parts, uploadedPart(ref))
				continue
			}
			parts = append(parts, anthropic.ImagePart(doc.MimeType, doc.Content))
		case model.KindSpreadsheet:
			for _, sheet := range doc.Sheets {
				parts = append(parts, anthropic.TextPart(fmt.Sprintf("--- Document %s, sheet %s ---\n%s", doc.ID, sheet.Name, sheet.Content)))
			}
		}
	}
	return parts
}
