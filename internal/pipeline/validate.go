package pipeline

import (
	"fmt"

	"github.com/sells-group/menu-extract/internal/model"
)

// lowExtractionRate is the fraction of the estimated item count below which
// a section's yield is considered suspicious.
const lowExtractionRate = 0.5

// ValidateStructure checks the analyzed structure against the prepared
// documents. Pure and advisory: findings become warnings, never errors.
func ValidateStructure(structure *model.MenuStructure, prepared []model.PreparedDocument) model.ValidationReport {
	report := model.ValidationReport{IsValid: true}
	if structure == nil || len(structure.Sections) == 0 {
		report.IsValid = false
		report.Warnings = append(report.Warnings, "structure analysis produced no sections")
		return report
	}

	for _, doc := range prepared {
		covered := false
		for _, section := range structure.Sections {
			if section.References(doc.ID) {
				covered = true
				break
			}
		}
		if !covered {
			report.IsValid = false
			report.Warnings = append(report.Warnings, fmt.Sprintf("document %s (%s) is not referenced by any section", doc.ID, doc.Name))
		}
	}

	for _, section := range structure.Sections {
		if section.Confidence < 0.5 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("section %q has low confidence %.2f", section.Name, section.Confidence))
		}
		if section.EstimatedItemCount == 0 {
			report.Warnings = append(report.Warnings, fmt.Sprintf("section %q has no estimated items", section.Name))
		}
	}
	return report
}

// ValidateExtraction compares extracted items against the structure's
// estimates: empty sections and sections yielding far below their estimate
// are flagged.
func ValidateExtraction(structure *model.MenuStructure, items []model.RawItem) model.ValidationReport {
	report := model.ValidationReport{IsValid: true}

	bySection := make(map[string]int)
	priced := 0
	for _, item := range items {
		bySection[item.Section]++
		if item.Price > 0 {
			priced++
		}
	}

	for _, section := range structure.Sections {
		got := bySection[section.Name]
		if got == 0 {
			report.IsValid = false
			report.Warnings = append(report.Warnings, fmt.Sprintf("section %q yielded no items", section.Name))
			continue
		}
		if est := section.EstimatedItemCount; est > 0 && float64(got) < lowExtractionRate*float64(est) {
			report.Warnings = append(report.Warnings, fmt.Sprintf("section %q yielded %d items against an estimate of %d", section.Name, got, est))
		}
	}

	if len(items) > 0 && priced < len(items)/2 {
		report.Warnings = append(report.Warnings, fmt.Sprintf("only %d of %d items carry a price", priced, len(items)))
	}
	return report
}

// ValidateEnrichment checks the final items: every item must carry at least
// one size, and every size and category must be inside the vocabulary.
func ValidateEnrichment(items []model.FinalItem, vocab model.Vocabulary) model.ValidationReport {
	report := model.ValidationReport{IsValid: true}
	for _, item := range items {
		if len(item.Sizes) == 0 {
			report.IsValid = false
			report.Warnings = append(report.Warnings, fmt.Sprintf("item %q has no size options", item.Name))
		}
		for _, s := range item.Sizes {
			if s.Size != model.SizeNA && !vocab.HasSize(s.Size) {
				report.IsValid = false
				report.Warnings = append(report.Warnings, fmt.Sprintf("item %q carries size %q outside the allowed set", item.Name, s.Size))
			}
		}
		if !vocab.HasCategory(item.Category) {
			report.IsValid = false
			report.Warnings = append(report.Warnings, fmt.Sprintf("item %q carries category %q outside the allowed set", item.Name, item.Category))
		}
	}
	return report
}
