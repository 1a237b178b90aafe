package model

// MenuSection is a named grouping of menu items produced by structure
// analysis, scoped to one or more source document regions.
type MenuSection struct {
	Name               string             `json:"name"`
	DocumentLocations  []DocumentLocation `json:"document_locations"`
	EstimatedItemCount int                `json:"estimated_item_count"`
	IsOversized        bool               `json:"is_oversized"` // >100 items
	Confidence         float64            `json:"confidence"`   // [0,1]
}

// References reports whether the section points at the given document.
func (s MenuSection) References(documentID string) bool {
	for _, loc := range s.DocumentLocations {
		if loc.DocumentID == documentID {
			return true
		}
	}
	return false
}

// MenuStructure is the validated, coverage-complete output of structure
// analysis.
type MenuStructure struct {
	Sections []MenuSection `json:"sections"`
}

// SourceInfo records where an item was found.
type SourceInfo struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page,omitempty"`
	Sheet      string `json:"sheet,omitempty"`
}

// RawItem is an extracted menu item before enrichment. Category may still be
// outside the allowed vocabulary at this stage; coercion happens during
// enrichment validation.
type RawItem struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Price       float64    `json:"price"`
	Category    string     `json:"category"`
	Section     string     `json:"section"`
	SourceInfo  SourceInfo `json:"source_info"`
}

// SizeOption is one purchasable size of an item.
type SizeOption struct {
	Size      string  `json:"size"`
	Price     float64 `json:"price"`
	IsDefault bool    `json:"is_default"`
}

// ModifierGroup is a named set of add-on choices attached to an item.
type ModifierGroup struct {
	Name        string   `json:"name"`
	Options     []string `json:"options"`
	Required    bool     `json:"required"`
	MultiSelect bool     `json:"multi_select"`
}

// FinalItem is a fully enriched menu item. Every FinalItem carries at least
// one size option.
type FinalItem struct {
	RawItem
	Sizes          []SizeOption    `json:"sizes"`
	ModifierGroups []ModifierGroup `json:"modifier_groups"`
}
