package model

import "strings"

// Vocabulary holds the fixed category and size vocabularies the extractor is
// allowed to emit. The editing UI only understands these values.
type Vocabulary struct {
	Categories      []string `json:"categories"`
	Sizes           []string `json:"sizes"`
	DefaultCategory string   `json:"default_category"`
}

// SizeNA is the sentinel size used when a model-proposed size is not in the
// allowed vocabulary.
const SizeNA = "N/A"

// DefaultVocabulary returns the built-in vocabulary used when the caller does
// not supply one.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Categories: []string{
			"Appetizers", "Soups", "Salads", "Entrees", "Sandwiches",
			"Pizza", "Pasta", "Sides", "Desserts", "Beverages",
			"Alcohol", "Kids", "Specials", "Other",
		},
		Sizes: []string{
			"Small", "Medium", "Large", "Extra Large",
			"Regular", "Half", "Full", SizeNA,
		},
		DefaultCategory: "Other",
	}
}

// HasCategory reports whether c is an allowed category (case-insensitive).
func (v Vocabulary) HasCategory(c string) bool {
	for _, allowed := range v.Categories {
		if strings.EqualFold(allowed, c) {
			return true
		}
	}
	return false
}

// HasSize reports whether s is an allowed size (case-insensitive).
func (v Vocabulary) HasSize(s string) bool {
	for _, allowed := range v.Sizes {
		if strings.EqualFold(allowed, s) {
			return true
		}
	}
	return false
}

// CanonicalCategory returns the allowed-vocabulary spelling of c, or the
// default category when c is not allowed.
func (v Vocabulary) CanonicalCategory(c string) string {
	for _, allowed := range v.Categories {
		if strings.EqualFold(allowed, c) {
			return allowed
		}
	}
	return v.DefaultCategory
}

// CanonicalSize returns the allowed-vocabulary spelling of s, or the N/A
// sentinel when s is not allowed.
func (v Vocabulary) CanonicalSize(s string) string {
	for _, allowed := range v.Sizes {
		if strings.EqualFold(allowed, s) {
			return allowed
		}
	}
	return SizeNA
}
