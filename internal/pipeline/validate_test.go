package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/menu-extract/internal/model"
)

func section(name string, docID string, estimate int, confidence float64) model.MenuSection {
	return model.MenuSection{
		Name:               name,
		DocumentLocations:  []model.DocumentLocation{{DocumentID: docID}},
		EstimatedItemCount: estimate,
		Confidence:         confidence,
	}
}

func TestValidateStructure(t *testing.T) {
	t.Parallel()

	prepared := []model.PreparedDocument{
		{ID: "doc-1", Name: "menu.pdf", Kind: model.KindPDF},
		{ID: "doc-2", Name: "drinks.csv", Kind: model.KindSpreadsheet},
	}

	t.Run("covered structure is valid", func(t *testing.T) {
		t.Parallel()
		structure := &model.MenuStructure{Sections: []model.MenuSection{
			section("Food", "doc-1", 10, 0.9),
			section("Drinks", "doc-2", 5, 0.8),
		}}
		report := ValidateStructure(structure, prepared)
		assert.True(t, report.IsValid)
		assert.Empty(t, report.Warnings)
	})

	t.Run("nil structure is invalid", func(t *testing.T) {
		t.Parallel()
		report := ValidateStructure(nil, prepared)
		assert.False(t, report.IsValid)
		require.Len(t, report.Warnings, 1)
	})

	t.Run("no sections is invalid", func(t *testing.T) {
		t.Parallel()
		report := ValidateStructure(&model.MenuStructure{}, prepared)
		assert.False(t, report.IsValid)
	})

	t.Run("uncovered document is invalid", func(t *testing.T) {
		t.Parallel()
		structure := &model.MenuStructure{Sections: []model.MenuSection{
			section("Food", "doc-1", 10, 0.9),
		}}
		report := ValidateStructure(structure, prepared)
		assert.False(t, report.IsValid)
		require.Len(t, report.Warnings, 1)
		assert.Contains(t, report.Warnings[0], "doc-2")
	})

	t.Run("low confidence and zero estimate warn but stay valid", func(t *testing.T) {
		t.Parallel()
		structure := &model.MenuStructure{Sections: []model.MenuSection{
			section("Food", "doc-1", 0, 0.2),
			section("Drinks", "doc-2", 5, 0.9),
		}}
		report := ValidateStructure(structure, prepared)
		assert.True(t, report.IsValid)
		assert.Len(t, report.Warnings, 2)
	})
}

func TestValidateExtraction(t *testing.T) {
	t.Parallel()

	structure := &model.MenuStructure{Sections: []model.MenuSection{
		section("Food", "doc-1", 4, 0.9),
	}}

	t.Run("healthy yield", func(t *testing.T) {
		t.Parallel()
		items := []model.RawItem{
			{Name: "Burger", Section: "Food", Price: 9.5},
			{Name: "Pizza", Section: "Food", Price: 12},
			{Name: "Salad", Section: "Food", Price: 8},
		}
		report := ValidateExtraction(structure, items)
		assert.True(t, report.IsValid)
		assert.Empty(t, report.Warnings)
	})

	t.Run("empty section is invalid", func(t *testing.T) {
		t.Parallel()
		report := ValidateExtraction(structure, nil)
		assert.False(t, report.IsValid)
		require.Len(t, report.Warnings, 1)
		assert.Contains(t, report.Warnings[0], "no items")
	})

	t.Run("low yield against estimate warns", func(t *testing.T) {
		t.Parallel()
		items := []model.RawItem{{Name: "Burger", Section: "Food", Price: 9.5}}
		report := ValidateExtraction(structure, items)
		assert.True(t, report.IsValid)
		require.Len(t, report.Warnings, 1)
		assert.Contains(t, report.Warnings[0], "estimate")
	})

	t.Run("mostly unpriced items warn", func(t *testing.T) {
		t.Parallel()
		items := []model.RawItem{
			{Name: "Burger", Section: "Food", Price: 9.5},
			{Name: "Pizza", Section: "Food"},
			{Name: "Salad", Section: "Food"},
			{Name: "Soup", Section: "Food"},
		}
		report := ValidateExtraction(structure, items)
		assert.True(t, report.IsValid)
		require.NotEmpty(t, report.Warnings)
		assert.Contains(t, report.Warnings[len(report.Warnings)-1], "carry a price")
	})
}

func TestValidateEnrichment(t *testing.T) {
	t.Parallel()

	vocab := model.DefaultVocabulary()
	valid := model.FinalItem{
		RawItem: model.RawItem{Name: "Burger", Category: "Sandwiches"},
		Sizes:   []model.SizeOption{{Size: "Regular", Price: 9.5, IsDefault: true}},
	}

	t.Run("valid items pass", func(t *testing.T) {
		t.Parallel()
		report := ValidateEnrichment([]model.FinalItem{valid}, vocab)
		assert.True(t, report.IsValid)
	})

	t.Run("sentinel size is allowed", func(t *testing.T) {
		t.Parallel()
		item := valid
		item.Sizes = []model.SizeOption{{Size: model.SizeNA, Price: 9.5, IsDefault: true}}
		report := ValidateEnrichment([]model.FinalItem{item}, vocab)
		assert.True(t, report.IsValid)
	})

	t.Run("missing sizes is invalid", func(t *testing.T) {
		t.Parallel()
		item := valid
		item.Sizes = nil
		report := ValidateEnrichment([]model.FinalItem{item}, vocab)
		assert.False(t, report.IsValid)
	})

	t.Run("out of vocabulary size is invalid", func(t *testing.T) {
		t.Parallel()
		item := valid
		item.Sizes = []model.SizeOption{{Size: "Venti", Price: 5}}
		report := ValidateEnrichment([]model.FinalItem{item}, vocab)
		assert.False(t, report.IsValid)
	})

	t.Run("out of vocabulary category is invalid", func(t *testing.T) {
		t.Parallel()
		item := valid
		item.Category = "Charcuterie"
		report := ValidateEnrichment([]model.FinalItem{item}, vocab)
		assert.False(t, report.IsValid)
	})
}
