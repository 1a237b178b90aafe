package prepare

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/menu-extract/internal/model"
)

func TestRenderSheetDropsEmptyRows(t *testing.T) {
	t.Parallel()
	sr := namedRows{
		name: "Menu",
		rows: [][]string{
			{"Item", "Price"},
			{"Burger", "9.50"},
			{"", ""},
			{"  ", ""},
			{"Pizza", "12.00"},
		},
	}

	sheet, ok := renderSheet(sr)
	require.True(t, ok)
	assert.Equal(t, "Menu", sheet.Name)
	assert.Equal(t, 2, sheet.RowCount)
	assert.Equal(t, "Item,Price\nBurger,9.50\nPizza,12.00", sheet.Content)
	assert.Greater(t, sheet.TokenEstimate, 0)
}

func TestRenderSheetNoDataRows(t *testing.T) {
	t.Parallel()

	_, ok := renderSheet(namedRows{name: "Empty", rows: [][]string{{"Item", "Price"}}})
	assert.False(t, ok, "header-only sheet must be skipped")

	_, ok = renderSheet(namedRows{name: "Blank", rows: [][]string{{"Item"}, {""}, {" "}}})
	assert.False(t, ok, "sheet with only empty data rows must be skipped")

	_, ok = renderSheet(namedRows{name: "Nil"})
	assert.False(t, ok)
}

func TestReadCSV(t *testing.T) {
	t.Parallel()
	data := []byte("Item,Price\nBurger,9.50\n\"Fish, Chips\",11.00\n")

	sheets, err := readCSV("lunch.csv", data)
	require.NoError(t, err)
	require.Len(t, sheets, 1)
	assert.Equal(t, "lunch", sheets[0].name)
	require.Len(t, sheets[0].rows, 3)
	assert.Equal(t, "Fish, Chips", sheets[0].rows[2][0])
}

func buildSheet(t *testing.T, header string, rows []string) model.PreparedSheet {
	t.Helper()
	content := header + "\n" + strings.Join(rows, "\n")
	return model.PreparedSheet{
		Name:          "Menu",
		Content:       content,
		RowCount:      len(rows),
		TokenEstimate: EstimateTokens(content),
	}
}

func TestSplitSheetSingleChunkWhenUnderBudget(t *testing.T) {
	t.Parallel()
	sheet := buildSheet(t, "Item,Price", []string{"Burger,9.50", "Pizza,12.00"})

	chunks := SplitSheet(sheet, 10_000)
	require.Len(t, chunks, 1)
	assert.Equal(t, sheet.Content, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].StartRow)
	assert.Equal(t, sheet.RowCount, chunks[0].EndRow)
}

func TestSplitSheetChunksAreContiguousAndCovering(t *testing.T) {
	t.Parallel()

	rows := make([]string, 200)
	for i := range rows {
		rows[i] = strings.Repeat("x", 40) + ",9.99"
	}
	sheet := buildSheet(t, "Item,Price", rows)

	maxTokens := 100
	chunks := SplitSheet(sheet, maxTokens)
	require.Greater(t, len(chunks), 1)

	prevEnd := 0
	for _, c := range chunks {
		assert.Equal(t, prevEnd, c.StartRow, "chunks must be contiguous")
		assert.Greater(t, c.EndRow, c.StartRow)
		prevEnd = c.EndRow

		lines := strings.Split(c.Content, "\n")
		assert.Equal(t, "Item,Price", lines[0], "every chunk repeats the header")
		assert.Equal(t, c.EndRow-c.StartRow, len(lines)-1, "chunk row span matches its content")
	}
	assert.Equal(t, len(rows), prevEnd, "chunks must cover every data row")
}

func TestSplitSheetOversizedSingleRow(t *testing.T) {
	t.Parallel()
	// A single row larger than the budget still lands in its own chunk.
	sheet := buildSheet(t, "Item,Price", []string{strings.Repeat("y", 2000) + ",5.00", "Burger,9.50"})

	chunks := SplitSheet(sheet, 50)
	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].StartRow)
	assert.Equal(t, 1, chunks[0].EndRow)
	assert.Equal(t, 2, chunks[1].EndRow)
}

func TestConvertToItems(t *testing.T) {
	t.Parallel()
	doc := model.PreparedDocument{ID: "doc-1", Kind: model.KindSpreadsheet}
	sheet := model.PreparedSheet{
		Name: "Lunch",
		Content: strings.Join([]string{
			"Item Name,Description,Price,Category",
			"Burger,Classic beef burger,$9.50,Sandwiches",
			"Pizza,,\"1,200\",Entrees",
			",no name here,4.00,",
			"Caesar Salad,Romaine and croutons,8.00,Salads",
		}, "\n"),
		RowCount: 4,
	}

	items, err := ConvertToItems(doc, sheet, "Lunch")
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "Burger", items[0].Name)
	assert.Equal(t, 9.50, items[0].Price)
	assert.Equal(t, "Classic beef burger", items[0].Description)
	assert.Equal(t, "Sandwiches", items[0].Category)
	assert.Equal(t, "Lunch", items[0].Section)
	assert.Equal(t, "doc-1", items[0].SourceInfo.DocumentID)
	assert.Equal(t, "Lunch", items[0].SourceInfo.Sheet)

	assert.Equal(t, 1200.0, items[1].Price, "thousands separator is tolerated")
}

func TestConvertToItemsDedupesNearIdenticalRows(t *testing.T) {
	t.Parallel()
	doc := model.PreparedDocument{ID: "doc-1"}
	sheet := model.PreparedSheet{
		Name: "Menu",
		Content: strings.Join([]string{
			"Item,Price",
			"Margherita Pizza,12.00",
			"Margherita pizza,12.00",
			"Margherita Pizza,14.00",
		}, "\n"),
		RowCount: 3,
	}

	items, err := ConvertToItems(doc, sheet, "Pizza")
	require.NoError(t, err)
	require.Len(t, items, 2, "same name at same price collapses; different price survives")
	assert.Equal(t, 12.00, items[0].Price)
	assert.Equal(t, 14.00, items[1].Price)
}

func TestConvertToItemsNoNameColumn(t *testing.T) {
	t.Parallel()
	sheet := model.PreparedSheet{
		Name:    "Odd",
		Content: "Col A,Col B\nfoo,bar",
	}

	_, err := ConvertToItems(model.PreparedDocument{}, sheet, "s")
	assert.Error(t, err)
}

func TestParsePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want float64
	}{
		{"9.50", 9.50},
		{"$9.50", 9.50},
		{" £12 ", 12},
		{"1,234.56", 1234.56},
		{"", 0},
		{"market price", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parsePrice(tt.in), "parsePrice(%q)", tt.in)
	}
}

func TestEstimateTokens(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"), "short text rounds up to one token")
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("a", 100)))
}
