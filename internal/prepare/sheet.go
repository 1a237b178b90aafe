package prepare

import (
	"encoding/csv"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extract/internal/fuzzy"
	"github.com/sells-group/menu-extract/internal/model"
)

// prepareSpreadsheet parses every sheet into a header-preserving CSV text
// block. Sheets with no non-empty data rows are skipped with a warning,
// never fabricated.
func prepareSpreadsheet(meta model.DocumentMeta, data []byte) (model.PreparedDocument, error) {
	doc := model.PreparedDocument{
		ID:       meta.ID,
		Name:     meta.Name,
		Kind:     model.KindSpreadsheet,
		MimeType: meta.MimeType,
		RawBytes: data,
	}

	var sheets []namedRows
	var err error
	if meta.IsCSV() {
		sheets, err = readCSV(meta.Name, data)
	} else {
		sheets, err = readXLSX(data)
	}
	if err != nil {
		return model.PreparedDocument{}, err
	}

	for _, sr := range sheets {
		prepared, ok := renderSheet(sr)
		if !ok {
			zap.L().Warn("prepare: sheet has no data rows, skipping",
				zap.String("document_id", meta.ID),
				zap.String("sheet", sr.name),
			)
			continue
		}
		doc.Sheets = append(doc.Sheets, prepared)
	}
	return doc, nil
}

type namedRows struct {
	name string
	rows [][]string
}

func readXLSX(data []byte) ([]namedRows, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "prepare: open xlsx")
	}

	out := make([]namedRows, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, len(row.Cells))
			for j, cell := range row.Cells {
				cells[j] = cell.String()
			}
			rows = append(rows, cells)
		}
		out = append(out, namedRows{name: sheet.Name, rows: rows})
	}
	return out, nil
}

func readCSV(name string, data []byte) ([]namedRows, error) {
	r := csv.NewReader(strings.NewReader(string(data)))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "prepare: parse csv")
	}

	sheetName := strings.TrimSuffix(name, ".csv")
	if sheetName == "" {
		sheetName = "Sheet1"
	}
	return []namedRows{{name: sheetName, rows: rows}}, nil
}

// renderSheet turns raw rows into a PreparedSheet. The first row is the
// header; empty data rows are dropped. Returns false when no data survives.
func renderSheet(sr namedRows) (model.PreparedSheet, bool) {
	if len(sr.rows) == 0 {
		return model.PreparedSheet{}, false
	}

	header := sr.rows[0]
	var dataRows [][]string
	for _, row := range sr.rows[1:] {
		if !rowEmpty(row) {
			dataRows = append(dataRows, row)
		}
	}
	if len(dataRows) == 0 {
		return model.PreparedSheet{}, false
	}

	content := renderCSV(append([][]string{header}, dataRows...))
	return model.PreparedSheet{
		Name:          sr.name,
		Content:       content,
		RowCount:      len(dataRows),
		TokenEstimate: EstimateTokens(content),
	}, true
}

func rowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func renderCSV(rows [][]string) string {
	var sb strings.Builder
	w := csv.NewWriter(&sb)
	for _, row := range rows {
		_ = w.Write(row)
	}
	w.Flush()
	return strings.TrimRight(sb.String(), "\n")
}

// SheetChunk is one contiguous slice of a sheet's data rows, carrying the
// header again so every chunk stands alone as model input.
type SheetChunk struct {
	Content  string
	StartRow int // 0-based index into the sheet's data rows, inclusive
	EndRow   int // exclusive
}

// SplitSheet splits a rendered sheet into row-chunks no larger than
// maxTokens, each re-including the header row. Chunks are contiguous,
// non-overlapping, and together cover every data row.
func SplitSheet(sheet model.PreparedSheet, maxTokens int) []SheetChunk {
	if maxTokens <= 0 || sheet.TokenEstimate <= maxTokens {
		return []SheetChunk{{Content: sheet.Content, StartRow: 0, EndRow: sheet.RowCount}}
	}

	lines := strings.Split(sheet.Content, "\n")
	if len(lines) < 2 {
		return []SheetChunk{{Content: sheet.Content, StartRow: 0, EndRow: sheet.RowCount}}
	}
	header := lines[0]
	dataLines := lines[1:]
	headerTokens := EstimateTokens(header)

	var chunks []SheetChunk
	start := 0
	tokens := headerTokens
	var buf []string
	flush := func(end int) {
		if len(buf) == 0 {
			return
		}
		chunks = append(chunks, SheetChunk{
			Content:  header + "\n" + strings.Join(buf, "\n"),
			StartRow: start,
			EndRow:   end,
		})
		buf = nil
		tokens = headerTokens
		start = end
	}

	for i, line := range dataLines {
		lineTokens := EstimateTokens(line) + 1
		if len(buf) > 0 && tokens+lineTokens > maxTokens {
			flush(i)
		}
		buf = append(buf, line)
		tokens += lineTokens
	}
	flush(len(dataLines))
	return chunks
}

// Column-pattern heuristics for direct sheet-to-item conversion.
var (
	nameHeaderWords     = []string{"name", "item", "dish", "product", "title"}
	priceHeaderWords    = []string{"price", "cost", "amount"}
	descHeaderWords     = []string{"description", "desc", "details", "notes"}
	categoryHeaderWords = []string{"category", "section", "type", "group"}
)

// itemDedupThreshold is the similarity above which two same-price rows are
// considered the same item.
const itemDedupThreshold = 0.9

// ConvertToItems parses a prepared sheet directly into raw items by
// detecting name/price/description/category columns from the header. Rows
// without a recognizable name are skipped; near-duplicate names at the same
// price are collapsed. This is the spreadsheet-specific leaf used when a
// sheet is regular enough to skip a model call.
func ConvertToItems(doc model.PreparedDocument, sheet model.PreparedSheet, section string) ([]model.RawItem, error) {
	r := csv.NewReader(strings.NewReader(sheet.Content))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "prepare: reparse sheet %s", sheet.Name)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	nameCol := findColumn(rows[0], nameHeaderWords)
	priceCol := findColumn(rows[0], priceHeaderWords)
	if nameCol < 0 {
		return nil, eris.Errorf("prepare: sheet %s has no recognizable name column", sheet.Name)
	}
	descCol := findColumn(rows[0], descHeaderWords)
	catCol := findColumn(rows[0], categoryHeaderWords)

	var items []model.RawItem
	for _, row := range rows[1:] {
		if rowEmpty(row) {
			continue
		}
		name := strings.TrimSpace(cellAt(row, nameCol))
		if name == "" {
			continue
		}

		item := model.RawItem{
			Name:        name,
			Description: strings.TrimSpace(cellAt(row, descCol)),
			Category:    strings.TrimSpace(cellAt(row, catCol)),
			Section:     section,
			SourceInfo: model.SourceInfo{
				DocumentID: doc.ID,
				Sheet:      sheet.Name,
			},
		}
		if priceCol >= 0 {
			item.Price = parsePrice(cellAt(row, priceCol))
		}

		if dup := findDuplicate(items, item); dup >= 0 {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func findColumn(header []string, words []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(h))
		for _, w := range words {
			if strings.Contains(h, w) {
				return i
			}
		}
	}
	return -1
}

func cellAt(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func findDuplicate(items []model.RawItem, candidate model.RawItem) int {
	for i, existing := range items {
		if existing.Price == candidate.Price && fuzzy.Ratio(existing.Name, candidate.Name) >= itemDedupThreshold {
			return i
		}
	}
	return -1
}

// parsePrice extracts a numeric price from cell text, tolerating currency
// symbols and thousands separators.
func parsePrice(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0
	}
	price, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return price
}
