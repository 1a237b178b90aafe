package pipeline

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/menu-extract/internal/model"
	"github.com/sells-group/menu-extract/pkg/anthropic"
)

func csvDoc(id, name, content string) model.DocumentMeta {
	return model.DocumentMeta{
		ID:       id,
		Name:     name,
		MimeType: "text/csv",
		Content:  base64.StdEncoding.EncodeToString([]byte(content)),
	}
}

const lunchCSV = "Item,Price\nBurger,9.50\nPizza,12.00\n"

func lunchStructureJSON(docID, sheet string) string {
	return `[{"name":"Lunch","document_locations":[{"document_id":"` + docID +
		`","sheet_names":["` + sheet + `"]}],"estimated_item_count":2,"confidence":0.9}]`
}

const lunchItemsJSON = `[
  {"name":"Burger","description":"Classic beef","price":9.5,"category":"Sandwiches"},
  {"name":"Pizza","description":"","price":12,"category":"Pizza"}
]`

func TestRunHappyPath(t *testing.T) {
	client := &scriptedClient{
		structure: staticText(lunchStructureJSON("doc-1", "lunch")),
		extract:   staticText(lunchItemsJSON),
		enrichSingle: staticText(`[
			{"id":0,"sizes":[{"size":"Regular","price":9.5,"is_default":true}]},
			{"id":1,"sizes":[{"size":"small","price":10},{"size":"LARGE","price":14}],
			 "modifier_groups":[{"name":"Toppings","options":["Mushrooms","Olives"],"multi_select":true}]}
		]`),
	}
	p := newTestPipeline(client, nil)

	result, err := p.Run(context.Background(), []model.DocumentMeta{csvDoc("doc-1", "lunch.csv", lunchCSV)})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Success)
	assert.NotEmpty(t, result.RunID)
	require.NotNil(t, result.Structure)
	require.Len(t, result.Structure.Sections, 1)
	assert.Equal(t, "Lunch", result.Structure.Sections[0].Name)

	require.Len(t, result.Items, 2)
	burger, pizza := result.Items[0], result.Items[1]
	assert.Equal(t, "Burger", burger.Name)
	assert.Equal(t, "Lunch", burger.Section)
	assert.Equal(t, "doc-1", burger.SourceInfo.DocumentID)
	assert.Equal(t, "lunch", burger.SourceInfo.Sheet)
	require.Len(t, burger.Sizes, 1)
	assert.Equal(t, "Regular", burger.Sizes[0].Size)
	assert.True(t, burger.Sizes[0].IsDefault)

	// Size spellings are coerced into the vocabulary.
	require.Len(t, pizza.Sizes, 2)
	assert.Equal(t, "Small", pizza.Sizes[0].Size)
	assert.Equal(t, "Large", pizza.Sizes[1].Size)
	require.Len(t, pizza.ModifierGroups, 1)
	assert.Equal(t, "Toppings", pizza.ModifierGroups[0].Name)

	// One call per phase: structure, one sheet batch, one enrich call.
	assert.Equal(t, 3, result.Costs.TotalCalls)
	assert.Equal(t, 1, result.Costs.Phase1.Calls)
	assert.Equal(t, 1, result.Costs.Phase2.Calls)
	assert.Equal(t, 1, result.Costs.Phase3.Calls)
	assert.InDelta(t, result.Costs.Phase1.Cost+result.Costs.Phase2.Cost+result.Costs.Phase3.Cost, result.Costs.Total, 1e-12)
	assert.Greater(t, result.Costs.Total, 0.0)
}

func TestRunImageDocumentEnrichesByImageReference(t *testing.T) {
	client := &scriptedClient{
		structure: staticText(`[{"name":"Food","document_locations":[{"document_id":"doc-1","page_numbers":[1]}],"estimated_item_count":2,"confidence":0.9}]`),
		extract:   staticText(lunchItemsJSON),
		enrichSingle: staticText(`[
			{"id":0,"sizes":[{"size":"N/A","price":9.5,"is_default":true}]},
			{"id":1,"sizes":[{"size":"N/A","price":12,"is_default":true}]}
		]`),
	}
	p := newTestPipeline(client, nil)

	doc := model.DocumentMeta{
		ID:       "doc-1",
		Name:     "menu.jpg",
		MimeType: "image/jpeg",
		Content:  base64.StdEncoding.EncodeToString([]byte("jpeg bytes")),
	}
	result, err := p.Run(context.Background(), []model.DocumentMeta{doc})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, 1, result.Costs.Phase3.Calls, "single-call enrichment succeeds; no fallback")

	// The uploaded image reference must attach as an image block, never as
	// a PDF document block, in both the structure and enrich requests.
	imageURI := "https://blobs.test/extractions/doc-1/menu.jpg"
	for _, req := range client.calls {
		for _, part := range req.Messages[0].Parts {
			if part.Type == anthropic.PartDocument {
				assert.NotEqual(t, imageURI, part.URL)
			}
		}
	}

	enrichParts := client.callsBySystem(enrichSystemText)[0].Messages[0].Parts
	var imageRefs []string
	for _, part := range enrichParts {
		if part.Type == anthropic.PartImage && part.URL != "" {
			imageRefs = append(imageRefs, part.URL)
		}
	}
	assert.Equal(t, []string{imageURI}, imageRefs)
}

func TestRunInvalidInputFailsBeforeAnyCall(t *testing.T) {
	client := &scriptedClient{}
	p := newTestPipeline(client, nil)

	result, err := p.Run(context.Background(), []model.DocumentMeta{{Name: "nameless.pdf"}})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Zero(t, result.Costs.TotalCalls, "validation failures must not cost anything")
	assert.Empty(t, client.calls)
	assert.NotEmpty(t, result.Logs)
}

func TestRunStructureFailureIsFatalButCosted(t *testing.T) {
	client := &scriptedClient{
		structure: staticText("I could not identify any menu sections in these documents."),
	}
	p := newTestPipeline(client, nil)

	result, err := p.Run(context.Background(), []model.DocumentMeta{csvDoc("doc-1", "lunch.csv", lunchCSV)})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)

	// The structure call happened and must be accounted for.
	assert.Equal(t, 1, result.Costs.Phase1.Calls)
	assert.Equal(t, 1, result.Costs.TotalCalls)
	assert.Greater(t, result.Costs.Total, 0.0)
}

func TestRunExtractBatchFailureIsIsolated(t *testing.T) {
	structure := `[
	  {"name":"Good","document_locations":[{"document_id":"doc-1","sheet_names":["lunch"]}],"estimated_item_count":2,"confidence":0.9},
	  {"name":"Bad","document_locations":[{"document_id":"doc-2","sheet_names":["dinner"]}],"estimated_item_count":2,"confidence":0.9}
	]`
	client := &scriptedClient{
		structure: staticText(structure),
		extract: func(req anthropic.MessageRequest) (string, error) {
			if strings.Contains(userText(req), `section "Bad"`) {
				return "", errForced
			}
			return lunchItemsJSON, nil
		},
		enrichSingle: staticText(`[{"id":0,"sizes":[{"size":"N/A","price":9.5,"is_default":true}]},{"id":1,"sizes":[{"size":"N/A","price":12,"is_default":true}]}]`),
	}
	p := newTestPipeline(client, nil)

	docs := []model.DocumentMeta{
		csvDoc("doc-1", "lunch.csv", lunchCSV),
		csvDoc("doc-2", "dinner.csv", "Item,Price\nSteak,25.00\n"),
	}
	result, err := p.Run(context.Background(), docs)
	require.NoError(t, err, "a failed batch must not fail the run")
	assert.True(t, result.Success)
	assert.Len(t, result.Items, 2, "items from the good section survive")

	// The failure shows up in the run log, not as an error.
	var found bool
	for _, entry := range result.Logs {
		if entry.Phase == "extract" && strings.Contains(entry.Message, "failed") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRunSpreadsheetCoverageHealing(t *testing.T) {
	// The model only references doc-1; doc-2's spreadsheet is uncovered and
	// must be healed into a fallback section.
	client := &scriptedClient{
		structure: staticText(lunchStructureJSON("doc-1", "lunch")),
		extract:   staticText(lunchItemsJSON),
		enrichSingle: staticText(`[
			{"id":0,"sizes":[{"size":"N/A","price":9.5,"is_default":true}]},
			{"id":1,"sizes":[{"size":"N/A","price":12,"is_default":true}]},
			{"id":2,"sizes":[{"size":"N/A","price":9.5,"is_default":true}]},
			{"id":3,"sizes":[{"size":"N/A","price":12,"is_default":true}]}
		]`),
	}
	p := newTestPipeline(client, nil)

	docs := []model.DocumentMeta{
		csvDoc("doc-1", "lunch.csv", lunchCSV),
		csvDoc("doc-2", "dinner.csv", "Item,Price\nSteak,25.00\nSalmon,28.00\n"),
	}
	result, err := p.Run(context.Background(), docs)
	require.NoError(t, err)

	require.Len(t, result.Structure.Sections, 2)
	fallback := result.Structure.Sections[1]
	assert.Equal(t, "Menu Items", fallback.Name)
	assert.Equal(t, 2, fallback.EstimatedItemCount, "estimate comes from row counts")
	assert.InDelta(t, 0.3, fallback.Confidence, 1e-9)
	require.Len(t, fallback.DocumentLocations, 1)
	assert.Equal(t, "doc-2", fallback.DocumentLocations[0].DocumentID)
	assert.Equal(t, []string{"dinner"}, fallback.DocumentLocations[0].SheetNames)

	// Both sheets were batched: one extract call each.
	assert.Len(t, client.callsBySystem(extractSystemText), 2)
}

func TestRunSharedSheetBatchedOnce(t *testing.T) {
	// Two sections referencing the same sheet must produce one batch.
	structure := `[
	  {"name":"Lunch","document_locations":[{"document_id":"doc-1","sheet_names":["lunch"]}],"estimated_item_count":2,"confidence":0.9},
	  {"name":"Dinner","document_locations":[{"document_id":"doc-1","sheet_names":["lunch"]}],"estimated_item_count":2,"confidence":0.8}
	]`
	client := &scriptedClient{
		structure:    staticText(structure),
		extract:      staticText(lunchItemsJSON),
		enrichSingle: staticText(`[{"id":0,"sizes":[{"size":"N/A","price":9.5,"is_default":true}]},{"id":1,"sizes":[{"size":"N/A","price":12,"is_default":true}]}]`),
	}
	p := newTestPipeline(client, nil)

	result, err := p.Run(context.Background(), []model.DocumentMeta{csvDoc("doc-1", "lunch.csv", lunchCSV)})
	require.NoError(t, err)
	assert.Len(t, client.callsBySystem(extractSystemText), 1)
	assert.Len(t, result.Items, 2)
}

func TestRunEnrichmentNeverFatal(t *testing.T) {
	client := &scriptedClient{
		structure: staticText(lunchStructureJSON("doc-1", "lunch")),
		extract:   staticText(lunchItemsJSON),
		enrichSingle: func(anthropic.MessageRequest) (string, error) {
			return "", errForced
		},
		enrichBatch: func(anthropic.MessageRequest) (string, error) {
			return "", errForced
		},
	}
	p := newTestPipeline(client, nil)

	result, err := p.Run(context.Background(), []model.DocumentMeta{csvDoc("doc-1", "lunch.csv", lunchCSV)})
	require.NoError(t, err, "total enrichment failure still yields a successful run")
	assert.True(t, result.Success)

	require.Len(t, result.Items, 2)
	for _, item := range result.Items {
		require.Len(t, item.Sizes, 1, "every item carries at least one size")
		assert.Equal(t, model.SizeNA, item.Sizes[0].Size)
		assert.True(t, item.Sizes[0].IsDefault)
		assert.Equal(t, item.Price, item.Sizes[0].Price, "default size takes the item price at face value")
	}
}
