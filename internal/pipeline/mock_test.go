package pipeline

import (
	"context"
	"strings"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/menu-extract/internal/config"
	"github.com/sells-group/menu-extract/internal/cost"
	"github.com/sells-group/menu-extract/internal/model"
	"github.com/sells-group/menu-extract/internal/ocr"
	"github.com/sells-group/menu-extract/internal/prepare"
	"github.com/sells-group/menu-extract/internal/ratelimit"
	"github.com/sells-group/menu-extract/internal/upload"
	"github.com/sells-group/menu-extract/pkg/anthropic"
)

// scriptedClient routes each generate call to a canned handler based on the
// phase's system prompt, recording every request for assertions.
type scriptedClient struct {
	mu    sync.Mutex
	calls []anthropic.MessageRequest

	structure    func(req anthropic.MessageRequest) (string, error)
	extract      func(req anthropic.MessageRequest) (string, error)
	enrichSingle func(req anthropic.MessageRequest) (string, error)
	enrichBatch  func(req anthropic.MessageRequest) (string, error)
}

func (c *scriptedClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.mu.Lock()
	c.calls = append(c.calls, req)
	c.mu.Unlock()

	var handler func(anthropic.MessageRequest) (string, error)
	switch systemText(req) {
	case structureSystemText:
		handler = c.structure
	case extractSystemText:
		handler = c.extract
	case enrichSystemText:
		if strings.Contains(userText(req), "Modifier groups already identified") {
			handler = c.enrichBatch
		} else {
			handler = c.enrichSingle
		}
	}
	if handler == nil {
		return textResponse(req.Model, "[]"), nil
	}

	text, err := handler(req)
	if err != nil {
		return nil, err
	}
	return textResponse(req.Model, text), nil
}

func (c *scriptedClient) callsBySystem(system string) []anthropic.MessageRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []anthropic.MessageRequest
	for _, req := range c.calls {
		if systemText(req) == system {
			out = append(out, req)
		}
	}
	return out
}

func systemText(req anthropic.MessageRequest) string {
	if len(req.System) == 0 {
		return ""
	}
	return req.System[0].Text
}

// userText concatenates the text parts of the first message.
func userText(req anthropic.MessageRequest) string {
	if len(req.Messages) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range req.Messages[0].Parts {
		if part.Type == anthropic.PartText {
			b.WriteString(part.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func textResponse(modelID, text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		ID:      "msg_test",
		Model:   modelID,
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 200},
	}
}

// staticText wraps a fixed response body as a handler.
func staticText(text string) func(anthropic.MessageRequest) (string, error) {
	return func(anthropic.MessageRequest) (string, error) { return text, nil }
}

// nullExtractor satisfies ocr.Extractor for documents that never hit the
// PDF path.
type nullExtractor struct {
	text string
	err  error
}

func (e *nullExtractor) ExtractText(context.Context, []byte) (string, error) {
	return e.text, e.err
}

var _ ocr.Extractor = (*nullExtractor)(nil)

// memUploader is an in-memory blob store for upload cache wiring.
type memUploader struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (u *memUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.fail {
		return "", errForced
	}
	return "https://blobs.test/" + key, nil
}

var errForced = eris.New("forced failure")

func testConfig() *config.Config {
	return &config.Config{
		Anthropic: config.AnthropicConfig{
			FastModel:    "claude-haiku-4-5-20251001",
			CapableModel: "claude-sonnet-4-5-20250929",
		},
		Extraction: config.ExtractionConfig{
			PDFMinTextChars:      100,
			DefaultTier:          "fast",
			BatchTokenBudget:     4000,
			OversizedTokenBudget: 2000,
			LargeTextTokens:      3000,
			EnrichBatchSize:      2,
			MaxOutputTokens:      8192,
			CallTimeoutSecs:      30,
		},
		Pricing: cost.DefaultRates(),
	}
}

// newTestPipeline wires a Pipeline over the scripted client with generous
// rate limits so tests never wait on spacing.
func newTestPipeline(client *scriptedClient, extractor ocr.Extractor) *Pipeline {
	if extractor == nil {
		extractor = &nullExtractor{}
	}
	limits := map[model.Tier]ratelimit.TierConfig{
		model.TierFast:    {RequestsPerMinute: 600000, MaxInFlight: 16},
		model.TierCapable: {RequestsPerMinute: 600000, MaxInFlight: 16},
	}
	return New(
		testConfig(),
		client,
		prepare.New(extractor, prepare.Options{}),
		upload.NewCache(&memUploader{}, 0),
		ratelimit.New(limits),
		model.DefaultVocabulary(),
	)
}
