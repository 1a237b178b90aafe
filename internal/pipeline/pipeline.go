// Package pipeline implements the staged menu extraction pipeline:
// preparation (phase 0), structure analysis (phase 1), item extraction
// (phase 2), and size/modifier enrichment (phase 3). The upload cache and
// cost tracker are shared, injected dependencies consulted by every phase.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/menu-extract/internal/config"
	"github.com/sells-group/menu-extract/internal/cost"
	"github.com/sells-group/menu-extract/internal/model"
	"github.com/sells-group/menu-extract/internal/prepare"
	"github.com/sells-group/menu-extract/internal/ratelimit"
	"github.com/sells-group/menu-extract/internal/upload"
	"github.com/sells-group/menu-extract/pkg/anthropic"
)

// Pipeline orchestrates phases 0-3 of one extraction run.
type Pipeline struct {
	cfg      *config.Config
	ai       anthropic.Client
	preparer *prepare.Preparer
	uploads  *upload.Cache
	limiter  *ratelimit.Limiter
	vocab    model.Vocabulary
}

// New creates a Pipeline with all dependencies.
func New(
	cfg *config.Config,
	aiClient anthropic.Client,
	preparer *prepare.Preparer,
	uploads *upload.Cache,
	limiter *ratelimit.Limiter,
	vocab model.Vocabulary,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		ai:       aiClient,
		preparer: preparer,
		uploads:  uploads,
		limiter:  limiter,
		vocab:    vocab,
	}
}

// runLog accumulates structured log entries surfaced to the caller. Safe for
// concurrent use by phase-2 batches.
type runLog struct {
	mu      sync.Mutex
	entries []model.LogEntry
}

func (l *runLog) add(level, phase, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, model.LogEntry{Level: level, Phase: phase, Message: msg})
	l.mu.Unlock()
}

func (l *runLog) warn(phase, msg string) { l.add("warn", phase, msg) }
func (l *runLog) info(phase, msg string) { l.add("info", phase, msg) }

// Run executes the full extraction pipeline over the given documents. The
// returned result always carries the costs incurred so far, including on
// failure paths.
func (p *Pipeline) Run(ctx context.Context, docs []model.DocumentMeta) (*model.ExtractionResult, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := zap.L().With(zap.String("run_id", runID))
	tracker := cost.NewTracker(cost.NewCalculator(p.cfg.Pricing))
	rlog := &runLog{}

	result := &model.ExtractionResult{RunID: runID}
	fail := func(err error) (*model.ExtractionResult, error) {
		result.Success = false
		result.Error = err.Error()
		result.Costs = tracker.Snapshot()
		result.ProcessingTimeMs = time.Since(start).Milliseconds()
		result.Logs = rlog.entries
		log.Error("pipeline: run failed", zap.Error(err), zap.Float64("cost_usd", result.Costs.Total))
		return result, err
	}

	// Input validation happens before any AI call; all problems are
	// reported together.
	if errs := model.ValidateDocuments(docs); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
			rlog.warn("input", e.Error())
		}
		return fail(eris.Errorf("pipeline: invalid input: %s", strings.Join(msgs, "; ")))
	}

	log.Info("pipeline: starting extraction", zap.Int("documents", len(docs)))

	// Phase 0: preparation. Per-document failures are already isolated
	// inside the preparer; they surface here as warnings.
	prepared, stats := p.preparer.Prepare(ctx, docs)
	for _, w := range stats.Warnings {
		rlog.warn("prepare", w)
	}
	if len(prepared) == 0 {
		return fail(eris.New("pipeline: no documents survived preparation"))
	}

	// Upload once; every later phase references the stored copy instead of
	// resending bytes. Upload failures degrade to inline content.
	refs := p.uploadDocuments(ctx, prepared, rlog)

	// Phase 1: structure analysis. The one call whose failure is fatal:
	// with no sections nothing downstream can proceed.
	structure, err := p.analyzeStructure(ctx, tracker, prepared, refs, rlog)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: structure analysis"))
	}
	result.Structure = structure
	report := ValidateStructure(structure, prepared)
	for _, w := range report.Warnings {
		rlog.warn("structure", w)
	}

	// Phase 2: item extraction. Batch failures are isolated; the phase
	// itself only errors on context cancellation.
	items, err := p.extractItems(ctx, tracker, structure, prepared, rlog)
	if err != nil {
		return fail(eris.Wrap(err, "pipeline: item extraction"))
	}
	report = ValidateExtraction(structure, items)
	for _, w := range report.Warnings {
		rlog.warn("extract", w)
	}

	// Phase 3: enrichment. Falls back internally; never fatal.
	finals := p.enrichItems(ctx, tracker, items, refs, rlog)
	report = ValidateEnrichment(finals, p.vocab)
	for _, w := range report.Warnings {
		rlog.warn("enrich", w)
	}

	result.Success = true
	result.Items = finals
	result.Costs = tracker.Snapshot()
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	result.Logs = rlog.entries

	log.Info("pipeline: extraction complete",
		zap.Int("sections", len(structure.Sections)),
		zap.Int("items", len(finals)),
		zap.Int("calls", result.Costs.TotalCalls),
		zap.Float64("cost_usd", result.Costs.Total),
		zap.Int64("duration_ms", result.ProcessingTimeMs),
	)
	return result, nil
}

// uploadDocuments stores PDF and image documents in the blob store with
// bounded concurrency. Spreadsheets travel as inline CSV text and are never
// uploaded.
func (p *Pipeline) uploadDocuments(ctx context.Context, prepared []model.PreparedDocument, rlog *runLog) map[string]upload.Uploaded {
	var uploadable []model.PreparedDocument
	for _, doc := range prepared {
		if doc.Kind == model.KindPDF || doc.Kind == model.KindImage {
			uploadable = append(uploadable, doc)
		}
	}
	refs := p.uploads.UploadAll(ctx, uploadable)
	if len(refs) < len(uploadable) {
		rlog.warn("upload", "some documents could not be uploaded; falling back to inline content")
	}
	return refs
}

// uploadedPart renders an uploaded reference as the content block matching
// its media type. Document blocks are PDF-only on the wire, so image
// uploads attach as URL image blocks instead.
func uploadedPart(ref upload.Uploaded) anthropic.ContentPart {
	if strings.HasPrefix(ref.MimeType, "image/") {
		return anthropic.ImageURLPart(ref.RemoteURI)
	}
	return anthropic.DocumentPart(ref.RemoteURI)
}

// modelFor maps a tier to the configured model id.
func (p *Pipeline) modelFor(tier model.Tier) string {
	if tier == model.TierCapable {
		return p.cfg.Anthropic.CapableModel
	}
	return p.cfg.Anthropic.FastModel
}

// callModel performs one rate-limited, timeout-bounded generate call and
// records its usage against the phase ledger.
func (p *Pipeline) callModel(ctx context.Context, tracker *cost.Tracker, phase cost.Phase, tier model.Tier, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	release, err := p.limiter.Acquire(ctx, tier)
	if err != nil {
		return nil, err
	}
	defer release()

	timeout := time.Duration(p.cfg.Extraction.CallTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.ai.CreateMessage(callCtx, req)
	if err != nil {
		return nil, err
	}

	tracker.Record(phase, req.Model, int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens))
	return resp, nil
}
