package cost

import (
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/menu-extract/internal/model"
)

// Phase identifies one of the three model-calling pipeline phases.
type Phase int

const (
	PhaseStructure Phase = iota + 1
	PhaseExtract
	PhaseEnrich
)

// String returns the phase name used in logs.
func (p Phase) String() string {
	switch p {
	case PhaseStructure:
		return "structure"
	case PhaseExtract:
		return "extract"
	case PhaseEnrich:
		return "enrich"
	default:
		return "unknown"
	}
}

// Tracker is the append-only per-run cost ledger. It is shared by
// concurrently running batches; all methods are safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	calc   *Calculator
	phases map[Phase]*model.PhaseCost
}

// NewTracker creates a Tracker that prices calls with calc.
func NewTracker(calc *Calculator) *Tracker {
	return &Tracker{
		calc: calc,
		phases: map[Phase]*model.PhaseCost{
			PhaseStructure: {},
			PhaseExtract:   {},
			PhaseEnrich:    {},
		},
	}
}

// Record prices one model call and appends it to the phase ledger. Returns
// the usage with cost attached, for per-call logging by the caller.
func (t *Tracker) Record(phase Phase, modelID string, inputTokens, outputTokens int) model.TokenUsage {
	usage := model.TokenUsage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         t.calc.Claude(modelID, inputTokens, outputTokens),
	}

	t.mu.Lock()
	pc := t.phases[phase]
	pc.Add(usage)
	pc.Calls++
	t.mu.Unlock()

	zap.L().Debug("cost: call recorded",
		zap.String("phase", phase.String()),
		zap.String("model", modelID),
		zap.Int("input_tokens", inputTokens),
		zap.Int("output_tokens", outputTokens),
		zap.Float64("cost_usd", usage.Cost),
	)
	return usage
}

// Snapshot returns the current costs. Total is the exact sum of the three
// phase costs, so partial runs still account for spend incurred so far.
func (t *Tracker) Snapshot() model.ExtractionCosts {
	t.mu.Lock()
	defer t.mu.Unlock()

	costs := model.ExtractionCosts{
		Phase1: *t.phases[PhaseStructure],
		Phase2: *t.phases[PhaseExtract],
		Phase3: *t.phases[PhaseEnrich],
	}
	costs.Total = costs.Phase1.Cost + costs.Phase2.Cost + costs.Phase3.Cost
	costs.TotalCalls = costs.Phase1.Calls + costs.Phase2.Calls + costs.Phase3.Calls
	return costs
}
