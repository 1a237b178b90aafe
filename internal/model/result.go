package model

// TokenUsage tracks token consumption and attributed cost for one or more
// model calls.
type TokenUsage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.Cost += other.Cost
}

// PhaseCost is the accumulated usage for one pipeline phase.
type PhaseCost struct {
	TokenUsage
	Calls int `json:"calls"`
}

// ExtractionCosts is the full per-run cost ledger. Total is always the exact
// sum of the three phase costs, including for failed runs.
type ExtractionCosts struct {
	Phase1     PhaseCost `json:"phase1"`
	Phase2     PhaseCost `json:"phase2"`
	Phase3     PhaseCost `json:"phase3"`
	Total      float64   `json:"total"`
	TotalCalls int       `json:"total_calls"`
}

// ValidationReport is the output of a phase validation pass. Validation
// never raises; it classifies and reports.
type ValidationReport struct {
	IsValid  bool     `json:"is_valid"`
	Warnings []string `json:"warnings,omitempty"`
}

// LogEntry is one structured entry in the run log surfaced to the caller.
type LogEntry struct {
	Level   string `json:"level"`
	Phase   string `json:"phase"`
	Message string `json:"message"`
}

// ExtractionResult is the top-level output of one extraction run. On failure
// Costs still reflects whatever spend occurred before the failure.
type ExtractionResult struct {
	RunID            string          `json:"run_id"`
	Success          bool            `json:"success"`
	Structure        *MenuStructure  `json:"structure,omitempty"`
	Items            []FinalItem     `json:"items,omitempty"`
	Costs            ExtractionCosts `json:"costs"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Error            string          `json:"error,omitempty"`
	Logs             []LogEntry      `json:"logs"`
}
