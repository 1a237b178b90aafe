package model

// Tier is a cost/capability class of model. The fast tier is the cheap
// high-throughput default; the capable tier is reserved for whole-document
// reasoning (structure analysis, single-call enrichment).
type Tier string

const (
	TierFast    Tier = "fast"
	TierCapable Tier = "capable"
)
