// Package ratelimit provides per-model-tier admission control for generate
// calls. Each tier gets a requests-per-minute ceiling and a bound on
// concurrent in-flight calls. Admission is FIFO: waiters are released in
// arrival order, never reordered by priority.
package ratelimit

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/menu-extract/internal/model"
)

// TierConfig bounds one tier.
type TierConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxInFlight       int `yaml:"max_in_flight" mapstructure:"max_in_flight"`
}

// DefaultTierConfigs returns conservative per-tier defaults.
func DefaultTierConfigs() map[model.Tier]TierConfig {
	return map[model.Tier]TierConfig{
		model.TierFast:    {RequestsPerMinute: 50, MaxInFlight: 8},
		model.TierCapable: {RequestsPerMinute: 10, MaxInFlight: 2},
	}
}

type tierLimiter struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

// Limiter serializes call admission per tier.
type Limiter struct {
	tiers map[model.Tier]*tierLimiter
}

// New creates a Limiter from per-tier configs. Tiers absent from cfg fall
// back to the defaults.
func New(cfg map[model.Tier]TierConfig) *Limiter {
	merged := DefaultTierConfigs()
	for tier, tc := range cfg {
		if tc.RequestsPerMinute > 0 || tc.MaxInFlight > 0 {
			def := merged[tier]
			if tc.RequestsPerMinute > 0 {
				def.RequestsPerMinute = tc.RequestsPerMinute
			}
			if tc.MaxInFlight > 0 {
				def.MaxInFlight = tc.MaxInFlight
			}
			merged[tier] = def
		}
	}

	tiers := make(map[model.Tier]*tierLimiter, len(merged))
	for tier, tc := range merged {
		// rpm expressed as events/sec with a burst of 1 gives the minimum
		// inter-call spacing rather than a refillable burst window.
		tiers[tier] = &tierLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(tc.RequestsPerMinute)/60.0), 1),
			slots:   make(chan struct{}, tc.MaxInFlight),
		}
	}
	return &Limiter{tiers: tiers}
}

// Acquire blocks until the tier admits one call, then returns a release
// function. The caller must invoke release when the call completes.
func (l *Limiter) Acquire(ctx context.Context, tier model.Tier) (func(), error) {
	tl, ok := l.tiers[tier]
	if !ok {
		return nil, eris.Errorf("ratelimit: unknown tier %q", tier)
	}

	select {
	case tl.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "ratelimit: acquire slot")
	}

	if err := tl.limiter.Wait(ctx); err != nil {
		<-tl.slots
		return nil, eris.Wrap(err, "ratelimit: wait for spacing")
	}

	return func() { <-tl.slots }, nil
}
