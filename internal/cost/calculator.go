// Package cost prices agent token usage and tracks a run's spend against
// its budget.
package cost

import (
	"sync"

	"github.com/agri-ai/farm-monitor/internal/config"
	"github.com/agri-ai/farm-monitor/internal/model"
)

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64
	Output float64
}

// Calculator computes costs for agent usage.
type Calculator struct {
	rates map[string]ModelRate
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates map[string]ModelRate) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig builds a Calculator from pricing config, falling back to
// DefaultRates for models it does not list.
func FromConfig(cfg config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for name, p := range cfg.Anthropic {
		rates[name] = ModelRate{Input: p.Input, Output: p.Output}
	}
	return NewCalculator(rates)
}

// Claude computes the cost of usage on model. Unknown models cost nothing.
func (c *Calculator) Claude(modelName string, usage model.TokenUsage) float64 {
	rate, ok := c.rates[modelName]
	if !ok {
		return 0
	}
	in := (float64(usage.InputTokens) / 1e6) * rate.Input
	out := (float64(usage.OutputTokens) / 1e6) * rate.Output
	return in + out
}

// DefaultRates returns list prices for the supported models.
func DefaultRates() map[string]ModelRate {
	return map[string]ModelRate{
		"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
	}
}

// Budget accumulates spend for one run. A zero limit never exhausts.
// Safe for concurrent use.
type Budget struct {
	mu    sync.Mutex
	limit float64
	spent float64
}

// NewBudget creates a budget capped at limitUSD.
func NewBudget(limitUSD float64) *Budget {
	return &Budget{limit: limitUSD}
}

// Add records spend and returns the running total.
func (b *Budget) Add(usd float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.spent += usd
	return b.spent
}

// Spent returns the running total.
func (b *Budget) Spent() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent
}

// Exhausted reports whether spend has reached the limit.
func (b *Budget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.limit > 0 && b.spent >= b.limit
}
