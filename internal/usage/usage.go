// Package usage enforces per-merchant daily ceilings on expensive
// operations and tracks consumption against them. Checks run before an
// operation; recording happens after. The governor fails open: an
// internal bookkeeping fault must never block a merchant-facing action.
package usage

import "fmt"

// Operation is a metered operation category.
type Operation string

const (
	OpTextGeneration     Operation = "text_generation"
	OpBulkBatch          Operation = "bulk_batch"
	OpImageGeneration    Operation = "image_generation"
	OpScreenshotAnalysis Operation = "screenshot_analysis"
)

// Operations lists all metered categories in display order.
var Operations = []Operation{OpTextGeneration, OpBulkBatch, OpImageGeneration, OpScreenshotAnalysis}

// TokenDenominated reports whether the operation's ceiling is measured
// in tokens rather than call counts.
func (op Operation) TokenDenominated() bool {
	return op == OpTextGeneration
}

// Limits holds one day's ceilings for a merchant. Text generation is
// token-denominated; the rest are counts.
type Limits struct {
	TextTokens         int `json:"text_tokens"`
	BulkBatches        int `json:"bulk_batches"`
	ImageGeneration    int `json:"image_generation"`
	ScreenshotAnalysis int `json:"screenshot_analysis"`
}

// DefaultLimits returns the system-wide daily ceilings applied when a
// merchant has no override.
func DefaultLimits() Limits {
	return Limits{
		TextTokens:         500_000,
		BulkBatches:        5,
		ImageGeneration:    100,
		ScreenshotAnalysis: 20,
	}
}

// For returns the ceiling for one operation.
func (l Limits) For(op Operation) int {
	switch op {
	case OpTextGeneration:
		return l.TextTokens
	case OpBulkBatch:
		return l.BulkBatches
	case OpImageGeneration:
		return l.ImageGeneration
	case OpScreenshotAnalysis:
		return l.ScreenshotAnalysis
	}
	return 0
}

// Override is a merchant's partial daily_limits block. Nil fields fall
// back to the system defaults.
type Override struct {
	TextTokens         *int `json:"text_tokens,omitempty"`
	BulkBatches        *int `json:"bulk_batches,omitempty"`
	ImageGeneration    *int `json:"image_generation,omitempty"`
	ScreenshotAnalysis *int `json:"screenshot_analysis,omitempty"`
}

// Apply overlays the override's set fields on base.
func (o *Override) Apply(base Limits) Limits {
	if o == nil {
		return base
	}
	if o.TextTokens != nil {
		base.TextTokens = *o.TextTokens
	}
	if o.BulkBatches != nil {
		base.BulkBatches = *o.BulkBatches
	}
	if o.ImageGeneration != nil {
		base.ImageGeneration = *o.ImageGeneration
	}
	if o.ScreenshotAnalysis != nil {
		base.ScreenshotAnalysis = *o.ScreenshotAnalysis
	}
	return base
}

// Totals is one day's accumulated consumption for a single operation.
type Totals struct {
	Count        int     `json:"count"`
	TokensUsed   int     `json:"tokens_used"`
	CostEstimate float64 `json:"cost_estimate"`
}

// Stats maps each operation to its consumption for the day.
type Stats map[Operation]Totals

// Used returns the consumed amount in the operation's own denomination.
func (s Stats) Used(op Operation) int {
	t := s[op]
	if op.TokenDenominated() {
		return t.TokensUsed
	}
	return t.Count
}

// Delta is one recording increment. Zero fields are no-ops.
type Delta struct {
	Count        int
	TokensUsed   int
	CostEstimate float64
}

// CheckResult is the outcome of a pre-operation limit check.
type CheckResult struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Remaining int    `json:"remaining"`
}

// Summary is the merchant-facing usage report.
type Summary struct {
	Limits     Limits                `json:"limits"`
	Usage      Stats                 `json:"usage"`
	Percentage map[Operation]float64 `json:"percentage"`
	Warnings   []string              `json:"warnings"`
}

// label returns the human-readable operation name used in denial
// reasons and warnings.
func label(op Operation) string {
	switch op {
	case OpTextGeneration:
		return "AI text generation"
	case OpBulkBatch:
		return "bulk upload batch"
	case OpImageGeneration:
		return "image generation"
	case OpScreenshotAnalysis:
		return "screenshot analysis"
	}
	return string(op)
}

// unit returns the denomination word for an operation.
func unit(op Operation) string {
	if op.TokenDenominated() {
		return "tokens"
	}
	return "operations"
}

func denialReason(op Operation, used, limit int) string {
	return fmt.Sprintf("Daily %s limit reached: %d of %d %s used today. The limit resets at midnight UTC.",
		label(op), used, limit, unit(op))
}
