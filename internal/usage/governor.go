package usage

import (
	"context"
	"fmt"
	"log/slog"
)

// SettingsSource looks up a merchant's optional daily_limits override.
// A nil override with nil error means "no override configured".
type SettingsSource interface {
	DailyLimits(ctx context.Context, merchantID string) (*Override, error)
}

// warnThreshold is the usage percentage at which a category earns a
// warning in the summary.
const warnThreshold = 80.0

// Governor performs pre-operation limit checks and post-operation
// recording. Check fails open and Record swallows failures: quota
// bookkeeping must never break the operation it meters.
type Governor struct {
	store    *Store
	settings SettingsSource
	defaults Limits
	logger   *slog.Logger
}

// NewGovernor creates a governor. settings may be nil, in which case
// every merchant gets the defaults.
func NewGovernor(store *Store, settings SettingsSource, defaults Limits, logger *slog.Logger) *Governor {
	return &Governor{
		store:    store,
		settings: settings,
		defaults: defaults,
		logger:   logger.With("component", "usage"),
	}
}

// Limits returns the effective daily ceilings for a merchant: the
// per-merchant override overlaid on the system defaults. Settings
// lookup failures fall back to the defaults.
func (g *Governor) Limits(ctx context.Context, merchantID string) Limits {
	if g.settings == nil {
		return g.defaults
	}
	override, err := g.settings.DailyLimits(ctx, merchantID)
	if err != nil {
		g.logger.Warn("settings lookup failed, using default limits",
			"merchant", merchantID, "error", err)
		return g.defaults
	}
	return override.Apply(g.defaults)
}

// TodayUsage returns the merchant's consumption for the current UTC day.
func (g *Governor) TodayUsage(ctx context.Context, merchantID string) (Stats, error) {
	return g.store.Today(ctx, merchantID)
}

// Check decides whether an operation may proceed. estimate is the token
// amount for token-denominated operations and the requested count for
// count-denominated ones (0 means 1). On any internal failure the check
// fails open: blocking a merchant over broken bookkeeping is worse than
// an occasional over-limit operation.
func (g *Governor) Check(ctx context.Context, merchantID string, op Operation, estimate int) CheckResult {
	limits := g.Limits(ctx, merchantID)
	limit := limits.For(op)

	stats, err := g.store.Today(ctx, merchantID)
	if err != nil {
		g.logger.Warn("usage lookup failed, allowing operation",
			"merchant", merchantID, "operation", op, "error", err)
		return CheckResult{Allowed: true, Remaining: limit}
	}

	used := stats.Used(op)
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}

	requested := estimate
	if !op.TokenDenominated() && requested <= 0 {
		requested = 1
	}

	if requested > remaining {
		return CheckResult{
			Allowed:   false,
			Reason:    denialReason(op, used, limit),
			Remaining: 0,
		}
	}
	return CheckResult{Allowed: true, Remaining: remaining}
}

// Record persists consumption after an operation. Failures are logged
// and swallowed; the return value reports whether the write succeeded.
func (g *Governor) Record(ctx context.Context, merchantID string, op Operation, delta Delta) bool {
	if err := g.store.Add(ctx, merchantID, op, delta); err != nil {
		g.logger.Error("failed to record usage",
			"merchant", merchantID, "operation", op, "error", err)
		return false
	}
	return true
}

// Summarize builds the merchant-facing usage report, with a warning for
// every category at or above 80% of its ceiling.
func (g *Governor) Summarize(ctx context.Context, merchantID string) (*Summary, error) {
	stats, err := g.store.Today(ctx, merchantID)
	if err != nil {
		return nil, fmt.Errorf("aggregate usage: %w", err)
	}

	limits := g.Limits(ctx, merchantID)
	sum := &Summary{
		Limits:     limits,
		Usage:      stats,
		Percentage: make(map[Operation]float64, len(Operations)),
	}

	for _, op := range Operations {
		limit := limits.For(op)
		if limit <= 0 {
			continue
		}
		pct := float64(stats.Used(op)) / float64(limit) * 100
		sum.Percentage[op] = pct
		if pct >= warnThreshold {
			sum.Warnings = append(sum.Warnings,
				fmt.Sprintf("%s is at %.0f%% of the daily limit (%d of %d %s)",
					label(op), pct, stats.Used(op), limit, unit(op)))
		}
	}

	return sum, nil
}
