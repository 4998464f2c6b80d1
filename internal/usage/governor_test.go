package usage

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubSettings returns a fixed override or error.
type stubSettings struct {
	override *Override
	err      error
}

func (s *stubSettings) DailyLimits(ctx context.Context, merchantID string) (*Override, error) {
	return s.override, s.err
}

func intPtr(n int) *int { return &n }

func TestLimits_Defaults(t *testing.T) {
	g := NewGovernor(testStore(t), nil, DefaultLimits(), testLogger())

	limits := g.Limits(context.Background(), "merch-1")
	if limits.TextTokens != 500_000 {
		t.Errorf("TextTokens = %d, want 500000", limits.TextTokens)
	}
	if limits.BulkBatches != 5 {
		t.Errorf("BulkBatches = %d, want 5", limits.BulkBatches)
	}
	if limits.ImageGeneration != 100 {
		t.Errorf("ImageGeneration = %d, want 100", limits.ImageGeneration)
	}
	if limits.ScreenshotAnalysis != 20 {
		t.Errorf("ScreenshotAnalysis = %d, want 20", limits.ScreenshotAnalysis)
	}
}

func TestLimits_PartialOverride(t *testing.T) {
	settings := &stubSettings{override: &Override{BulkBatches: intPtr(20)}}
	g := NewGovernor(testStore(t), settings, DefaultLimits(), testLogger())

	limits := g.Limits(context.Background(), "merch-1")
	if limits.BulkBatches != 20 {
		t.Errorf("BulkBatches = %d, want overridden 20", limits.BulkBatches)
	}
	// Unset fields keep the defaults.
	if limits.TextTokens != 500_000 {
		t.Errorf("TextTokens = %d, want default 500000", limits.TextTokens)
	}
}

func TestCheck_CountLimitBoundary(t *testing.T) {
	g := NewGovernor(testStore(t), nil, DefaultLimits(), testLogger())
	ctx := context.Background()

	// Consume 4 of 5 batches: one more is still allowed.
	for i := 0; i < 4; i++ {
		g.Record(ctx, "merch-1", OpBulkBatch, Delta{Count: 1})
	}
	res := g.Check(ctx, "merch-1", OpBulkBatch, 0)
	if !res.Allowed {
		t.Fatalf("Check at 4/5 denied: %+v", res)
	}
	if res.Remaining != 1 {
		t.Errorf("Remaining = %d, want 1", res.Remaining)
	}

	// The fifth consumes the limit entirely.
	g.Record(ctx, "merch-1", OpBulkBatch, Delta{Count: 1})
	res = g.Check(ctx, "merch-1", OpBulkBatch, 0)
	if res.Allowed {
		t.Fatal("Check at 5/5 allowed, want denied")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining on denial = %d, want 0", res.Remaining)
	}
	if !strings.Contains(res.Reason, "5 of 5") {
		t.Errorf("Reason = %q, want exact used/limit numbers", res.Reason)
	}
}

func TestCheck_TokenEstimate(t *testing.T) {
	settings := &stubSettings{override: &Override{TextTokens: intPtr(1000)}}
	g := NewGovernor(testStore(t), settings, DefaultLimits(), testLogger())
	ctx := context.Background()

	g.Record(ctx, "merch-1", OpTextGeneration, Delta{TokensUsed: 900})

	if res := g.Check(ctx, "merch-1", OpTextGeneration, 100); !res.Allowed {
		t.Errorf("estimate exactly fitting remaining should be allowed: %+v", res)
	}
	if res := g.Check(ctx, "merch-1", OpTextGeneration, 101); res.Allowed {
		t.Error("estimate exceeding remaining should be denied")
	}
}

func TestCheck_FailsOpenOnSettingsError(t *testing.T) {
	settings := &stubSettings{err: errors.New("settings backend down")}
	g := NewGovernor(testStore(t), settings, DefaultLimits(), testLogger())

	res := g.Check(context.Background(), "merch-1", OpBulkBatch, 0)
	if !res.Allowed {
		t.Errorf("Check should fail open on settings error: %+v", res)
	}
}

func TestCheck_FailsOpenOnStoreError(t *testing.T) {
	s := testStore(t)
	g := NewGovernor(s, nil, DefaultLimits(), testLogger())

	// Break the store underneath the governor.
	s.db.Close()

	res := g.Check(context.Background(), "merch-1", OpBulkBatch, 0)
	if !res.Allowed {
		t.Errorf("Check should fail open on store error: %+v", res)
	}
}

func TestRecord_SwallowsFailure(t *testing.T) {
	s := testStore(t)
	g := NewGovernor(s, nil, DefaultLimits(), testLogger())

	s.db.Close()

	// Must not panic or propagate; just report failure.
	if ok := g.Record(context.Background(), "merch-1", OpBulkBatch, Delta{Count: 1}); ok {
		t.Error("Record on broken store = true, want false")
	}
}

func TestSummarize_Warnings(t *testing.T) {
	settings := &stubSettings{override: &Override{ScreenshotAnalysis: intPtr(10)}}
	g := NewGovernor(testStore(t), settings, DefaultLimits(), testLogger())
	ctx := context.Background()

	g.Record(ctx, "merch-1", OpScreenshotAnalysis, Delta{Count: 8})
	g.Record(ctx, "merch-1", OpBulkBatch, Delta{Count: 1})

	sum, err := g.Summarize(ctx, "merch-1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}

	if pct := sum.Percentage[OpScreenshotAnalysis]; pct != 80.0 {
		t.Errorf("screenshot percentage = %f, want 80", pct)
	}
	if pct := sum.Percentage[OpBulkBatch]; pct != 20.0 {
		t.Errorf("batch percentage = %f, want 20", pct)
	}

	// Exactly one category crossed 80%.
	if len(sum.Warnings) != 1 {
		t.Fatalf("Warnings = %v, want exactly 1", sum.Warnings)
	}
	if !strings.Contains(sum.Warnings[0], "80%") {
		t.Errorf("warning = %q, want percentage mentioned", sum.Warnings[0])
	}
}

func TestSummarize_NoUsage(t *testing.T) {
	g := NewGovernor(testStore(t), nil, DefaultLimits(), testLogger())

	sum, err := g.Summarize(context.Background(), "merch-1")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if len(sum.Warnings) != 0 {
		t.Errorf("Warnings = %v, want none", sum.Warnings)
	}
	for _, op := range Operations {
		if sum.Percentage[op] != 0 {
			t.Errorf("percentage[%s] = %f, want 0", op, sum.Percentage[op])
		}
	}
}
