package memory

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func testSnapshotStore(t *testing.T) *SnapshotStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewSnapshotStore(db)
	if err != nil {
		t.Fatalf("NewSnapshotStore: %v", err)
	}
	return s
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fixedSummarizer returns a canned summary or error.
type fixedSummarizer struct {
	summary string
	err     error
}

func (f *fixedSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	return f.summary, f.err
}

func TestShouldSummarize(t *testing.T) {
	c := NewCompactor(testSnapshotStore(t), nil, testLogger())

	tests := []struct {
		name      string
		count     int
		lastCount int
		wantType  SnapshotType
		wantOK    bool
	}{
		{"session_summary_due", 45, 30, TypeSessionSummary, true},
		{"context_refresh_due", 55, 30, TypeContextRefresh, true},
		{"too_few_new", 15, 12, "", false},
		{"refresh_priority_over_summary", 70, 40, TypeContextRefresh, true},
		{"long_but_small_delta", 60, 45, TypeSessionSummary, true},
		{"first_snapshot", 10, 0, TypeSessionSummary, true},
		{"nothing_yet", 9, 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, ok := c.ShouldSummarize(tt.count, tt.lastCount)
			if ok != tt.wantOK {
				t.Fatalf("ShouldSummarize(%d, %d) ok = %v, want %v", tt.count, tt.lastCount, ok, tt.wantOK)
			}
			if typ != tt.wantType {
				t.Errorf("ShouldSummarize(%d, %d) type = %q, want %q", tt.count, tt.lastCount, typ, tt.wantType)
			}
		})
	}
}

func TestCreateSnapshot_ShortConversationVerbatim(t *testing.T) {
	c := NewCompactor(testSnapshotStore(t), &fixedSummarizer{summary: "SHOULD NOT BE USED"}, testLogger())

	msgs := []Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	snap, err := c.CreateSnapshot(context.Background(), "conv-1", "merch-1", TypeSessionSummary, msgs)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	want := "User: hello\n\nAssistant: hi there"
	if snap.Summary != want {
		t.Errorf("Summary = %q, want verbatim transcript %q", snap.Summary, want)
	}
	if snap.MessageCount != 2 {
		t.Errorf("MessageCount = %d, want 2", snap.MessageCount)
	}
}

func TestCreateSnapshot_UsesSummarizer(t *testing.T) {
	c := NewCompactor(testSnapshotStore(t), &fixedSummarizer{summary: "A tidy summary."}, testLogger())

	msgs := []Message{
		{Role: "user", Content: "one"},
		{Role: "assistant", Content: "two"},
		{Role: "user", Content: "three"},
		{Role: "assistant", Content: "four"},
	}
	snap, err := c.CreateSnapshot(context.Background(), "conv-1", "merch-1", TypeSessionSummary, msgs)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap.Summary != "A tidy summary." {
		t.Errorf("Summary = %q, want summarizer output", snap.Summary)
	}
}

func TestCreateSnapshot_FallbackOnSummarizerError(t *testing.T) {
	c := NewCompactor(testSnapshotStore(t), &fixedSummarizer{err: errors.New("model offline")}, testLogger())

	msgs := []Message{
		{Role: "user", Content: "upload these photos"},
		{Role: "assistant", Content: "working on it"},
		{Role: "user", Content: "thanks"},
		{Role: "assistant", Content: "created 3 drafts"},
	}
	snap, err := c.CreateSnapshot(context.Background(), "conv-1", "merch-1", TypeSessionSummary, msgs)
	if err != nil {
		t.Fatalf("CreateSnapshot should not fail on summarizer error: %v", err)
	}

	// The fallback digests only the first and last message.
	if !strings.Contains(snap.Summary, "upload these photos") {
		t.Errorf("fallback summary missing first message: %q", snap.Summary)
	}
	if !strings.Contains(snap.Summary, "created 3 drafts") {
		t.Errorf("fallback summary missing last message: %q", snap.Summary)
	}
	if strings.Contains(snap.Summary, "working on it") {
		t.Errorf("fallback summary should not include middle messages: %q", snap.Summary)
	}
}

func TestCreateSnapshot_TokenEstimate(t *testing.T) {
	c := NewCompactor(testSnapshotStore(t), nil, testLogger())

	// 10 + 6 = 16 chars total → ceil(16/4) = 4 tokens.
	msgs := []Message{
		{Role: "user", Content: "aaaaaaaaaa"},
		{Role: "assistant", Content: "bbbbbb"},
	}
	snap, err := c.CreateSnapshot(context.Background(), "conv-1", "merch-1", TypeSessionSummary, msgs)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if snap.TokenCount != 4 {
		t.Errorf("TokenCount = %d, want 4", snap.TokenCount)
	}
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{strings.Repeat("x", 400), 100},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%d chars) = %d, want %d", len(tt.text), got, tt.want)
		}
	}
}

func TestBuildCondensedContext_NoSnapshots(t *testing.T) {
	c := NewCompactor(testSnapshotStore(t), nil, testLogger())

	cc, err := c.BuildCondensedContext(context.Background(), "conv-1", 5, []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("BuildCondensedContext: %v", err)
	}
	if cc.Summary == "" {
		t.Error("Summary is empty, want explicit placeholder")
	}
	if !strings.Contains(cc.Summary, "No previous summary") {
		t.Errorf("Summary = %q, want no-previous-summary placeholder", cc.Summary)
	}
	if len(cc.RecentMessages) != 1 {
		t.Errorf("RecentMessages = %d, want 1", len(cc.RecentMessages))
	}
}

func TestBuildCondensedContext_OrdersAndUnions(t *testing.T) {
	store := testSnapshotStore(t)
	c := NewCompactor(store, nil, testLogger())
	ctx := context.Background()

	snaps := []*Snapshot{
		{ConversationID: "conv-1", MerchantID: "m", Type: TypeSessionSummary, Summary: "first summary",
			Entities: Entities{DraftIDs: []string{"d1"}}, MessageCount: 10},
		{ConversationID: "conv-1", MerchantID: "m", Type: TypeSessionSummary, Summary: "second summary",
			Entities: Entities{DraftIDs: []string{"d1", "d2"}, ProductIDs: []string{"p1"}}, MessageCount: 20},
	}
	for _, s := range snaps {
		if err := store.Add(ctx, s); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	cc, err := c.BuildCondensedContext(ctx, "conv-1", 2, nil)
	if err != nil {
		t.Fatalf("BuildCondensedContext: %v", err)
	}

	// Oldest summary reads first.
	firstIdx := strings.Index(cc.Summary, "first summary")
	secondIdx := strings.Index(cc.Summary, "second summary")
	if firstIdx < 0 || secondIdx < 0 {
		t.Fatalf("Summary missing snapshot text: %q", cc.Summary)
	}
	if firstIdx > secondIdx {
		t.Error("summaries not in chronological reading order")
	}

	if len(cc.Entities.DraftIDs) != 2 {
		t.Errorf("DraftIDs = %v, want de-duplicated union of 2", cc.Entities.DraftIDs)
	}
	if len(cc.Entities.ProductIDs) != 1 {
		t.Errorf("ProductIDs = %v, want 1", cc.Entities.ProductIDs)
	}
}

func TestBuildCondensedContext_RecentLimit(t *testing.T) {
	c := NewCompactor(testSnapshotStore(t), nil, testLogger())

	var msgs []Message
	for i := 0; i < 8; i++ {
		msgs = append(msgs, Message{Role: "user", Content: strings.Repeat("m", i+1)})
	}
	cc, err := c.BuildCondensedContext(context.Background(), "conv-1", 3, msgs)
	if err != nil {
		t.Fatalf("BuildCondensedContext: %v", err)
	}
	if len(cc.RecentMessages) != 3 {
		t.Fatalf("RecentMessages = %d, want 3", len(cc.RecentMessages))
	}
	if cc.RecentMessages[2].Content != msgs[7].Content {
		t.Error("RecentMessages should be the newest messages")
	}
}

func TestSnapshotStore_LastMessageCount(t *testing.T) {
	store := testSnapshotStore(t)
	ctx := context.Background()

	count, err := store.LastMessageCount(ctx, "conv-1")
	if err != nil {
		t.Fatalf("LastMessageCount: %v", err)
	}
	if count != 0 {
		t.Errorf("LastMessageCount with no snapshots = %d, want 0", count)
	}

	for _, mc := range []int{10, 25} {
		if err := store.Add(ctx, &Snapshot{
			ConversationID: "conv-1", MerchantID: "m",
			Type: TypeSessionSummary, Summary: "s", MessageCount: mc,
		}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	count, err = store.LastMessageCount(ctx, "conv-1")
	if err != nil {
		t.Fatalf("LastMessageCount: %v", err)
	}
	if count != 25 {
		t.Errorf("LastMessageCount = %d, want 25 (newest snapshot)", count)
	}
}

func TestSnapshotStore_RecentLimit(t *testing.T) {
	store := testSnapshotStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.Add(ctx, &Snapshot{
			ConversationID: "conv-1", MerchantID: "m",
			Type: TypeSessionSummary, Summary: "s", MessageCount: i,
		}); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	snaps, err := store.Recent(ctx, "conv-1", 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("Recent returned %d, want 3", len(snaps))
	}
	if snaps[0].MessageCount != 4 {
		t.Errorf("Recent[0].MessageCount = %d, want newest (4)", snaps[0].MessageCount)
	}
}
