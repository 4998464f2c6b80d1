package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/merchkit/lister-agent/internal/prompts"
)

// Summarization thresholds. A context refresh condenses long
// conversations once enough new messages have accumulated; the rolling
// session summary fires on a shorter cadence. The refresh takes priority
// when both conditions hold.
const (
	refreshMinMessages  = 50
	refreshMinNewDelta  = 20
	summaryMinNewDelta  = 10
	verbatimMaxMessages = 3
	condensedSnapshots  = 3
)

// noSummaryPlaceholder distinguishes "nothing summarized yet" from a
// failed context build.
const noSummaryPlaceholder = "No previous summary available — this conversation has not been summarized yet."

// Summarizer generates summaries from messages.
type Summarizer interface {
	Summarize(ctx context.Context, messages []Message) (string, error)
}

// Compactor creates snapshots and rebuilds condensed context from them.
// Snapshot creation is best-effort by design: summarization failures
// degrade to a deterministic fallback and are never surfaced to the
// user-facing turn.
type Compactor struct {
	store      *SnapshotStore
	summarizer Summarizer
	logger     *slog.Logger
}

// NewCompactor creates a compactor. summarizer may be nil, in which case
// every snapshot uses the deterministic fallback summary.
func NewCompactor(store *SnapshotStore, summarizer Summarizer, logger *slog.Logger) *Compactor {
	return &Compactor{
		store:      store,
		summarizer: summarizer,
		logger:     logger.With("component", "compactor"),
	}
}

// ShouldSummarize decides whether a snapshot is due, and of which type.
// lastSnapshotCount is the message_count of the newest snapshot (0 when
// none exists). Returns ("", false) when no action is needed.
func (c *Compactor) ShouldSummarize(messageCount, lastSnapshotCount int) (SnapshotType, bool) {
	delta := messageCount - lastSnapshotCount
	if messageCount >= refreshMinMessages && delta >= refreshMinNewDelta {
		return TypeContextRefresh, true
	}
	if delta >= summaryMinNewDelta {
		return TypeSessionSummary, true
	}
	return "", false
}

// LastMessageCount exposes the newest snapshot's message count for
// threshold checks.
func (c *Compactor) LastMessageCount(ctx context.Context, conversationID string) (int, error) {
	return c.store.LastMessageCount(ctx, conversationID)
}

// CreateSnapshot summarizes messages and persists the result. Very short
// conversations are kept verbatim instead of summarized; summarization
// failures fall back to a deterministic first/last digest. Only the
// store write can fail.
func (c *Compactor) CreateSnapshot(ctx context.Context, conversationID, merchantID string, typ SnapshotType, messages []Message) (*Snapshot, error) {
	summary := c.summarize(ctx, messages)

	snap := &Snapshot{
		ConversationID: conversationID,
		MerchantID:     merchantID,
		Type:           typ,
		Summary:        summary,
		Entities:       ExtractEntities(messages),
		MessageCount:   len(messages),
		TokenCount:     estimateMessageTokens(messages),
	}

	if err := c.store.Add(ctx, snap); err != nil {
		return nil, fmt.Errorf("persist snapshot: %w", err)
	}

	c.logger.Debug("snapshot created",
		"conversation", conversationID,
		"type", typ,
		"messages", snap.MessageCount,
		"tokens", snap.TokenCount,
	)
	return snap, nil
}

func (c *Compactor) summarize(ctx context.Context, messages []Message) string {
	// Too short to compress — the verbatim transcript is the summary.
	if len(messages) <= verbatimMaxMessages {
		return transcript(messages)
	}

	if c.summarizer != nil {
		summary, err := c.summarizer.Summarize(ctx, messages)
		if err == nil && strings.TrimSpace(summary) != "" {
			return strings.TrimSpace(summary)
		}
		if err != nil {
			c.logger.Warn("summarization failed, using fallback", "error", err)
		}
	}

	return fallbackSummary(messages)
}

// fallbackSummary builds a deterministic digest from only the first and
// last message, for when the summarization call is unavailable or fails.
func fallbackSummary(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	first := messages[0]
	last := messages[len(messages)-1]

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Conversation of %d messages. ", len(messages)))
	sb.WriteString(fmt.Sprintf("Started with %s: %s. ", first.Role, truncate(first.Content, 140)))
	sb.WriteString(fmt.Sprintf("Most recently, %s: %s", last.Role, truncate(last.Content, 140)))
	return sb.String()
}

// BuildCondensedContext assembles the compacted replacement for raw
// history: the newest snapshots' summaries in chronological reading
// order, their entity sets unioned, and the most recent raw messages
// appended verbatim. recent is the caller's full view of the
// conversation; only the last recentLimit messages are kept.
func (c *Compactor) BuildCondensedContext(ctx context.Context, conversationID string, recentLimit int, recent []Message) (*CondensedContext, error) {
	snaps, err := c.store.Recent(ctx, conversationID, condensedSnapshots)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}

	cc := &CondensedContext{}

	if len(snaps) == 0 {
		cc.Summary = noSummaryPlaceholder
	} else {
		var sb strings.Builder
		sb.WriteString("Previous conversation context:\n")
		// Recent() is newest-first; render oldest-first for reading order.
		for i := len(snaps) - 1; i >= 0; i-- {
			sb.WriteString("\n")
			sb.WriteString(snaps[i].Summary)
		}
		cc.Summary = sb.String()
		for i := len(snaps) - 1; i >= 0; i-- {
			cc.Entities.Merge(snaps[i].Entities)
		}
	}

	if recentLimit > 0 && len(recent) > recentLimit {
		recent = recent[len(recent)-recentLimit:]
	}
	cc.RecentMessages = recent

	return cc, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

// LLMSummarizer delegates summarization to a text-generation call.
type LLMSummarizer struct {
	generate func(ctx context.Context, prompt string) (string, error)
}

// NewLLMSummarizer wraps a text-generation function as a Summarizer.
func NewLLMSummarizer(generate func(ctx context.Context, prompt string) (string, error)) *LLMSummarizer {
	return &LLMSummarizer{generate: generate}
}

// Summarize renders the transcript and asks the model for a 2–4 sentence
// summary covering actions, decisions, current stage, and next steps.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []Message) (string, error) {
	return s.generate(ctx, prompts.SnapshotPrompt(transcript(messages)))
}
