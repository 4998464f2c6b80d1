// Package memory provides conversation summarization checkpoints.
// Snapshots are immutable, append-only condensations of conversation
// history plus the entity identifiers mentioned in it; they replace raw
// history when rebuilding model context for long conversations.
package memory

import (
	"strings"
	"time"
)

// SnapshotType classifies why a snapshot was taken.
type SnapshotType string

const (
	// TypeWorkflowCheckpoint marks a snapshot taken at a workflow stage
	// boundary.
	TypeWorkflowCheckpoint SnapshotType = "workflow_checkpoint"
	// TypeSessionSummary is the periodic rolling summary.
	TypeSessionSummary SnapshotType = "session_summary"
	// TypeContextRefresh is the deeper condensation for long conversations.
	TypeContextRefresh SnapshotType = "context_refresh"
)

// maxImageURLs caps how many image URLs a snapshot retains. TotalImages
// still counts everything seen.
const maxImageURLs = 10

// Entities holds the de-duplicated identifiers extracted from messages.
type Entities struct {
	ProductIDs  []string `json:"product_ids,omitempty"`
	DraftIDs    []string `json:"draft_ids,omitempty"`
	BatchIDs    []string `json:"batch_ids,omitempty"`
	ImageURLs   []string `json:"image_urls,omitempty"`
	TotalImages int      `json:"total_images,omitempty"`

	// overflowImages tracks URLs counted in TotalImages but held beyond
	// the retention cap, so duplicates past the cap are not double-counted
	// during extraction. Never serialized.
	overflowImages []string
}

// Merge unions other into e, preserving order and de-duplicating per
// key. Image URLs stay capped; TotalImages keeps the best available
// count (capped lists make an exact overlap-aware sum impossible).
func (e *Entities) Merge(other Entities) {
	e.ProductIDs = appendUnique(e.ProductIDs, other.ProductIDs...)
	e.DraftIDs = appendUnique(e.DraftIDs, other.DraftIDs...)
	e.BatchIDs = appendUnique(e.BatchIDs, other.BatchIDs...)

	union := appendUnique(e.ImageURLs, other.ImageURLs...)
	total := len(union)
	if e.TotalImages > total {
		total = e.TotalImages
	}
	if other.TotalImages > total {
		total = other.TotalImages
	}
	if len(union) > maxImageURLs {
		union = union[:maxImageURLs]
	}
	e.ImageURLs = union
	e.TotalImages = total
}

// Snapshot is one immutable summarization checkpoint.
type Snapshot struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	MerchantID     string       `json:"merchant_id"`
	Type           SnapshotType `json:"snapshot_type"`
	Summary        string       `json:"summary"`
	Entities       Entities     `json:"entities"`
	MessageCount   int          `json:"message_count"`
	TokenCount     int          `json:"token_count"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Message is one conversation message as seen by the compactor.
type Message struct {
	Role    string       `json:"role"` // system, user, assistant, tool
	Content string       `json:"content"`
	Meta    *MessageMeta `json:"meta,omitempty"`
}

// MessageMeta carries structured identifiers attached to a message by
// the tool layer. These are merged into snapshot entities directly,
// bypassing the text heuristics.
type MessageMeta struct {
	ProductIDs []string `json:"product_ids,omitempty"`
	DraftIDs   []string `json:"draft_ids,omitempty"`
	BatchIDs   []string `json:"batch_ids,omitempty"`
	ImageURLs  []string `json:"image_urls,omitempty"`
}

// CondensedContext is the compacted replacement for raw history.
type CondensedContext struct {
	Summary        string    `json:"summary"`
	Entities       Entities  `json:"entities"`
	RecentMessages []Message `json:"recent_messages"`
}

// Render flattens the condensed context into prompt text: the summary
// block followed by the recent messages as a transcript.
func (c *CondensedContext) Render() string {
	if len(c.RecentMessages) == 0 {
		return c.Summary
	}
	return c.Summary + "\n\nRecent messages:\n" + transcript(c.RecentMessages)
}

// EstimateTokens approximates token count as ceil(characters / 4). This
// is deliberately rough — close enough for thresholds, not a tokenizer.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// estimateMessageTokens sums the estimate over all message content.
func estimateMessageTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return (total + 3) / 4
}

// transcript renders messages as a role-tagged transcript, one message
// per paragraph, with the role capitalized.
func transcript(messages []Message) string {
	var sb strings.Builder
	for i, m := range messages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		role := m.Role
		if len(role) > 0 {
			role = strings.ToUpper(role[:1]) + role[1:]
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(m.Content)
	}
	return sb.String()
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v == "" {
			continue
		}
		seen := false
		for _, existing := range dst {
			if existing == v {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, v)
		}
	}
	return dst
}
