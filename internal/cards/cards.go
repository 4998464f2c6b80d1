// Package cards maps tool invocations to renderable UI descriptors.
//
// The mapping is deliberately defensive: the agent decides which tools
// to call, and it can invent names or malform arguments. Anything not
// recognized, or recognized but missing its preconditions, is skipped
// silently rather than surfaced as an error. The one structural
// guarantee this package enforces is the confirmation gate: persistence
// is only ever reported after the fact via a status card, and the
// confirmation card that precedes it is produced from a separate tool
// (delegate_to_product_intel), so the agent cannot collapse "ask for
// confirmation" and "persist" into one step.
package cards

import (
	"fmt"

	"github.com/merchkit/lister-agent/internal/tools"
)

// Descriptor kinds.
const (
	KindQuestionCard     = "question_card"
	KindDraftGrid        = "draft_grid"
	KindStatusCard       = "status_card"
	KindConfirmationCard = "confirmation_card"
)

// Descriptor is one renderable UI component. Data is kind-specific.
type Descriptor struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data"`
}

// Extract maps each recognized invocation to a descriptor, in call
// order. Unrecognized tools and calls whose preconditions are not met
// produce nothing.
func Extract(invocations []tools.Invocation) []Descriptor {
	var out []Descriptor
	for _, inv := range invocations {
		if d, ok := extractOne(inv); ok {
			out = append(out, d)
		}
	}
	return out
}

func extractOne(inv tools.Invocation) (Descriptor, bool) {
	switch inv.Call.Name {
	case "ask_user":
		return questionCard(inv.Call.Args)
	case "render_draft_cards":
		return draftGrid(inv.Result)
	case "confirm_and_persist":
		return persistStatus(inv.Result)
	case "delegate_to_vision":
		return visionQuestion(inv.Result)
	case "delegate_to_product_intel":
		return confirmationCard(inv.Result)
	case "discard_drafts":
		return discardStatus(inv.Result)
	}
	return Descriptor{}, false
}

// questionCard is built from arguments alone: the question is the
// output, no result required.
func questionCard(args map[string]any) (Descriptor, bool) {
	question, _ := args["question"].(string)
	if question == "" {
		return Descriptor{}, false
	}
	data := map[string]any{"question": question}
	if options := stringList(args["options"]); options != nil {
		data["options"] = options
	}
	if multi, ok := args["allow_multiple"].(bool); ok {
		data["allow_multiple"] = multi
	}
	return Descriptor{Kind: KindQuestionCard, Data: data}, true
}

// draftGrid renders only on a confirmed successful fetch. A failed or
// missing result must not render an empty grid.
func draftGrid(result tools.Result) (Descriptor, bool) {
	if !result.Success() {
		return Descriptor{}, false
	}
	drafts, ok := result["drafts"].([]any)
	if !ok {
		return Descriptor{}, false
	}
	return Descriptor{
		Kind: KindDraftGrid,
		Data: map[string]any{"drafts": drafts},
	}, true
}

// persistStatus reports a persistence outcome that has already
// happened; it never initiates one.
func persistStatus(result tools.Result) (Descriptor, bool) {
	if result == nil {
		return Descriptor{}, false
	}
	if result.Success() {
		created := intFrom(result["created_count"])
		return Descriptor{
			Kind: KindStatusCard,
			Data: map[string]any{
				"title":   "Products Created",
				"success": true,
				"message": fmt.Sprintf("%d %s added to your catalog.", created, plural(created, "product", "products")),
			},
		}, true
	}
	failed := intFrom(result["failed_count"])
	return Descriptor{
		Kind: KindStatusCard,
		Data: map[string]any{
			"title":   "Some Products Failed",
			"success": false,
			"message": fmt.Sprintf("%d %s could not be created.", failed, plural(failed, "product", "products")),
		},
	}, true
}

func visionQuestion(result tools.Result) (Descriptor, bool) {
	groups, ok := result["groups"].([]any)
	if !ok {
		return Descriptor{}, false
	}
	n := len(groups)
	return Descriptor{
		Kind: KindQuestionCard,
		Data: map[string]any{
			"question": fmt.Sprintf("I found %d %s in your images. Does this grouping look right?", n, plural(n, "product group", "product groups")),
			"options":  []string{"Yes, looks right", "No, let me adjust"},
		},
	}, true
}

// confirmationCard surfaces only successful drafts; the merchant's
// explicit confirm action on this card is what unlocks persistence.
func confirmationCard(result tools.Result) (Descriptor, bool) {
	if !result.Success() {
		return Descriptor{}, false
	}
	drafts, ok := result["drafts"].([]any)
	if !ok {
		return Descriptor{}, false
	}
	var draftIDs []string
	for _, raw := range drafts {
		draft, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if ok, present := draft["success"].(bool); present && !ok {
			continue
		}
		if id, ok := draft["id"].(string); ok && id != "" {
			draftIDs = append(draftIDs, id)
		}
	}
	if len(draftIDs) == 0 {
		return Descriptor{}, false
	}
	return Descriptor{
		Kind: KindConfirmationCard,
		Data: map[string]any{
			"draft_ids": draftIDs,
			"message":   fmt.Sprintf("%d %s ready for review. Confirm to publish.", len(draftIDs), plural(len(draftIDs), "draft", "drafts")),
		},
	}, true
}

func discardStatus(result tools.Result) (Descriptor, bool) {
	if !result.Success() {
		return Descriptor{}, false
	}
	discarded := intFrom(result["discarded_count"])
	return Descriptor{
		Kind: KindStatusCard,
		Data: map[string]any{
			"title":   "Drafts Discarded",
			"success": true,
			"message": fmt.Sprintf("%d %s discarded.", discarded, plural(discarded, "draft", "drafts")),
		},
	}, true
}

// intFrom coerces decoded JSON numbers (float64) and ints to int.
func intFrom(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func plural(n int, singular, plural string) string {
	if n == 1 {
		return singular
	}
	return plural
}

func stringList(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
