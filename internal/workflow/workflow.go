// Package workflow tracks multi-stage workflow progress per conversation.
// A workflow is a named sequence of stages (e.g. turning a photo batch
// into store listings) that advances monotonically from 1 to N. Records
// are never deleted — terminal states remain as an audit trail.
package workflow

import (
	"errors"
	"time"
)

// Type identifies a workflow kind. Each type has a fixed stage count.
type Type string

const (
	TypeOnboarding          Type = "onboarding"
	TypeBulkImageToProducts Type = "bulk_image_to_products"
	TypeProductEdit         Type = "product_edit"
	TypeMarketingCampaign   Type = "marketing_campaign"
	TypeBulkEdit            Type = "bulk_edit"
)

// Status is the lifecycle state of a workflow record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var (
	// ErrConflict is returned when creating a workflow while another
	// in_progress workflow of the same type exists for the conversation.
	ErrConflict = errors.New("workflow already in progress")

	// ErrNotFound is returned when no matching workflow exists.
	ErrNotFound = errors.New("workflow not found")
)

// State is one workflow record. At most one in_progress State exists per
// (conversation, type) pair.
type State struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	MerchantID     string         `json:"merchant_id"`
	Type           Type           `json:"workflow_type"`
	CurrentStage   int            `json:"current_stage"` // 1-indexed
	TotalStages    int            `json:"total_stages"`
	StageData      map[string]any `json:"stage_data"`
	Status         Status         `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
}

// StageName returns the human-readable name of the current stage, or ""
// when the type has no catalog entry.
func (s *State) StageName() string {
	names := Stages(s.Type)
	if s.CurrentStage < 1 || s.CurrentStage > len(names) {
		return ""
	}
	return names[s.CurrentStage-1]
}

// stageCatalog maps each workflow type to its named stages. The names are
// display metadata only — transition logic is stage-count-generic and
// never branches on them.
var stageCatalog = map[Type][]string{
	TypeOnboarding: {
		"welcome",
		"store profile",
		"brand voice",
		"first products",
		"summary",
	},
	TypeBulkImageToProducts: {
		"image upload",
		"vision analysis",
		"group confirmation",
		"product generation",
		"draft preview",
		"draft editing",
		"persistence",
	},
	TypeProductEdit: {
		"select product",
		"apply edits",
		"review",
	},
	TypeMarketingCampaign: {
		"campaign goal",
		"audience",
		"content generation",
		"review",
		"schedule",
	},
	TypeBulkEdit: {
		"select products",
		"define changes",
		"preview",
		"apply",
	},
}

// Stages returns the named stages for a workflow type, or nil for an
// unknown type.
func Stages(t Type) []string {
	return stageCatalog[t]
}

// TotalStages returns the stage count for a workflow type, or 0 for an
// unknown type.
func TotalStages(t Type) int {
	return len(stageCatalog[t])
}

// Known reports whether t is a recognized workflow type.
func Known(t Type) bool {
	_, ok := stageCatalog[t]
	return ok
}
