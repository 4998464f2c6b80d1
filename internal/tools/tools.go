// Package tools defines the tools available to the agent.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Call is one tool invocation as requested by the agent.
type Call struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Result is the structured value a tool returns. Business-level
// failure is signaled via a success:false field inside the result,
// never via an error return.
type Result map[string]any

// Success reports whether the result carries success: true.
func (r Result) Success() bool {
	ok, _ := r["success"].(bool)
	return ok
}

// Invocation pairs a call with its result, in turn order. Result is
// nil when the tool was requested but never executed.
type Invocation struct {
	Call   Call   `json:"call"`
	Result Result `json:"result,omitempty"`
}

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                     `json:"name"`
	Description string                                                     `json:"description"`
	Parameters  map[string]any                                             `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (Result, error) `json:"-"`
}

// Executor runs the business operations behind the delegating tools.
// The registry owns schemas and dispatch; the executor owns the actual
// work (vision analysis, draft generation, catalog persistence).
type Executor interface {
	AnalyzeImages(ctx context.Context, batchID string, imageURLs []string) (Result, error)
	GenerateDrafts(ctx context.Context, groupIDs []string) (Result, error)
	FetchDrafts(ctx context.Context, draftIDs []string) (Result, error)
	PersistDrafts(ctx context.Context, draftIDs []string) (Result, error)
	DiscardDrafts(ctx context.Context, draftIDs []string) (Result, error)
}

// Registry holds available tools.
type Registry struct {
	tools map[string]*Tool
	exec  Executor
}

// NewRegistry creates a tool registry backed by the given executor.
func NewRegistry(exec Executor) *Registry {
	r := &Registry{
		tools: make(map[string]*Tool),
		exec:  exec,
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) registerBuiltins() {
	// Ask the merchant a question
	r.Register(&Tool{
		Name:        "ask_user",
		Description: "Ask the merchant a question and wait for their answer. Use when you need a decision before continuing.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{
					"type":        "string",
					"description": "The question to show the merchant",
				},
				"options": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Optional fixed choices; omit for free-form answers",
				},
				"allow_multiple": map[string]any{
					"type":        "boolean",
					"description": "Whether the merchant may pick more than one option",
				},
			},
			"required": []string{"question"},
		},
		Handler: r.handleAskUser,
	})

	// Group uploaded images into product candidates
	r.Register(&Tool{
		Name:        "delegate_to_vision",
		Description: "Analyze uploaded product images and group them into product candidates. Use at the start of a bulk image upload.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"batch_id": map[string]any{
					"type":        "string",
					"description": "The upload batch to analyze",
				},
				"image_urls": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Image URLs to analyze when no batch exists yet",
				},
			},
			"required": []string{},
		},
		Handler: r.handleDelegateToVision,
	})

	// Generate product drafts from confirmed groups
	r.Register(&Tool{
		Name:        "delegate_to_product_intel",
		Description: "Generate product drafts (title, description, price suggestion) for confirmed image groups.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"group_ids": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "The confirmed image group IDs to generate drafts for",
				},
			},
			"required": []string{"group_ids"},
		},
		Handler: r.handleDelegateToProductIntel,
	})

	// Show drafts for review
	r.Register(&Tool{
		Name:        "render_draft_cards",
		Description: "Fetch product drafts and show them to the merchant as editable cards.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"draft_ids": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "The draft IDs to render",
				},
			},
			"required": []string{"draft_ids"},
		},
		Handler: r.handleRenderDraftCards,
	})

	// Persist confirmed drafts to the live catalog
	r.Register(&Tool{
		Name:        "confirm_and_persist",
		Description: "Persist confirmed drafts to the live catalog. Only call after the merchant has explicitly confirmed via the confirmation card.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"draft_ids": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "The confirmed draft IDs to persist",
				},
			},
			"required": []string{"draft_ids"},
		},
		Handler: r.handleConfirmAndPersist,
	})

	// Discard unwanted drafts
	r.Register(&Tool{
		Name:        "discard_drafts",
		Description: "Discard product drafts the merchant does not want. Drafts are deleted, not persisted.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"draft_ids": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "The draft IDs to discard",
				},
			},
			"required": []string{"draft_ids"},
		},
		Handler: r.handleDiscardDrafts,
	})
}

// Register adds a tool to the registry, replacing any existing tool
// with the same name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns tool definitions in the function-calling wire shape.
func (r *Registry) List() []map[string]any {
	var result []map[string]any
	for _, t := range r.tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with JSON-encoded arguments. Required
// arguments are checked against the tool's schema before dispatch.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (Result, error) {
	tool := r.tools[name]
	if tool == nil {
		return nil, fmt.Errorf("unknown tool: %s", name)
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return nil, fmt.Errorf("invalid arguments: %w", err)
		}
	}

	if err := checkRequired(tool, args); err != nil {
		return nil, err
	}

	return tool.Handler(ctx, args)
}

func checkRequired(tool *Tool, args map[string]any) error {
	required, _ := tool.Parameters["required"].([]string)
	for _, name := range required {
		if _, ok := args[name]; !ok {
			return fmt.Errorf("%s: missing required argument %q", tool.Name, name)
		}
	}
	return nil
}

func (r *Registry) handleAskUser(ctx context.Context, args map[string]any) (Result, error) {
	// ask_user produces no backend work; the question itself is the
	// output, consumed downstream from the call arguments.
	return Result{"success": true}, nil
}

func (r *Registry) handleDelegateToVision(ctx context.Context, args map[string]any) (Result, error) {
	batchID, _ := args["batch_id"].(string)
	urls := stringSlice(args["image_urls"])
	if batchID == "" && len(urls) == 0 {
		return nil, fmt.Errorf("delegate_to_vision: need batch_id or image_urls")
	}
	return r.exec.AnalyzeImages(ctx, batchID, urls)
}

func (r *Registry) handleDelegateToProductIntel(ctx context.Context, args map[string]any) (Result, error) {
	return r.exec.GenerateDrafts(ctx, stringSlice(args["group_ids"]))
}

func (r *Registry) handleRenderDraftCards(ctx context.Context, args map[string]any) (Result, error) {
	return r.exec.FetchDrafts(ctx, stringSlice(args["draft_ids"]))
}

func (r *Registry) handleConfirmAndPersist(ctx context.Context, args map[string]any) (Result, error) {
	return r.exec.PersistDrafts(ctx, stringSlice(args["draft_ids"]))
}

func (r *Registry) handleDiscardDrafts(ctx context.Context, args map[string]any) (Result, error) {
	return r.exec.DiscardDrafts(ctx, stringSlice(args["draft_ids"]))
}

// stringSlice coerces a decoded JSON array into []string, skipping
// non-string elements.
func stringSlice(v any) []string {
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
