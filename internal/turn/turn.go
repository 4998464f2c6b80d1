// Package turn coordinates one user message end to end: limit check,
// agent call, card extraction, then deferred workflow advancement and
// memory snapshotting. It owns no algorithm of its own beyond the
// sequencing.
package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/merchkit/lister-agent/internal/agent"
	"github.com/merchkit/lister-agent/internal/background"
	"github.com/merchkit/lister-agent/internal/cards"
	"github.com/merchkit/lister-agent/internal/memory"
	"github.com/merchkit/lister-agent/internal/tools"
	"github.com/merchkit/lister-agent/internal/usage"
	"github.com/merchkit/lister-agent/internal/workflow"
)

// Agent runs one model turn. Satisfied by agent.Client.
type Agent interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// Governor gates and meters operations. Satisfied by usage.Governor.
type Governor interface {
	Check(ctx context.Context, merchantID string, op usage.Operation, estimate int) usage.CheckResult
	Record(ctx context.Context, merchantID string, op usage.Operation, delta usage.Delta) bool
}

// Request is one incoming user turn. History carries the raw prior
// messages of the conversation, oldest first, excluding this message.
type Request struct {
	ConversationID string
	MerchantID     string
	Message        string
	History        []memory.Message
}

// Response is what the caller renders: the agent's reply text plus
// zero or more UI descriptors in tool-call order.
type Response struct {
	Text  string             `json:"text"`
	Cards []cards.Descriptor `json:"cards"`
}

// Handler wires the turn pipeline together.
type Handler struct {
	agent       Agent
	governor    Governor
	compactor   *memory.Compactor
	workflows   *workflow.Store
	runner      *background.Runner
	recentLimit int
	logger      *slog.Logger
}

// NewHandler creates a turn handler. recentLimit is the number of raw
// recent messages carried into the condensed context.
func NewHandler(ag Agent, gov Governor, compactor *memory.Compactor, workflows *workflow.Store, runner *background.Runner, recentLimit int, logger *slog.Logger) *Handler {
	return &Handler{
		agent:       ag,
		governor:    gov,
		compactor:   compactor,
		workflows:   workflows,
		runner:      runner,
		recentLimit: recentLimit,
		logger:      logger.With("component", "turn"),
	}
}

// Handle processes one user message. The agent call is synchronous;
// workflow advancement and snapshot creation are pushed to the
// background runner and never block or fail the response.
func (h *Handler) Handle(ctx context.Context, req Request) (*Response, error) {
	estimate := memory.EstimateTokens(req.Message)
	check := h.governor.Check(ctx, req.MerchantID, usage.OpTextGeneration, estimate)
	if !check.Allowed {
		// A denial is a normal reply, not an error.
		return &Response{Text: check.Reason}, nil
	}

	agentReq := agent.Request{
		ConversationID: req.ConversationID,
		MerchantID:     req.MerchantID,
		Message:        req.Message,
		Context:        h.condensedContext(ctx, req),
	}

	resp, err := h.agent.Run(ctx, agentReq)
	if err != nil {
		return nil, fmt.Errorf("agent turn: %w", err)
	}

	descriptors := cards.Extract(resp.Invocations)

	h.advanceWorkflows(req, resp.Invocations)
	h.maybeSnapshot(req, resp.Text)
	h.recordUsage(req, estimate, resp.TokensUsed)

	return &Response{Text: resp.Text, Cards: descriptors}, nil
}

// condensedContext renders the summarized history for the agent.
// Best-effort: a build failure means the agent just sees less context.
func (h *Handler) condensedContext(ctx context.Context, req Request) string {
	cc, err := h.compactor.BuildCondensedContext(ctx, req.ConversationID, h.recentLimit, req.History)
	if err != nil {
		h.logger.Warn("condensed context build failed",
			"conversation", req.ConversationID, "error", err)
		return ""
	}
	return cc.Render()
}

// Tools whose successful completion marks a workflow stage done.
var stageCompletingTools = map[string]bool{
	"delegate_to_vision":        true,
	"delegate_to_product_intel": true,
	"confirm_and_persist":       true,
}

func (h *Handler) advanceWorkflows(req Request, invocations []tools.Invocation) {
	for _, inv := range invocations {
		if !stageCompletingTools[inv.Call.Name] || !inv.Result.Success() {
			continue
		}
		name := inv.Call.Name
		h.runner.Submit("workflow-advance", func(ctx context.Context) error {
			return h.advanceOne(ctx, req, name)
		})
	}
}

// advanceOne moves the conversation's active bulk workflow forward by
// one stage. A successful vision analysis with no active workflow
// starts one: image upload happened outside the conversation, so the
// workflow record begins at the first tool-observable stage.
func (h *Handler) advanceOne(ctx context.Context, req Request, toolName string) error {
	state, err := h.workflows.ActiveByType(ctx, req.ConversationID, workflow.TypeBulkImageToProducts)
	if errors.Is(err, workflow.ErrNotFound) {
		if toolName != "delegate_to_vision" {
			return nil
		}
		state, err = h.workflows.Create(ctx, req.ConversationID, req.MerchantID,
			workflow.TypeBulkImageToProducts, workflow.TotalStages(workflow.TypeBulkImageToProducts), nil)
		if err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("lookup active workflow: %w", err)
	}

	advanced, err := h.workflows.Advance(ctx, state.ID, nil)
	if err != nil {
		return fmt.Errorf("advance workflow %s: %w", state.ID, err)
	}
	if advanced {
		h.logger.Debug("workflow advanced",
			"conversation", req.ConversationID, "workflow", state.ID, "tool", toolName)
	}
	return nil
}

// maybeSnapshot fires a snapshot when the conversation has grown
// enough since the last one.
func (h *Handler) maybeSnapshot(req Request, replyText string) {
	messages := make([]memory.Message, 0, len(req.History)+2)
	messages = append(messages, req.History...)
	messages = append(messages,
		memory.Message{Role: "user", Content: req.Message},
		memory.Message{Role: "assistant", Content: replyText},
	)

	h.runner.Submit("memory-snapshot", func(ctx context.Context) error {
		lastCount, err := h.compactor.LastMessageCount(ctx, req.ConversationID)
		if err != nil {
			return fmt.Errorf("last snapshot lookup: %w", err)
		}
		typ, ok := h.compactor.ShouldSummarize(len(messages), lastCount)
		if !ok {
			return nil
		}
		_, err = h.compactor.CreateSnapshot(ctx, req.ConversationID, req.MerchantID, typ, messages)
		return err
	})
}

// recordUsage meters the turn. The agent's reported token count wins;
// the request-side estimate is the fallback.
func (h *Handler) recordUsage(req Request, estimate, reported int) {
	tokens := reported
	if tokens <= 0 {
		tokens = estimate
	}
	h.governor.Record(context.Background(), req.MerchantID, usage.OpTextGeneration,
		usage.Delta{Count: 1, TokensUsed: tokens})
}
