// Package agent is the client for the external tool-calling agent.
//
// The agent owns the model loop: given the merchant's message and a
// condensed conversation context, it decides which tools to call and
// produces the reply text. This process only sees the outcome — the
// text plus the ordered tool invocations with their results.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/merchkit/lister-agent/internal/tools"
)

// Request is one user turn handed to the agent.
type Request struct {
	ConversationID string `json:"conversation_id"`
	MerchantID     string `json:"merchant_id"`
	Message        string `json:"message"`

	// Context is the condensed conversation context (summary plus
	// recent messages), rendered as text. Optional.
	Context string `json:"context,omitempty"`
}

// Response is what the agent produced for one turn.
type Response struct {
	Text        string             `json:"text"`
	Invocations []tools.Invocation `json:"invocations,omitempty"`
	TokensUsed  int                `json:"tokens_used,omitempty"`
}

// Client calls the agent over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an agent client. timeout bounds the whole turn,
// including every tool the agent runs.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Run executes one turn.
func (c *Client) Run(ctx context.Context, req Request) (*Response, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/run", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("agent error %d: %s", resp.StatusCode, string(body))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
