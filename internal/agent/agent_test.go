package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/merchkit/lister-agent/internal/tools"
)

func TestRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run" {
			t.Errorf("path = %s, want /run", r.URL.Path)
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.ConversationID != "conv-1" || req.Message != "upload done" {
			t.Errorf("request = %+v", req)
		}

		json.NewEncoder(w).Encode(Response{
			Text: "Analyzing your images now.",
			Invocations: []tools.Invocation{
				{
					Call:   tools.Call{Name: "delegate_to_vision", Args: map[string]any{"batch_id": "b1"}},
					Result: tools.Result{"success": true, "groups": []any{map[string]any{"id": "g1"}}},
				},
			},
			TokensUsed: 120,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	resp, err := c.Run(context.Background(), Request{
		ConversationID: "conv-1",
		MerchantID:     "merch-1",
		Message:        "upload done",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if resp.Text != "Analyzing your images now." {
		t.Errorf("text = %q", resp.Text)
	}
	if len(resp.Invocations) != 1 || resp.Invocations[0].Call.Name != "delegate_to_vision" {
		t.Errorf("invocations = %+v", resp.Invocations)
	}
	if !resp.Invocations[0].Result.Success() {
		t.Error("invocation result should round-trip success flag")
	}
	if resp.TokensUsed != 120 {
		t.Errorf("tokens used = %d, want 120", resp.TokensUsed)
	}
}

func TestRun_AgentError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "agent overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	if _, err := c.Run(context.Background(), Request{Message: "hello"}); err == nil {
		t.Error("Run should surface agent errors")
	}
}
