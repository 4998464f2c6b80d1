package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("request should not stream")
		}
		if req.Model != "test-model" {
			t.Errorf("model = %q, want test-model", req.Model)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "summarize this" {
			t.Errorf("messages = %+v", req.Messages)
		}

		json.NewEncoder(w).Encode(chatResponse{
			Message: chatMessage{Role: "assistant", Content: "a summary"},
			Done:    true,
		})
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-model")
	got, err := c.Generate(context.Background(), "summarize this")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "a summary" {
		t.Errorf("Generate = %q, want %q", got, "a summary")
	}
}

func TestGenerate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "missing-model")
	if _, err := c.Generate(context.Background(), "hello"); err == nil {
		t.Error("Generate should surface server errors")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s, want /api/tags", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, "test-model")
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}
