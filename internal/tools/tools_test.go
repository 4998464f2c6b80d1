package tools

import (
	"context"
	"errors"
	"testing"
)

// stubExecutor records calls and returns canned results.
type stubExecutor struct {
	lastMethod string
	lastIDs    []string
	result     Result
	err        error
}

func (e *stubExecutor) AnalyzeImages(ctx context.Context, batchID string, imageURLs []string) (Result, error) {
	e.lastMethod = "AnalyzeImages"
	return e.result, e.err
}

func (e *stubExecutor) GenerateDrafts(ctx context.Context, groupIDs []string) (Result, error) {
	e.lastMethod, e.lastIDs = "GenerateDrafts", groupIDs
	return e.result, e.err
}

func (e *stubExecutor) FetchDrafts(ctx context.Context, draftIDs []string) (Result, error) {
	e.lastMethod, e.lastIDs = "FetchDrafts", draftIDs
	return e.result, e.err
}

func (e *stubExecutor) PersistDrafts(ctx context.Context, draftIDs []string) (Result, error) {
	e.lastMethod, e.lastIDs = "PersistDrafts", draftIDs
	return e.result, e.err
}

func (e *stubExecutor) DiscardDrafts(ctx context.Context, draftIDs []string) (Result, error) {
	e.lastMethod, e.lastIDs = "DiscardDrafts", draftIDs
	return e.result, e.err
}

func TestRegistryBuiltins(t *testing.T) {
	r := NewRegistry(&stubExecutor{})

	for _, name := range []string{
		"ask_user",
		"delegate_to_vision",
		"delegate_to_product_intel",
		"render_draft_cards",
		"confirm_and_persist",
		"discard_drafts",
	} {
		if r.Get(name) == nil {
			t.Errorf("builtin %q not registered", name)
		}
	}

	if n := len(r.List()); n != 6 {
		t.Errorf("List() returned %d tools, want 6", n)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	r := NewRegistry(&stubExecutor{})
	if _, err := r.Execute(context.Background(), "summon_unicorn", "{}"); err == nil {
		t.Error("unknown tool should return an error")
	}
}

func TestExecute_InvalidJSON(t *testing.T) {
	r := NewRegistry(&stubExecutor{})
	if _, err := r.Execute(context.Background(), "ask_user", "{not json"); err == nil {
		t.Error("malformed arguments should return an error")
	}
}

func TestExecute_MissingRequiredArgument(t *testing.T) {
	r := NewRegistry(&stubExecutor{})
	if _, err := r.Execute(context.Background(), "ask_user", "{}"); err == nil {
		t.Error("ask_user without question should return an error")
	}
	if _, err := r.Execute(context.Background(), "confirm_and_persist", "{}"); err == nil {
		t.Error("confirm_and_persist without draft_ids should return an error")
	}
}

func TestExecute_DispatchesToExecutor(t *testing.T) {
	exec := &stubExecutor{result: Result{"success": true, "created_count": float64(2)}}
	r := NewRegistry(exec)

	res, err := r.Execute(context.Background(), "confirm_and_persist",
		`{"draft_ids": ["d1", "d2"]}`)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if exec.lastMethod != "PersistDrafts" {
		t.Errorf("dispatched to %s, want PersistDrafts", exec.lastMethod)
	}
	if len(exec.lastIDs) != 2 || exec.lastIDs[0] != "d1" {
		t.Errorf("draft ids = %v", exec.lastIDs)
	}
	if !res.Success() {
		t.Error("result should report success")
	}
}

func TestExecute_VisionNeedsBatchOrURLs(t *testing.T) {
	exec := &stubExecutor{result: Result{"success": true}}
	r := NewRegistry(exec)
	ctx := context.Background()

	if _, err := r.Execute(ctx, "delegate_to_vision", "{}"); err == nil {
		t.Error("vision with neither batch_id nor image_urls should fail")
	}
	if _, err := r.Execute(ctx, "delegate_to_vision", `{"batch_id": "b1"}`); err != nil {
		t.Errorf("vision with batch_id: %v", err)
	}
	if _, err := r.Execute(ctx, "delegate_to_vision", `{"image_urls": ["https://x/a.jpg"]}`); err != nil {
		t.Errorf("vision with image_urls: %v", err)
	}
}

func TestExecute_ExecutorErrorPropagates(t *testing.T) {
	exec := &stubExecutor{err: errors.New("backend down")}
	r := NewRegistry(exec)

	if _, err := r.Execute(context.Background(), "discard_drafts", `{"draft_ids": ["d1"]}`); err == nil {
		t.Error("executor error should propagate")
	}
}

func TestResultSuccess(t *testing.T) {
	tests := []struct {
		name string
		res  Result
		want bool
	}{
		{"true flag", Result{"success": true}, true},
		{"false flag", Result{"success": false}, false},
		{"missing flag", Result{}, false},
		{"nil result", nil, false},
		{"non-bool flag", Result{"success": "yes"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.res.Success(); got != tt.want {
				t.Errorf("Success() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStringSlice(t *testing.T) {
	got := stringSlice([]any{"a", 1.0, "b", nil})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("stringSlice = %v, want [a b]", got)
	}
	if stringSlice("not a slice") != nil {
		t.Error("non-slice input should yield nil")
	}
}
