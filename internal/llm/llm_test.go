package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mcarver/toolhost/internal/registry"
)

var testTools = []registry.Tool{
	{Name: "get_products", Description: "Get information about available products"},
	{Name: "get_analytics", Description: "Get analytics data and metrics"},
}

func TestParseSelection(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantTool string
		wantArgs map[string]any
	}{
		{"bare name", "get_products", "get_products", map[string]any{}},
		{"name in prose", "I would use the get_analytics tool here.", "get_analytics", map[string]any{}},
		{"mixed case", "Get_Products", "get_products", map[string]any{}},
		{"none", "none", "", nil},
		{"none with period", "None.", "", nil},
		{"empty", "   ", "", nil},
		{"unrecognized", "fetch_weather", "", nil},
		{"with arguments", `get_products {"query": "jeans"}`, "get_products", map[string]any{"query": "jeans"}},
		{"bad arguments json ignored", `get_products {"query": `, "get_products", map[string]any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := parseSelection(tt.reply, testTools)
			if tt.wantTool == "" {
				if call != nil {
					t.Fatalf("parseSelection(%q) = %+v, want nil", tt.reply, call)
				}
				return
			}
			if call == nil {
				t.Fatalf("parseSelection(%q) = nil, want %q", tt.reply, tt.wantTool)
			}
			if call.Name != tt.wantTool {
				t.Errorf("Name = %q, want %q", call.Name, tt.wantTool)
			}
			if len(call.Arguments) != len(tt.wantArgs) {
				t.Errorf("Arguments = %+v, want %+v", call.Arguments, tt.wantArgs)
			}
			for k, v := range tt.wantArgs {
				if call.Arguments[k] != v {
					t.Errorf("Arguments[%q] = %v, want %v", k, call.Arguments[k], v)
				}
			}
		})
	}
}

func TestSelectionPrompt_ListsTools(t *testing.T) {
	prompt := selectionPrompt(testTools, "show me the products")
	for _, tool := range testTools {
		if !strings.Contains(prompt, tool.Name) {
			t.Errorf("prompt missing tool %q", tool.Name)
		}
	}
	if !strings.Contains(prompt, "show me the products") {
		t.Error("prompt missing user message")
	}
	if !strings.Contains(prompt, `"none"`) {
		t.Error("prompt missing the none escape hatch")
	}
}

func TestOllama_ToolCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if len(req.Tools) != 2 {
			t.Errorf("request carried %d tools, want 2", len(req.Tools))
		}
		if req.Stream {
			t.Error("chat request should not stream")
		}
		fmt.Fprint(w, `{"message":{"content":"","tool_calls":[{"function":{"name":"get_products","arguments":{"query":"jeans"}}}]}}`)
	}))
	defer srv.Close()

	backend := NewOllama(srv.URL, "llama3")
	decision, err := backend.Decide(context.Background(), []Message{{Role: RoleUser, Content: "show products"}}, testTools)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.ToolCall == nil {
		t.Fatalf("decision = %+v, want tool call", decision)
	}
	if decision.ToolCall.Name != "get_products" {
		t.Errorf("tool = %q", decision.ToolCall.Name)
	}
	if decision.ToolCall.Arguments["query"] != "jeans" {
		t.Errorf("arguments = %+v", decision.ToolCall.Arguments)
	}
}

func TestOllama_DirectAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"message":{"content":"hello there"}}`)
	}))
	defer srv.Close()

	decision, err := NewOllama(srv.URL, "llama3").Decide(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, testTools)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.ToolCall != nil {
		t.Fatalf("decision = %+v, want direct answer", decision)
	}
	if decision.Answer != "hello there" {
		t.Errorf("Answer = %q", decision.Answer)
	}
}

func TestOllama_Unreachable(t *testing.T) {
	_, err := NewOllama("http://127.0.0.1:1", "llama3").Decide(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("Decide() should fail when the backend is unreachable")
	}
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error = %T, want *BackendError", err)
	}
	if be.Backend != "ollama" {
		t.Errorf("BackendError.Backend = %q", be.Backend)
	}
}

// geminiStub answers selection prompts with selectionReply and anything
// else with answerReply, counting calls.
func geminiStub(t *testing.T, selectionReply, answerReply string, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		if r.Header.Get("x-goog-api-key") != "test-key" {
			t.Error("missing api key header")
		}
		var req geminiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		reply := answerReply
		if len(req.Contents) > 0 && strings.Contains(req.Contents[0].Parts[0].Text, "determine if any of the following tools") {
			reply = selectionReply
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]string{{"text": reply}}}},
			},
		})
	}))
}

func TestGemini_SelectsTool(t *testing.T) {
	var calls int
	srv := geminiStub(t, "get_analytics", "unused", &calls)
	defer srv.Close()

	backend := NewGemini("test-key", "gemini-pro")
	backend.baseURL = srv.URL

	decision, err := backend.Decide(context.Background(), []Message{{Role: RoleUser, Content: "show analytics"}}, testTools)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.ToolCall == nil || decision.ToolCall.Name != "get_analytics" {
		t.Fatalf("decision = %+v, want get_analytics", decision)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no answer call after a tool selection)", calls)
	}
}

func TestGemini_DirectAnswerAfterNone(t *testing.T) {
	var calls int
	srv := geminiStub(t, "none", "the capital of France is Paris", &calls)
	defer srv.Close()

	backend := NewGemini("test-key", "gemini-pro")
	backend.baseURL = srv.URL

	decision, err := backend.Decide(context.Background(), []Message{{Role: RoleUser, Content: "capital of France?"}}, testTools)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.ToolCall != nil {
		t.Fatalf("decision = %+v, want direct answer", decision)
	}
	if decision.Answer != "the capital of France is Paris" {
		t.Errorf("Answer = %q", decision.Answer)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (selection then answer)", calls)
	}
}

func TestGemini_NoToolsSkipsSelection(t *testing.T) {
	var calls int
	srv := geminiStub(t, "unused", "just chatting", &calls)
	defer srv.Close()

	backend := NewGemini("test-key", "gemini-pro")
	backend.baseURL = srv.URL

	decision, err := backend.Decide(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	if decision.Answer != "just chatting" {
		t.Errorf("Answer = %q", decision.Answer)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestGemini_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	backend := NewGemini("bad-key", "gemini-pro")
	backend.baseURL = srv.URL

	_, err := backend.Decide(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, testTools)
	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("error = %v, want *BackendError", err)
	}
}
