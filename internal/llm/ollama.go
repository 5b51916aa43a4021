package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcarver/toolhost/internal/registry"
)

// Ollama talks to a local Ollama instance via its chat API, passing the
// registry's tools in the request so models with native tool support
// return structured tool calls.
type Ollama struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllama creates an Ollama backend.
func NewOllama(baseURL, model string) *Ollama {
	return &Ollama{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Name implements Backend.
func (o *Ollama) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string       `json:"model"`
	Messages []Message    `json:"messages"`
	Tools    []ollamaTool `json:"tools,omitempty"`
	Stream   bool         `json:"stream"`
}

type ollamaTool struct {
	Type     string         `json:"type"`
	Function ollamaFunction `json:"function"`
}

type ollamaFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"message"`
}

// Decide implements Backend.
func (o *Ollama) Decide(ctx context.Context, history []Message, tools []registry.Tool) (*Decision, error) {
	req := ollamaChatRequest{
		Model:    o.model,
		Messages: history,
		Stream:   false,
	}
	for _, tool := range tools {
		req.Tools = append(req.Tools, ollamaTool{
			Type: "function",
			Function: ollamaFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, &BackendError{Backend: o.Name(), Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &BackendError{Backend: o.Name(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return nil, &BackendError{Backend: o.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &BackendError{Backend: o.Name(), Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, &BackendError{Backend: o.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}

	if len(chatResp.Message.ToolCalls) > 0 {
		call := chatResp.Message.ToolCalls[0]
		args := call.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		return &Decision{ToolCall: &ToolCall{Name: call.Function.Name, Arguments: args}}, nil
	}
	return &Decision{Answer: chatResp.Message.Content}, nil
}
