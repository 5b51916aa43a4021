package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mcarver/toolhost/internal/registry"
)

const geminiDefaultBaseURL = "https://generativelanguage.googleapis.com/v1"

// Gemini talks to the Gemini generateContent API. It has no native tool
// calling on this API surface, so dispatch is two-step: a selection
// prompt first, then, when no tool applies, a second call over the
// history window for the direct answer.
type Gemini struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewGemini creates a Gemini backend.
func NewGemini(apiKey, model string) *Gemini {
	return &Gemini{
		apiKey:     apiKey,
		model:      model,
		baseURL:    geminiDefaultBaseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Name implements Backend.
func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig map[string]any  `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Decide implements Backend.
func (g *Gemini) Decide(ctx context.Context, history []Message, tools []registry.Tool) (*Decision, error) {
	userText := ""
	if len(history) > 0 {
		userText = history[len(history)-1].Content
	}

	if len(tools) > 0 {
		reply, err := g.generate(ctx, selectionPrompt(tools, userText))
		if err != nil {
			return nil, err
		}
		if call := parseSelection(reply, tools); call != nil {
			return &Decision{ToolCall: call}, nil
		}
	}

	answer, err := g.generate(ctx, formatHistory(history))
	if err != nil {
		return nil, err
	}
	return &Decision{Answer: answer}, nil
}

// generate runs one generateContent call and returns the first
// candidate's text.
func (g *Gemini) generate(ctx context.Context, prompt string) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: map[string]any{
			"temperature":     0.7,
			"topP":            0.8,
			"topK":            40,
			"maxOutputTokens": 2048,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", &BackendError{Backend: g.Name(), Err: err}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", &BackendError{Backend: g.Name(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return "", &BackendError{Backend: g.Name(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &BackendError{Backend: g.Name(), Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var genResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", &BackendError{Backend: g.Name(), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", &BackendError{Backend: g.Name(), Err: fmt.Errorf("empty response")}
	}
	return genResp.Candidates[0].Content.Parts[0].Text, nil
}
