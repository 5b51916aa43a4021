// Package llm defines the language-model backend capability used for
// dispatch decisions, with interchangeable Ollama and Gemini
// implementations selected at configuration time.
package llm

import (
	"context"
	"fmt"

	"github.com/mcarver/toolhost/internal/registry"
)

// Message is one turn of a session's conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCall is a structured tool selection returned by a backend.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Decision is a backend's answer to one user request: either a direct
// textual reply or a tool selection. Exactly one field is set.
type Decision struct {
	Answer   string
	ToolCall *ToolCall
}

// Backend decides, given the conversation so far and the available
// tools, whether a tool should answer the request.
type Backend interface {
	// Name identifies the backend in logs and audit records.
	Name() string
	// Decide returns a direct answer or a tool selection. The last
	// history entry is the user request under consideration.
	Decide(ctx context.Context, history []Message, tools []registry.Tool) (*Decision, error)
}

// BackendError wraps a failure talking to a backend.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }
