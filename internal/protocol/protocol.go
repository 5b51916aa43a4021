// Package protocol defines the JSON messages exchanged with clients
// over the persistent WebSocket connection.
package protocol

// Client-to-host message types.
const (
	TypeUserMessage  = "user_message"
	TypeClearHistory = "clear_history"
)

// Host-to-client message types.
const (
	TypeSystemMessage  = "system_message"
	TypeLLMResponse    = "llm_response"
	TypeHistoryCleared = "history_cleared"
	TypeToolChunk      = "tool_chunk"
	TypeToolDone       = "tool_done"
	TypeToolError      = "tool_error"
	TypeError          = "error"
)

// ClientMessage is a message from a client to the host.
type ClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
}

// ServerMessage is a message from the host to a client. Streaming
// messages carry the invocation id and tool name so concurrent
// invocations stay distinguishable on the wire.
type ServerMessage struct {
	Type         string `json:"type"`
	Content      string `json:"content,omitempty"`
	UserMessage  string `json:"user_message,omitempty"`
	Response     string `json:"response,omitempty"`
	InvocationID string `json:"invocation_id,omitempty"`
	Tool         string `json:"tool,omitempty"`
	Error        string `json:"error,omitempty"`
}
