package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mcarver/toolhost/internal/registry"
)

// selectionPrompt asks the model to pick a tool by name, or "none".
// Models without native tool calling answer this reliably when the
// expected output is a single word.
func selectionPrompt(tools []registry.Tool, userText string) string {
	var b strings.Builder
	b.WriteString("Based on the user's message, determine if any of the following tools should be used:\n\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
	}
	fmt.Fprintf(&b, "\nUser message: %q\n\n", userText)
	b.WriteString(`If a tool should be used, respond with the tool name only, optionally followed by a JSON object of arguments. If no tool is appropriate, respond with "none".`)
	return b.String()
}

// parseSelection maps the model's selection reply onto a known tool.
// Returns nil when the model declined ("none") or named nothing we
// recognize; the caller treats unrecognized non-none replies as a
// declined selection rather than an unknown tool, since free-form
// models often pad the answer with prose.
func parseSelection(reply string, tools []registry.Tool) *ToolCall {
	reply = strings.TrimSpace(reply)
	lower := strings.ToLower(reply)
	if lower == "" || strings.HasPrefix(lower, "none") {
		return nil
	}

	for _, tool := range tools {
		if !strings.Contains(lower, strings.ToLower(tool.Name)) {
			continue
		}
		call := &ToolCall{Name: tool.Name, Arguments: map[string]any{}}
		if args := extractArguments(reply); args != nil {
			call.Arguments = args
		}
		return call
	}
	return nil
}

// extractArguments pulls an optional trailing JSON object out of a
// selection reply like `get_products {"query": "jeans"}`.
func extractArguments(reply string) map[string]any {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &args); err != nil {
		return nil
	}
	return args
}

// formatHistory flattens a conversation for plain-prompt backends.
func formatHistory(history []Message) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		lines = append(lines, strings.ToUpper(msg.Role)+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}
