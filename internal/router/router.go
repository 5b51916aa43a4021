// Package router resolves user requests into tool invocations by
// consulting the configured language-model backend against the tool
// registry.
package router

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mcarver/toolhost/internal/llm"
	"github.com/mcarver/toolhost/internal/registry"
)

// UnknownToolError reports that the backend selected a tool that is not
// in the registry. Nothing is invoked in that case.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("tool %q is not in the registry", e.Tool)
}

// Invocation is one resolved call to a specific tool.
type Invocation struct {
	ID        string
	SessionID string
	Tool      registry.Tool
	Arguments map[string]any
}

// Dispatch is the outcome of a routing decision: a direct answer when
// no tool applies, otherwise a resolved invocation.
type Dispatch struct {
	Answer     string
	Invocation *Invocation
}

// Router makes dispatch decisions. Its contract is agnostic to which
// backend answers.
type Router struct {
	backend  llm.Backend
	registry *registry.Registry
}

// New creates a router over the given backend and registry.
func New(backend llm.Backend, reg *registry.Registry) *Router {
	return &Router{backend: backend, registry: reg}
}

// Backend returns the backend name for logs and audit records.
func (r *Router) Backend() string { return r.backend.Name() }

// Decide resolves one user request. The last history entry is the
// request under consideration. Backend failures are returned as-is;
// a backend selecting an unregistered tool returns *UnknownToolError.
func (r *Router) Decide(ctx context.Context, sessionID string, history []llm.Message) (*Dispatch, error) {
	decision, err := r.backend.Decide(ctx, history, r.registry.List())
	if err != nil {
		return nil, err
	}

	if decision.ToolCall == nil {
		return &Dispatch{Answer: decision.Answer}, nil
	}

	tool, ok := r.registry.Resolve(decision.ToolCall.Name)
	if !ok {
		return nil, &UnknownToolError{Tool: decision.ToolCall.Name}
	}

	args := decision.ToolCall.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return &Dispatch{
		Invocation: &Invocation{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Tool:      tool,
			Arguments: args,
		},
	}, nil
}
