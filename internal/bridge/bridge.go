// Package bridge relays streamed tool results from tool servers to the
// owning session, one finite non-restartable chunk sequence per
// invocation.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcarver/toolhost/internal/router"
	"github.com/mcarver/toolhost/internal/toolserver"
)

// ToolUnavailableError reports that the execution call could not be
// opened or the request could not be serialized. Failed invocations are
// not retried; the router must redispatch from scratch.
type ToolUnavailableError struct {
	Tool string
	Err  error
}

func (e *ToolUnavailableError) Error() string {
	return fmt.Sprintf("tool %q unavailable: %v", e.Tool, e.Err)
}

func (e *ToolUnavailableError) Unwrap() error { return e.Err }

// Chunk is one streamed result tagged with its invocation. Err marks a
// mid-stream failure and terminates the sequence.
type Chunk struct {
	InvocationID string
	Tool         string
	Result       json.RawMessage
	Err          string
}

// Runner opens a streamed execution call on a tool server. Implemented
// by toolserver.Client.
type Runner interface {
	Run(ctx context.Context, baseURL, tool string, params map[string]any) (<-chan toolserver.Chunk, error)
}

// Bridge relays tool server streams to sessions. Invocations across
// sessions proceed independently; chunk order within one invocation
// matches the order the server produced them.
type Bridge struct {
	runner Runner
}

// New creates a bridge over the given runner.
func New(runner Runner) *Bridge {
	return &Bridge{runner: runner}
}

// Invoke opens the execution call for inv and returns its chunk stream.
// Connection and serialization failures return *ToolUnavailableError.
// The returned channel closes when the server completes the stream, an
// error marker arrives, or ctx is canceled.
func (b *Bridge) Invoke(ctx context.Context, inv *router.Invocation) (<-chan Chunk, error) {
	raw, err := b.runner.Run(ctx, inv.Tool.ServerURL, inv.Tool.Name, inv.Arguments)
	if err != nil {
		return nil, &ToolUnavailableError{Tool: inv.Tool.Name, Err: err}
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		for chunk := range raw {
			tagged := Chunk{
				InvocationID: inv.ID,
				Tool:         inv.Tool.Name,
				Result:       chunk.Result,
				Err:          chunk.Err,
			}
			select {
			case out <- tagged:
			case <-ctx.Done():
				return
			}
			if chunk.Err != "" {
				return
			}
		}
	}()
	return out, nil
}
