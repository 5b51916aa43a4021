// Package toolserver speaks the tool server wire contract: a discovery
// endpoint (GET /tools) and a streaming execution endpoint (POST /run)
// that emits result chunks as server-sent events terminated by a close
// event.
package toolserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mcarver/toolhost/internal/registry"
)

// DefaultTimeout bounds discovery calls and the initial execution
// response. Streaming reads are bounded by the caller's context instead.
const DefaultTimeout = 10 * time.Second

// Chunk is one incremental result from a running tool. Exactly one of
// Result and Err is set. A chunk with Err set is the stream's error
// marker and is always the last chunk delivered.
type Chunk struct {
	Result json.RawMessage
	Err    string
}

// Client calls tool servers.
type Client struct {
	httpClient *http.Client
}

// NewClient creates a tool server client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Discover fetches the server's tool list from GET {baseURL}/tools.
func (c *Client) Discover(ctx context.Context, baseURL string) ([]registry.Tool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/tools", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery returned status %d", resp.StatusCode)
	}

	var tools []registry.Tool
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return nil, fmt.Errorf("malformed discovery response: %w", err)
	}
	return tools, nil
}

type runRequest struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// sseEvent mirrors the payload of one data event on the /run stream.
type sseEvent struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// Run starts tool execution on the server and returns a channel of
// result chunks in arrival order. The channel is closed when the server
// sends its close event, the stream ends, or ctx is canceled. Failing
// to reach the server or to encode the request is reported
// synchronously; mid-stream failures arrive as a chunk with Err set.
func (c *Client) Run(ctx context.Context, baseURL, tool string, params map[string]any) (<-chan Chunk, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(runRequest{Name: tool, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("encoding run request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/run", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	// No overall timeout here: a stream may legitimately outlive
	// DefaultTimeout. Cancellation comes from ctx.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("execution returned status %d", resp.StatusCode)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: close"):
				return
			case strings.HasPrefix(line, "data: "):
				var ev sseEvent
				if err := json.Unmarshal([]byte(line[len("data: "):]), &ev); err != nil {
					// Skip unparseable frames rather than kill the stream.
					continue
				}
				chunk := Chunk{Result: ev.Result, Err: ev.Error}
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
				if ev.Error != "" {
					return
				}
			}
		}
	}()
	return out, nil
}
