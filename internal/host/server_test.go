package host

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcarver/toolhost/internal/bridge"
	"github.com/mcarver/toolhost/internal/config"
	"github.com/mcarver/toolhost/internal/llm"
	"github.com/mcarver/toolhost/internal/registry"
	"github.com/mcarver/toolhost/internal/router"
	"github.com/mcarver/toolhost/internal/store"
	"github.com/mcarver/toolhost/internal/toolserver"
)

// stubBackend routes every request through a fixed decide function.
type stubBackend struct {
	decide func(history []llm.Message, tools []registry.Tool) (*llm.Decision, error)
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Decide(_ context.Context, history []llm.Message, tools []registry.Tool) (*llm.Decision, error) {
	return b.decide(history, tools)
}

// selectTool is a backend that always picks the named tool.
func selectTool(name string) *stubBackend {
	return &stubBackend{decide: func(_ []llm.Message, _ []registry.Tool) (*llm.Decision, error) {
		return &llm.Decision{ToolCall: &llm.ToolCall{Name: name}}, nil
	}}
}

// answer is a backend that always replies directly.
func answer(text string) *stubBackend {
	return &stubBackend{decide: func(_ []llm.Message, _ []registry.Tool) (*llm.Decision, error) {
		return &llm.Decision{Answer: text}, nil
	}}
}

// newToolServer serves three fixture tools: chunks streams three
// results, fail errors mid-stream, stall emits once then blocks until
// the invocation context dies.
func newToolServer(t *testing.T) *httptest.Server {
	t.Helper()

	srv := toolserver.NewServer()
	srv.Handle(registry.Tool{Name: "chunks", Description: "streams three results"},
		func(_ context.Context, _ map[string]any, emit func(any) error) error {
			for _, part := range []string{"A", "B", "C"} {
				if err := emit(part); err != nil {
					return err
				}
			}
			return nil
		})
	srv.Handle(registry.Tool{Name: "fail", Description: "errors mid-stream"},
		func(_ context.Context, _ map[string]any, emit func(any) error) error {
			if err := emit("partial"); err != nil {
				return err
			}
			return context.DeadlineExceeded
		})
	srv.Handle(registry.Tool{Name: "stall", Description: "blocks until canceled"},
		func(ctx context.Context, _ map[string]any, emit func(any) error) error {
			if err := emit("first"); err != nil {
				return err
			}
			<-ctx.Done()
			return ctx.Err()
		})

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

// newTestHost stands up a full host over the stub backend and fixture
// tool server and returns its base URL.
func newTestHost(t *testing.T, backend llm.Backend) string {
	t.Helper()

	tools := newToolServer(t)

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "toolhost.db")
	cfg.ToolServers = []config.ToolServer{{Name: "fixtures", URL: tools.URL}}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	client := toolserver.NewClient()
	reg := registry.New(client)
	reg.RegisterAll(context.Background(), []registry.Server{{Name: "fixtures", URL: tools.URL}})
	if reg.Count() != 3 {
		t.Fatalf("registered %d tools, want 3", reg.Count())
	}

	s := NewServer(cfg, reg, router.New(backend, reg), bridge.New(client), st)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func dialWS(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) serverMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg serverMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading message: %v", err)
	}
	return msg
}

// serverMessage mirrors protocol.ServerMessage on the client side of
// the tests.
type serverMessage struct {
	Type         string `json:"type"`
	Content      string `json:"content"`
	UserMessage  string `json:"user_message"`
	Response     string `json:"response"`
	InvocationID string `json:"invocation_id"`
	Tool         string `json:"tool"`
	Error        string `json:"error"`
}

func sendUserMessage(t *testing.T, conn *websocket.Conn, content string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"type": "user_message", "content": content}); err != nil {
		t.Fatalf("sending message: %v", err)
	}
}

func TestConnectSendsWelcome(t *testing.T) {
	conn := dialWS(t, newTestHost(t, answer("hi")))

	msg := readMessage(t, conn)
	if msg.Type != "system_message" {
		t.Fatalf("first message type = %q, want system_message", msg.Type)
	}
	if msg.Content == "" {
		t.Error("welcome message has no content")
	}
}

func TestDirectAnswer(t *testing.T) {
	conn := dialWS(t, newTestHost(t, answer("the answer")))
	readMessage(t, conn) // welcome

	sendUserMessage(t, conn, "a question")

	msg := readMessage(t, conn)
	if msg.Type != "llm_response" {
		t.Fatalf("type = %q, want llm_response", msg.Type)
	}
	if msg.UserMessage != "a question" {
		t.Errorf("UserMessage = %q", msg.UserMessage)
	}
	if msg.Response != "the answer" {
		t.Errorf("Response = %q", msg.Response)
	}
}

func TestToolStream_ChunkOrderPreserved(t *testing.T) {
	conn := dialWS(t, newTestHost(t, selectTool("chunks")))
	readMessage(t, conn) // welcome

	sendUserMessage(t, conn, "run the tool")

	var got []string
	var invocationID string
	for {
		msg := readMessage(t, conn)
		switch msg.Type {
		case "tool_chunk":
			if invocationID == "" {
				invocationID = msg.InvocationID
			} else if msg.InvocationID != invocationID {
				t.Errorf("chunk invocation id changed mid-stream: %q then %q", invocationID, msg.InvocationID)
			}
			if msg.Tool != "chunks" {
				t.Errorf("chunk tool = %q", msg.Tool)
			}
			got = append(got, msg.Content)
		case "tool_done":
			if len(got) != 3 || got[0] != "A" || got[1] != "B" || got[2] != "C" {
				t.Errorf("chunks = %v, want [A B C]", got)
			}
		case "llm_response":
			if msg.Response != "A\nB\nC" {
				t.Errorf("Response = %q", msg.Response)
			}
			return
		default:
			t.Fatalf("unexpected message %+v", msg)
		}
	}
}

func TestToolStream_MidStreamError(t *testing.T) {
	conn := dialWS(t, newTestHost(t, selectTool("fail")))
	readMessage(t, conn) // welcome

	sendUserMessage(t, conn, "run the tool")

	sawChunk := false
	for {
		msg := readMessage(t, conn)
		switch msg.Type {
		case "tool_chunk":
			sawChunk = true
		case "tool_error":
			if !sawChunk {
				t.Error("error arrived before the partial chunk")
			}
			if msg.Error == "" {
				t.Error("tool_error has no error text")
			}
			return
		default:
			t.Fatalf("unexpected message %+v", msg)
		}
	}
}

func TestUnknownTool_NothingInvoked(t *testing.T) {
	conn := dialWS(t, newTestHost(t, selectTool("no_such_tool")))
	readMessage(t, conn) // welcome

	sendUserMessage(t, conn, "run the tool")

	msg := readMessage(t, conn)
	if msg.Type != "error" {
		t.Fatalf("type = %q, want error", msg.Type)
	}
	if !strings.Contains(msg.Error, "no_such_tool") {
		t.Errorf("Error = %q, should name the tool", msg.Error)
	}
}

func TestUnavailableServer(t *testing.T) {
	// A tool whose server has gone away after discovery.
	backend := selectTool("chunks")
	tools := newToolServer(t)

	cfg := config.Default()
	cfg.DBPath = filepath.Join(t.TempDir(), "toolhost.db")

	st, err := store.New(cfg.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	client := toolserver.NewClient()
	reg := registry.New(client)
	reg.RegisterAll(context.Background(), []registry.Server{{Name: "fixtures", URL: tools.URL}})
	tools.Close() // server disappears after discovery

	s := NewServer(cfg, reg, router.New(backend, reg), bridge.New(client), st)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialWS(t, ts.URL)
	readMessage(t, conn) // welcome

	sendUserMessage(t, conn, "run the tool")

	msg := readMessage(t, conn)
	if msg.Type != "tool_error" {
		t.Fatalf("type = %q, want tool_error", msg.Type)
	}
	if !strings.Contains(msg.Error, "chunks") {
		t.Errorf("Error = %q, should name the tool", msg.Error)
	}
}

func TestClearHistory(t *testing.T) {
	conn := dialWS(t, newTestHost(t, answer("hi")))
	readMessage(t, conn) // welcome

	if err := conn.WriteJSON(map[string]string{"type": "clear_history"}); err != nil {
		t.Fatal(err)
	}
	msg := readMessage(t, conn)
	if msg.Type != "history_cleared" {
		t.Fatalf("type = %q, want history_cleared", msg.Type)
	}
}

func TestDisconnectDoesNotAffectOtherSessions(t *testing.T) {
	// First session invokes a stalled tool, then disconnects mid-stream.
	// The second session must still get its answer.
	backend := &stubBackend{decide: func(history []llm.Message, _ []registry.Tool) (*llm.Decision, error) {
		if strings.Contains(history[len(history)-1].Content, "stall") {
			return &llm.Decision{ToolCall: &llm.ToolCall{Name: "stall"}}, nil
		}
		return &llm.Decision{Answer: "still here"}, nil
	}}
	base := newTestHost(t, backend)

	first := dialWS(t, base)
	readMessage(t, first) // welcome
	sendUserMessage(t, first, "please stall")

	msg := readMessage(t, first)
	if msg.Type != "tool_chunk" {
		t.Fatalf("first session got %q, want tool_chunk", msg.Type)
	}
	first.Close() // disconnect mid-stream

	second := dialWS(t, base)
	readMessage(t, second) // welcome
	sendUserMessage(t, second, "anyone there?")

	got := readMessage(t, second)
	if got.Type != "llm_response" || got.Response != "still here" {
		t.Errorf("second session got %+v", got)
	}
}

func TestBackendFailureKeepsSessionOpen(t *testing.T) {
	calls := 0
	backend := &stubBackend{decide: func(_ []llm.Message, _ []registry.Tool) (*llm.Decision, error) {
		calls++
		if calls == 1 {
			return nil, &llm.BackendError{Backend: "stub", Err: context.DeadlineExceeded}
		}
		return &llm.Decision{Answer: "recovered"}, nil
	}}

	conn := dialWS(t, newTestHost(t, backend))
	readMessage(t, conn) // welcome

	sendUserMessage(t, conn, "first")
	msg := readMessage(t, conn)
	if msg.Type != "error" {
		t.Fatalf("type = %q, want error", msg.Type)
	}

	sendUserMessage(t, conn, "second")
	msg = readMessage(t, conn)
	if msg.Type != "llm_response" || msg.Response != "recovered" {
		t.Errorf("after failure got %+v", msg)
	}
}

func TestHealthAndToolsEndpoints(t *testing.T) {
	base := newTestHost(t, answer("hi"))

	resp, err := httpGet(base + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	var health map[string]any
	if err := json.Unmarshal(resp, &health); err != nil {
		t.Fatalf("healthz body: %v", err)
	}
	if health["status"] != "ok" {
		t.Errorf("status = %v", health["status"])
	}
	if health["tools"] != float64(3) {
		t.Errorf("tools = %v, want 3", health["tools"])
	}

	resp, err = httpGet(base + "/tools")
	if err != nil {
		t.Fatal(err)
	}
	var tools []registry.Tool
	if err := json.Unmarshal(resp, &tools); err != nil {
		t.Fatalf("tools body: %v", err)
	}
	if len(tools) != 3 {
		t.Fatalf("got %d tools, want 3", len(tools))
	}
	if tools[0].Name != "chunks" {
		t.Errorf("tools not sorted: first is %q", tools[0].Name)
	}
}

func httpGet(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"formatted content", `{"formatted_content":"Here are your products"}`, "Here are your products"},
		{"plain string", `"just text"`, "just text"},
		{"object", `{"count":2}`, "Here's the information I found:\n\n```json\n{\n  \"count\": 2\n}\n```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatResult(json.RawMessage(tt.raw)); got != tt.want {
				t.Errorf("formatResult(%s) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}
