// Package host runs the coordination process: it owns the registry,
// router and bridge, serves the HTTP API, and relays messages between
// persistent client connections and streaming tool invocations.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/mcarver/toolhost/internal/audit"
	"github.com/mcarver/toolhost/internal/bridge"
	"github.com/mcarver/toolhost/internal/config"
	"github.com/mcarver/toolhost/internal/llm"
	"github.com/mcarver/toolhost/internal/protocol"
	"github.com/mcarver/toolhost/internal/registry"
	"github.com/mcarver/toolhost/internal/router"
	"github.com/mcarver/toolhost/internal/session"
	"github.com/mcarver/toolhost/internal/store"
)

const welcomeText = "Connected to toolhost. Type a message to begin."

// Server is the host process: HTTP API plus the WebSocket client
// transport.
type Server struct {
	cfg      *config.Config
	registry *registry.Registry
	router   *router.Router
	bridge   *bridge.Bridge
	store    *store.Store
	recorder *audit.Recorder
	sessions *session.Manager

	servers  []registry.Server
	mux      *chi.Mux
	server   *http.Server
	upgrader websocket.Upgrader
}

// NewServer wires the host's components together.
func NewServer(cfg *config.Config, reg *registry.Registry, rt *router.Router, br *bridge.Bridge, st *store.Store) *Server {
	servers := make([]registry.Server, 0, len(cfg.ToolServers))
	for _, srv := range cfg.ToolServers {
		servers = append(servers, registry.Server{Name: srv.Name, URL: srv.URL})
	}

	s := &Server{
		cfg:      cfg,
		registry: reg,
		router:   rt,
		bridge:   br,
		store:    st,
		recorder: audit.NewRecorder(st),
		sessions: session.NewManager(),
		servers:  servers,
		mux:      chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}

	s.mux.Use(middleware.Recoverer)
	s.mux.Get("/healthz", s.handleHealth)
	s.mux.Get("/tools", s.handleTools)
	s.mux.Post("/servers/refresh", s.handleRefresh)
	s.mux.Get("/ws", s.handleWS)
	return s
}

// Handler exposes the root HTTP handler, for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start binds the listen address and serves until Shutdown. Failing to
// bind is the only error fatal to the host.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.mux,
	}
	log.Printf("Starting toolhost on %s (%s backend, %d tools)", s.cfg.Listen, s.router.Backend(), s.registry.Count())
	return s.server.ListenAndServe()
}

// Shutdown closes all client sessions and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.sessions.CloseAll()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// --- HTTP API ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":   "ok",
		"backend":  s.router.Backend(),
		"sessions": s.sessions.Count(),
		"tools":    s.registry.Count(),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.registry.List())
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.registry.RegisterAll(r.Context(), s.servers)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"servers": s.registry.Servers(),
		"tools":   s.registry.Count(),
	})
}

// --- Client transport ---

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// The request context dies with the HTTP handler; the session
	// outlives it and is canceled explicitly on disconnect.
	sess := session.New(context.Background(), s.cfg.HistoryWindow)
	s.sessions.Add(sess)
	if err := s.store.CreateSession(sess.ID); err != nil {
		log.Printf("Error persisting session %s: %v", sess.ID, err)
	}
	log.Printf("Client connected: %s", sess.ID)

	defer func() {
		s.sessions.Remove(sess.ID)
		if err := s.store.CloseSession(sess.ID); err != nil {
			log.Printf("Error closing session %s: %v", sess.ID, err)
		}
		conn.Close()
		log.Printf("Client disconnected: %s", sess.ID)
	}()

	// Writer: the session's outbound channel is the single path to the
	// client, so concurrent invocations never interleave partial writes.
	go func() {
		for {
			select {
			case msg := <-sess.Out():
				if err := conn.WriteJSON(msg); err != nil {
					sess.Close()
					return
				}
			case <-sess.Done():
				return
			}
		}
	}()

	sess.Send(protocol.ServerMessage{
		Type:    protocol.TypeSystemMessage,
		Content: welcomeText,
	})

	// One in-flight request per session when serialization is on.
	var turn chan struct{}
	if s.cfg.SerializeInvocations {
		turn = make(chan struct{}, 1)
	}

	for {
		var msg protocol.ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case protocol.TypeUserMessage:
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				continue
			}
			go s.handleUserMessage(sess, turn, content)
		case protocol.TypeClearHistory:
			sess.ClearHistory()
			sess.Send(protocol.ServerMessage{Type: protocol.TypeHistoryCleared})
		default:
			log.Printf("Unknown message type from %s: %q", sess.ID, msg.Type)
		}
	}
}

// handleUserMessage runs one request end to end: dispatch decision,
// optional invocation, chunk relay, terminal response.
func (s *Server) handleUserMessage(sess *session.Session, turn chan struct{}, content string) {
	if turn != nil {
		select {
		case turn <- struct{}{}:
			defer func() { <-turn }()
		case <-sess.Done():
			return
		}
	}

	ctx := sess.Context()

	sess.Append(llm.RoleUser, content)
	if _, err := s.store.AppendMessage(sess.ID, llm.RoleUser, content); err != nil {
		log.Printf("Error persisting message: %v", err)
	}

	dispatch, err := s.router.Decide(ctx, sess.ID, sess.History())
	if err != nil {
		s.reportDecideFailure(sess, content, err)
		return
	}

	if dispatch.Invocation == nil {
		s.record(sess.ID, audit.ActionAnswer, content, "success", "")
		s.respond(sess, content, dispatch.Answer)
		return
	}

	inv := dispatch.Invocation
	if _, err := s.store.CreateInvocation(inv.ID, sess.ID, inv.Tool.Name, inv.Arguments); err != nil {
		log.Printf("Error persisting invocation %s: %v", inv.ID, err)
	}
	s.record(sess.ID, audit.ActionTool, content, "success", inv.Tool.Name)
	log.Printf("Session %s invoking %s on %s", sess.ID, inv.Tool.Name, inv.Tool.Server)

	chunks, err := s.bridge.Invoke(ctx, inv)
	if err != nil {
		s.finishInvocation(inv.ID, store.InvocationFailed, err.Error())
		sess.Send(protocol.ServerMessage{
			Type:         protocol.TypeToolError,
			InvocationID: inv.ID,
			Tool:         inv.Tool.Name,
			Error:        fmt.Sprintf("The %s tool is unavailable. Please check if the service is running and try again.", inv.Tool.Name),
		})
		return
	}
	if err := s.store.MarkInvocationStreaming(inv.ID); err != nil {
		log.Printf("Error marking invocation %s: %v", inv.ID, err)
	}

	var parts []string
	for chunk := range chunks {
		if chunk.Err != "" {
			s.finishInvocation(inv.ID, store.InvocationFailed, chunk.Err)
			sess.Send(protocol.ServerMessage{
				Type:         protocol.TypeToolError,
				InvocationID: inv.ID,
				Tool:         inv.Tool.Name,
				Error:        fmt.Sprintf("The %s tool failed: %s", inv.Tool.Name, chunk.Err),
			})
			return
		}
		text := formatResult(chunk.Result)
		parts = append(parts, text)
		sess.Send(protocol.ServerMessage{
			Type:         protocol.TypeToolChunk,
			InvocationID: inv.ID,
			Tool:         inv.Tool.Name,
			Content:      text,
		})
	}

	if ctx.Err() != nil {
		// Client went away mid-stream; nothing more to deliver.
		s.finishInvocation(inv.ID, store.InvocationFailed, "session closed")
		return
	}

	s.finishInvocation(inv.ID, store.InvocationCompleted, "")
	sess.Send(protocol.ServerMessage{
		Type:         protocol.TypeToolDone,
		InvocationID: inv.ID,
		Tool:         inv.Tool.Name,
	})
	s.respond(sess, content, strings.Join(parts, "\n"))
}

// reportDecideFailure surfaces a routing failure to the session and the
// audit trail. The session stays open for subsequent requests.
func (s *Server) reportDecideFailure(sess *session.Session, content string, err error) {
	var ute *router.UnknownToolError
	if errors.As(err, &ute) {
		s.record(sess.ID, audit.ActionUnknown, content, "failed", ute.Tool)
		sess.Send(protocol.ServerMessage{
			Type:  protocol.TypeError,
			Error: fmt.Sprintf("The backend selected tool %q, which is not available.", ute.Tool),
		})
		return
	}

	s.record(sess.ID, audit.ActionBackend, content, "failed", err.Error())
	log.Printf("Dispatch failed for session %s: %v", sess.ID, err)
	sess.Send(protocol.ServerMessage{
		Type:  protocol.TypeError,
		Error: "Unable to get a response from the language model backend. Please try again.",
	})
}

// respond delivers the final assistant reply and records it.
func (s *Server) respond(sess *session.Session, userMessage, response string) {
	sess.Append(llm.RoleAssistant, response)
	if _, err := s.store.AppendMessage(sess.ID, llm.RoleAssistant, response); err != nil {
		log.Printf("Error persisting message: %v", err)
	}
	sess.Send(protocol.ServerMessage{
		Type:        protocol.TypeLLMResponse,
		UserMessage: userMessage,
		Response:    response,
	})
}

func (s *Server) record(sessionID, action string, inputs any, outcome, details string) {
	if _, err := s.recorder.Record(sessionID, action, inputs, outcome, details); err != nil {
		log.Printf("Error writing decision record: %v", err)
	}
}

func (s *Server) finishInvocation(id, status, errMsg string) {
	if err := s.store.FinishInvocation(id, status, errMsg); err != nil {
		log.Printf("Error finishing invocation %s: %v", id, err)
	}
}

// formatResult renders one result chunk for the client. Servers that
// return a formatted_content field get it passed through verbatim;
// plain strings are unwrapped; anything else is pretty-printed JSON.
func formatResult(result json.RawMessage) string {
	var obj map[string]any
	if err := json.Unmarshal(result, &obj); err == nil {
		if formatted, ok := obj["formatted_content"].(string); ok {
			return formatted
		}
	}

	var str string
	if err := json.Unmarshal(result, &str); err == nil {
		return str
	}

	pretty, err := json.MarshalIndent(json.RawMessage(result), "", "  ")
	if err != nil {
		return string(result)
	}
	return "Here's the information I found:\n\n```json\n" + string(pretty) + "\n```"
}
