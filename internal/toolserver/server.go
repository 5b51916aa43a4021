package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mcarver/toolhost/internal/registry"
)

// RunnerFunc produces the result chunks for one tool execution. Each
// emit call becomes one data event on the stream; returning an error
// emits an error marker instead of a close event.
type RunnerFunc func(ctx context.Context, params map[string]any, emit func(result any) error) error

// Server serves the tool server wire contract for a set of locally
// implemented tools. It exists for local runs and tests; production
// tool servers are external collaborators.
type Server struct {
	router  *chi.Mux
	tools   []registry.Tool
	runners map[string]RunnerFunc
}

// NewServer creates a tool server with no tools registered.
func NewServer() *Server {
	s := &Server{
		router:  chi.NewRouter(),
		runners: make(map[string]RunnerFunc),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Get("/tools", s.handleTools)
	s.router.Post("/run", s.handleRun)
	return s
}

// Handle registers a tool and its runner.
func (s *Server) Handle(tool registry.Tool, fn RunnerFunc) {
	s.tools = append(s.tools, registry.Tool{
		Name:        tool.Name,
		Description: tool.Description,
		Parameters:  tool.Parameters,
	})
	s.runners[tool.Name] = fn
}

// Router exposes the root HTTP handler.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	tools := s.tools
	if tools == nil {
		tools = []registry.Tool{}
	}
	_ = json.NewEncoder(w).Encode(tools)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	writeEvent := func(payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	runner, ok := s.runners[req.Name]
	if !ok {
		writeEvent(map[string]string{"error": fmt.Sprintf("unknown tool: %s", req.Name)})
	} else {
		emit := func(result any) error {
			writeEvent(map[string]any{"result": result})
			return r.Context().Err()
		}
		if err := runner(r.Context(), req.Parameters, emit); err != nil {
			writeEvent(map[string]string{"error": err.Error()})
		}
	}

	fmt.Fprint(w, "event: close\ndata: {}\n\n")
	flusher.Flush()
}
