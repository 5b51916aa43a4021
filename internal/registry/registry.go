// Package registry aggregates tool descriptors discovered from the
// configured tool servers into one addressable namespace.
package registry

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
)

// Tool describes one tool as reported by a tool server's discovery
// endpoint, annotated with the server it came from.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Server      string         `json:"server"`
	ServerURL   string         `json:"server_url"`
}

// Server is a tool server location from the configuration.
type Server struct {
	Name string
	URL  string
}

// DiscoveryError reports that a tool server could not be discovered.
type DiscoveryError struct {
	Server string
	URL    string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovering tools from %s (%s): %v", e.Server, e.URL, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Discoverer fetches the tool list from a server's discovery endpoint.
// Implemented by toolserver.Client.
type Discoverer interface {
	Discover(ctx context.Context, baseURL string) ([]Tool, error)
}

// Registry maps tool names to descriptors across all registered servers.
// Reads vastly outnumber writes: registration happens at startup and on
// manual refresh, lookups happen on every dispatch.
type Registry struct {
	discoverer Discoverer

	mu       sync.RWMutex
	byName   map[string]Tool
	byServer map[string][]string
}

// New creates an empty registry using d for discovery calls.
func New(d Discoverer) *Registry {
	return &Registry{
		discoverer: d,
		byName:     make(map[string]Tool),
		byServer:   make(map[string][]string),
	}
}

// Register discovers srv's tools and stores them under their declared
// names, replacing whatever that server registered before. Entries from
// other servers are untouched. Returns the descriptors on success and a
// *DiscoveryError if the server is unreachable or its response is
// malformed.
func (r *Registry) Register(ctx context.Context, srv Server) ([]Tool, error) {
	tools, err := r.discoverer.Discover(ctx, srv.URL)
	if err != nil {
		return nil, &DiscoveryError{Server: srv.Name, URL: srv.URL, Err: err}
	}

	for i := range tools {
		tools[i].Server = srv.Name
		tools[i].ServerURL = srv.URL
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Drop the server's previous descriptor set so re-registration
	// replaces rather than accumulates.
	for _, name := range r.byServer[srv.Name] {
		if existing, ok := r.byName[name]; ok && existing.Server == srv.Name {
			delete(r.byName, name)
		}
	}

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		if existing, ok := r.byName[tool.Name]; ok && existing.Server != srv.Name {
			// Collision across servers: last registered wins.
			log.Printf("tool %q from %s replaces the one from %s", tool.Name, srv.Name, existing.Server)
		}
		r.byName[tool.Name] = tool
		names = append(names, tool.Name)
	}
	r.byServer[srv.Name] = names

	return tools, nil
}

// RegisterAll registers every server, logging and skipping the ones
// that fail. Unreachable servers contribute no tools and do not block
// registration of the others.
func (r *Registry) RegisterAll(ctx context.Context, servers []Server) {
	for _, srv := range servers {
		tools, err := r.Register(ctx, srv)
		if err != nil {
			log.Printf("Warning: %v", err)
			continue
		}
		log.Printf("Discovered %d tools from %s", len(tools), srv.Name)
	}
}

// Resolve looks up a tool by name.
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.byName[name]
	return tool, ok
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.byName))
	for _, tool := range r.byName {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})
	return tools
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// Servers returns the names of servers that have registered tools,
// sorted by name.
func (r *Registry) Servers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byServer))
	for name := range r.byServer {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
