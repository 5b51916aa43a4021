package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcarver/toolhost/internal/bridge"
	"github.com/mcarver/toolhost/internal/config"
	"github.com/mcarver/toolhost/internal/host"
	"github.com/mcarver/toolhost/internal/llm"
	"github.com/mcarver/toolhost/internal/registry"
	"github.com/mcarver/toolhost/internal/router"
	"github.com/mcarver/toolhost/internal/store"
	"github.com/mcarver/toolhost/internal/toolserver"
)

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Start the toolhost daemon",
	Long:  `Starts the host process: discovers tools from the configured tool servers and serves the WebSocket client transport and HTTP API.`,
	RunE:  runHost,
}

func defaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".toolhost", "config.yaml")
}

// newBackend builds the configured language-model backend.
func newBackend(cfg *config.Config) (llm.Backend, error) {
	switch cfg.LLM.Backend {
	case config.BackendOllama:
		return llm.NewOllama(cfg.LLM.Ollama.BaseURL, cfg.LLM.Ollama.Model), nil
	case config.BackendGemini:
		if cfg.LLM.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini backend selected but no API key set (GEMINI_API_KEY)")
		}
		return llm.NewGemini(cfg.LLM.Gemini.APIKey, cfg.LLM.Gemini.Model), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.LLM.Backend)
	}
}

func runHost(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// Initialize store
	s, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}

	// Initialize components
	backend, err := newBackend(cfg)
	if err != nil {
		s.Close()
		return err
	}
	log.Printf("Using %s backend", backend.Name())

	client := toolserver.NewClient()
	reg := registry.New(client)

	servers := make([]registry.Server, 0, len(cfg.ToolServers))
	for _, srv := range cfg.ToolServers {
		servers = append(servers, registry.Server{Name: srv.Name, URL: srv.URL})
	}
	reg.RegisterAll(cmd.Context(), servers)
	if reg.Count() == 0 {
		log.Println("Warning: no tools discovered; requests will be answered directly")
	}

	rt := router.New(backend, reg)
	br := bridge.New(client)
	server := host.NewServer(cfg, reg, rt, br, s)

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErr := make(chan error, 1)

	// Start server in goroutine
	go func() {
		err := server.Start()
		if err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	// Wait for shutdown signal or server error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
			s.Close()
			return err
		}
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down server...")
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Closing database connection...")
	if err := s.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Shutdown complete")
	return nil
}
