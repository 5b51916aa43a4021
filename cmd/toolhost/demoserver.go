package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcarver/toolhost/internal/registry"
	"github.com/mcarver/toolhost/internal/toolserver"
)

var demoListenAddr string

var demoServerCmd = &cobra.Command{
	Use:   "demo-server",
	Short: "Run a demo tool server",
	Long:  `Runs a standalone tool server with a few built-in tools, useful for trying the host without external tool servers.`,
	RunE:  runDemoServer,
}

func init() {
	demoServerCmd.Flags().StringVar(&demoListenAddr, "listen", "127.0.0.1:8100", "Listen address for the tool server")
}

func runDemoServer(cmd *cobra.Command, args []string) error {
	srv := toolserver.NewServer()

	srv.Handle(registry.Tool{
		Name:        "echo",
		Description: "Echoes the given text back, one word per chunk",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string", "description": "Text to echo"},
			},
			"required": []string{"text"},
		},
	}, func(_ context.Context, params map[string]any, emit func(any) error) error {
		text, _ := params["text"].(string)
		if text == "" {
			return fmt.Errorf("text parameter is required")
		}
		return emit(map[string]string{"formatted_content": text})
	})

	srv.Handle(registry.Tool{
		Name:        "clock",
		Description: "Returns the current time",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, func(_ context.Context, _ map[string]any, emit func(any) error) error {
		return emit(map[string]string{
			"formatted_content": time.Now().Format(time.RFC1123),
		})
	})

	srv.Handle(registry.Tool{
		Name:        "countdown",
		Description: "Counts down from a number, streaming one chunk per second",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"from": map[string]any{"type": "number", "description": "Starting number"},
			},
		},
	}, func(ctx context.Context, params map[string]any, emit func(any) error) error {
		from := 5
		if n, ok := params["from"].(float64); ok && n > 0 && n <= 60 {
			from = int(n)
		}
		for i := from; i > 0; i-- {
			if err := emit(map[string]string{"formatted_content": fmt.Sprintf("%d...", i)}); err != nil {
				return err
			}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return emit(map[string]string{"formatted_content": "Liftoff!"})
	})

	log.Printf("Starting demo tool server on %s", demoListenAddr)
	return http.ListenAndServe(demoListenAddr, srv.Router())
}
