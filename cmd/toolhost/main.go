package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "toolhost",
	Short: "toolhost - LLM tool dispatch host",
	Long:  `toolhost discovers tools from configured tool servers, routes user requests to them through a language-model backend, and streams results back to connected clients.`,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath string
	apiAddr    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "127.0.0.1:8765", "Host address for client commands")

	// Add subcommands
	rootCmd.AddCommand(hostCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(demoServerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
