package main

import (
	"github.com/spf13/cobra"

	"github.com/mcarver/toolhost/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat session with the host",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := tui.New(apiAddr)
		return app.Run()
	},
}
