package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcarver/toolhost/internal/tui"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools registered with the host",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := tui.NewClient(apiAddr)
		tools, err := client.ListTools()
		if err != nil {
			return err
		}

		if len(tools) == 0 {
			fmt.Println("No tools registered.")
			return nil
		}
		for _, tool := range tools {
			fmt.Printf("%-24s %-16s %s\n", tool.Name, tool.Server, tool.Description)
		}
		return nil
	},
}
