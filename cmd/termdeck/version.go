package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kevinzwang/termdeck/internal/tui"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "termdeck %s\n", tui.Version)
			return err
		},
	}
}
