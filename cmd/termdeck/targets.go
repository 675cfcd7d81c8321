package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kevinzwang/termdeck/internal/logx"
	"github.com/kevinzwang/termdeck/internal/rpc"
	"github.com/kevinzwang/termdeck/internal/target"
)

func newTargetsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the targets known to the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			client, err := rpc.Dial(cmd.Context(), cfg.SocketPath, logx.Ctx(cmd.Context()))
			if err != nil {
				return err
			}
			defer client.Close()

			targets, err := target.NewClient(client).List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, t := range targets {
				state := "stopped"
				if t.IsRunning {
					state = "running"
				}
				if _, err := fmt.Fprintf(out, "%-20s %s\n", t.Name, state); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
