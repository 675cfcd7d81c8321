package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kevinzwang/termdeck/internal/daemon"
	"github.com/kevinzwang/termdeck/internal/logx"
)

func newDaemonCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the session daemon in the foreground",
		Long:  "Run the daemon that owns the pseudo-terminals. Sessions survive TUI restarts while it runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			level, err := logx.ParseLevel(cfg.Logging.Level)
			if err != nil {
				return err
			}
			logger := logx.Console(os.Stderr, level)
			return daemon.New(cfg.SocketPath, cfg.Specs(), logger).Run(cmd.Context())
		},
	}
}
