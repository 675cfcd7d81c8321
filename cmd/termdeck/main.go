package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/kevinzwang/termdeck/internal/logx"
	"pkt.systems/psi"
	"pkt.systems/pslog"
)

func main() {
	psi.Run(submain)
}

func submain(ctx context.Context) int {
	logger := pslog.LoggerFromEnv(
		pslog.WithEnvWriter(os.Stderr),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeConsole}),
	)
	ctx = pslog.ContextWithLogger(ctx, logger)

	root := newRootCmd()
	root.SetArgs(os.Args[1:])
	if err := root.ExecuteContext(ctx); err != nil {
		logx.Ctx(ctx).With("err", err).Error("termdeck command failed")
		return 1
	}
	return 0
}

type globalFlags struct {
	configPath string
	socketPath string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "termdeck",
		Short:         "Tabbed shell sessions in a terminal panel",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "path to config file (default ~/.termdeck/config.yaml)")
	root.PersistentFlags().StringVar(&flags.socketPath, "socket", "", "daemon socket path (overrides config)")

	root.AddCommand(newDaemonCmd(flags))
	root.AddCommand(newTargetsCmd(flags))
	root.AddCommand(newConfigCmd(flags))
	root.AddCommand(newVersionCmd())
	return root
}
