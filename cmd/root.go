package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	app := &app{}

	rootCmd := &cobra.Command{
		Use:           "jem",
		Short:         "Jupyter Engine Manager (jem): run plugins on remote Jupyter kernels",
		Long:          "jem provisions Jupyter servers through BinderHub or a direct notebook URL, caches and reuses kernels across runs, installs plugin requirements and drives the worker connection protocol.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.wire(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			app.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "", "Log format (console, json)")
	flags.String("server-url", "", "Use an existing notebook server, e.g. http://localhost:8888/?token=...")
	flags.String("binder-url", "", "BinderHub base URL")
	flags.String("spec", "", "Binder repository spec")
	flags.Bool("no-conda", false, "Skip conda requirements (conda is unavailable on the server)")

	rootCmd.AddCommand(
		newVersionCmd(),
		newServerCmd(app),
		newKernelCmd(app),
		newInstallCmd(app),
		newHeartbeatCmd(app),
		newRunCmd(app),
		newStatusCmd(app),
	)

	return rootCmd
}
