package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInstallCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install <key> <requirement>...",
		Short: "Install requirements into the kernel cached under key",
		Long: `Install requirements into the kernel cached under key, starting one if needed.

Each requirement has the form [type:] libs, for example:
  "pip: numpy scipy"   "conda: opencv"   "repo: https://github.com/org/repo.git dest"
  "cmd: !ls -la"       "git+https://github.com/org/pkg"   "pillow"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.loadKernels(cmd.Context()); err != nil {
				return err
			}
			settings, err := app.acquireServer(cmd)
			if err != nil {
				return err
			}

			kernel, err := app.pool.GetOrStart(cmd.Context(), args[0], settings, nil)
			if err != nil {
				return err
			}
			defer func() { _ = kernel.Close() }()

			if err := app.installer.Install(cmd.Context(), kernel, args[1:], app.cfg.CondaAvailable); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Requirements installed on kernel %s.\n", kernel.ID())
			return err
		},
	}
}
