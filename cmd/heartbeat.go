package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/bnema/jupyter-engine-manager/internal/application"
	"github.com/spf13/cobra"
)

func newHeartbeatCmd(app *app) *cobra.Command {
	var (
		interval time.Duration
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Check cached kernels periodically and evict dead ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.loadKernels(cmd.Context()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			report := func(removed []string, err error) {
				if len(removed) > 0 {
					_, _ = fmt.Fprintf(out, "Evicted: %s\n", strings.Join(removed, ", "))
				}
				if err != nil {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "heartbeat: %v\n", err)
				}
			}

			if once {
				removed, err := app.pool.Sweep(cmd.Context())
				report(removed, nil)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(out, "%d kernel(s) cached.\n", len(app.pool.Entries()))
				return err
			}

			if !cmd.Flags().Changed("interval") {
				interval = app.cfg.HeartbeatInterval
			}
			monitor := application.NewHeartbeatMonitor(app.pool, interval, app.log)
			monitor.OnSweep = report
			monitor.Run(cmd.Context())
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Sweep interval (defaults to heartbeat.interval)")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single sweep and exit")

	return cmd
}
