package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bnema/jupyter-engine-manager/internal/application"
	"github.com/spf13/cobra"
)

func newRunCmd(app *app) *cobra.Command {
	var detach bool

	cmd := &cobra.Command{
		Use:   "run <manifest.yaml>",
		Short: "Start a plugin from its manifest and stay attached to its worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := app.loadManifest(args[0])
			if err != nil {
				return err
			}
			if err := app.loadServers(cmd.Context()); err != nil {
				return err
			}
			if err := app.loadKernels(cmd.Context()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			errOut := cmd.ErrOrStderr()
			handlers := application.ConnectionHandlers{
				OnLogging: func(details json.RawMessage) {
					_, _ = fmt.Fprintf(errOut, "[%s] %s\n", manifest.Name, details)
				},
				OnMessage: func(payload json.RawMessage) {
					_, _ = fmt.Fprintf(out, "%s\n", payload)
				},
				OnDisconnect: func(details json.RawMessage) {
					if details != nil {
						_, _ = fmt.Fprintf(errOut, "[%s] worker disconnected: %s\n", manifest.Name, details)
					}
				},
				OnStateChange: func(from, to application.ConnState) {
					app.log.Debug(fmt.Sprintf("connection %s -> %s", from, to))
				},
			}

			var session *application.PluginSession
			err = app.withProgress(cmd, fmt.Sprintf("Starting plugin %s...", manifest.Name), func(ctx context.Context) error {
				var err error
				session, err = app.engine.StartPlugin(ctx, manifest, handlers)
				return err
			})
			if err != nil {
				return err
			}

			if detach {
				_, err = fmt.Fprintf(out, "Plugin %q running on kernel %s.\n", manifest.Name, session.Kernel.ID())
				return err
			}

			stopHeartbeat := app.startHeartbeat(cmd.Context())
			select {
			case <-cmd.Context().Done():
			case <-session.Connection.Done():
			}
			stopHeartbeat()
			app.engine.Shutdown()
			return nil
		},
	}

	cmd.Flags().BoolVar(&detach, "detach", false, "Exit once the plugin is ready, keeping its kernel alive")

	return cmd
}

// startHeartbeat sweeps the kernel cache in the background until the returned
// stop func is called or ctx ends. stop waits for the monitor to return.
func (a *app) startHeartbeat(ctx context.Context) (stop func()) {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	monitor := application.NewHeartbeatMonitor(a.pool, a.cfg.HeartbeatInterval, a.log)
	go func() {
		defer close(done)
		monitor.Run(hbCtx)
	}()
	return func() {
		cancel()
		<-done
	}
}
