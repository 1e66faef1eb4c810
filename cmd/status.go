package cmd

import (
	"encoding/json"
	"fmt"

	statusadapter "github.com/bnema/jupyter-engine-manager/internal/adapters/render/status"
	"github.com/spf13/cobra"
)

func newStatusCmd(app *app) *cobra.Command {
	var (
		asJSON     bool
		showTokens bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cached servers, cached kernels and live processes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.loadServers(cmd.Context()); err != nil {
				return err
			}
			if err := app.loadKernels(cmd.Context()); err != nil {
				return err
			}
			status := app.engine.Status()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			rendered, err := app.statusRenderer(status, statusadapter.RenderOptions{ShowTokens: showTokens})
			if err != nil {
				return fmt.Errorf("render status: %w", err)
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&showTokens, "show-tokens", false, "Print server tokens unmasked")

	return cmd
}
