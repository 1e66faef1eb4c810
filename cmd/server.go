package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/spf13/cobra"
)

func newServerCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Acquire and inspect Jupyter servers",
	}

	cmd.AddCommand(
		newServerAcquireCmd(app),
		newServerListCmd(app),
		newServerFilesCmd(app),
	)

	return cmd
}

func newServerAcquireCmd(app *app) *cobra.Command {
	var showToken bool

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "Reuse a cached server or provision a new one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := app.acquireServer(cmd)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, settings.BaseURL); err != nil {
				return err
			}
			if showToken && settings.Token != "" {
				_, err = fmt.Fprintf(out, "token: %s\n", settings.Token)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&showToken, "show-token", false, "Print the server token")

	return cmd
}

func newServerListCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached servers that still answer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.loadServers(cmd.Context()); err != nil {
				return err
			}
			servers := app.servers.Servers()

			if asJSON {
				type serverJSON struct {
					Name        string `json:"name"`
					URL         string `json:"url"`
					Fingerprint string `json:"fingerprint"`
				}
				out := make([]serverJSON, 0, len(servers))
				for _, server := range servers {
					out = append(out, serverJSON{Name: domain.ServerName(server.URL), URL: server.URL, Fingerprint: server.Fingerprint})
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if len(servers) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No cached servers.")
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "NAME\tURL")
			for _, server := range servers {
				_, _ = fmt.Fprintf(w, "%s\t%s\n", domain.ServerName(server.URL), server.URL)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	return cmd
}

func newServerFilesCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files [path]",
		Short: "List a directory on the server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			settings, err := app.acquireServer(cmd)
			if err != nil {
				return err
			}
			files, ok := app.servers.FileManager(settings.BaseURL)
			if !ok {
				return fmt.Errorf("file manager for %s: %w", settings.BaseURL, domain.ErrServerNotFound)
			}

			dir, err := files.ListFiles(cmd.Context(), path)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, entry := range dir.Children {
				url := ""
				if entry.Type != "directory" {
					url = files.FileURL(entry.Path)
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Type, entry.Name, url)
			}
			return w.Flush()
		},
	}

	return cmd
}
