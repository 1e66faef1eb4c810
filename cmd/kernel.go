package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/bnema/jupyter-engine-manager/internal/ports"
	"github.com/spf13/cobra"
)

func newKernelCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kernel",
		Short: "Start, reuse and inspect cached kernels",
	}

	cmd.AddCommand(
		newKernelStartCmd(app),
		newKernelListCmd(app),
		newKernelForgetCmd(app),
		newKernelStopCmd(app),
		newKernelExecCmd(app),
	)

	return cmd
}

func newKernelStartCmd(app *app) *cobra.Command {
	var specName string

	cmd := &cobra.Command{
		Use:   "start <key>",
		Short: "Start a fresh kernel and cache it under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.loadKernels(cmd.Context()); err != nil {
				return err
			}
			settings, err := app.acquireServer(cmd)
			if err != nil {
				return err
			}

			kernel, err := app.pool.Start(cmd.Context(), args[0], settings, specName)
			if err != nil {
				return err
			}
			defer func() { _ = kernel.Close() }()

			_, err = fmt.Fprintln(cmd.OutOrStdout(), kernel.ID())
			return err
		},
	}

	cmd.Flags().StringVar(&specName, "kernel-spec", "", "Kernel spec name (server default when empty)")

	return cmd
}

func newKernelListCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached kernel mappings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := app.loadKernels(cmd.Context()); err != nil {
				return err
			}
			entries := app.pool.Entries()
			if len(entries) == 0 {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), "No cached kernels.")
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "KEY\tKERNEL\tSERVER")
			for _, entry := range entries {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Key, entry.KernelID, entry.BaseURL)
			}
			return w.Flush()
		},
	}
}

func newKernelForgetCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <key>",
		Short: "Drop a cached mapping without stopping the remote kernel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.loadKernels(cmd.Context()); err != nil {
				return err
			}
			if err := app.pool.Forget(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Forgot kernel %q.\n", args[0])
			return err
		},
	}
}

func newKernelStopCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <key>",
		Short: "Shut down the kernel cached under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.loadKernels(cmd.Context()); err != nil {
				return err
			}
			entry, ok := findEntry(app.pool.Entries(), args[0])
			if !ok {
				return fmt.Errorf("stop kernel %q: %w", args[0], domain.ErrKernelNotCached)
			}

			kernel, err := app.pool.Reuse(cmd.Context(), args[0], entry.Settings())
			if err != nil {
				if errors.Is(err, domain.ErrKernelNotFound) {
					return app.pool.Forget(cmd.Context(), args[0])
				}
				return err
			}
			if err := app.pool.Kill(cmd.Context(), kernel); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Stopped kernel %s.\n", kernel.ID())
			return err
		},
	}
}

func newKernelExecCmd(app *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "exec <key> [code]",
		Short: "Run code on the kernel cached under key, starting one if needed",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readCode(cmd.InOrStdin(), args[1:], file)
			if err != nil {
				return err
			}

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

			return executeStreaming(cmd.Context(), kernel, code, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Read code from a file ('-' for stdin)")

	return cmd
}

func readCode(stdin io.Reader, args []string, file string) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", errors.New("pass code either as an argument or with --file")
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read code from stdin: %w", err)
		}
		return string(data), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read code file: %w", err)
		}
		return string(data), nil
	default:
		return "", errors.New("no code given")
	}
}

func executeStreaming(ctx context.Context, kernel ports.Kernel, code string, stdout, stderr io.Writer) error {
	err := kernel.Execute(ctx, code, func(out domain.StreamOutput) {
		w := stdout
		if out.Name == "stderr" {
			w = stderr
		}
		_, _ = io.WriteString(w, out.Text)
	})

	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) && len(execErr.Traceback) > 0 {
		_, _ = fmt.Fprintln(stderr, strings.Join(execErr.Traceback, "\n"))
	}
	return err
}

func findEntry(entries []domain.KernelEntry, key string) (domain.KernelEntry, bool) {
	for _, entry := range entries {
		if entry.Key == key {
			return entry, true
		}
	}
	return domain.KernelEntry{}, false
}
