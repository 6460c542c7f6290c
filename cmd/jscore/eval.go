package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cryguy/jscore"
)

func newEvalCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "eval [script]",
		Short: "Evaluate a script and print its result",
		Long: `Evaluate a script on a freshly booted engine and print its result.

Strings are printed as-is, other values as JSON. Promises are awaited.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(args, file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), func(ctx context.Context, h *jscore.Handle) error {
				out, err := h.Execute(ctx, script)
				if err != nil {
					return errors.New(describeError(err))
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read the script from a file ('-' for stdin)")
	return cmd
}

// readScript picks the script from the argument or the --file flag.
func readScript(args []string, file string, stdin io.Reader) (string, error) {
	switch {
	case len(args) == 1 && file != "":
		return "", errors.New("pass either a script argument or --file, not both")
	case len(args) == 1:
		return args[0], nil
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading stdin: %w", err)
		}
		return string(b), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading script: %w", err)
		}
		return string(b), nil
	default:
		return "", errors.New("no script given")
	}
}
