// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mersect/internal/version"
)

// Exit codes.
const (
	ExitOK        = 0
	ExitUsage     = 2
	ExitRuntime   = 3
	ExitCancelled = 130
)

// runtimeError marks failures that happen after the configuration was
// accepted: unreadable input, unwritable output, a full array.
type runtimeError struct{ err error }

func (e runtimeError) Error() string { return e.err.Error() }
func (e runtimeError) Unwrap() error { return e.err }

func runtimeErr(err error) error {
	if err == nil {
		return nil
	}
	return runtimeError{err}
}

// Run executes one command line and returns the process exit code.
func Run(ctx context.Context, argv []string, stdout, stderr io.Writer) int {
	root := newRoot(stdout, stderr)
	root.SetArgs(argv)
	err := root.ExecuteContext(ctx)
	return exitCode(ctx, err, stderr)
}

func exitCode(ctx context.Context, err error, stderr io.Writer) int {
	if err == nil {
		if ctx.Err() != nil {
			return ExitCancelled
		}
		return ExitOK
	}
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		_, _ = fmt.Fprintln(stderr, "mersect: cancelled")
		return ExitCancelled
	}
	_, _ = fmt.Fprintln(stderr, "mersect:", err)
	var rt runtimeError
	if errors.As(err, &rt) {
		return ExitRuntime
	}
	return ExitUsage
}

func newRoot(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "mersect",
		Short: "k-mer intersection and uniqueness across sequence files",
		Long: `mersect loads every k-mer of one or more FASTA/FASTQ files into a shared
hash array, then writes the k-mers present in all files and, for each file,
the k-mers that occur exactly once overall.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("mersect version {{.Version}}\n")

	root.AddCommand(
		newIntersectCmd(),
		newMatrixCmd(),
		newGenerateCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "mersect version %s\n", version.Version)
			return runtimeErr(err)
		},
	}
}
