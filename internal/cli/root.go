// Package cli is the poscore command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/pos-trust-core/internal/tools/common"
	"github.com/sandeepkv93/pos-trust-core/internal/tools/ui"
)

const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitRejected = 2
	ExitTampered = 3
	ExitError    = 4
)

type options struct {
	envFile string
	ci      bool
	timeout time.Duration
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withExit(code int, err error) error { return &exitError{code: code, err: err} }

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "poscore",
		Short:         "Point-of-sale transaction and trust core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.envFile == "" {
				return nil
			}
			return common.LoadEnvFile(opts.envFile)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "load KEY=VALUE pairs from this file before reading config")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "deadline for one-shot commands")
	cmd.AddCommand(
		newServeCommand(opts),
		newMigrateCommand(opts),
		newVerifyIntegrityCommand(opts),
		newCheckPasswordCommand(opts),
	)
	return cmd
}

// Execute runs the command tree and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.Execute()
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code != ExitTampered && ee.code != ExitRejected {
			_, _ = fmt.Fprintln(stderr, "error:", ee.err)
		}
		return ee.code
	}
	_, _ = fmt.Fprintln(stderr, "error:", err)
	return ExitFailure
}

// run executes a one-shot step either behind the progress view or, in CI
// mode, directly with a JSON result line.
func run(cmd *cobra.Command, opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()
		details, err := fn(ctx)
		common.WriteCIResult(cmd.OutOrStdout(), err == nil, title, details, err)
		return details, err
	}
	if !isTerminal(os.Stdout) {
		ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
		defer cancel()
		details, err := fn(ctx)
		for _, d := range details {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), d)
		}
		return details, err
	}
	return ui.Run(title, fn)
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
