package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/tools/common"
	"github.com/sandeepkv93/pos-trust-core/internal/tools/ui"
)

func newCheckPasswordCommand(opts *options) *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "check-password",
		Short: "Evaluate a password read from stdin against the credential policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reader := bufio.NewReader(cmd.InOrStdin())
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return withExit(ExitError, fmt.Errorf("read password: %w", err))
			}
			password := strings.TrimRight(line, "\r\n")
			report := security.ValidateStrength(password, username)

			var verdict error
			if !report.IsValid {
				verdict = errors.New("password does not meet the credential policy")
			}
			if opts.ci {
				details := append([]string{"strength=" + string(report.Strength)}, report.Errors...)
				common.WriteCIResult(cmd.OutOrStdout(), report.IsValid, "poscore check-password", details, verdict)
			} else {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), ui.RenderStrength(report))
			}
			if verdict != nil {
				return withExit(ExitRejected, verdict)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "reject passwords containing this username")
	return cmd
}
