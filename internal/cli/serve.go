package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/pos-trust-core/internal/config"
	"github.com/sandeepkv93/pos-trust-core/internal/di"
)

func newServeCommand(_ *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return withExit(ExitError, err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cleanup, err := di.InitializeApp(ctx, cfg)
			if err != nil {
				return withExit(ExitError, fmt.Errorf("initialize app: %w", err))
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
}
