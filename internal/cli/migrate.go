package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/pos-trust-core/internal/config"
	"github.com/sandeepkv93/pos-trust-core/internal/database"
)

func newMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return withExit(ExitError, err)
			}
			_, err = run(cmd, opts, "poscore migrate", func(ctx context.Context) ([]string, error) {
				db, err := database.Open(cfg.DatabaseURL, slog.New(slog.DiscardHandler))
				if err != nil {
					return nil, err
				}
				defer func() { _ = database.Close(db) }()
				if err := database.Migrate(db); err != nil {
					return nil, err
				}
				return []string{
					fmt.Sprintf("dialect=%s", database.DialectFor(cfg.DatabaseURL)),
					fmt.Sprintf("models=%d", len(database.Models())),
				}, nil
			})
			if err != nil {
				return withExit(ExitError, err)
			}
			return nil
		},
	}
}
