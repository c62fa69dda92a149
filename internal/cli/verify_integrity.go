package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/config"
	"github.com/sandeepkv93/pos-trust-core/internal/database"
	"github.com/sandeepkv93/pos-trust-core/internal/observability"
	"github.com/sandeepkv93/pos-trust-core/internal/repository"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/service"
	"github.com/sandeepkv93/pos-trust-core/internal/tools/ui"
)

var errTampered = errors.New("integrity mismatch detected")

func newVerifyIntegrityCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-integrity <transaction-id>",
		Short: "Recompute line item hashes for a committed transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return withExit(ExitError, err)
			}
			if slices.Contains(cfg.EphemeralSecrets, "HMAC_SECRET") {
				return withExit(ExitError, errors.New("HMAC_SECRET is not configured; hashes cannot be verified"))
			}
			var report *service.IntegrityReport
			_, err = run(cmd, opts, "poscore verify-integrity "+args[0], func(ctx context.Context) ([]string, error) {
				r, err := verifyIntegrity(ctx, cfg, args[0])
				if err != nil {
					return nil, err
				}
				report = r
				details := ui.IntegrityDetails(r)
				if !r.IntegrityValid {
					return details, errTampered
				}
				return details, nil
			})
			if report != nil && !opts.ci {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), ui.RenderIntegrityReport(report))
			}
			return integrityExit(report, err)
		},
	}
}

func integrityExit(report *service.IntegrityReport, err error) error {
	switch {
	case report != nil && !report.IntegrityValid:
		return withExit(ExitTampered, errTampered)
	case err != nil:
		return withExit(ExitError, err)
	}
	return nil
}

func verifyIntegrity(ctx context.Context, cfg *config.Config, txID string) (*service.IntegrityReport, error) {
	logger := observability.NewJSONLogger(os.Stderr, cfg.LogLevel)
	db, err := database.Open(cfg.DatabaseURL, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = database.Close(db) }()

	vault, err := security.NewVault(cfg.FieldEncryptionKey, []byte(cfg.HMACSecret))
	if err != nil {
		return nil, err
	}
	recorder := audit.NewRecorder(logger,
		audit.NewSlogSink(logger),
		audit.NewRepositorySink(repository.NewAuditRepository(db)),
	)
	ledger := service.NewTransactionLedger(service.LedgerDeps{
		Transactions: repository.NewTransactionRepository(db),
		Vault:        vault,
		Recorder:     recorder,
		Logger:       logger,
	}, cfg.CheckoutCommitTimeout)
	return ledger.VerifyIntegrity(ctx, txID)
}
