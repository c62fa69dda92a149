// Package repository provides gorm-backed persistence for the trust core.
package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/pos-trust-core/internal/observability"

	"gorm.io/gorm"
)

// record reports the outcome of a repository call; notFound errors are
// reported separately from failures.
func record(ctx context.Context, entity, operation string, err error, notFound ...error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
		if errors.Is(err, gorm.ErrRecordNotFound) {
			outcome = "not_found"
		}
		for _, nf := range notFound {
			if errors.Is(err, nf) {
				outcome = "not_found"
			}
		}
	}
	observability.RecordRepositoryOperation(ctx, entity, operation, outcome)
}
