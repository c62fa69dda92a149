//go:build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"github.com/sandeepkv93/pos-trust-core/internal/app"
	"github.com/sandeepkv93/pos-trust-core/internal/config"
)

// InitializeApp wires the application. The returned cleanup releases the event
// stream, Redis, the database and telemetry in that order; call it after the
// app has shut down.
func InitializeApp(ctx context.Context, cfg *config.Config) (*app.App, func(), error) {
	wire.Build(InfraSet, RepositorySet, SecuritySet, ServiceSet, HTTPSet)
	return nil, nil, nil
}
