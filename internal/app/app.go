package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/config"
	"github.com/sandeepkv93/pos-trust-core/internal/health"
	"github.com/sandeepkv93/pos-trust-core/internal/observability"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	DB            *gorm.DB
	EventStream   *audit.KafkaSink
	Readiness     *health.ProbeRunner

	ShutdownTimeout time.Duration

	stopBackground func()
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	db *gorm.DB,
	stream *audit.KafkaSink,
	readiness *health.ProbeRunner,
	stop func(),
) *App {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := 15 * time.Second
	if cfg != nil && cfg.ShutdownTimeout > 0 {
		timeout = cfg.ShutdownTimeout
	}
	return &App{
		Config:          cfg,
		Logger:          logger,
		Server:          server,
		Observability:   runtime,
		DB:              db,
		EventStream:     stream,
		Readiness:       readiness,
		ShutdownTimeout: timeout,
		stopBackground:  stop,
	}
}

// StopBackgroundTasks cancels background work started while wiring the app.
func (a *App) StopBackgroundTasks() {
	if a.stopBackground != nil {
		a.stopBackground()
	}
}

// Run serves HTTP until ctx is cancelled or the listener fails, then shuts
// everything down within ShutdownTimeout.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutdown requested")
	case err, ok := <-errCh:
		if ok {
			serveErr = err
			a.Logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()
	return errors.Join(serveErr, a.Shutdown(shutdownCtx))
}

// Shutdown drains HTTP, then stops background work. The event stream, the
// database and telemetry are released by the cleanup returned with the app.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.StopBackgroundTasks()
	err := errors.Join(errs...)
	if err != nil {
		a.Logger.Error("shutdown finished with errors", "error", err)
	} else {
		a.Logger.Info("shutdown complete")
	}
	return err
}
