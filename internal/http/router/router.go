package router

import (
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/health"
	"github.com/sandeepkv93/pos-trust-core/internal/http/handler"
	"github.com/sandeepkv93/pos-trust-core/internal/http/middleware"
	"github.com/sandeepkv93/pos-trust-core/internal/http/response"
	"github.com/sandeepkv93/pos-trust-core/internal/service"
	"github.com/sandeepkv93/pos-trust-core/internal/store"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	CheckoutHandler  *handler.CheckoutHandler
	Verifier         service.AccessVerifier
	Recorder         *audit.Recorder
	CSRFSecret       []byte
	RateLimitStore   store.KeyedStore
	AuthRateLimitRPM int
	APIRateLimitRPM  int
	AuthRateLimiter  AuthRateLimiterFunc
	APIRateLimiter   APIRateLimiterFunc
	Readiness        *health.ProbeRunner
	EnableOTelHTTP   bool
	TrustedProxies   []netip.Prefix
}

type AuthRateLimiterFunc func(http.Handler) http.Handler
type APIRateLimiterFunc func(http.Handler) http.Handler

func NewRouter(dep Dependencies) http.Handler {
	if dep.RateLimitStore == nil {
		dep.RateLimitStore = store.NewInMemoryKeyedStore()
	}
	r := chi.NewRouter()
	r.Use(middleware.TrustedRealIP(dep.TrustedProxies))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.BodyLimit(1 << 20))

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		authLimiter = middleware.PerMinute(dep.RateLimitStore, "auth", dep.AuthRateLimitRPM, nil, dep.Recorder).Middleware()
	}
	apiLimiter := dep.APIRateLimiter
	if apiLimiter == nil {
		apiLimiter = middleware.PerMinute(dep.RateLimitStore, "api", dep.APIRateLimitRPM, middleware.SubjectOrIPKey, dep.Recorder).Middleware()
	}
	csrf := middleware.CSRFMiddleware(dep.CSRFSecret, dep.Recorder)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(authLimiter)
			r.Post("/login", dep.AuthHandler.Login)
			r.Group(func(r chi.Router) {
				r.Use(csrf)
				r.Post("/refresh", dep.AuthHandler.Refresh)
				r.Post("/revoke", dep.AuthHandler.Revoke)
			})
			r.Group(func(r chi.Router) {
				r.Use(middleware.AuthMiddleware(dep.Verifier, dep.Recorder))
				r.Use(csrf)
				r.Post("/revoke-all", dep.AuthHandler.RevokeAll)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(dep.Verifier, dep.Recorder))
			r.Use(apiLimiter)
			r.Use(csrf)
			r.Post("/checkout", dep.CheckoutHandler.Checkout)
			r.With(middleware.RequireRole(dep.Recorder, domain.RoleManager, domain.RoleAdmin)).
				Get("/transactions/{id}/integrity", dep.CheckoutHandler.Integrity)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
