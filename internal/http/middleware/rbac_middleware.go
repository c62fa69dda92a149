package middleware

import (
	"net/http"
	"slices"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/http/response"
)

// RequireRole admits callers whose token role is one of roles.
func RequireRole(recorder *audit.Recorder, roles ...domain.Role) func(http.Handler) http.Handler {
	if recorder == nil {
		recorder = audit.NopRecorder()
	}
	required := make([]string, len(roles))
	for i, role := range roles {
		required[i] = string(role)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, apperror.ErrTokenInvalid.Code, "missing auth context", nil)
				return
			}
			if !slices.Contains(roles, domain.Role(claims.Role)) {
				recorder.Record(r.Context(), audit.Event{
					Type:      audit.EventAccessDenied,
					ActorID:   claims.UserID(),
					Origin:    ClientIP(r),
					UserAgent: r.UserAgent(),
					Reason:    "role " + claims.Role + " not permitted",
					Metadata:  map[string]any{"path": r.URL.Path, "required": required},
				})
				response.AppError(w, r, apperror.ErrForbidden.WithDetails(map[string]any{"required_roles": required}))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
