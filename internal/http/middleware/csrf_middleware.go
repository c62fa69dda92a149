package middleware

import (
	"net/http"
	"strings"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/http/response"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
)

const CSRFHeader = "X-CSRF-Token"

// CSRFMiddleware guards mutating requests that ride on cookie credentials.
// The header must equal the csrf_token cookie and the cookie must carry a
// valid HMAC. Bearer requests and requests without auth cookies pass.
func CSRFMiddleware(secret []byte, recorder *audit.Recorder) func(http.Handler) http.Handler {
	if recorder == nil {
		recorder = audit.NopRecorder()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !needsCSRF(r) {
				next.ServeHTTP(w, r)
				return
			}
			cookie := security.GetCookie(r, CSRFTokenCookie)
			header := r.Header.Get(CSRFHeader)
			reason := ""
			switch {
			case cookie == "":
				reason = "missing csrf cookie"
			case header == "":
				reason = "missing csrf header"
			case !security.VerifyHMACConstantTime(cookie, header):
				reason = "csrf header does not match cookie"
			case !security.VerifyCSRFToken(cookie, secret):
				reason = "csrf token signature invalid"
			}
			if reason != "" {
				recorder.Record(r.Context(), audit.Event{
					Type:      audit.EventCSRFMismatch,
					Origin:    ClientIP(r),
					UserAgent: r.UserAgent(),
					Reason:    reason,
					Metadata:  map[string]any{"path_group": csrfPathGroup(r.URL.Path), "method": r.Method},
				})
				response.AppError(w, r, apperror.ErrCSRFMismatch)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func needsCSRF(r *http.Request) bool {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	if BearerToken(r) != "" {
		return false
	}
	return security.GetCookie(r, AccessTokenCookie) != "" || security.GetCookie(r, RefreshTokenCookie) != ""
}

func csrfPathGroup(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		return "root"
	}
	if parts[0] == "api" && len(parts) >= 3 {
		return "api/" + parts[2]
	}
	return parts[0]
}
