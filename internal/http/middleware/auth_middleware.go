package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/http/response"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/service"
)

type contextKey string

const (
	ClaimsContextKey contextKey = "claims"

	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
	CSRFTokenCookie    = "csrf_token"

	HeaderDeviceID       = "X-Device-Id"
	HeaderDeviceModel    = "X-Device-Model"
	HeaderDevicePlatform = "X-Device-Platform"
)

// Principal is the verified caller attached to the request context.
type Principal struct {
	Claims *security.Claims
	Source string
}

func AuthMiddleware(verifier service.AccessVerifier, recorder *audit.Recorder) func(http.Handler) http.Handler {
	if recorder == nil {
		recorder = audit.NopRecorder()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := AccessToken(r)
			if raw == "" {
				recorder.Record(r.Context(), audit.Event{
					Type:      audit.EventAccessDenied,
					Origin:    ClientIP(r),
					UserAgent: r.UserAgent(),
					Reason:    "missing access token",
					Metadata:  map[string]any{"path": r.URL.Path},
				})
				response.Error(w, r, http.StatusUnauthorized, apperror.ErrTokenInvalid.Code, "missing access token", nil)
				return
			}
			claims, err := verifier.VerifyAccess(r.Context(), raw, DeviceFromRequest(r))
			if err != nil {
				e := apperror.From(err)
				if e.Kind == apperror.KindAuthentication {
					recorder.Record(r.Context(), audit.Event{
						Type:      audit.EventTokenRejected,
						Origin:    ClientIP(r),
						UserAgent: r.UserAgent(),
						Reason:    "access: " + e.Code,
						Metadata:  map[string]any{"source": source, "path": r.URL.Path},
					})
				}
				response.AppError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ClaimsContextKey, &Principal{Claims: claims, Source: source})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessToken returns the presented access token and where it came from.
// A bearer header wins over the cookie.
func AccessToken(r *http.Request) (string, string) {
	if token := BearerToken(r); token != "" {
		return token, "bearer"
	}
	if token := security.GetCookie(r, AccessTokenCookie); token != "" {
		return token, "cookie"
	}
	return "", "none"
}

func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

func DeviceFromRequest(r *http.Request) *security.DeviceInfo {
	d := &security.DeviceInfo{
		DeviceID: r.Header.Get(HeaderDeviceID),
		Model:    r.Header.Get(HeaderDeviceModel),
		Platform: r.Header.Get(HeaderDevicePlatform),
	}
	if d.Empty() {
		return nil
	}
	return d
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ClaimsContextKey).(*Principal)
	return p, ok && p != nil && p.Claims != nil
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, false
	}
	return p.Claims, true
}
