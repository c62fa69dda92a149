package handler

import (
	"net/http"
	"strings"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/http/middleware"
	"github.com/sandeepkv93/pos-trust-core/internal/http/response"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/service"
)

type AuthHandler struct {
	auth    service.AuthServiceInterface
	cookies CookieConfig
}

func NewAuthHandler(auth service.AuthServiceInterface, cookies CookieConfig) *AuthHandler {
	return &AuthHandler{auth: auth, cookies: cookies}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenRequest struct {
	RefreshToken string `json:"refresh_token,omitempty"`
	Token        string `json:"token,omitempty"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		response.AppError(w, r, err)
		return
	}
	result, err := h.auth.Authenticate(r.Context(), service.LoginInput{
		Username:  req.Username,
		Password:  req.Password,
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
		Device:    middleware.DeviceFromRequest(r),
	})
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	csrf, err := h.setAuthCookies(w, result.Tokens)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"tokens":     result.Tokens,
		"user":       result.User,
		"csrf_token": csrf,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			response.AppError(w, r, err)
			return
		}
	}
	raw := strings.TrimSpace(req.RefreshToken)
	if raw == "" {
		raw = security.GetCookie(r, middleware.RefreshTokenCookie)
	}
	if raw == "" {
		response.AppError(w, r, apperror.ErrValidation.WithDetails(map[string]any{"refresh_token": "is required"}))
		return
	}
	pair, err := h.auth.Refresh(r.Context(), raw, requestMeta(r))
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	csrf, err := h.setAuthCookies(w, pair)
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"tokens": pair, "csrf_token": csrf})
}

// Revoke logs out the presented token. It accepts the token from the body, a
// bearer header, or the auth cookies, and always clears the cookies.
func (h *AuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			response.AppError(w, r, err)
			return
		}
	}
	raw := firstNonEmpty(
		req.Token,
		req.RefreshToken,
		middleware.BearerToken(r),
		security.GetCookie(r, middleware.RefreshTokenCookie),
		security.GetCookie(r, middleware.AccessTokenCookie),
	)
	if raw == "" {
		response.AppError(w, r, apperror.ErrValidation.WithDetails(map[string]any{"token": "is required"}))
		return
	}
	if err := h.auth.Revoke(r.Context(), raw, requestMeta(r)); err != nil {
		response.AppError(w, r, err)
		return
	}
	for _, name := range []string{middleware.AccessTokenCookie, middleware.RefreshTokenCookie, middleware.CSRFTokenCookie} {
		clearCookie(w, h.cookies, name)
	}
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "revoked"})
}

// RevokeAll signs the authenticated caller out of every session.
func (h *AuthHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.AppError(w, r, apperror.ErrTokenInvalid)
		return
	}
	n, err := h.auth.RevokeAll(r.Context(), claims.UserID(), requestMeta(r))
	if err != nil {
		response.AppError(w, r, err)
		return
	}
	for _, name := range []string{middleware.AccessTokenCookie, middleware.RefreshTokenCookie, middleware.CSRFTokenCookie} {
		clearCookie(w, h.cookies, name)
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"status": "revoked", "sessions": n})
}

func (h *AuthHandler) setAuthCookies(w http.ResponseWriter, pair *service.TokenPair) (string, error) {
	csrf, err := security.NewCSRFToken(h.cookies.CSRFSecret)
	if err != nil {
		return "", apperror.ErrInternal.Wrap(err)
	}
	setCookie(w, h.cookies, middleware.AccessTokenCookie, pair.AccessToken, pair.AccessExpiresAt, true)
	setCookie(w, h.cookies, middleware.RefreshTokenCookie, pair.RefreshToken, pair.RefreshExpiresAt, true)
	setCookie(w, h.cookies, middleware.CSRFTokenCookie, csrf, pair.RefreshExpiresAt, false)
	return csrf, nil
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{IP: middleware.ClientIP(r), UserAgent: r.UserAgent()}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
