// Package handler binds the ledger and auth operations to HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/http/middleware"
)

// CookieConfig controls the auth cookies set on login and refresh.
type CookieConfig struct {
	Secure     bool
	CSRFSecret []byte
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.ErrValidation.WithDetails(map[string]any{"body": "request body is required"})
		}
		return apperror.ErrValidation.Wrap(err).WithDetails(map[string]any{"body": "malformed json"})
	}
	return nil
}

func setCookie(w http.ResponseWriter, cfg CookieConfig, name, value string, expires time.Time, httpOnly bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: httpOnly,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearCookie(w http.ResponseWriter, cfg CookieConfig, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: name != middleware.CSRFTokenCookie,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}
