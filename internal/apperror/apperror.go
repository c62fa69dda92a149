// Package apperror defines the error taxonomy shared by the trust core and its
// transport bindings.
package apperror

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindConflict       Kind = "conflict"
	KindRateLimit      Kind = "rate_limit"
	KindIntegrity      Kind = "integrity"
	KindInternal       Kind = "internal"
)

// Error is a typed, code-addressable failure. Two errors are considered equal by
// errors.Is when their codes match, so copies carrying details still match the
// package sentinels.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of e carrying the given details.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Wrap returns a copy of e with cause attached.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindIntegrity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// From extracts an *Error from err, mapping anything untyped to ErrInternal.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err)
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

var (
	ErrValidation = New(KindValidation, "VALIDATION_FAILED", "validation failed")

	ErrInvalidCredentials = New(KindAuthentication, "INVALID_CREDENTIALS", "invalid credentials")
	ErrAccountDisabled    = New(KindAuthentication, "ACCOUNT_DISABLED", "account disabled")
	ErrTokenInvalid       = New(KindAuthentication, "TOKEN_INVALID", "invalid token")
	ErrTokenExpired       = New(KindAuthentication, "TOKEN_EXPIRED", "token expired")
	ErrTokenRevoked       = New(KindAuthentication, "TOKEN_REVOKED", "token revoked")
	ErrDeviceMismatch     = New(KindAuthentication, "DEVICE_MISMATCH", "device fingerprint mismatch")
	ErrInvalidTokenType   = New(KindAuthentication, "INVALID_TOKEN_TYPE", "unexpected token type")
	ErrRefreshExpired     = New(KindAuthentication, "REFRESH_TOKEN_EXPIRED", "refresh token expired")
	ErrRefreshRevoked     = New(KindAuthentication, "REFRESH_TOKEN_REVOKED", "refresh token revoked")

	ErrForbidden = New(KindAuthorization, "FORBIDDEN", "insufficient role")

	ErrAccountLocked = New(KindRateLimit, "ACCOUNT_LOCKED", "account temporarily locked")
	ErrRateLimited   = New(KindRateLimit, "RATE_LIMITED", "too many requests")

	ErrProductNotFound                = New(KindValidation, "PRODUCT_NOT_FOUND", "product not found")
	ErrAgeVerificationRequired        = New(KindValidation, "AGE_VERIFICATION_REQUIRED", "age verification required")
	ErrInvalidCustomer                = New(KindValidation, "INVALID_CUSTOMER", "customer is missing or inactive")
	ErrAdditionalVerificationRequired = New(KindAuthorization, "ADDITIONAL_VERIFICATION_REQUIRED", "transaction requires manager approval")
	ErrInsufficientStock              = New(KindConflict, "INSUFFICIENT_STOCK", "insufficient stock")
	ErrTransactionNotFound            = New(KindValidation, "TRANSACTION_NOT_FOUND", "transaction not found")

	ErrCSRFMismatch     = New(KindAuthorization, "CSRF_MISMATCH", "csrf validation failed")
	ErrDecryptionFailed = New(KindIntegrity, "DECRYPTION_FAILED", "decryption failed")
	ErrEncryptionFailed = New(KindInternal, "ENCRYPTION_FAILED", "encryption unavailable")

	ErrCommitTimeout = New(KindInternal, "COMMIT_TIMEOUT", "checkout commit timed out")
	ErrInternal      = New(KindInternal, "INTERNAL", "internal error")
)
