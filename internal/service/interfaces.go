package service

import (
	"context"

	"github.com/sandeepkv93/pos-trust-core/internal/security"
)

type AuthServiceInterface interface {
	Authenticate(ctx context.Context, in LoginInput) (*LoginResult, error)
	Refresh(ctx context.Context, refreshToken string, meta RequestMeta) (*TokenPair, error)
	Revoke(ctx context.Context, token string, meta RequestMeta) error
	RevokeAll(ctx context.Context, userID string, meta RequestMeta) (int, error)
}

type AccessVerifier interface {
	VerifyAccess(ctx context.Context, raw string, device *security.DeviceInfo) (*security.Claims, error)
}

type LedgerServiceInterface interface {
	Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error)
	VerifyIntegrity(ctx context.Context, transactionID string) (*IntegrityReport, error)
}

var (
	_ AuthServiceInterface   = (*AuthService)(nil)
	_ AccessVerifier         = (*TokenService)(nil)
	_ LedgerServiceInterface = (*TransactionLedger)(nil)
)
