package service

import (
	"errors"
	"testing"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
)

func centsOf(v int64) domain.Cents { return domain.Cents(v) }

func TestParsePaymentAccepts(t *testing.T) {
	p, err := ParsePayment(map[string]any{
		"method":            "CARD",
		"card_brand":        "visa",
		"card_last4":        "4242",
		"authorization_ref": "auth-ABC-123",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.Method != domain.PaymentCard || p.CardLast4 != "4242" || p.AuthorizationRef != "auth-ABC-123" {
		t.Fatalf("unexpected payment: %+v", p)
	}
	if _, err := ParsePayment(map[string]any{"method": "cash"}); err != nil {
		t.Fatalf("cash: %v", err)
	}
}

func TestParsePaymentRejects(t *testing.T) {
	cases := []struct {
		name  string
		raw   map[string]any
		field string
	}{
		{"cvv", map[string]any{"method": "card", "card_last4": "4242", "cvv": "123"}, "payment.cvv"},
		{"full pan key", map[string]any{"method": "card", "card_last4": "4242", "card_number": "4242"}, "payment.card_number"},
		{"track data", map[string]any{"method": "card", "card_last4": "4242", "track2": "x"}, "payment.track2"},
		{"unknown key", map[string]any{"method": "cash", "note": "hi"}, "payment.note"},
		{"non string", map[string]any{"method": 7}, "payment.method"},
		{"bad method", map[string]any{"method": "barter"}, "payment.method"},
		{"pan in reference", map[string]any{"method": "mobile", "authorization_ref": "4242424242424242"}, "payment.authorization_ref"},
		{"short last4", map[string]any{"method": "card", "card_last4": "42"}, "payment.card_last4"},
		{"card without last4", map[string]any{"method": "card"}, "payment.card_last4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParsePayment(tc.raw)
			var appErr *apperror.Error
			if !errors.As(err, &appErr) || appErr.Code != apperror.ErrValidation.Code {
				t.Fatalf("expected validation error, got %v", err)
			}
			if appErr.Details["field"] != tc.field {
				t.Fatalf("field = %v, want %s", appErr.Details["field"], tc.field)
			}
		})
	}
}

func TestTaxRatesApply(t *testing.T) {
	rates := TaxRates{BaseBPS: 800, RestrictedSurtaxBPS: 500}
	if got := rates.Apply(1000, 0); got != 80 {
		t.Fatalf("base tax = %d, want 80", got)
	}
	// 8% of 2999 is 239.92 and 5% surtax on 999 is 49.95.
	if got := rates.Apply(2999, 999); got != 240+50 {
		t.Fatalf("tax = %d, want 290", got)
	}
}
