package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
)

// PaymentInput is the already-tokenized payment data a terminal may submit.
type PaymentInput struct {
	Method           domain.PaymentMethod `json:"method"`
	CardBrand        string               `json:"card_brand,omitempty"`
	CardLast4        string               `json:"card_last4,omitempty"`
	AuthorizationRef string               `json:"authorization_ref,omitempty"`
}

var paymentFields = map[string]bool{
	"method":            true,
	"card_brand":        true,
	"card_last4":        true,
	"authorization_ref": true,
}

var sensitivePaymentKeys = []string{"cvv", "cvc", "cvn", "security_code", "pan", "card_number", "track"}

// ParsePayment accepts only the PCI-safe payment keys. Raw card data is
// rejected outright rather than dropped.
func ParsePayment(raw map[string]any) (PaymentInput, error) {
	var p PaymentInput
	for key, value := range raw {
		k := strings.ToLower(strings.TrimSpace(key))
		for _, s := range sensitivePaymentKeys {
			if strings.Contains(k, s) {
				return PaymentInput{}, paymentError(key, "sensitive card data is not accepted")
			}
		}
		if !paymentFields[k] {
			return PaymentInput{}, paymentError(key, "unknown payment field")
		}
		str, ok := value.(string)
		if !ok {
			return PaymentInput{}, paymentError(key, "must be a string")
		}
		switch k {
		case "method":
			p.Method = domain.PaymentMethod(strings.ToLower(strings.TrimSpace(str)))
		case "card_brand":
			p.CardBrand = strings.TrimSpace(str)
		case "card_last4":
			p.CardLast4 = strings.TrimSpace(str)
		case "authorization_ref":
			p.AuthorizationRef = strings.TrimSpace(str)
		}
	}
	return p, p.Validate()
}

func (p PaymentInput) Validate() error {
	if !p.Method.Valid() {
		return paymentError("method", fmt.Sprintf("unsupported payment method %q", p.Method))
	}
	for field, v := range map[string]string{
		"card_brand":        p.CardBrand,
		"card_last4":        p.CardLast4,
		"authorization_ref": p.AuthorizationRef,
	} {
		if longestDigitRun(v) >= 12 {
			return paymentError(field, "looks like a full card number")
		}
	}
	if p.CardLast4 != "" && (len(p.CardLast4) != 4 || longestDigitRun(p.CardLast4) != 4) {
		return paymentError("card_last4", "must be exactly 4 digits")
	}
	if p.Method == domain.PaymentCard && p.CardLast4 == "" {
		return paymentError("card_last4", "required for card payments")
	}
	return nil
}

func paymentError(field, reason string) error {
	return apperror.ErrValidation.WithDetails(map[string]any{"field": "payment." + field, "reason": reason})
}

func longestDigitRun(s string) int {
	best, run := 0, 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			run++
			if run > best {
				best = run
			}
			continue
		}
		run = 0
	}
	return best
}
