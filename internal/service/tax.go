package service

import (
	"context"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"
)

// TaxRates are expressed in basis points. The surtax applies only to the
// age-restricted portion of a sale.
type TaxRates struct {
	BaseBPS             int64
	RestrictedSurtaxBPS int64
}

type TaxProvider interface {
	Rates(ctx context.Context, storeID string) (TaxRates, error)
}

type StaticTaxProvider struct{ rates TaxRates }

func NewStaticTaxProvider(rates TaxRates) *StaticTaxProvider {
	return &StaticTaxProvider{rates: rates}
}

func (p *StaticTaxProvider) Rates(context.Context, string) (TaxRates, error) {
	return p.rates, nil
}

func (r TaxRates) Apply(subtotal, restrictedSubtotal domain.Cents) domain.Cents {
	return subtotal.ApplyBasisPoints(r.BaseBPS) + restrictedSubtotal.ApplyBasisPoints(r.RestrictedSurtaxBPS)
}
