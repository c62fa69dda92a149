package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"

	"gorm.io/gorm"
)

var ErrCustomerNotFound = errors.New("customer not found")

type CustomerRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Customer, error)
	Create(ctx context.Context, c *domain.Customer) error
	// ApplyPurchase increments loyalty and spend counters in place.
	ApplyPurchase(ctx context.Context, id string, points int64, spent domain.Cents) error
	// UpdateTier moves the customer from one tier to another; it reports
	// false when the stored tier is no longer from.
	UpdateTier(ctx context.Context, id string, from, to domain.LoyaltyTier) (bool, error)
}

type GormCustomerRepository struct{ db *gorm.DB }

func NewCustomerRepository(db *gorm.DB) CustomerRepository { return &GormCustomerRepository{db: db} }

func (r *GormCustomerRepository) FindByID(ctx context.Context, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrCustomerNotFound
	}
	record(ctx, "customer", "find_by_id", err, ErrCustomerNotFound)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *GormCustomerRepository) Create(ctx context.Context, c *domain.Customer) error {
	err := r.db.WithContext(ctx).Create(c).Error
	record(ctx, "customer", "create", err)
	return err
}

func (r *GormCustomerRepository) ApplyPurchase(ctx context.Context, id string, points int64, spent domain.Cents) error {
	res := r.db.WithContext(ctx).Model(&domain.Customer{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"loyalty_points":         gorm.Expr("loyalty_points + ?", points),
			"lifetime_points_earned": gorm.Expr("lifetime_points_earned + ?", points),
			"total_spent":            gorm.Expr("total_spent + ?", int64(spent)),
			"transaction_count":      gorm.Expr("transaction_count + 1"),
		})
	err := res.Error
	if err == nil && res.RowsAffected == 0 {
		err = ErrCustomerNotFound
	}
	record(ctx, "customer", "apply_purchase", err, ErrCustomerNotFound)
	return err
}

func (r *GormCustomerRepository) UpdateTier(ctx context.Context, id string, from, to domain.LoyaltyTier) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Customer{}).
		Where("id = ? AND tier = ?", id, from).
		Update("tier", to)
	record(ctx, "customer", "update_tier", res.Error)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
