package repository

import (
	"context"
	"errors"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"

	"gorm.io/gorm"
)

var ErrProductNotFound = errors.New("product not found")

type ProductRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Product, error)
	Create(ctx context.Context, p *domain.Product) error
	// DecrementStock removes qty units only while at least qty remain. It
	// reports false when the condition no longer holds.
	DecrementStock(ctx context.Context, id string, qty int64) (bool, error)
}

type GormProductRepository struct{ db *gorm.DB }

func NewProductRepository(db *gorm.DB) ProductRepository { return &GormProductRepository{db: db} }

func (r *GormProductRepository) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrProductNotFound
	}
	record(ctx, "product", "find_by_id", err, ErrProductNotFound)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormProductRepository) Create(ctx context.Context, p *domain.Product) error {
	err := r.db.WithContext(ctx).Create(p).Error
	record(ctx, "product", "create", err)
	return err
}

func (r *GormProductRepository) DecrementStock(ctx context.Context, id string, qty int64) (bool, error) {
	res := r.db.WithContext(ctx).Model(&domain.Product{}).
		Where("id = ? AND quantity >= ?", id, qty).
		Updates(map[string]any{
			"quantity": gorm.Expr("quantity - ?", qty),
			"version":  gorm.Expr("version + 1"),
		})
	record(ctx, "product", "decrement_stock", res.Error)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
