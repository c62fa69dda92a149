package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"

	"gorm.io/gorm"
)

var ErrTransactionNotFound = errors.New("transaction not found")

type TransactionRepository interface {
	// Create inserts the transaction header only; line items are written
	// with CreateLineItem.
	Create(ctx context.Context, tx *domain.Transaction) error
	CreateLineItem(ctx context.Context, item *domain.LineItem) error
	FindByID(ctx context.Context, id string) (*domain.Transaction, error)
	CountRecentByEmployee(ctx context.Context, employeeID string, since time.Time) (int64, error)
}

type GormTransactionRepository struct{ db *gorm.DB }

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &GormTransactionRepository{db: db}
}

func (r *GormTransactionRepository) Create(ctx context.Context, tx *domain.Transaction) error {
	err := r.db.WithContext(ctx).Omit("LineItems", "Employee", "Customer").Create(tx).Error
	record(ctx, "transaction", "create", err)
	return err
}

func (r *GormTransactionRepository) CreateLineItem(ctx context.Context, item *domain.LineItem) error {
	err := r.db.WithContext(ctx).Create(item).Error
	record(ctx, "line_item", "create", err)
	return err
}

func (r *GormTransactionRepository) FindByID(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("Employee").
		Preload("Customer").
		Where("id = ?", id).
		First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = ErrTransactionNotFound
	}
	record(ctx, "transaction", "find_by_id", err, ErrTransactionNotFound)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func (r *GormTransactionRepository) CountRecentByEmployee(ctx context.Context, employeeID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&domain.Transaction{}).
		Where("employee_id = ? AND created_at >= ?", employeeID, since).
		Count(&n).Error
	record(ctx, "transaction", "count_recent_by_employee", err)
	return n, err
}
