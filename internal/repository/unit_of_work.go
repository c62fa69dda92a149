package repository

import (
	"context"
	"database/sql"

	"gorm.io/gorm"
)

// TxRepositories are repositories bound to one database transaction.
type TxRepositories struct {
	Products     ProductRepository
	Customers    CustomerRepository
	Transactions TransactionRepository
	Audit        AuditRepository
}

// UnitOfWork runs fn atomically: every write made through the supplied
// repositories commits together or not at all.
type UnitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error
}

type GormUnitOfWork struct {
	db   *gorm.DB
	opts *sql.TxOptions
}

// NewUnitOfWork uses opts for every transaction; nil keeps the driver default.
func NewUnitOfWork(db *gorm.DB, opts *sql.TxOptions) *GormUnitOfWork {
	return &GormUnitOfWork{db: db, opts: opts}
}

func (u *GormUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, repos TxRepositories) error) error {
	var opts []*sql.TxOptions
	if u.opts != nil {
		opts = append(opts, u.opts)
	}
	err := u.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, TxRepositories{
			Products:     NewProductRepository(tx),
			Customers:    NewCustomerRepository(tx),
			Transactions: NewTransactionRepository(tx),
			Audit:        NewAuditRepository(tx),
		})
	}, opts...)
	record(ctx, "unit_of_work", "commit", err)
	return err
}
