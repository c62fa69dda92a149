package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"
)

func TestUserRepositoryUsernameIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newDBForTest(t))
	u := &domain.User{ID: "u1", Username: "  Alice ", PasswordHash: "x", Role: domain.RoleCashier, StoreID: "st1", Status: domain.UserStatusActive}
	if err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := repo.FindByUsername(ctx, "ALICE")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != "u1" || got.Username != "alice" {
		t.Fatalf("unexpected user %+v", got)
	}
	if _, err := repo.FindByUsername(ctx, "bob"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	at := time.Now().UTC()
	if err := repo.TouchLastLogin(ctx, "u1", at); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _ = repo.FindByID(ctx, "u1")
	if got.LastLoginAt == nil {
		t.Fatal("expected last login to be set")
	}
}

func TestProductRepositoryDecrementStockIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := NewProductRepository(newDBForTest(t))
	if err := repo.Create(ctx, &domain.Product{ID: "p1", SKU: "SKU-1", Name: "Widget", UnitPrice: 500, Quantity: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := repo.DecrementStock(ctx, "p1", 3)
	if err != nil || !ok {
		t.Fatalf("expected first decrement, ok=%v err=%v", ok, err)
	}
	ok, err = repo.DecrementStock(ctx, "p1", 3)
	if err != nil {
		t.Fatalf("second decrement: %v", err)
	}
	if ok {
		t.Fatal("expected decrement beyond stock to affect no rows")
	}
	p, err := repo.FindByID(ctx, "p1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if p.Quantity != 2 || p.Version != 1 {
		t.Fatalf("expected quantity 2 version 1, got %d %d", p.Quantity, p.Version)
	}
	if _, err := repo.FindByID(ctx, "nope"); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestCustomerRepositoryPersistsInactiveFlag(t *testing.T) {
	ctx := context.Background()
	repo := NewCustomerRepository(newDBForTest(t))
	for _, c := range []*domain.Customer{
		{ID: "open", Name: "Open", Active: true, Tier: domain.TierBronze},
		{ID: "closed", Name: "Closed", Active: false, Tier: domain.TierBronze},
	} {
		if err := repo.Create(ctx, c); err != nil {
			t.Fatalf("create %s: %v", c.ID, err)
		}
	}
	open, err := repo.FindByID(ctx, "open")
	if err != nil || !open.Active {
		t.Fatalf("expected active customer, got %+v err=%v", open, err)
	}
	closed, err := repo.FindByID(ctx, "closed")
	if err != nil {
		t.Fatalf("find closed: %v", err)
	}
	if closed.Active {
		t.Fatal("inactive customer was stored as active")
	}
}

func TestCustomerRepositoryApplyPurchaseAndTier(t *testing.T) {
	ctx := context.Background()
	repo := NewCustomerRepository(newDBForTest(t))
	if err := repo.Create(ctx, &domain.Customer{ID: "c1", Name: "Dana", Active: true, Tier: domain.TierBronze}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := repo.ApplyPurchase(ctx, "c1", 600, 60000); err != nil {
		t.Fatalf("apply: %v", err)
	}
	c, _ := repo.FindByID(ctx, "c1")
	if c.LoyaltyPoints != 600 || c.LifetimePointsEarned != 600 || c.TotalSpent != 60000 || c.TransactionCount != 1 {
		t.Fatalf("unexpected counters %+v", c)
	}
	ok, err := repo.UpdateTier(ctx, "c1", domain.TierBronze, domain.TierSilver)
	if err != nil || !ok {
		t.Fatalf("expected tier update, ok=%v err=%v", ok, err)
	}
	ok, _ = repo.UpdateTier(ctx, "c1", domain.TierBronze, domain.TierGold)
	if ok {
		t.Fatal("expected stale tier update to be rejected")
	}
	if err := repo.ApplyPurchase(ctx, "missing", 1, 1); !errors.Is(err, ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestTransactionRepositoryFindAndCount(t *testing.T) {
	ctx := context.Background()
	db := newDBForTest(t)
	repo := NewTransactionRepository(db)
	now := time.Now().UTC()

	for i, created := range []time.Time{now.Add(-10 * time.Minute), now.Add(-2 * time.Minute), now.Add(-time.Minute)} {
		tx := &domain.Transaction{
			ID:         "t" + string(rune('a'+i)),
			StoreID:    "st1",
			EmployeeID: "e1",
			Subtotal:   100,
			Total:      100,
			Payment:    domain.PaymentMetadata{Method: domain.PaymentCash},
			Status:     domain.TransactionCompleted,
			CreatedAt:  created,
		}
		if err := repo.Create(ctx, tx); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	for pos := 2; pos >= 1; pos-- {
		item := &domain.LineItem{ID: "li" + string(rune('0'+pos)), TransactionID: "ta", Position: pos, ProductID: "p1", Quantity: 1, UnitPrice: 50, LineTotal: 50, IntegrityHash: "h"}
		if err := repo.CreateLineItem(ctx, item); err != nil {
			t.Fatalf("create line item: %v", err)
		}
	}

	n, err := repo.CountRecentByEmployee(ctx, "e1", now.Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 recent transactions, got %d", n)
	}

	got, err := repo.FindByID(ctx, "ta")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got.LineItems) != 2 || got.LineItems[0].Position != 1 {
		t.Fatalf("expected line items ordered by position, got %+v", got.LineItems)
	}
	if _, err := repo.FindByID(ctx, "zz"); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestUnitOfWorkRollsBackEveryWriteOnError(t *testing.T) {
	ctx := context.Background()
	db := newDBForTest(t)
	products := NewProductRepository(db)
	if err := products.Create(ctx, &domain.Product{ID: "p1", SKU: "SKU-1", Name: "Widget", UnitPrice: 500, Quantity: 5}); err != nil {
		t.Fatalf("create: %v", err)
	}
	uow := NewUnitOfWork(db, nil)
	boom := errors.New("boom")

	err := uow.Do(ctx, func(ctx context.Context, repos TxRepositories) error {
		if ok, err := repos.Products.DecrementStock(ctx, "p1", 2); err != nil || !ok {
			t.Fatalf("decrement in tx: ok=%v err=%v", ok, err)
		}
		if err := repos.Audit.Create(ctx, &domain.AuditEvent{ID: "a1", Type: "transaction_completed", Severity: "info"}); err != nil {
			t.Fatalf("audit in tx: %v", err)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	p, _ := products.FindByID(ctx, "p1")
	if p.Quantity != 5 {
		t.Fatalf("expected rollback to restore quantity 5, got %d", p.Quantity)
	}
	events, _ := NewAuditRepository(db).ListByType(ctx, "transaction_completed", 10)
	if len(events) != 0 {
		t.Fatalf("expected audit row to be rolled back, got %d", len(events))
	}
}

func TestUnitOfWorkCommitsWithIsolationOptions(t *testing.T) {
	ctx := context.Background()
	db := newDBForTest(t)
	products := NewProductRepository(db)
	_ = products.Create(ctx, &domain.Product{ID: "p1", SKU: "SKU-1", Name: "Widget", UnitPrice: 500, Quantity: 5})
	uow := NewUnitOfWork(db, &sql.TxOptions{})

	err := uow.Do(ctx, func(ctx context.Context, repos TxRepositories) error {
		_, err := repos.Products.DecrementStock(ctx, "p1", 5)
		return err
	})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	p, _ := products.FindByID(ctx, "p1")
	if p.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", p.Quantity)
	}
}
