package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/audit"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/observability"
	"github.com/sandeepkv93/pos-trust-core/internal/repository"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
)

// Actor is the authenticated employee performing a ledger operation.
type Actor struct {
	ID      string
	StoreID string
	Role    domain.Role
}

type CartLine struct {
	ProductID string `json:"product_id"`
	Quantity  int64  `json:"quantity"`
}

type CheckoutInput struct {
	Actor       Actor
	Lines       []CartLine
	Payment     PaymentInput
	AgeVerified bool
	CustomerID  string
	Origin      string
	UserAgent   string
}

type EmployeeProjection struct {
	ID          string      `json:"id"`
	DisplayName string      `json:"display_name"`
	Role        domain.Role `json:"role"`
}

type CustomerProjection struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Tier          domain.LoyaltyTier `json:"tier"`
	LoyaltyPoints int64              `json:"loyalty_points"`
	MaskedEmail   string             `json:"masked_email,omitempty"`
}

type CheckoutResult struct {
	Transaction      *domain.Transaction   `json:"transaction"`
	Employee         *EmployeeProjection   `json:"employee,omitempty"`
	Customer         *CustomerProjection   `json:"customer,omitempty"`
	Risk             domain.RiskAssessment `json:"risk"`
	ReceiptSignature string                `json:"receipt_signature"`
}

type LineIntegrity struct {
	LineItemID     string       `json:"line_item_id"`
	Position       int          `json:"position"`
	ProductID      string       `json:"product_id"`
	Quantity       int64        `json:"quantity"`
	UnitPrice      domain.Cents `json:"unit_price"`
	LineTotal      domain.Cents `json:"line_total"`
	IntegrityValid bool         `json:"integrity_valid"`
}

type IntegrityReport struct {
	TransactionID  string          `json:"transaction_id"`
	IntegrityValid bool            `json:"integrity_valid"`
	Lines          []LineIntegrity `json:"lines"`
	CheckedAt      time.Time       `json:"checked_at"`
}

type LedgerDeps struct {
	Products     repository.ProductRepository
	Customers    repository.CustomerRepository
	Transactions repository.TransactionRepository
	UnitOfWork   repository.UnitOfWork
	Vault        *security.Vault
	Scorer       *FraudScorer
	Tax          TaxProvider
	Recorder     *audit.Recorder
	Logger       *slog.Logger
}

// TransactionLedger executes checkouts as a single atomic unit against shared
// inventory. A failed commit is never retried here; callers resubmit.
type TransactionLedger struct {
	LedgerDeps
	commitTimeout time.Duration
	now           func() time.Time
}

func NewTransactionLedger(deps LedgerDeps, commitTimeout time.Duration) *TransactionLedger {
	if commitTimeout <= 0 {
		commitTimeout = 30 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &TransactionLedger{LedgerDeps: deps, commitTimeout: commitTimeout, now: time.Now}
}

func (l *TransactionLedger) WithClock(now func() time.Time) *TransactionLedger {
	if now != nil {
		l.now = now
	}
	return l
}

type pricedLine struct {
	product   *domain.Product
	quantity  int64
	lineTotal domain.Cents
}

type draft struct {
	lines      []pricedLine
	subtotal   domain.Cents
	restricted domain.Cents
	tax        domain.Cents
	total      domain.Cents
	customer   *domain.Customer
	points     int64
}

func (l *TransactionLedger) Checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	start := l.now()
	ctx, span := observability.StartSpan(ctx, "ledger.checkout")
	defer span.End()

	result, outcome, err := l.checkout(ctx, in)
	observability.RecordCheckout(ctx, outcome, l.now().Sub(start).Seconds())
	if err != nil {
		span.RecordError(err)
	}
	return result, err
}

func (l *TransactionLedger) checkout(ctx context.Context, in CheckoutInput) (*CheckoutResult, string, error) {
	if err := validateCheckoutInput(in); err != nil {
		l.recordAbort(ctx, in, err, map[string]any{"lines": len(in.Lines)})
		return nil, "invalid", err
	}

	d, err := l.validateAndPrice(ctx, in)
	if err != nil {
		l.recordAbort(ctx, in, err, map[string]any{"lines": len(in.Lines)})
		return nil, "rejected", err
	}

	at := l.now().UTC()
	risk := l.Scorer.Score(ctx, FraudInput{ActorID: in.Actor.ID, Amount: d.total, PaymentMethod: in.Payment.Method, At: at})
	blocked := RequiresApproval(risk.Score)
	observability.RecordFraudScore(ctx, risk.Score, blocked)
	if blocked {
		l.Recorder.Record(ctx, audit.Event{
			Type:      audit.EventTransactionBlocked,
			ActorID:   in.Actor.ID,
			Origin:    in.Origin,
			UserAgent: in.UserAgent,
			Reason:    "risk score requires manager approval",
			Metadata:  map[string]any{"risk_score": risk.Score, "factors": risk.Factors, "total": int64(d.total)},
		})
		return nil, "blocked", apperror.ErrAdditionalVerificationRequired.WithDetails(map[string]any{
			"risk_score": risk.Score,
			"factors":    risk.Factors,
		})
	}

	tx, completed, err := l.commit(ctx, in, d, risk, at)
	if err != nil {
		l.recordAbort(ctx, in, err, map[string]any{"total": int64(d.total), "lines": len(d.lines)})
		return nil, "aborted", err
	}

	l.Recorder.Record(ctx, completed)
	return l.hydrate(ctx, tx, risk), "committed", nil
}

// recordAbort emits transaction_aborted with the error code as the reason.
func (l *TransactionLedger) recordAbort(ctx context.Context, in CheckoutInput, err error, meta map[string]any) {
	l.Recorder.Record(ctx, audit.Event{
		Type:      audit.EventTransactionAborted,
		ActorID:   in.Actor.ID,
		Origin:    in.Origin,
		UserAgent: in.UserAgent,
		Reason:    apperror.From(err).Code,
		Metadata:  meta,
	})
}

func validateCheckoutInput(in CheckoutInput) error {
	if in.Actor.ID == "" {
		return apperror.ErrValidation.WithDetails(map[string]any{"field": "actor"})
	}
	if len(in.Lines) == 0 {
		return apperror.ErrValidation.WithDetails(map[string]any{"field": "lines", "reason": "cart is empty"})
	}
	for i, line := range in.Lines {
		if strings.TrimSpace(line.ProductID) == "" || line.Quantity <= 0 {
			return apperror.ErrValidation.WithDetails(map[string]any{"field": fmt.Sprintf("lines[%d]", i), "reason": "product_id and a positive quantity are required"})
		}
	}
	return in.Payment.Validate()
}

// validateAndPrice builds the draft without side effects.
func (l *TransactionLedger) validateAndPrice(ctx context.Context, in CheckoutInput) (*draft, error) {
	d := &draft{lines: make([]pricedLine, 0, len(in.Lines))}
	restricted := false
	for _, line := range in.Lines {
		p, err := l.Products.FindByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, repository.ErrProductNotFound) {
				return nil, apperror.ErrProductNotFound.WithDetails(map[string]any{"product_id": line.ProductID})
			}
			return nil, fmt.Errorf("load product: %w", err)
		}
		if p.Quantity < line.Quantity {
			return nil, insufficientStock(p.ID, line.Quantity, p.Quantity)
		}
		restricted = restricted || p.AgeRestricted
		lineTotal := p.UnitPrice * domain.Cents(line.Quantity)
		d.lines = append(d.lines, pricedLine{product: p, quantity: line.Quantity, lineTotal: lineTotal})
		d.subtotal += lineTotal
		if p.AgeRestricted {
			d.restricted += lineTotal
		}
	}
	if restricted && !in.AgeVerified {
		return nil, apperror.ErrAgeVerificationRequired
	}

	rates, err := l.Tax.Rates(ctx, in.Actor.StoreID)
	if err != nil {
		return nil, fmt.Errorf("load tax rates: %w", err)
	}
	d.tax = rates.Apply(d.subtotal, d.restricted)
	d.total = d.subtotal + d.tax

	if in.CustomerID != "" {
		c, err := l.Customers.FindByID(ctx, in.CustomerID)
		if err != nil && !errors.Is(err, repository.ErrCustomerNotFound) {
			return nil, fmt.Errorf("load customer: %w", err)
		}
		if c == nil || !c.Active {
			return nil, apperror.ErrInvalidCustomer.WithDetails(map[string]any{"customer_id": in.CustomerID})
		}
		d.customer = c
		d.points = d.total.WholeUnits()
	}
	return d, nil
}

func (l *TransactionLedger) commit(ctx context.Context, in CheckoutInput, d *draft, risk domain.RiskAssessment, at time.Time) (*domain.Transaction, audit.Event, error) {
	txID := uuid.NewString()
	payment := domain.PaymentMetadata{
		Method:    in.Payment.Method,
		CardBrand: in.Payment.CardBrand,
		CardLast4: in.Payment.CardLast4,
	}
	if in.Payment.AuthorizationRef != "" {
		blob, err := l.Vault.Encrypt([]byte(in.Payment.AuthorizationRef), PaymentAAD(txID))
		if err != nil {
			return nil, audit.Event{}, err
		}
		payment.AuthorizationRef = blob
	}
	tx := &domain.Transaction{
		ID:                  txID,
		StoreID:             in.Actor.StoreID,
		EmployeeID:          in.Actor.ID,
		Subtotal:            d.subtotal,
		Tax:                 d.tax,
		Total:               d.total,
		Payment:             payment,
		Risk:                risk,
		LoyaltyPointsEarned: d.points,
		Status:              domain.TransactionCompleted,
		CreatedAt:           at,
	}
	if d.customer != nil {
		id := d.customer.ID
		tx.CustomerID = &id
	}

	var completed audit.Event
	commitCtx, cancel := context.WithTimeout(ctx, l.commitTimeout)
	defer cancel()

	err := l.UnitOfWork.Do(commitCtx, func(ctx context.Context, repos repository.TxRepositories) error {
		if err := repos.Transactions.Create(ctx, tx); err != nil {
			return fmt.Errorf("create transaction: %w", err)
		}
		for i, line := range d.lines {
			item := domain.LineItem{
				ID:            uuid.NewString(),
				TransactionID: txID,
				Position:      i + 1,
				ProductID:     line.product.ID,
				Quantity:      line.quantity,
				UnitPrice:     line.product.UnitPrice,
				LineTotal:     line.lineTotal,
				CreatedAt:     at,
			}
			item.IntegrityHash = l.Vault.HashLineItem(tupleOf(&item))
			if err := repos.Transactions.CreateLineItem(ctx, &item); err != nil {
				return fmt.Errorf("create line item: %w", err)
			}
			ok, err := repos.Products.DecrementStock(ctx, line.product.ID, line.quantity)
			if err != nil {
				return fmt.Errorf("decrement stock: %w", err)
			}
			if !ok {
				var available int64
				if p, err := repos.Products.FindByID(ctx, line.product.ID); err == nil {
					available = p.Quantity
				}
				return insufficientStock(line.product.ID, line.quantity, available)
			}
			tx.LineItems = append(tx.LineItems, item)
		}
		if d.customer != nil {
			if err := l.applyLoyalty(ctx, repos.Customers, d.customer.ID, d.points, d.total); err != nil {
				return err
			}
		}
		completed = completedEvent(tx, in, risk)
		if err := repos.Audit.Create(ctx, completed.ToDomain()); err != nil {
			return fmt.Errorf("write audit event: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, audit.Event{}, l.commitError(commitCtx, err)
	}
	return tx, completed, nil
}

func (l *TransactionLedger) applyLoyalty(ctx context.Context, customers repository.CustomerRepository, id string, points int64, spent domain.Cents) error {
	if err := customers.ApplyPurchase(ctx, id, points, spent); err != nil {
		if errors.Is(err, repository.ErrCustomerNotFound) {
			return apperror.ErrInvalidCustomer.WithDetails(map[string]any{"customer_id": id})
		}
		return fmt.Errorf("apply loyalty: %w", err)
	}
	c, err := customers.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("reload customer: %w", err)
	}
	if tier := domain.TierForSpend(c.TotalSpent); tier != c.Tier {
		if _, err := customers.UpdateTier(ctx, id, c.Tier, tier); err != nil {
			return fmt.Errorf("update tier: %w", err)
		}
	}
	return nil
}

// commitError maps a failed commit onto the error taxonomy. Deadline expiry
// is an abort, never a partial success.
func (l *TransactionLedger) commitError(commitCtx context.Context, err error) error {
	var appErr *apperror.Error
	if errors.As(err, &appErr) && appErr.Kind != apperror.KindInternal {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(commitCtx.Err(), context.DeadlineExceeded) {
		return apperror.ErrCommitTimeout.Wrap(err)
	}
	if appErr != nil {
		return err
	}
	return apperror.ErrInternal.Wrap(err)
}

func (l *TransactionLedger) hydrate(ctx context.Context, tx *domain.Transaction, risk domain.RiskAssessment) *CheckoutResult {
	loaded, err := l.Transactions.FindByID(ctx, tx.ID)
	if err != nil {
		l.Logger.WarnContext(ctx, "reload committed transaction", "transaction_id", tx.ID, "error", err)
		loaded = tx
	}
	res := &CheckoutResult{Transaction: loaded, Risk: risk, ReceiptSignature: l.receiptSignature(loaded)}
	if loaded.Employee != nil {
		res.Employee = &EmployeeProjection{ID: loaded.Employee.ID, DisplayName: loaded.Employee.DisplayName, Role: loaded.Employee.Role}
	}
	if loaded.Customer != nil {
		res.Customer = l.projectCustomer(ctx, loaded.Customer)
	}
	return res
}

func (l *TransactionLedger) projectCustomer(ctx context.Context, c *domain.Customer) *CustomerProjection {
	proj := &CustomerProjection{ID: c.ID, Name: c.Name, Tier: c.Tier, LoyaltyPoints: c.LoyaltyPoints}
	if c.EmailEncrypted == nil {
		return proj
	}
	email, err := l.Vault.Decrypt(c.EmailEncrypted, CustomerFieldAAD(c.ID, "email"))
	if err != nil {
		l.Recorder.Record(ctx, audit.Event{
			Type:       audit.EventDecryptionFailed,
			Reason:     "customer email failed authentication",
			ResourceID: c.ID,
		})
		return proj
	}
	proj.MaskedEmail = MaskEmail(string(email))
	return proj
}

func (l *TransactionLedger) receiptSignature(tx *domain.Transaction) string {
	hashes := make([]string, 0, len(tx.LineItems)+2)
	hashes = append(hashes, tx.ID, tx.Total.String())
	for _, item := range tx.LineItems {
		hashes = append(hashes, item.IntegrityHash)
	}
	return l.Vault.Sign([]byte(strings.Join(hashes, "|")))
}

// VerifyIntegrity recomputes every line hash of a stored transaction. It is
// read-only: a mismatch is reported, not repaired.
func (l *TransactionLedger) VerifyIntegrity(ctx context.Context, transactionID string) (*IntegrityReport, error) {
	ctx, span := observability.StartSpan(ctx, "ledger.verify_integrity")
	defer span.End()

	tx, err := l.Transactions.FindByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, apperror.ErrTransactionNotFound.WithDetails(map[string]any{"transaction_id": transactionID})
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}
	report := &IntegrityReport{TransactionID: tx.ID, IntegrityValid: true, CheckedAt: l.now().UTC()}
	var tampered []string
	for i := range tx.LineItems {
		item := &tx.LineItems[i]
		valid := l.Vault.VerifyLineItem(tupleOf(item), item.IntegrityHash)
		if !valid {
			report.IntegrityValid = false
			tampered = append(tampered, item.ID)
		}
		report.Lines = append(report.Lines, LineIntegrity{
			LineItemID:     item.ID,
			Position:       item.Position,
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			UnitPrice:      item.UnitPrice,
			LineTotal:      item.LineTotal,
			IntegrityValid: valid,
		})
	}
	observability.RecordIntegrityCheck(ctx, report.IntegrityValid)
	if !report.IntegrityValid {
		l.Recorder.Record(ctx, audit.Event{
			Type:       audit.EventIntegrityMismatch,
			Reason:     fmt.Sprintf("%d of %d line items failed verification", len(tampered), len(tx.LineItems)),
			ResourceID: tx.ID,
			Metadata:   map[string]any{"line_item_ids": tampered},
		})
	}
	return report, nil
}

func tupleOf(item *domain.LineItem) security.LineItemTuple {
	return security.LineItemTuple{
		LineTotal: item.LineTotal,
		ProductID: item.ProductID,
		Quantity:  item.Quantity,
		UnitPrice: item.UnitPrice,
	}
}

func completedEvent(tx *domain.Transaction, in CheckoutInput, risk domain.RiskAssessment) audit.Event {
	return audit.Event{
		ID:         uuid.NewString(),
		Type:       audit.EventTransactionCompleted,
		ActorID:    in.Actor.ID,
		Origin:     in.Origin,
		UserAgent:  in.UserAgent,
		ResourceID: tx.ID,
		OccurredAt: tx.CreatedAt,
		Persisted:  true,
		Metadata: map[string]any{
			"store_id":       tx.StoreID,
			"subtotal":       int64(tx.Subtotal),
			"tax":            int64(tx.Tax),
			"total":          int64(tx.Total),
			"line_count":     len(in.Lines),
			"payment_method": string(tx.Payment.Method),
			"risk_score":     risk.Score,
			"risk_factors":   risk.Factors,
			"loyalty_points": tx.LoyaltyPointsEarned,
		},
	}
}

func insufficientStock(productID string, requested, available int64) error {
	return apperror.ErrInsufficientStock.WithDetails(map[string]any{
		"product_id": productID,
		"requested":  requested,
		"available":  available,
	})
}

func PaymentAAD(transactionID string) string {
	return "transaction:" + transactionID + ":payment"
}

func CustomerFieldAAD(customerID, field string) string {
	return "customer:" + customerID + ":" + field
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}
