package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/repository"
	"github.com/sandeepkv93/pos-trust-core/internal/service"
)

func checkoutBody(lines []map[string]any, extra map[string]any) map[string]any {
	body := map[string]any{
		"lines":   lines,
		"payment": map[string]any{"method": "card", "card_brand": "visa", "card_last4": "4242"},
	}
	for k, v := range extra {
		body[k] = v
	}
	return body
}

func line(productID string, qty int) map[string]any {
	return map[string]any{"product_id": productID, "quantity": qty}
}

func TestCheckoutCommitAndIntegrity(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seedUser(t, "cashier1", domain.RoleCashier)
	e.seedUser(t, "manager1", domain.RoleManager)
	e.seedProduct(t, "p-milk", 349, 10, false)
	e.seedProduct(t, "p-bread", 275, 4, false)
	e.seedCustomer(t, "cust-1", "Jane Doe", "jane@example.com")
	plain := &http.Client{}

	cashier := login(t, e, plain, "cashier1", nil)
	resp, env := doJSON(t, plain, http.MethodPost, e.baseURL+"/api/v1/checkout",
		checkoutBody([]map[string]any{line("p-milk", 2), line("p-bread", 1)}, map[string]any{"customer_id": "cust-1"}),
		bearer(cashier.Tokens.AccessToken))
	if resp.StatusCode != http.StatusCreated || !env.Success {
		t.Fatalf("checkout failed: status=%d code=%s", resp.StatusCode, env.code())
	}
	var result service.CheckoutResult
	if err := json.Unmarshal(env.Data, &result); err != nil {
		t.Fatalf("decode checkout: %v", err)
	}
	tx := result.Transaction
	if tx == nil || tx.ID == "" {
		t.Fatalf("expected committed transaction, got %+v", result)
	}
	if tx.Subtotal != 973 || tx.Total != tx.Subtotal+tx.Tax {
		t.Fatalf("unexpected totals: subtotal=%d tax=%d total=%d", tx.Subtotal, tx.Tax, tx.Total)
	}
	if len(tx.LineItems) != 2 || tx.LineItems[0].IntegrityHash == "" {
		t.Fatalf("expected hashed line items, got %+v", tx.LineItems)
	}
	if tx.Payment.CardLast4 != "4242" || tx.EmployeeID != "user-cashier1" || tx.StoreID != "store-1" {
		t.Fatalf("unexpected transaction header: %+v", tx)
	}
	if result.Customer == nil || result.Customer.MaskedEmail != "j***@example.com" {
		t.Fatalf("expected masked customer email, got %+v", result.Customer)
	}
	if result.ReceiptSignature == "" {
		t.Fatal("expected receipt signature")
	}

	products := repository.NewProductRepository(e.db)
	milk, err := products.FindByID(context.Background(), "p-milk")
	if err != nil {
		t.Fatalf("load product: %v", err)
	}
	if milk.Quantity != 8 {
		t.Fatalf("expected stock decrement to 8, got %d", milk.Quantity)
	}
	if got := e.auditCount(t, "transaction_completed"); got != 1 {
		t.Fatalf("expected one transaction_completed event, got %d", got)
	}

	integrityURL := e.baseURL + "/api/v1/transactions/" + tx.ID + "/integrity"
	resp, env = doJSON(t, plain, http.MethodGet, integrityURL, nil, bearer(cashier.Tokens.AccessToken))
	if resp.StatusCode != http.StatusForbidden || env.code() != "FORBIDDEN" {
		t.Fatalf("cashier integrity check: status=%d code=%s", resp.StatusCode, env.code())
	}
	if got := e.auditCount(t, "access_denied"); got != 1 {
		t.Fatalf("expected one access_denied event, got %d", got)
	}

	manager := login(t, e, plain, "manager1", nil)
	report := verifyIntegrity(t, e, plain, integrityURL, manager.Tokens.AccessToken)
	if !report.IntegrityValid || len(report.Lines) != 2 {
		t.Fatalf("expected intact transaction, got %+v", report)
	}

	if err := e.db.Model(&domain.LineItem{}).
		Where("transaction_id = ? AND product_id = ?", tx.ID, "p-bread").
		Update("unit_price", 1).Error; err != nil {
		t.Fatalf("tamper line item: %v", err)
	}
	report = verifyIntegrity(t, e, plain, integrityURL, manager.Tokens.AccessToken)
	if report.IntegrityValid {
		t.Fatal("expected tampered transaction to fail verification")
	}
	for _, l := range report.Lines {
		if want := l.ProductID != "p-bread"; l.IntegrityValid != want {
			t.Fatalf("line %s integrity=%v, want %v", l.ProductID, l.IntegrityValid, want)
		}
	}
	if got := e.auditCount(t, "integrity_mismatch"); got != 1 {
		t.Fatalf("expected one integrity_mismatch event, got %d", got)
	}
}

func verifyIntegrity(t *testing.T, e *testEnv, client *http.Client, url, token string) service.IntegrityReport {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodGet, url, nil, bearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("integrity check: status=%d code=%s", resp.StatusCode, env.code())
	}
	var report service.IntegrityReport
	if err := json.Unmarshal(env.Data, &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	return report
}

func TestCheckoutRejections(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seedUser(t, "cashier1", domain.RoleCashier)
	e.seedProduct(t, "p-wine", 1299, 3, true)
	e.seedProduct(t, "p-gum", 99, 1, false)
	plain := &http.Client{}
	token := login(t, e, plain, "cashier1", nil).Tokens.AccessToken

	tests := []struct {
		name       string
		body       map[string]any
		wantStatus int
		wantCode   string
	}{
		{
			name:       "age restricted without verification",
			body:       checkoutBody([]map[string]any{line("p-wine", 1)}, nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   "AGE_VERIFICATION_REQUIRED",
		},
		{
			name:       "insufficient stock",
			body:       checkoutBody([]map[string]any{line("p-gum", 2)}, nil),
			wantStatus: http.StatusConflict,
			wantCode:   "INSUFFICIENT_STOCK",
		},
		{
			name:       "unknown product",
			body:       checkoutBody([]map[string]any{line("p-none", 1)}, nil),
			wantStatus: http.StatusBadRequest,
			wantCode:   "PRODUCT_NOT_FOUND",
		},
		{
			name: "raw card number",
			body: map[string]any{
				"lines":   []map[string]any{line("p-gum", 1)},
				"payment": map[string]any{"method": "card", "card_number": "4242424242424242"},
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_FAILED",
		},
		{
			name:       "unknown customer",
			body:       checkoutBody([]map[string]any{line("p-gum", 1)}, map[string]any{"customer_id": "cust-missing"}),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_CUSTOMER",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, env := doJSON(t, plain, http.MethodPost, e.baseURL+"/api/v1/checkout", tc.body, bearer(token))
			if resp.StatusCode != tc.wantStatus || env.code() != tc.wantCode {
				t.Fatalf("status=%d code=%s, want %d %s", resp.StatusCode, env.code(), tc.wantStatus, tc.wantCode)
			}
		})
	}

	gum, err := repository.NewProductRepository(e.db).FindByID(context.Background(), "p-gum")
	if err != nil {
		t.Fatalf("load product: %v", err)
	}
	if gum.Quantity != 1 {
		t.Fatalf("rejected checkouts must not touch stock, got %d", gum.Quantity)
	}

	resp, env := doJSON(t, plain, http.MethodPost, e.baseURL+"/api/v1/checkout",
		checkoutBody([]map[string]any{line("p-wine", 1)}, map[string]any{"age_verified": true}), bearer(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("verified age-restricted checkout: status=%d code=%s", resp.StatusCode, env.code())
	}
}

func TestCookieCheckoutRequiresCSRF(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seedUser(t, "cashier1", domain.RoleCashier)
	e.seedProduct(t, "p-gum", 99, 5, false)

	data := login(t, e, e.client, "cashier1", nil)
	body := checkoutBody([]map[string]any{line("p-gum", 1)}, nil)

	resp, env := doJSON(t, e.client, http.MethodPost, e.baseURL+"/api/v1/checkout", body, nil)
	if resp.StatusCode != http.StatusForbidden || env.code() != "CSRF_MISMATCH" {
		t.Fatalf("cookie checkout without csrf: status=%d code=%s", resp.StatusCode, env.code())
	}
	resp, env = doJSON(t, e.client, http.MethodPost, e.baseURL+"/api/v1/checkout", body, map[string]string{"X-CSRF-Token": data.CSRFToken})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("cookie checkout with csrf: status=%d code=%s", resp.StatusCode, env.code())
	}
}
