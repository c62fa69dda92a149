package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/sandeepkv93/pos-trust-core/internal/apperror"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/http/middleware"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/service"
)

var testCookies = CookieConfig{CSRFSecret: []byte("handler-test-csrf-secret-0123456789")}

type stubAuth struct {
	login       service.LoginInput
	refreshRaw  string
	revokedRaw  string
	revokedUser string
	err         error
}

func (s *stubAuth) Authenticate(_ context.Context, in service.LoginInput) (*service.LoginResult, error) {
	s.login = in
	if s.err != nil {
		return nil, s.err
	}
	return &service.LoginResult{Tokens: testPair(), User: domain.UserView{ID: "u1", Username: in.Username}}, nil
}

func (s *stubAuth) Refresh(_ context.Context, raw string, _ service.RequestMeta) (*service.TokenPair, error) {
	s.refreshRaw = raw
	if s.err != nil {
		return nil, s.err
	}
	return testPair(), nil
}

func (s *stubAuth) Revoke(_ context.Context, raw string, _ service.RequestMeta) error {
	s.revokedRaw = raw
	return s.err
}

func (s *stubAuth) RevokeAll(_ context.Context, userID string, _ service.RequestMeta) (int, error) {
	s.revokedUser = userID
	if s.err != nil {
		return 0, s.err
	}
	return 3, nil
}

type stubLedger struct {
	in     service.CheckoutInput
	report *service.IntegrityReport
	err    error
}

func (s *stubLedger) Checkout(_ context.Context, in service.CheckoutInput) (*service.CheckoutResult, error) {
	s.in = in
	if s.err != nil {
		return nil, s.err
	}
	return &service.CheckoutResult{Transaction: &domain.Transaction{ID: "txn-1"}, ReceiptSignature: "sig"}, nil
}

func (s *stubLedger) VerifyIntegrity(_ context.Context, id string) (*service.IntegrityReport, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.report, nil
}

func testPair() *service.TokenPair {
	now := time.Now()
	return &service.TokenPair{
		AccessToken:      "access-1",
		RefreshToken:     "refresh-1",
		AccessExpiresAt:  now.Add(15 * time.Minute),
		RefreshExpiresAt: now.Add(time.Hour),
		SessionID:        "sess-1",
	}
}

func decodeEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v (%s)", err, rr.Body.String())
	}
	return body
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeEnvelope(t, rr)
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func withPrincipal(r *http.Request, userID, role string) *http.Request {
	claims := &security.Claims{Role: role, StoreID: "store-1", RegisteredClaims: jwt.RegisteredClaims{Subject: userID}}
	return r.WithContext(context.WithValue(r.Context(), middleware.ClaimsContextKey, &middleware.Principal{Claims: claims, Source: "bearer"}))
}

func TestLoginSetsCookies(t *testing.T) {
	auth := &stubAuth{}
	h := NewAuthHandler(auth, testCookies)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"alice","password":"pw"}`))
	req.RemoteAddr = "192.0.2.10:1234"
	req.Header.Set(middleware.HeaderDeviceID, "term-1")
	rr := httptest.NewRecorder()
	h.Login(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if auth.login.IP != "192.0.2.10" || auth.login.Device == nil || auth.login.Device.DeviceID != "term-1" {
		t.Fatalf("unexpected login input: %+v", auth.login)
	}
	cookies := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		cookies[c.Name] = c
	}
	if c := cookies[middleware.AccessTokenCookie]; c == nil || c.Value != "access-1" || !c.HttpOnly {
		t.Fatalf("access cookie missing or not http-only: %+v", c)
	}
	if c := cookies[middleware.RefreshTokenCookie]; c == nil || !c.HttpOnly {
		t.Fatalf("refresh cookie missing or not http-only: %+v", c)
	}
	csrf := cookies[middleware.CSRFTokenCookie]
	if csrf == nil || csrf.HttpOnly || !security.VerifyCSRFToken(csrf.Value, testCookies.CSRFSecret) {
		t.Fatalf("csrf cookie must be readable and signed: %+v", csrf)
	}
	data := decodeEnvelope(t, rr)["data"].(map[string]any)
	if data["csrf_token"] != csrf.Value {
		t.Fatalf("csrf token in body does not match cookie")
	}
}

func TestLoginRejections(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"malformed body", `{"username":`, nil, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown field", `{"username":"a","password":"b","admin":true}`, nil, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"bad credentials", `{"username":"a","password":"b"}`, apperror.ErrInvalidCredentials, http.StatusUnauthorized, "INVALID_CREDENTIALS"},
		{"locked", `{"username":"a","password":"b"}`, apperror.ErrAccountLocked, http.StatusTooManyRequests, "ACCOUNT_LOCKED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewAuthHandler(&stubAuth{err: tc.err}, testCookies)
			rr := httptest.NewRecorder()
			h.Login(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(tc.body)))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, got)
			}
			if len(rr.Result().Cookies()) != 0 {
				t.Fatal("failed login must not set cookies")
			}
		})
	}
}

func TestRefreshPrefersBodyThenCookie(t *testing.T) {
	auth := &stubAuth{}
	h := NewAuthHandler(auth, testCookies)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
	req.AddCookie(&http.Cookie{Name: middleware.RefreshTokenCookie, Value: "cookie-refresh"})
	rr := httptest.NewRecorder()
	h.Refresh(rr, req)
	if rr.Code != http.StatusOK || auth.refreshRaw != "cookie-refresh" {
		t.Fatalf("cookie refresh: status=%d raw=%q", rr.Code, auth.refreshRaw)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", strings.NewReader(`{"refresh_token":"body-refresh"}`))
	req.AddCookie(&http.Cookie{Name: middleware.RefreshTokenCookie, Value: "cookie-refresh"})
	rr = httptest.NewRecorder()
	h.Refresh(rr, req)
	if rr.Code != http.StatusOK || auth.refreshRaw != "body-refresh" {
		t.Fatalf("body refresh: status=%d raw=%q", rr.Code, auth.refreshRaw)
	}

	rr = httptest.NewRecorder()
	h.Refresh(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing refresh token should be 400, got %d", rr.Code)
	}
}

func TestRevokeClearsCookies(t *testing.T) {
	auth := &stubAuth{}
	h := NewAuthHandler(auth, testCookies)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/revoke", nil)
	req.Header.Set("Authorization", "Bearer access-xyz")
	rr := httptest.NewRecorder()
	h.Revoke(rr, req)

	if rr.Code != http.StatusOK || auth.revokedRaw != "access-xyz" {
		t.Fatalf("status=%d revoked=%q", rr.Code, auth.revokedRaw)
	}
	cleared := 0
	for _, c := range rr.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared++
		}
	}
	if cleared != 3 {
		t.Fatalf("expected 3 cleared cookies, got %d", cleared)
	}
}

func TestRevokeAllUsesPrincipal(t *testing.T) {
	auth := &stubAuth{}
	h := NewAuthHandler(auth, testCookies)

	rr := httptest.NewRecorder()
	h.RevokeAll(rr, httptest.NewRequest(http.MethodPost, "/api/v1/auth/revoke-all", nil))
	if rr.Code != http.StatusUnauthorized || auth.revokedUser != "" {
		t.Fatalf("without principal: status=%d user=%q", rr.Code, auth.revokedUser)
	}

	rr = httptest.NewRecorder()
	h.RevokeAll(rr, withPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/auth/revoke-all", nil), "emp-1", "cashier"))
	if rr.Code != http.StatusOK || auth.revokedUser != "emp-1" {
		t.Fatalf("status=%d user=%q", rr.Code, auth.revokedUser)
	}
	if !strings.Contains(rr.Body.String(), `"sessions":3`) {
		t.Fatalf("expected session count in body: %s", rr.Body.String())
	}
	if n := len(rr.Result().Cookies()); n != 3 {
		t.Fatalf("expected 3 cleared cookies, got %d", n)
	}
}

func TestCheckoutBuildsActorFromClaims(t *testing.T) {
	ledger := &stubLedger{}
	h := NewCheckoutHandler(ledger)
	body := `{"lines":[{"product_id":"p1","quantity":2}],"payment":{"method":"card","card_brand":"visa","card_last4":"4242"},"age_verified":true,"customer_id":" c1 "}`

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body)), "emp-1", "cashier")
	rr := httptest.NewRecorder()
	h.Checkout(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	in := ledger.in
	if in.Actor.ID != "emp-1" || in.Actor.StoreID != "store-1" || in.Actor.Role != domain.RoleCashier {
		t.Fatalf("unexpected actor: %+v", in.Actor)
	}
	if len(in.Lines) != 1 || in.Lines[0].Quantity != 2 || !in.AgeVerified || in.CustomerID != "c1" {
		t.Fatalf("unexpected checkout input: %+v", in)
	}
	if in.Payment.CardLast4 != "4242" {
		t.Fatalf("payment not parsed: %+v", in.Payment)
	}
}

func TestCheckoutRejectsRawCardData(t *testing.T) {
	ledger := &stubLedger{}
	h := NewCheckoutHandler(ledger)
	body := `{"lines":[{"product_id":"p1","quantity":1}],"payment":{"method":"card","cvv":"123"}}`

	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body)), "emp-1", "cashier")
	rr := httptest.NewRecorder()
	h.Checkout(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if ledger.in.Actor.ID != "" {
		t.Fatal("ledger must not be called")
	}
}

func TestCheckoutMapsLedgerErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{apperror.ErrInsufficientStock, http.StatusConflict},
		{apperror.ErrAdditionalVerificationRequired, http.StatusForbidden},
		{apperror.ErrProductNotFound, http.StatusBadRequest},
	}
	for _, tc := range cases {
		h := NewCheckoutHandler(&stubLedger{err: tc.err})
		body := `{"lines":[{"product_id":"p1","quantity":1}],"payment":{"method":"cash"}}`
		req := withPrincipal(httptest.NewRequest(http.MethodPost, "/api/v1/checkout", strings.NewReader(body)), "emp-1", "cashier")
		rr := httptest.NewRecorder()
		h.Checkout(rr, req)
		if rr.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rr.Code)
		}
	}
}

func TestIntegrityUsesRouteParam(t *testing.T) {
	ledger := &stubLedger{report: &service.IntegrityReport{TransactionID: "txn-9", IntegrityValid: true}}
	r := chi.NewRouter()
	r.Get("/api/v1/transactions/{id}/integrity", NewCheckoutHandler(ledger).Integrity)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/transactions/txn-9/integrity", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	data := decodeEnvelope(t, rr)["data"].(map[string]any)
	if data["transaction_id"] != "txn-9" || data["integrity_valid"] != true {
		t.Fatalf("unexpected report: %+v", data)
	}

	ledger.err = apperror.ErrTransactionNotFound
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/transactions/missing/integrity", nil))
	if rr.Code != http.StatusBadRequest || errorCode(t, rr) != "TRANSACTION_NOT_FOUND" {
		t.Fatalf("unexpected status for missing transaction: %d", rr.Code)
	}
}
