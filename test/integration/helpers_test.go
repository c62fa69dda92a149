package integration

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"gorm.io/gorm"

	"github.com/sandeepkv93/pos-trust-core/internal/app"
	"github.com/sandeepkv93/pos-trust-core/internal/config"
	"github.com/sandeepkv93/pos-trust-core/internal/di"
	"github.com/sandeepkv93/pos-trust-core/internal/domain"
	"github.com/sandeepkv93/pos-trust-core/internal/repository"
	"github.com/sandeepkv93/pos-trust-core/internal/security"
	"github.com/sandeepkv93/pos-trust-core/internal/service"
)

const (
	testPassword   = "Register-Blue-42!"
	testHMACSecret = "integration-hmac-secret-0123456789abcdef"
)

var testFieldKey = bytes.Repeat([]byte{42}, 32)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func (e envelope) code() string {
	if e.Error == nil {
		return ""
	}
	return e.Error.Code
}

type testEnv struct {
	baseURL string
	client  *http.Client
	app     *app.App
	db      *gorm.DB
	redis   *miniredis.Miniredis
	vault   *security.Vault
}

// newTestEnv wires the full application over in-memory sqlite and miniredis.
func newTestEnv(t *testing.T, overrides map[string]string) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	env := map[string]string{
		"APP_ENV":                      "test",
		"DATABASE_URL":                 "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared",
		"REDIS_ADDR":                   mr.Addr(),
		"REDIS_PREFIX":                 "itest",
		"JWT_ACCESS_SECRET":            "integration-access-secret-0123456789",
		"JWT_REFRESH_SECRET":           "integration-refresh-secret-012345678",
		"HMAC_SECRET":                  testHMACSecret,
		"FIELD_ENCRYPTION_KEY":         base64.StdEncoding.EncodeToString(testFieldKey),
		"BCRYPT_COST":                  "4",
		"PASSWORD_VERIFY_MIN_DURATION": "0s",
		"STORE_TIMEZONE":               "UTC",
		"LOG_LEVEL":                    "error",
		"KAFKA_BROKERS":                "",
	}
	for k, v := range overrides {
		env[k] = v
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	a, cleanup, err := di.InitializeApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	srv := httptest.NewServer(a.Server.Handler)
	t.Cleanup(func() {
		srv.Close()
		_ = a.Shutdown(context.Background())
		cleanup()
	})

	vault, err := security.NewVault(testFieldKey, []byte(testHMACSecret))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	return &testEnv{baseURL: srv.URL, client: newClient(t), app: a, db: a.DB, redis: mr, vault: vault}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &http.Client{Jar: jar}
}

func (e *testEnv) seedUser(t *testing.T, username string, role domain.Role) *domain.User {
	t.Helper()
	hash, err := security.NewPasswordHasher(4, 0).Hash(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := &domain.User{
		ID:           "user-" + username,
		Username:     username,
		DisplayName:  strings.ToUpper(username[:1]) + username[1:],
		PasswordHash: hash.Hash,
		Role:         role,
		StoreID:      "store-1",
		Status:       domain.UserStatusActive,
	}
	if err := repository.NewUserRepository(e.db).Create(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func (e *testEnv) seedProduct(t *testing.T, id string, price domain.Cents, qty int64, restricted bool) {
	t.Helper()
	p := &domain.Product{ID: id, SKU: "SKU-" + id, Name: "Product " + id, UnitPrice: price, Quantity: qty, AgeRestricted: restricted}
	if err := repository.NewProductRepository(e.db).Create(context.Background(), p); err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func (e *testEnv) seedCustomer(t *testing.T, id, name, email string) {
	t.Helper()
	blob, err := e.vault.Encrypt([]byte(email), service.CustomerFieldAAD(id, "email"))
	if err != nil {
		t.Fatalf("encrypt email: %v", err)
	}
	c := &domain.Customer{ID: id, Name: name, EmailEncrypted: blob, Active: true, Tier: domain.TierBronze}
	if err := repository.NewCustomerRepository(e.db).Create(context.Background(), c); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
}

func (e *testEnv) auditCount(t *testing.T, eventType string) int {
	t.Helper()
	events, err := repository.NewAuditRepository(e.db).ListByType(context.Background(), eventType, 100)
	if err != nil {
		t.Fatalf("list audit events: %v", err)
	}
	return len(events)
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode envelope (status %d): %v: %s", resp.StatusCode, err, raw)
	}
	return resp, env
}

type loginData struct {
	Tokens    service.TokenPair `json:"tokens"`
	User      domain.UserView   `json:"user"`
	CSRFToken string            `json:"csrf_token"`
}

func login(t *testing.T, e *testEnv, client *http.Client, username string, headers map[string]string) loginData {
	t.Helper()
	resp, env := doJSON(t, client, http.MethodPost, e.baseURL+"/api/v1/auth/login", map[string]string{
		"username": username,
		"password": testPassword,
	}, headers)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("login %s failed: status=%d code=%s", username, resp.StatusCode, env.code())
	}
	var data loginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode login data: %v", err)
	}
	return data
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}
