package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"posledger/backend/internal/cache"
	"posledger/backend/internal/domain"
	"posledger/backend/internal/metrics"
	"posledger/backend/internal/service"
	"posledger/backend/internal/store/sqlstore"
)

const testManagerPIN = "482913"

// newTestAPI builds a full API on a throwaway SQLite ledger with a real
// AuthManager, Service and replay cache, so handler tests exercise the whole
// request path. It seeds admin/admin123 and kasir1/kasir123.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo, err := sqlstore.New(context.Background(), sqlstore.Options{
		Driver:             sqlstore.DriverSQLite,
		DSN:                sqlstore.SQLiteDSN(filepath.Join(t.TempDir(), "api.db")),
		AllowNegativeStock: true,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})

	m := metrics.New()
	svc := service.New(repo, m, 5*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, testManagerPIN, repo)
	if err := auth.EnsureAdmin(context.Background(), "admin", "admin123"); err != nil {
		t.Fatalf("bootstrap admin: %v", err)
	}
	if _, err := auth.CreateOperator(context.Background(), domain.OperatorCreateRequest{Username: "kasir1", Password: "kasir123"}); err != nil {
		t.Fatalf("seed cashier: %v", err)
	}

	return New(svc, auth, Options{
		AllowedOrigin: "*",
		Replays:       cache.NewMemoryReplayCache(),
		ReplayTTL:     time.Hour,
		Metrics:       m,
	})
}

func doJSON(t *testing.T, api *API, method string, path string, token string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, api *API, username string, password string) domain.LoginResponse {
	t.Helper()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: username, Password: password}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s failed, status %d (body: %s)", username, rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return out
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/sales/"+uuid.NewString(), "", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	cashier := login(t, api, "kasir1", "kasir123")
	rec = doJSON(t, api, http.MethodPost, "/api/v1/inventory/restock", cashier.AccessToken, domain.RestockRequest{ItemID: uuid.New(), WarehouseID: uuid.New(), Quantity: 1}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected cashier restock to be forbidden, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodGet, "/api/v1/operators", cashier.AccessToken, nil, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected cashier operator listing to be forbidden, got %d", rec.Code)
	}
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")
	cashier := login(t, api, "kasir1", "kasir123")
	warehouseID, itemID := uuid.New(), uuid.New()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/inventory/restock", admin.AccessToken, domain.RestockRequest{ItemID: itemID, WarehouseID: warehouseID, Quantity: 10}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("restock failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sessions", cashier.AccessToken, domain.SessionOpenRequest{WarehouseID: warehouseID, StartingCash: decimal.NewFromInt(100)}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session failed: %d %s", rec.Code, rec.Body.String())
	}
	sess := decodeBody[struct {
		Session domain.Session `json:"session"`
	}](t, rec).Session

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sessions", cashier.AccessToken, domain.SessionOpenRequest{WarehouseID: warehouseID}, nil)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "duplicate_active_session") {
		t.Fatalf("expected duplicate session conflict, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier.AccessToken, domain.SaleRequest{
		SessionID:     sess.ID,
		Items:         []domain.SaleLine{{ItemID: itemID, Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")}},
		PaymentMethod: "cash",
		TotalAmount:   decimal.NewFromInt(25),
		AmountPaid:    decimal.NewFromInt(30),
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("process sale failed: %d %s", rec.Code, rec.Body.String())
	}
	sale := decodeBody[domain.SaleResponse](t, rec)
	if !sale.ChangeAmount.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected change 5, got %s", sale.ChangeAmount)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/"+itemID.String()+"/"+warehouseID.String(), cashier.AccessToken, nil, nil)
	level := decodeBody[struct {
		Inventory domain.InventoryLevel `json:"inventory"`
	}](t, rec).Inventory
	if level.CurrentStock != 8 {
		t.Fatalf("expected stock 8 after sale, got %d", level.CurrentStock)
	}

	voidPath := "/api/v1/sales/" + sale.Sale.ID.String() + "/void"
	rec = doJSON(t, api, http.MethodPost, voidPath, cashier.AccessToken, map[string]string{"reason": "wrong item", "manager_pin": testManagerPIN}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected cashier void to be forbidden, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodPost, voidPath, admin.AccessToken, map[string]string{"reason": "wrong item", "manager_pin": "000000"}, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected wrong pin to be rejected, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodPost, voidPath, admin.AccessToken, map[string]string{"reason": "wrong item", "manager_pin": testManagerPIN}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("void failed: %d %s", rec.Code, rec.Body.String())
	}
	voided := decodeBody[domain.VoidSaleResponse](t, rec)
	if voided.Status != domain.SaleStatusVoided {
		t.Fatalf("expected voided status, got %s", voided.Status)
	}

	rec = doJSON(t, api, http.MethodPost, voidPath, admin.AccessToken, map[string]string{"reason": "again", "manager_pin": testManagerPIN}, nil)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "sale_not_found_or_already_voided") {
		t.Fatalf("expected second void conflict, got %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/"+itemID.String()+"/"+warehouseID.String()+"/movements", cashier.AccessToken, nil, nil)
	movements := decodeBody[domain.MovementListResponse](t, rec)
	if len(movements.Movements) != 3 {
		t.Fatalf("expected 3 movements, got %d", len(movements.Movements))
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sessions/"+sess.ID.String()+"/close", cashier.AccessToken, domain.SessionCloseRequest{ClosingCash: decimal.NewFromInt(100)}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close session failed: %d %s", rec.Code, rec.Body.String())
	}
	report := decodeBody[domain.SessionReport](t, rec)
	if !report.Session.CashDifference.Valid || !report.Session.CashDifference.Decimal.IsZero() {
		t.Fatalf("expected zero cash difference, got %+v", report.Session.CashDifference)
	}
	if report.Summary.VoidedCount != 1 {
		t.Fatalf("expected one voided sale in summary, got %d", report.Summary.VoidedCount)
	}
}

func TestProcessSaleReplaysIdempotencyKey(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "kasir1", "kasir123")
	warehouseID, itemID := uuid.New(), uuid.New()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sessions", cashier.AccessToken, domain.SessionOpenRequest{WarehouseID: warehouseID}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session failed: %d %s", rec.Code, rec.Body.String())
	}
	sess := decodeBody[struct {
		Session domain.Session `json:"session"`
	}](t, rec).Session

	saleReq := domain.SaleRequest{
		SessionID:   sess.ID,
		Items:       []domain.SaleLine{{ItemID: itemID, Quantity: 1, UnitPrice: decimal.NewFromInt(7)}},
		TotalAmount: decimal.NewFromInt(7),
		AmountPaid:  decimal.NewFromInt(10),
	}
	headers := map[string]string{"Idempotency-Key": "till-1-0001"}

	first := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier.AccessToken, saleReq, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first sale failed: %d %s", first.Code, first.Body.String())
	}
	second := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier.AccessToken, saleReq, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replayed sale failed: %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected replay header on second response")
	}

	firstSale := decodeBody[domain.SaleResponse](t, first)
	secondSale := decodeBody[domain.SaleResponse](t, second)
	if firstSale.Sale.ID != secondSale.Sale.ID {
		t.Fatalf("expected the same sale to be replayed, got %s and %s", firstSale.Sale.ID, secondSale.Sale.ID)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/"+itemID.String()+"/"+warehouseID.String(), cashier.AccessToken, nil, nil)
	level := decodeBody[struct {
		Inventory domain.InventoryLevel `json:"inventory"`
	}](t, rec).Inventory
	if level.CurrentStock != -1 {
		t.Fatalf("expected the sale to be applied once, stock %d", level.CurrentStock)
	}

	third := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier.AccessToken, saleReq, map[string]string{"Idempotency-Key": "till-1-0002"})
	if third.Code != http.StatusCreated || third.Header().Get("Idempotent-Replayed") != "" {
		t.Fatalf("expected a fresh sale for a new key, got %d", third.Code)
	}
}

// staleReplayCache misses on the next Get, as if the lookup ran just before
// another request with the same key stored its response and released.
type staleReplayCache struct {
	cache.ReplayCache
	mu       sync.Mutex
	missNext bool
}

func (c *staleReplayCache) Get(ctx context.Context, key string) (*cache.Replay, bool, error) {
	c.mu.Lock()
	miss := c.missNext
	c.missNext = false
	c.mu.Unlock()
	if miss {
		return nil, false, nil
	}
	return c.ReplayCache.Get(ctx, key)
}

func TestProcessSaleReplaysWhenFirstLookupRacedTheStore(t *testing.T) {
	api := newTestAPI(t)
	replays := &staleReplayCache{ReplayCache: cache.NewMemoryReplayCache()}
	api.replays = replays
	cashier := login(t, api, "kasir1", "kasir123")
	warehouseID, itemID := uuid.New(), uuid.New()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sessions", cashier.AccessToken, domain.SessionOpenRequest{WarehouseID: warehouseID}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session failed: %d %s", rec.Code, rec.Body.String())
	}
	sess := decodeBody[struct {
		Session domain.Session `json:"session"`
	}](t, rec).Session

	saleReq := domain.SaleRequest{
		SessionID:   sess.ID,
		Items:       []domain.SaleLine{{ItemID: itemID, Quantity: 1, UnitPrice: decimal.NewFromInt(4)}},
		TotalAmount: decimal.NewFromInt(4),
		AmountPaid:  decimal.NewFromInt(4),
	}
	headers := map[string]string{"Idempotency-Key": "till-2-0001"}

	first := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier.AccessToken, saleReq, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("first sale failed: %d %s", first.Code, first.Body.String())
	}

	replays.mu.Lock()
	replays.missNext = true
	replays.mu.Unlock()

	retry := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier.AccessToken, saleReq, headers)
	if retry.Code != http.StatusCreated {
		t.Fatalf("retry failed: %d %s", retry.Code, retry.Body.String())
	}
	if retry.Header().Get("Idempotent-Replayed") != "true" {
		t.Fatalf("expected the retry to be answered from the replay cache")
	}
	if decodeBody[domain.SaleResponse](t, first).Sale.ID != decodeBody[domain.SaleResponse](t, retry).Sale.ID {
		t.Fatalf("expected the retry to return the first sale")
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/inventory/"+itemID.String()+"/"+warehouseID.String(), cashier.AccessToken, nil, nil)
	level := decodeBody[struct {
		Inventory domain.InventoryLevel `json:"inventory"`
	}](t, rec).Inventory
	if level.CurrentStock != -1 {
		t.Fatalf("expected the sale to be applied once, stock %d", level.CurrentStock)
	}
}

func TestProcessSaleMapsValidationToBadRequest(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "kasir1", "kasir123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier.AccessToken, domain.SaleRequest{SessionID: uuid.New()}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a sale without lines, got %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["kind"] != "invalid_sale" {
		t.Fatalf("expected invalid_sale kind, got %v", body["kind"])
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/sales", cashier.AccessToken, domain.SaleRequest{
		SessionID:   uuid.New(),
		Items:       []domain.SaleLine{{ItemID: uuid.New(), Quantity: 1, UnitPrice: decimal.NewFromInt(1)}},
		TotalAmount: decimal.NewFromInt(1),
		AmountPaid:  decimal.NewFromInt(1),
	}, nil)
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "invalid_session_state") {
		t.Fatalf("expected invalid session state conflict, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestGetUnknownSaleIsNotFound(t *testing.T) {
	api := newTestAPI(t)
	cashier := login(t, api, "kasir1", "kasir123")

	rec := doJSON(t, api, http.MethodGet, "/api/v1/sales/"+uuid.NewString(), cashier.AccessToken, nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = doJSON(t, api, http.MethodGet, "/api/v1/sales/not-a-uuid", cashier.AccessToken, nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestAdminCreatesAndListsOperators(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	rec := doJSON(t, api, http.MethodPost, "/api/v1/operators", admin.AccessToken, domain.OperatorCreateRequest{Username: "kasir2", Password: "pass1234"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create operator failed: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("operator response must not leak the password hash: %s", rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodPost, "/api/v1/operators", admin.AccessToken, domain.OperatorCreateRequest{Username: "kasir2", Password: "pass1234"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected duplicate username conflict, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/operators", admin.AccessToken, nil, nil)
	listed := decodeBody[struct {
		Operators []domain.Operator `json:"operators"`
	}](t, rec)
	if len(listed.Operators) != 3 {
		t.Fatalf("expected admin, kasir1 and kasir2, got %d operators", len(listed.Operators))
	}

	login(t, api, "kasir2", "pass1234")
}

func TestMetricsEndpointExposesLedgerCounters(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/metrics", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "posledger_units_sold_total") {
		t.Fatalf("expected ledger counters in metrics output")
	}
}
