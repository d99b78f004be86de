package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"kitchensupply/backend/internal/domain"
	"kitchensupply/backend/internal/service"
	"kitchensupply/backend/internal/store"
	"kitchensupply/backend/internal/store/memory"
)

const testCentral = "central-kitchen"

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo := memory.NewSeeded(testCentral)
	svc := service.New(repo, service.Options{CentralStoreID: testCentral, Logger: logger})
	auth := NewAuthManager("test-secret-key-with-enough-length", time.Hour, testCentral, repo)

	return New(svc, auth, "*", logger)
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

type session struct {
	token string
	csrf  string
}

func login(t *testing.T, api *API, username string, password string) session {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	// one limiter bucket per user
	req.RemoteAddr = "10.0.0." + username + ":4000"
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return session{token: payload.AccessToken, csrf: fetchCSRFToken(t, api)}
}

func (s session) do(t *testing.T, api *API, method string, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-CSRF-Token", s.csrf)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeOrder(t *testing.T, res *httptest.ResponseRecorder) domain.SupplyOrder {
	t.Helper()
	var payload domain.SupplyOrderResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode supply order: %v", err)
	}
	return payload.SupplyOrder
}

func expectStatus(t *testing.T, res *httptest.ResponseRecorder, want int) {
	t.Helper()
	if res.Code != want {
		t.Fatalf("expected %d, got %d (body: %s)", want, res.Code, res.Body.String())
	}
}

// stockKitchen plans, produces and stocks one batch at the central kitchen.
func stockKitchen(t *testing.T, api *API, central session, productID string, code string, qty int) {
	t.Helper()

	res := central.do(t, api, http.MethodPost, "/api/v1/kitchen/batches", domain.BatchPlanCreateRequest{
		Batches: []domain.BatchPlanRequest{{Code: code, ProductID: productID, PlannedQuantity: qty}},
	})
	expectStatus(t, res, http.StatusCreated)
	var planned struct {
		Batches []domain.ProductBatch `json:"batches"`
	}
	if err := json.NewDecoder(res.Body).Decode(&planned); err != nil || len(planned.Batches) != 1 {
		t.Fatalf("decode planned batches: %v", err)
	}
	batchID := planned.Batches[0].ID

	today := time.Now().UTC()
	res = central.do(t, api, http.MethodPost, "/api/v1/kitchen/batches/"+batchID+"/produce", domain.BatchProduceRequest{
		ProducedQuantity: qty,
		ProductionDate:   today.Format("2006-01-02"),
		ExpiryDate:       today.AddDate(0, 0, 5).Format("2006-01-02"),
	})
	expectStatus(t, res, http.StatusOK)

	res = central.do(t, api, http.MethodPost, "/api/v1/kitchen/batches/"+batchID+"/stock", domain.BatchStockRequest{StockedQuantity: qty})
	expectStatus(t, res, http.StatusOK)
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{
		"username": "store01",
		"password": "store123",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("expected access_token in response, got %+v", body)
	}
	if body.Role != domain.RoleStore || body.StoreID != "store-01" {
		t.Fatalf("expected store staff of store-01, got %+v", body)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleSupplyOrders_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/supply-orders", nil)
	rec := httptest.NewRecorder()

	api.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestSupplyOrderLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	central := login(t, api, "central", "central123")
	store01 := login(t, api, "store01", "store123")

	stockKitchen(t, api, central, "prod-bread", "BATCH-202603-H01", 30)

	res := store01.do(t, api, http.MethodPost, "/api/v1/supply-orders", domain.SupplyOrderCreateRequest{
		Code:  "SO-202603-1001",
		Items: []domain.SupplyOrderItemRequest{{ProductID: "prod-bread", RequestedQuantity: 12}},
	})
	expectStatus(t, res, http.StatusCreated)
	order := decodeOrder(t, res)
	if order.Status != domain.OrderSubmitted {
		t.Fatalf("expected SUBMITTED, got %s", order.Status)
	}

	res = central.do(t, api, http.MethodPost, "/api/v1/supply-orders/"+order.ID+"/review", domain.ReviewSupplyOrderRequest{
		Items: []domain.ReviewItemRequest{{ItemID: order.Items[0].ID, Action: domain.ActionApprove}},
	})
	expectStatus(t, res, http.StatusOK)
	order = decodeOrder(t, res)
	if order.Status != domain.OrderApproved || len(order.Items[0].Batches) != 1 {
		t.Fatalf("unexpected reviewed order %+v", order)
	}

	res = central.do(t, api, http.MethodPost, "/api/v1/supply-orders/"+order.ID+"/start-delivery", nil)
	expectStatus(t, res, http.StatusOK)

	line := order.Items[0].Batches[0]
	res = store01.do(t, api, http.MethodPost, "/api/v1/supply-orders/"+order.ID+"/confirm-received", domain.ConfirmReceivedRequest{
		Batches: []domain.ReceivedLineRequest{{ItemBatchID: line.ID, ReceiptedQuantity: 12}},
	})
	expectStatus(t, res, http.StatusOK)

	res = store01.do(t, api, http.MethodPost, "/api/v1/supply-orders/"+order.ID+"/stock", domain.StockSupplyOrderRequest{
		Batches: []domain.StockedLineRequest{{ItemBatchID: line.ID, StockedQuantity: 11}},
	})
	expectStatus(t, res, http.StatusOK)
	if got := decodeOrder(t, res); got.Status != domain.OrderStocked {
		t.Fatalf("expected STOCKED, got %s", got.Status)
	}

	res = store01.do(t, api, http.MethodGet, "/api/v1/inventory", nil)
	expectStatus(t, res, http.StatusOK)
	var inv domain.InventoryListResponse
	if err := json.NewDecoder(res.Body).Decode(&inv); err != nil {
		t.Fatalf("decode inventory: %v", err)
	}
	if inv.StoreID != "store-01" || len(inv.Inventory) != 1 || inv.Inventory[0].Quantity != 11 {
		t.Fatalf("unexpected store inventory %+v", inv)
	}

	res = store01.do(t, api, http.MethodGet, "/api/v1/supply-orders?status=stocked", nil)
	expectStatus(t, res, http.StatusOK)
	var list domain.SupplyOrderListResponse
	if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.SupplyOrders) != 1 {
		t.Fatalf("expected 1 stocked order, got %d", len(list.SupplyOrders))
	}
}

func TestSupplyOrderErrorStatuses(t *testing.T) {
	api := newTestAPI(t)
	central := login(t, api, "central", "central123")
	store01 := login(t, api, "store01", "store123")
	store02 := login(t, api, "store02", "store123")

	stockKitchen(t, api, central, "prod-sauce", "BATCH-202603-H02", 10)

	res := store01.do(t, api, http.MethodPost, "/api/v1/supply-orders", domain.SupplyOrderCreateRequest{
		Code:  "SO-202603-1002",
		Items: []domain.SupplyOrderItemRequest{{ProductID: "prod-sauce", RequestedQuantity: 25}},
	})
	expectStatus(t, res, http.StatusCreated)
	order := decodeOrder(t, res)
	review := domain.ReviewSupplyOrderRequest{Items: []domain.ReviewItemRequest{{ItemID: order.Items[0].ID, Action: domain.ActionApprove}}}

	expectStatus(t, store01.do(t, api, http.MethodPost, "/api/v1/supply-orders/"+order.ID+"/review", review), http.StatusForbidden)
	expectStatus(t, store02.do(t, api, http.MethodGet, "/api/v1/supply-orders/"+order.ID, nil), http.StatusForbidden)
	expectStatus(t, central.do(t, api, http.MethodGet, "/api/v1/supply-orders/so-missing", nil), http.StatusNotFound)
	expectStatus(t, central.do(t, api, http.MethodPost, "/api/v1/supply-orders/"+order.ID+"/review", review), http.StatusUnprocessableEntity)
	expectStatus(t, central.do(t, api, http.MethodPost, "/api/v1/supply-orders/"+order.ID+"/start-delivery", nil), http.StatusConflict)
	expectStatus(t, central.do(t, api, http.MethodPost, "/api/v1/supply-orders/"+order.ID+"/teleport", nil), http.StatusNotFound)
	expectStatus(t, store01.do(t, api, http.MethodPost, "/api/v1/supply-orders", map[string]any{
		"supply_order_code": "SO-202603-1003",
		"items":             []any{},
		"priority":          "urgent",
	}), http.StatusBadRequest)
	expectStatus(t, store01.do(t, api, http.MethodPost, "/api/v1/supply-orders", domain.SupplyOrderCreateRequest{
		Code:  "bad-code",
		Items: []domain.SupplyOrderItemRequest{{ProductID: "prod-sauce", RequestedQuantity: 1}},
	}), http.StatusBadRequest)
	expectStatus(t, store01.do(t, api, http.MethodGet, "/api/v1/supply-orders?status=LOST", nil), http.StatusBadRequest)
}

func TestKitchenRoutesRejectStoreStaff(t *testing.T) {
	api := newTestAPI(t)
	store01 := login(t, api, "store01", "store123")

	expectStatus(t, store01.do(t, api, http.MethodGet, "/api/v1/kitchen/batches", nil), http.StatusForbidden)
	expectStatus(t, store01.do(t, api, http.MethodGet, "/api/v1/audit-logs", nil), http.StatusForbidden)
	expectStatus(t, store01.do(t, api, http.MethodGet, "/api/v1/inventory?store_id=store-02", nil), http.StatusForbidden)
}

func TestDisposeAndRefreshOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	central := login(t, api, "central", "central123")
	store01 := login(t, api, "store01", "store123")

	stockKitchen(t, api, central, "prod-bread", "BATCH-202603-H05", 6)

	res := central.do(t, api, http.MethodGet, "/api/v1/inventory", nil)
	expectStatus(t, res, http.StatusOK)
	var inv domain.InventoryListResponse
	if err := json.NewDecoder(res.Body).Decode(&inv); err != nil || len(inv.Inventory) != 1 {
		t.Fatalf("decode central inventory: %v %+v", err, inv)
	}
	rowID := inv.Inventory[0].ID
	path := "/api/v1/inventory/" + rowID + "/dispose"

	expectStatus(t, store01.do(t, api, http.MethodPost, path, domain.DisposeRequest{Reason: domain.DisposeDefective}), http.StatusForbidden)
	expectStatus(t, central.do(t, api, http.MethodPost, path, domain.DisposeRequest{Reason: domain.DisposeWrongData}), http.StatusForbidden)
	expectStatus(t, central.do(t, api, http.MethodPost, path, map[string]any{"disposed_reason": "LOST"}), http.StatusBadRequest)
	expectStatus(t, central.do(t, api, http.MethodPost, "/api/v1/inventory/inv-missing/dispose", domain.DisposeRequest{Reason: domain.DisposeDefective}), http.StatusNotFound)

	res = central.do(t, api, http.MethodPost, path, domain.DisposeRequest{Reason: domain.DisposeDefective})
	expectStatus(t, res, http.StatusOK)
	var disposed struct {
		Inventory domain.InventoryDetail `json:"inventory"`
	}
	if err := json.NewDecoder(res.Body).Decode(&disposed); err != nil {
		t.Fatalf("decode disposed row: %v", err)
	}
	if disposed.Inventory.Status != domain.InventoryDisposed || disposed.Inventory.Quantity != 6 {
		t.Fatalf("unexpected disposed row %+v", disposed.Inventory)
	}
	expectStatus(t, central.do(t, api, http.MethodPost, path, domain.DisposeRequest{Reason: domain.DisposeDefective}), http.StatusConflict)

	expectStatus(t, store01.do(t, api, http.MethodPost, "/api/v1/inventory/refresh-statuses", nil), http.StatusForbidden)
	res = central.do(t, api, http.MethodPost, "/api/v1/inventory/refresh-statuses", nil)
	expectStatus(t, res, http.StatusOK)
	var refreshed domain.StatusRefreshResponse
	if err := json.NewDecoder(res.Body).Decode(&refreshed); err != nil {
		t.Fatalf("decode refresh response: %v", err)
	}
	if refreshed.Updated != 0 {
		t.Fatalf("expected disposed rows to be left alone, got %d updates", refreshed.Updated)
	}
}

func TestAdminManagesCatalogAndUsers(t *testing.T) {
	api := newTestAPI(t)
	admin := login(t, api, "admin", "admin123")

	res := admin.do(t, api, http.MethodPost, "/api/v1/stores", domain.StoreCreateRequest{Name: "Harbor Outlet", Address: "Pier 3"})
	expectStatus(t, res, http.StatusCreated)
	var created struct {
		Store domain.Store `json:"store"`
	}
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode store: %v", err)
	}

	res = admin.do(t, api, http.MethodPost, "/api/v1/users", domain.UserCreateRequest{
		Username: "harbor01",
		Password: "harbor-pass",
		Role:     domain.RoleStore,
		StoreID:  created.Store.ID,
	})
	expectStatus(t, res, http.StatusCreated)

	harbor := login(t, api, "harbor01", "harbor-pass")
	res = harbor.do(t, api, http.MethodGet, "/api/v1/inventory", nil)
	expectStatus(t, res, http.StatusOK)

	expectStatus(t, admin.do(t, api, http.MethodPost, "/api/v1/users", domain.UserCreateRequest{
		Username: "ghost01",
		Password: "ghost-pass",
		Role:     domain.RoleStore,
		StoreID:  "store-missing",
	}), http.StatusBadRequest)

	inactive := false
	res = admin.do(t, api, http.MethodPatch, "/api/v1/products/prod-dough", domain.ProductUpdateRequest{Active: &inactive})
	expectStatus(t, res, http.StatusOK)
	expectStatus(t, admin.do(t, api, http.MethodPatch, "/api/v1/products/prod-missing", domain.ProductUpdateRequest{Active: &inactive}), http.StatusNotFound)
}

func TestStatusForError(t *testing.T) {
	cases := map[int]error{
		http.StatusForbidden:           fmt.Errorf("%w: role STORE_STAFF is not allowed", service.ErrForbidden),
		http.StatusNotFound:            fmt.Errorf("supply order: %w", store.ErrNotFound),
		http.StatusBadRequest:          fmt.Errorf("%w: bad code", store.ErrInvalidTransaction),
		http.StatusConflict:            fmt.Errorf("%w: busy", store.ErrStatusConflict),
		http.StatusUnprocessableEntity: fmt.Errorf("%w: short", store.ErrInsufficientStock),
		http.StatusInternalServerError: io.ErrUnexpectedEOF,
	}
	for want, err := range cases {
		if got := statusForError(err); got != want {
			t.Fatalf("statusForError(%v) = %d, want %d", err, got, want)
		}
	}
	if got := statusForError(fmt.Errorf("%w: already delivering", store.ErrInvalidState)); got != http.StatusConflict {
		t.Fatalf("invalid state should map to 409, got %d", got)
	}
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes.
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
