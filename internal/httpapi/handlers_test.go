package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"laybyku/backend/internal/domain"
	"laybyku/backend/internal/service"
	"laybyku/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, "main-store")
	auth := NewAuthManager("test-secret-key", time.Hour, "123456", repo)

	return New(svc, auth, "*")
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	return payload.AccessToken
}

// call sends an authenticated request. body may be nil.
func call(t *testing.T, api *API, method string, path string, token string, csrf string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func createFanLaybyViaAPI(t *testing.T, api *API, token string, csrf string) domain.LaybyOrder {
	t.Helper()

	res := call(t, api, http.MethodPost, "/api/v1/laybys", token, csrf, domain.LaybyCreateRequest{
		CustomerName:  "Budi Santoso",
		CustomerPhone: "0812333444",
		Items:         []domain.LaybyItemRequest{{SKU: "sku-kipas-01", Qty: 1}},
		DepositCents:  5_000_000,
		DepositMethod: "cash",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("create layby expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var payload struct {
		Layby domain.LaybyOrder `json:"layby"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	return payload.Layby
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

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
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header")
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	res := call(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrongpassword",
	})
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	res := call(t, api, http.MethodGet, "/api/v1/products", "", "", nil)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}

	token := loginAs(t, api, "cashier", "cashier123")
	res = call(t, api, http.MethodGet, "/api/v1/products", token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestLaybyLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	order := createFanLaybyViaAPI(t, api, token, csrf)
	if order.BalanceCents != 37_500_000 {
		t.Fatalf("expected balance 37500000, got %d", order.BalanceCents)
	}

	path := "/api/v1/laybys/" + order.ID
	res := call(t, api, http.MethodPost, path+"/complete", token, csrf, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("complete with balance expected 400, got %d", res.Code)
	}

	payment := map[string]any{"amount_cents": 37_500_000, "method": "qris", "reference": "QR-991"}
	res = call(t, api, http.MethodPost, path+"/payments", token, csrf, payment)
	if res.Code != http.StatusCreated {
		t.Fatalf("payment expected 201, got %d (body: %s)", res.Code, res.Body.String())
	}
	var paid domain.LaybyPaymentResponse
	if err := json.NewDecoder(res.Body).Decode(&paid); err != nil {
		t.Fatalf("decode payment response: %v", err)
	}
	if !paid.CanComplete || paid.Layby.BalanceCents != 0 {
		t.Fatalf("expected settled order, got balance %d can_complete=%t", paid.Layby.BalanceCents, paid.CanComplete)
	}

	res = call(t, api, http.MethodPost, path+"/complete", token, csrf, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("complete expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}

	res = call(t, api, http.MethodGet, path, token, "", nil)
	var fetched struct {
		Layby domain.LaybyOrder `json:"layby"`
	}
	if err := json.NewDecoder(res.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if fetched.Layby.Status != domain.LaybyStatusCompleted {
		t.Fatalf("expected completed status, got %s", fetched.Layby.Status)
	}
}

func TestStalePaymentVersionReturnsConflict(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)
	order := createFanLaybyViaAPI(t, api, token, csrf)

	res := call(t, api, http.MethodPost, "/api/v1/laybys/"+order.ID+"/payments", token, csrf, map[string]any{
		"amount_cents":     1_000_000,
		"method":           "cash",
		"expected_version": order.Version + 5,
	})
	if res.Code != http.StatusConflict {
		t.Fatalf("expected 409 for stale version, got %d (body: %s)", res.Code, res.Body.String())
	}
}

func TestIdempotencyKeyHeaderReplaysPayment(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)
	order := createFanLaybyViaAPI(t, api, token, csrf)

	send := func() *httptest.ResponseRecorder {
		raw, _ := json.Marshal(map[string]any{"amount_cents": 1_000_000, "method": "cash"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/laybys/"+order.ID+"/payments", bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-CSRF-Token", csrf)
		req.Header.Set("Idempotency-Key", "pay-abc-1")
		res := httptest.NewRecorder()
		api.Handler().ServeHTTP(res, req)
		return res
	}

	if res := send(); res.Code != http.StatusCreated {
		t.Fatalf("first payment expected 201, got %d", res.Code)
	}
	res := send()
	if res.Code != http.StatusOK {
		t.Fatalf("replayed payment expected 200, got %d", res.Code)
	}
	var replay domain.LaybyPaymentResponse
	if err := json.NewDecoder(res.Body).Decode(&replay); err != nil {
		t.Fatalf("decode replay: %v", err)
	}
	if !replay.Duplicate || replay.Layby.BalanceCents != 36_500_000 {
		t.Fatalf("expected duplicate with balance 36500000, got duplicate=%t balance=%d", replay.Duplicate, replay.Layby.BalanceCents)
	}
}

func TestCancelWithManagerPINRefundsDeposit(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)
	order := createFanLaybyViaAPI(t, api, token, csrf)

	res := call(t, api, http.MethodPost, "/api/v1/laybys/"+order.ID+"/cancel", token, csrf, map[string]any{
		"reason":      "customer changed mind",
		"manager_pin": "123456",
	})
	if res.Code != http.StatusOK {
		t.Fatalf("cancel expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var payload struct {
		Layby domain.LaybyOrder `json:"layby"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode cancel response: %v", err)
	}
	if payload.Layby.Status != domain.LaybyStatusCancelled {
		t.Fatalf("expected cancelled, got %s", payload.Layby.Status)
	}
	if payload.Layby.RestockingFeeCents != 500_000 || payload.Layby.RefundCents != 4_500_000 {
		t.Fatalf("unexpected fee/refund %d/%d", payload.Layby.RestockingFeeCents, payload.Layby.RefundCents)
	}
}

func TestAdminOnlyRoutesRejectCashier(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")
	csrf := fetchCSRFToken(t, api)

	res := call(t, api, http.MethodPost, "/api/v1/laybys/interest/apply", token, csrf, domain.InterestApplyRequest{LaybyIDs: []string{"x"}})
	if res.Code != http.StatusForbidden {
		t.Fatalf("interest apply expected 403 for cashier, got %d", res.Code)
	}
	res = call(t, api, http.MethodPut, "/api/v1/layby-settings", token, csrf, domain.LaybySettings{MaxLaybyDurationDays: 30, ReminderIntervalDays: 7})
	if res.Code != http.StatusForbidden {
		t.Fatalf("settings update expected 403 for cashier, got %d", res.Code)
	}
	res = call(t, api, http.MethodGet, "/api/v1/layby-settings", token, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("settings read expected 200 for cashier, got %d", res.Code)
	}
}

func TestTokenForForeignStoreIsForbidden(t *testing.T) {
	api := newTestAPI(t)
	token, err := api.auth.sign("admin", "admin", "branch-9", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	res := call(t, api, http.MethodGet, "/api/v1/laybys", token, "", nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for store without access, got %d", res.Code)
	}
}

func TestOverdueSweepAndExportAsAdmin(t *testing.T) {
	api := newTestAPI(t)
	cashier := loginAs(t, api, "cashier", "cashier123")
	admin := loginAsAdmin(t, api)
	csrf := fetchCSRFToken(t, api)
	createFanLaybyViaAPI(t, api, cashier, csrf)

	res := call(t, api, http.MethodPost, "/api/v1/laybys/overdue/sweep", admin, csrf, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("sweep expected 200, got %d (body: %s)", res.Code, res.Body.String())
	}
	var sweep domain.OverdueSweepResponse
	if err := json.NewDecoder(res.Body).Decode(&sweep); err != nil {
		t.Fatalf("decode sweep: %v", err)
	}
	if sweep.StoreID != "main-store" || len(sweep.Transitioned) != 0 {
		t.Fatalf("unexpected sweep result %+v", sweep)
	}

	res = call(t, api, http.MethodGet, "/api/v1/transactions/export.csv", admin, "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("export expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("expected text/csv, got %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(res.Body.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "Transaction Number") {
		t.Fatalf("expected header plus deposit row, got %q", res.Body.String())
	}
	if !strings.HasSuffix(strings.TrimSpace(lines[1]), "50000.00") {
		t.Fatalf("expected deposit amount 50000.00, got %q", lines[1])
	}

	res = call(t, api, http.MethodGet, "/api/v1/transactions?from=2020-13-01", admin, "", nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("bad date expected 400, got %d", res.Code)
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	api := newTestAPI(t)
	call(t, api, http.MethodGet, "/healthz", "", "", nil)

	res := call(t, api, http.MethodGet, "/metrics", "", "", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("metrics expected 200, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `layby_http_requests_total{method="GET",route="/healthz",status="2xx"} 1`) {
		t.Fatalf("expected healthz request counter, got:\n%s", res.Body.String())
	}
}

func TestRouteLabelCollapsesIDs(t *testing.T) {
	cases := map[string]string{
		"/api/v1/laybys/abc-123":          "/api/v1/laybys/{id}",
		"/api/v1/laybys/abc-123/payments": "/api/v1/laybys/{id}/payments",
		"/api/v1/laybys/interest/apply":   "/api/v1/laybys/interest/apply",
		"/api/v1/dashboard":               "/api/v1/dashboard",
	}
	for path, want := range cases {
		if got := routeLabel(path); got != want {
			t.Fatalf("routeLabel(%q) = %q, want %q", path, got, want)
		}
	}
}
