package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"saboracampo/backend/internal/cache"
	"saboracampo/backend/internal/ledger"
	"saboracampo/backend/internal/service"
	"saboracampo/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, ledger.New(repo), cache.NoopItemCache{}, 5*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*")
}

func loginToken(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	token, _ := body["access_token"].(string)
	if token == "" {
		t.Fatalf("expected access_token, got %v", body)
	}
	return token
}

func csrfToken(t *testing.T, handler http.Handler) string {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf token fetch failed: %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode csrf body: %v", err)
	}
	return body["csrf_token"]
}

func doJSON(t *testing.T, handler http.Handler, method string, path string, token string, csrf string, payload any) *httptest.ResponseRecorder {
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
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	handler := newTestAPI(t).Handler()

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "badpass"})
	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on sixth attempt, got %d", last)
	}
}

func TestOrdersRequireBearerToken(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler, "seller", "seller123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, "", map[string]string{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d", rec.Code)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	csrf := csrfToken(t, handler)
	sellerToken := loginToken(t, handler, "seller", "seller123")
	cashierToken := loginToken(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", sellerToken, csrf, map[string]string{"branch_id": "br-centro"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	order := decodeBody(t, rec)["order"].(map[string]any)
	orderID := order["id"].(string)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+orderID+"/items", sellerToken, csrf, map[string]string{"barcode": "7790001000011"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+orderID+"/close", sellerToken, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Sellers cannot take payment.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+orderID+"/complete", sellerToken, csrf, map[string]string{"payment_method": "efectivo"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("seller complete: expected 403, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "forbidden" {
		t.Fatalf("expected forbidden code, got %v", body["code"])
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+orderID+"/complete", cashierToken, csrf, map[string]string{"payment_method": "efectivo"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cashier complete: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	completed := decodeBody(t, rec)["order"].(map[string]any)
	if completed["state"] != "completed" {
		t.Fatalf("expected completed state, got %v", completed["state"])
	}
}

func TestInsufficientStockConflictCode(t *testing.T) {
	handler := newTestAPI(t).Handler()
	csrf := csrfToken(t, handler)
	token := loginToken(t, handler, "seller", "seller123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/orders", token, csrf, map[string]string{"branch_id": "br-norte"})
	orderID := decodeBody(t, rec)["order"].(map[string]any)["id"].(string)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/orders/"+orderID+"/items", token, csrf, map[string]string{"item_id": "item-leche"})
	if rec.Code != http.StatusOK {
		t.Fatalf("add item: %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPatch, "/api/v1/orders/"+orderID+"/items", token, csrf, map[string]any{"item_id": "item-leche", "quantity": 41})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["code"] != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock code, got %v", body["code"])
	}
	msg, _ := body["error"].(string)
	if msg == "" || !bytes.Contains([]byte(msg), []byte("40")) {
		t.Fatalf("expected available quantity in message, got %q", msg)
	}
}

func TestAdminOnlyEndpointsRejectStaff(t *testing.T) {
	handler := newTestAPI(t).Handler()
	sellerToken := loginToken(t, handler, "seller", "seller123")
	adminToken := loginToken(t, handler, "admin", "admin123")

	for _, path := range []string{"/api/v1/stock/alerts", "/api/v1/audit-logs", "/api/v1/users/staff"} {
		rec := doJSON(t, handler, http.MethodGet, path, sellerToken, "", nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s: expected 403 for seller, got %d", path, rec.Code)
		}
		rec = doJSON(t, handler, http.MethodGet, path, adminToken, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200 for admin, got %d", path, rec.Code)
		}
	}
}

func TestTransferApprovalOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	csrf := csrfToken(t, handler)
	sellerToken := loginToken(t, handler, "seller", "seller123")
	adminToken := loginToken(t, handler, "admin", "admin123")

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transfers", sellerToken, csrf, map[string]any{
		"source_branch_id": "br-centro",
		"dest_branch_id":   "br-norte",
		"items":            []map[string]any{{"item_id": "item-queso", "quantity": 10}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transfer: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	transferID := decodeBody(t, rec)["transfer"].(map[string]any)["id"].(string)

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/transfers/%s/approve", transferID), sellerToken, csrf, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("seller approve: expected 403, got %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/transfers/%s/approve", transferID), adminToken, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin approve: expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	transfer := decodeBody(t, rec)["transfer"].(map[string]any)
	if transfer["state"] != "completed" {
		t.Fatalf("expected completed transfer, got %v", transfer["state"])
	}

	rec = doJSON(t, handler, http.MethodPost, fmt.Sprintf("/api/v1/transfers/%s/cancel", transferID), adminToken, csrf, map[string]string{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("cancel completed: expected 409, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "invalid_state" {
		t.Fatalf("expected invalid_state code, got %v", body["code"])
	}
}

func TestCatalogBarcodeLookup(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/catalog/items/barcode/7790001000028", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	item := decodeBody(t, rec)["item"].(map[string]any)
	if item["id"] != "item-queso" {
		t.Fatalf("expected item-queso, got %v", item["id"])
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/catalog/items/barcode/0000000000000", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["code"] != "not_found" {
		t.Fatalf("expected not_found code, got %v", body["code"])
	}
}
