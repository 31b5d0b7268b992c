package sellers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/fast-fab/Seller-service/internal/auth"
	"github.com/fast-fab/Seller-service/internal/events"
	"github.com/fast-fab/Seller-service/internal/middleware"
)

const testSecret = "test-secret"

func setupRouter(t *testing.T, repo *fakeRepo, pub *recordingPublisher) *mux.Router {
	t.Helper()
	jwtSvc := auth.NewJWTService(testSecret)
	h := NewHandlers(NewService(repo, pub, nil, nil))

	r := mux.NewRouter()
	protected := r.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(jwtSvc))
	protected.Use(middleware.RequireOwnSeller("id"))
	h.RegisterRoutes(protected)
	return r
}

func bearer(t *testing.T, sellerID string) string {
	t.Helper()
	token, err := auth.NewJWTService(testSecret).GenerateToken(sellerID, "", time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}
	return "Bearer " + token
}

func doRequest(r http.Handler, method, path, authz string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		json.NewEncoder(&buf).Encode(body) //nolint:errcheck
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestHandlers_UpdateStock(t *testing.T) {
	repo := newFakeRepo()
	repo.stock["s1/p1"] = 5
	pub := &recordingPublisher{}
	r := setupRouter(t, repo, pub)

	rr := doRequest(r, "PATCH", "/api/sellers/s1/products/p1/stock", bearer(t, "s1"), map[string]int{"stock": 0})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if repo.stock["s1/p1"] != 0 {
		t.Errorf("expected stock 0, got %d", repo.stock["s1/p1"])
	}
	if len(pub.updates) != 1 || pub.updates[0].Status.Type != events.StatusOutOfStock {
		t.Errorf("expected one OUT_OF_STOCK event, got %+v", pub.updates)
	}
}

func TestHandlers_UpdateStockBadInput(t *testing.T) {
	repo := newFakeRepo()
	repo.stock["s1/p1"] = 5
	r := setupRouter(t, repo, &recordingPublisher{})

	tests := []struct {
		name string
		body interface{}
	}{
		{"negative", map[string]int{"stock": -3}},
		{"not a number", `{"stock":"ten"}`},
		{"missing", `{}`},
		{"malformed", `{"stock":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(r, "PATCH", "/api/sellers/s1/products/p1/stock", bearer(t, "s1"), tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
		})
	}
	if repo.stock["s1/p1"] != 5 {
		t.Errorf("stock should be unchanged, got %d", repo.stock["s1/p1"])
	}
}

func TestHandlers_UpdateStockUnknownProduct(t *testing.T) {
	r := setupRouter(t, newFakeRepo(), &recordingPublisher{})

	rr := doRequest(r, "PATCH", "/api/sellers/s1/products/nope/stock", bearer(t, "s1"), map[string]int{"stock": 1})
	if rr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rr.Code)
	}
}

func TestHandlers_OtherSellerForbidden(t *testing.T) {
	repo := newFakeRepo()
	repo.stock["s2/p1"] = 5
	repo.active["s2"] = true
	r := setupRouter(t, repo, &recordingPublisher{})

	paths := []struct {
		method, path string
		body         interface{}
	}{
		{"PATCH", "/api/sellers/s2/products/p1/stock", map[string]int{"stock": 0}},
		{"PATCH", "/api/sellers/s2/status", map[string]bool{"isActive": false}},
		{"PUT", "/api/sellers/s2/device-token", map[string]string{"deviceToken": "x"}},
	}
	for _, p := range paths {
		rr := doRequest(r, p.method, p.path, bearer(t, "s1"), p.body)
		if rr.Code != http.StatusForbidden {
			t.Errorf("%s %s: expected 403, got %d", p.method, p.path, rr.Code)
		}
	}
	if repo.stock["s2/p1"] != 5 || !repo.active["s2"] {
		t.Error("another seller's data must not change")
	}
}

func TestHandlers_Unauthenticated(t *testing.T) {
	r := setupRouter(t, newFakeRepo(), &recordingPublisher{})

	rr := doRequest(r, "PATCH", "/api/sellers/s1/status", "", map[string]bool{"isActive": false})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestHandlers_UpdateStatus(t *testing.T) {
	repo := newFakeRepo()
	repo.active["s1"] = true
	pub := &recordingPublisher{}
	r := setupRouter(t, repo, pub)

	rr := doRequest(r, "PATCH", "/api/sellers/s1/status", bearer(t, "s1"), map[string]bool{"isActive": false})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	json.NewDecoder(rr.Body).Decode(&resp) //nolint:errcheck
	if resp["isActive"] != false {
		t.Errorf("expected isActive false in response, got %v", resp["isActive"])
	}
	if len(pub.updates) != 1 || pub.updates[0].Status.Type != events.StatusSellerDeactivated {
		t.Errorf("expected one SELLER_DEACTIVATED event, got %+v", pub.updates)
	}

	rr = doRequest(r, "PATCH", "/api/sellers/s1/status", bearer(t, "s1"), `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing isActive, got %d", rr.Code)
	}
}

func TestHandlers_UpdateDeviceToken(t *testing.T) {
	repo := newFakeRepo()
	repo.active["s1"] = true
	r := setupRouter(t, repo, &recordingPublisher{})

	rr := doRequest(r, "PUT", "/api/sellers/s1/device-token", bearer(t, "s1"), map[string]string{"deviceToken": "fcm-abc"})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if repo.tokens["s1"] != "fcm-abc" {
		t.Errorf("expected token stored, got %q", repo.tokens["s1"])
	}

	rr = doRequest(r, "PUT", "/api/sellers/s1/device-token", bearer(t, "s1"), map[string]string{"deviceToken": ""})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty token, got %d", rr.Code)
	}
}
