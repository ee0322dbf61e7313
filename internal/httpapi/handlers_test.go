package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"stockroom/backend/internal/domain"
	"stockroom/backend/internal/fanout"
	"stockroom/backend/internal/metrics"
	"stockroom/backend/internal/service"
	"stockroom/backend/internal/store"
	"stockroom/backend/internal/store/memory"
)

type testEnv struct {
	api *API
	mem *memory.Store
	hub *fanout.Hub
}

// newTestAPI builds a full API over an in-memory store with an admin
// manager account and a sales account.
func newTestAPI(t *testing.T) *testEnv {
	t.Helper()

	mem := memory.New()
	var svc *service.Service
	hub := fanout.NewHub(nil, nil, func(ctx context.Context) ([]domain.User, error) {
		return svc.ListUserViews(ctx)
	})
	svc = service.New(store.NewRecords(mem, nil), service.Deps{Hub: hub})

	ctx := context.Background()
	if _, err := svc.EnsureAdminUser(ctx, mustHashPassword(t, "admin123")); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if err := svc.CreateUser(ctx, domain.UserAccount{
		Username: "kofi",
		Password: mustHashPassword(t, "sales123"),
		Role:     domain.RoleSales,
		Active:   true,
	}); err != nil {
		t.Fatalf("create sales user: %v", err)
	}

	auth := NewAuthManager(ctx, "test-secret-key", time.Hour, svc)
	api := New(Options{
		Service:       svc,
		Auth:          auth,
		Hub:           hub,
		Metrics:       metrics.New(),
		AllowedOrigin: "*",
	})
	return &testEnv{api: api, mem: mem, hub: hub}
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

func login(t *testing.T, env *testEnv, username string, password string) string {
	t.Helper()
	resp, err := env.api.auth.Login(context.Background(), domain.LoginRequest{Username: username, Password: password})
	if err != nil {
		t.Fatalf("login %s: %v", username, err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, env *testEnv, method string, path string, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	env.api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v (raw %q)", err, rec.Body.String())
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	env := newTestAPI(t)
	rec := doJSON(t, env, http.MethodGet, "/healthz", "", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	env := newTestAPI(t)
	rec := doJSON(t, env, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"admin123"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["access_token"] == "" || body["access_token"] == nil {
		t.Fatalf("expected access_token in response, got %v", body)
	}
	if body["role"] != domain.RoleManager {
		t.Fatalf("expected manager role, got %v", body["role"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	env := newTestAPI(t)
	rec := doJSON(t, env, http.MethodPost, "/api/v1/auth/login", "", `{"username":"admin","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	env := newTestAPI(t)
	for _, path := range []string{"/api/v1/stock", "/api/v1/sales", "/api/v1/customers"} {
		rec := doJSON(t, env, http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rec.Code)
		}
	}
	rec := doJSON(t, env, http.MethodGet, "/api/v1/stock", "not-a-token", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestSaleEndpointStatuses(t *testing.T) {
	env := newTestAPI(t)
	env.mem.Seed(store.Stock, []byte(`[{"id":"A1","name":"Rice","quantity":5,"hasBeenSold":true}]`))
	token := login(t, env, "kofi", "sales123")

	rec := doJSON(t, env, http.MethodPost, "/api/v1/sales", token, `{"itemId":"A1","productName":"Rice","quantity":3,"price":1500}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "Sale added successfully", body["message"])
	assert.EqualValues(t, 5, body["currentQuantityBefore"])
	assert.EqualValues(t, 2, body["newQuantityAfter"])
	assert.Equal(t, true, body["lowStockNotification"])
	sale := body["sale"].(map[string]any)
	assert.Equal(t, "kofi", sale["username"], "the caller is recorded when the body has no username")

	rec = doJSON(t, env, http.MethodPost, "/api/v1/sales", token, `{"productName":"Ghost","quantity":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, env, http.MethodPost, "/api/v1/sales", token, `{"productName":"Rice","quantity":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, env, http.MethodPost, "/api/v1/sales", token, `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSalesRoleIsLimited(t *testing.T) {
	env := newTestAPI(t)
	token := login(t, env, "kofi", "sales123")

	allowed := []string{"/api/v1/stock", "/api/v1/stock-history", "/api/v1/notifications", "/api/v1/customers", "/api/v1/credit-sales"}
	for _, path := range allowed {
		rec := doJSON(t, env, http.MethodGet, path, token, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: expected 200, got %d (%s)", path, rec.Code, rec.Body.String())
		}
	}

	denied := []struct{ method, path, body string }{
		{http.MethodPost, "/api/v1/stock", `{"name":"Rice"}`},
		{http.MethodDelete, "/api/v1/stock/Rice", ""},
		{http.MethodGet, "/api/v1/users", ""},
		{http.MethodGet, "/api/v1/email-schedule", ""},
		{http.MethodGet, "/api/v1/restock-recommendations", ""},
		{http.MethodGet, "/api/v1/sales/report.csv", ""},
	}
	for _, tc := range denied {
		rec := doJSON(t, env, tc.method, tc.path, token, tc.body)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s %s: expected 403, got %d", tc.method, tc.path, rec.Code)
		}
	}
}

func TestUpsertAndDeleteStock(t *testing.T) {
	env := newTestAPI(t)
	token := login(t, env, "admin", "admin123")

	rec := doJSON(t, env, http.MethodPost, "/api/v1/stock", token, `{"name":"Sugar","quantity":"12","supplier":"Acme"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	item := decodeBody(t, rec)["item"].(map[string]any)
	assert.NotEmpty(t, item["id"])
	assert.EqualValues(t, 12, item["quantity"])
	assert.Equal(t, "Acme", item["supplier"])

	rec = doJSON(t, env, http.MethodDelete, "/api/v1/stock/sugar", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, env, http.MethodDelete, "/api/v1/stock/sugar", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserManagement(t *testing.T) {
	env := newTestAPI(t)
	admin := login(t, env, "admin", "admin123")
	sales := login(t, env, "kofi", "sales123")

	rec := doJSON(t, env, http.MethodPost, "/api/v1/users", admin, `{"username":"ama","password":"secret123"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, env, http.MethodPost, "/api/v1/users", admin, `{"username":"AMA","password":"secret123"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doJSON(t, env, http.MethodPost, "/api/v1/users", admin, `{"username":"zed","password":"secret123","extra":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown keys are rejected on request envelopes")

	rec = doJSON(t, env, http.MethodPut, "/api/v1/users/admin/role", admin, `{"role":"sales"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doJSON(t, env, http.MethodPut, "/api/v1/users/ghost/role", admin, `{"role":"manager"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, env, http.MethodPut, "/api/v1/users/kofi/role", admin, `{"role":"boss"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// The sales token was issued before the promotion and still works afterwards
	// with the new role.
	rec = doJSON(t, env, http.MethodGet, "/api/v1/users", sales, "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = doJSON(t, env, http.MethodPut, "/api/v1/users/kofi/role", admin, `{"role":"manager"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = doJSON(t, env, http.MethodGet, "/api/v1/users", sales, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var listed struct {
		Users []domain.User `json:"users"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&listed))
	require.Len(t, listed.Users, 3)
	assert.Equal(t, domain.RoleManager, listed.Users[2].Role)
	assert.Equal(t, "kofi", listed.Users[2].Username)
}

func TestCreditSalesAndReceiptsRoutes(t *testing.T) {
	env := newTestAPI(t)
	token := login(t, env, "kofi", "sales123")

	rec := doJSON(t, env, http.MethodPost, "/api/v1/credit-sales", token, `{"customerName":"Ama","productName":"Rice","quantity":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody(t, rec)["id"].(string)

	rec = doJSON(t, env, http.MethodPatch, "/api/v1/credit-sales/"+id, token, `{"status":"paid"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "paid", decodeBody(t, rec)["status"])

	rec = doJSON(t, env, http.MethodPatch, "/api/v1/credit-sales/missing", token, `{"status":"paid"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, env, http.MethodPost, "/api/v1/customer-receipts", token, `{"receiptId":"R-1","customerName":"Ama","total":100}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, env, http.MethodGet, "/api/v1/customer-receipts/R-1", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, env, http.MethodDelete, "/api/v1/customer-receipts/R-1", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, env, http.MethodGet, "/api/v1/customer-receipts/R-1", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, env, http.MethodGet, "/api/v1/customers/Ama/transactions", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["transactionCount"])
}

func TestSalesReportCSV(t *testing.T) {
	env := newTestAPI(t)
	env.mem.Seed(store.Sales, []byte(`[
		{"itemId":"A1","productName":"Rice","quantity":2,"totalAmount":3000},
		{"itemId":"B1","productName":"Oil","quantity":1,"totalAmount":"850.5"},
		{"itemId":"A1","productName":"Rice","quantity":1,"totalAmount":1500},
		{"productName":"Beans, red","quantity":2}
	]`))
	token := login(t, env, "admin", "admin123")

	rec := doJSON(t, env, http.MethodGet, "/api/v1/sales/report.csv", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "sales_report", rec.Body.Bytes())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestAPI(t)
	_ = doJSON(t, env, http.MethodGet, "/healthz", "", "")

	rec := doJSON(t, env, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stockroom_http_request_duration_seconds")
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{store.ErrValidation, http.StatusBadRequest},
		{service.ErrForbidden, http.StatusForbidden},
		{store.ErrNotFound, http.StatusNotFound},
		{&store.ConflictError{Collection: store.Stock, Expected: 1, Current: 2}, http.StatusConflict},
		{service.ErrDuplicate, http.StatusConflict},
		{store.ErrStorage, http.StatusInternalServerError},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestInternalErrorsAreNotLeaked(t *testing.T) {
	env := newTestAPI(t)
	rec := httptest.NewRecorder()
	env.api.writeServiceError(rec, io.ErrUnexpectedEOF)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeBody(t, rec)["error"])
}

func TestWebSocketReceivesSaleBroadcast(t *testing.T) {
	env := newTestAPI(t)
	env.mem.Seed(store.Stock, []byte(`[{"id":"A1","name":"Rice","quantity":50}]`))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.hub.Run(ctx) }()

	srv := httptest.NewServer(env.api.Handler())
	defer srv.Close()
	token := login(t, env, "kofi", "sales123")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	readUntil := func(eventType string) map[string]any {
		for {
			var msg map[string]any
			require.NoError(t, conn.ReadJSON(&msg))
			if msg["type"] == eventType {
				return msg
			}
		}
	}
	// Presence goes out once the session is attached and identified.
	readUntil(fanout.EventUserListUpdate)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/v1/sales", strings.NewReader(`{"itemId":"A1","quantity":1}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	msg := readUntil(fanout.EventNewSale)
	sale := msg["sale"].(map[string]any)
	assert.Equal(t, "A1", sale["itemId"])
}

func TestWebSocketSessionCannotIdentifyAsAnotherUser(t *testing.T) {
	env := newTestAPI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.hub.Run(ctx) }()

	srv := httptest.NewServer(env.api.Handler())
	defer srv.Close()
	token := login(t, env, "kofi", "sales123")

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws?token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	online := func() map[string]bool {
		for {
			var msg map[string]any
			require.NoError(t, conn.ReadJSON(&msg))
			if msg["type"] != fanout.EventUserListUpdate {
				continue
			}
			out := map[string]bool{}
			for _, raw := range msg["users"].([]any) {
				u := raw.(map[string]any)
				out[u["username"].(string)] = u["isOnline"].(bool)
			}
			return out
		}
	}
	assert.True(t, online()["kofi"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "identify", "username": "admin"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "identify", "username": "kofi"}))

	// Only the second message republishes presence.
	got := online()
	assert.True(t, got["kofi"])
	assert.False(t, got["admin"])
}
