package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SigNoz/storefront-api/internal/events"
	"github.com/SigNoz/storefront-api/internal/metrics"
	"github.com/SigNoz/storefront-api/internal/middleware"
	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/services"
	"github.com/SigNoz/storefront-api/internal/store/memory"
	"github.com/SigNoz/storefront-api/pkg/logger"
)

var testSecret = []byte("api-test-secret")

type testServer struct {
	*httptest.Server
	t     *testing.T
	admin string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	m := metrics.NewNoop("test")
	log := logger.Discard()

	products := services.NewProductService(st, m, time.Minute, log)
	app := NewApp(st, m, metrics.NewServerMetrics("storefront"), Services{
		Products: products,
		Carts:    services.NewCartService(st, m, log),
		Orders:   services.NewOrderService(st, m, events.NopPublisher{}, products.Cache(), log),
		Users:    services.NewUserService(st, log),
	}, testSecret, log)

	srv := httptest.NewServer(app.Router())
	t.Cleanup(srv.Close)

	ts := &testServer{Server: srv, t: t}
	ts.admin = ts.token(models.Identity{UserID: 1000, Admin: true})
	return ts
}

func (ts *testServer) token(id models.Identity) string {
	tok, err := middleware.IssueToken(testSecret, id, time.Hour)
	require.NoError(ts.t, err)
	return tok
}

// do sends body (marshalled unless it is already a string) and decodes the response into out when non-nil
func (ts *testServer) do(method, path, token string, body any, out any) int {
	ts.t.Helper()

	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rdr = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(ts.t, err)
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, rdr)
	require.NoError(ts.t, err)
	if rdr != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (ts *testServer) createProduct(name, price string, stock int) models.Product {
	ts.t.Helper()
	var p models.Product
	status := ts.do(http.MethodPost, "/api/v1/products", ts.admin,
		fmt.Sprintf(`{"name":%q,"category":"books","price":%q,"stock":%d}`, name, price, stock), &p)
	require.Equal(ts.t, http.StatusCreated, status)
	return p
}

func (ts *testServer) createUser(email string) (models.User, string) {
	ts.t.Helper()
	var u models.User
	status := ts.do(http.MethodPost, "/api/v1/users", "", map[string]string{"email": email, "name": "Shopper"}, &u)
	require.Equal(ts.t, http.StatusCreated, status)
	return u, ts.token(models.Identity{UserID: u.ID})
}

func (ts *testServer) createCart(token string) models.CartView {
	ts.t.Helper()
	var c models.CartView
	require.Equal(ts.t, http.StatusCreated, ts.do(http.MethodPost, "/api/v1/carts", token, nil, &c))
	return c
}

func TestCheckoutHappyPath(t *testing.T) {
	ts := newTestServer(t)
	product := ts.createProduct("Widget", "10.00", 100)
	user, token := ts.createUser("buyer@example.com")

	cart := ts.createCart(token)
	require.NotNil(t, cart.UserID)
	assert.Equal(t, user.ID, *cart.UserID)

	var view struct {
		Items    []models.CartLine `json:"items"`
		Subtotal string            `json:"subtotal"`
	}
	status := ts.do(http.MethodPost, fmt.Sprintf("/api/v1/carts/%d/items", cart.ID), token,
		map[string]any{"product_id": product.ID, "quantity": 3}, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "30.00", view.Subtotal)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 3, view.Items[0].Quantity)

	var order struct {
		ID         int64  `json:"id"`
		UserID     int64  `json:"user_id"`
		Status     string `json:"status"`
		TotalPrice string `json:"total_price"`
		Items      []struct {
			Quantity      int    `json:"quantity"`
			CapturedPrice string `json:"captured_price"`
		} `json:"items"`
	}
	status = ts.do(http.MethodPost, fmt.Sprintf("/api/v1/carts/%d/orders", cart.ID), token,
		map[string]string{"shipping_address": "1 Main St"}, &order)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, user.ID, order.UserID)
	assert.Equal(t, "pending", order.Status)
	assert.Equal(t, "30.00", order.TotalPrice)
	require.Len(t, order.Items, 1)
	assert.Equal(t, "10.00", order.Items[0].CapturedPrice)

	var after models.Product
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/products/"+product.ID.String(), "", nil, &after))
	assert.Equal(t, 97, after.Stock)

	// the cart is spent
	var errBody errorResponse
	status = ts.do(http.MethodPost, fmt.Sprintf("/api/v1/carts/%d/orders", cart.ID), token,
		map[string]string{"shipping_address": "1 Main St"}, &errBody)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "cart is not active", errBody.Error)

	var mine []models.OrderView
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/orders", token, nil, &mine))
	require.Len(t, mine, 1)
	assert.Equal(t, order.ID, mine[0].ID)

	var count map[string]int
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/orders/count", token, nil, &count))
	assert.Equal(t, 1, count["count"])

	var sales map[string]string
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/orders/total-sales", ts.admin, nil, &sales))
	assert.Equal(t, "30.00", sales["total_sales"])

	var asAdmin models.OrderView
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), ts.admin, nil, &asAdmin))
	require.NotNil(t, asAdmin.User)
	assert.Equal(t, "buyer@example.com", asAdmin.User.Email)

	_, other := ts.createUser("other@example.com")
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", order.ID), other, nil, nil))
}

func TestOverdraftLeavesCartUnchanged(t *testing.T) {
	ts := newTestServer(t)
	product := ts.createProduct("Widget", "10.00", 5)
	cart := ts.createCart("")

	path := fmt.Sprintf("/api/v1/carts/%d/items", cart.ID)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, path, "", map[string]any{"product_id": product.ID, "quantity": 4}, nil))

	var errBody errorResponse
	status := ts.do(http.MethodPost, path, "", map[string]any{"product_id": product.ID, "quantity": 2}, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, errBody.Error, "insufficient stock for Widget")

	var view models.CartView
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, fmt.Sprintf("/api/v1/carts/%d", cart.ID), "", nil, &view))
	require.Len(t, view.Items, 1)
	assert.Equal(t, 4, view.Items[0].Quantity)
}

func TestCartItemEndpoints(t *testing.T) {
	ts := newTestServer(t)
	a := ts.createProduct("A", "2.50", 10)
	b := ts.createProduct("B", "1.00", 10)
	cart := ts.createCart("")
	base := fmt.Sprintf("/api/v1/carts/%d", cart.ID)

	var view models.CartView
	status := ts.do(http.MethodPut, base, "", fmt.Sprintf(`{"items":{%q:2,%q:3}}`, a.ID, b.ID), &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 5, view.ItemCount)
	assert.Equal(t, "8.00", view.Subtotal.StringFixed(2))

	status = ts.do(http.MethodPut, base+"/items/"+a.ID.String(), "", map[string]int{"quantity": 1}, &view)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 4, view.ItemCount)

	// removing twice is fine
	for i := 0; i < 2; i++ {
		status = ts.do(http.MethodDelete, base+"/items/"+b.ID.String(), "", nil, &view)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, 1, view.ItemCount)
	}

	status = ts.do(http.MethodPut, base+"/items/"+b.ID.String(), "", map[string]int{"quantity": 1}, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	product := ts.createProduct("Widget", "10.00", 5)
	_, token := ts.createUser("dup@example.com")
	empty := ts.createCart(token)
	userOnly := ts.token(models.Identity{UserID: 7})

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"empty checkout", http.MethodPost, fmt.Sprintf("/api/v1/carts/%d/orders", empty.ID), token,
			map[string]string{"shipping_address": "1 Main St"}, http.StatusBadRequest},
		{"blank address", http.MethodPost, fmt.Sprintf("/api/v1/carts/%d/orders", empty.ID), token,
			map[string]string{"shipping_address": "   "}, http.StatusUnprocessableEntity},
		{"anonymous checkout", http.MethodPost, fmt.Sprintf("/api/v1/carts/%d/orders", empty.ID), "",
			map[string]string{"shipping_address": "1 Main St"}, http.StatusUnauthorized},
		{"malformed json", http.MethodPost, fmt.Sprintf("/api/v1/carts/%d/items", empty.ID), "", `{"product_id":`, http.StatusUnprocessableEntity},
		{"negative quantity", http.MethodPost, fmt.Sprintf("/api/v1/carts/%d/items", empty.ID), "",
			map[string]any{"product_id": product.ID, "quantity": -1}, http.StatusUnprocessableEntity},
		{"unknown cart", http.MethodGet, "/api/v1/carts/999", "", nil, http.StatusNotFound},
		{"unknown product", http.MethodGet, "/api/v1/products/" + models.NewProductID().String(), "", nil, http.StatusNotFound},
		{"bad product id", http.MethodGet, "/api/v1/products/not-a-uuid", "", nil, http.StatusUnprocessableEntity},
		{"non-admin create product", http.MethodPost, "/api/v1/products", userOnly,
			map[string]any{"name": "X", "price": "1.00", "stock": 1}, http.StatusForbidden},
		{"anonymous create product", http.MethodPost, "/api/v1/products", "",
			map[string]any{"name": "X", "price": "1.00", "stock": 1}, http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/v1/orders", "not-a-token", nil, http.StatusUnauthorized},
		{"duplicate user", http.MethodPost, "/api/v1/users", "",
			map[string]string{"email": "DUP@example.com", "name": "Again"}, http.StatusConflict},
		{"other user profile", http.MethodGet, "/api/v1/users/1", userOnly, nil, http.StatusForbidden},
		{"bad status", http.MethodPut, "/api/v1/orders/1/status", ts.admin, map[string]string{"status": "lost"}, http.StatusUnprocessableEntity},
		{"bad limit", http.MethodGet, "/api/v1/products?limit=abc", "", nil, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errBody errorResponse
			status := ts.do(tt.method, tt.path, tt.token, tt.body, &errBody)
			assert.Equal(t, tt.want, status)
			assert.NotEmpty(t, errBody.Error)
		})
	}

	var stock models.Product
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/products/"+product.ID.String(), "", nil, &stock))
	assert.Equal(t, 5, stock.Stock)
}

func TestAdminProductEndpoints(t *testing.T) {
	ts := newTestServer(t)
	product := ts.createProduct("Widget", "10.00", 50)
	ts.createProduct("Gadget", "3.00", 2)

	var updated models.Product
	status := ts.do(http.MethodPatch, "/api/v1/products/"+product.ID.String(), ts.admin, `{"stock":10}`, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 10, updated.Stock)
	assert.Equal(t, "Widget", updated.Name)

	var low map[string]int
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/products/low-stock/count", ts.admin, nil, &low))
	assert.Equal(t, 2, low["count"])
	assert.Equal(t, services.LowStockThreshold, low["threshold"])

	var list []models.Product
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/products?limit=1", "", nil, &list))
	assert.Len(t, list, 1)
}

func TestHealthAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	var health map[string]string
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/health", "", nil, &health))
	assert.Equal(t, "healthy", health["status"])

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `storefront_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestWriteErrorHidesInternalErrors(t *testing.T) {
	app := &App{log: logger.Discard()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)

	app.writeError(rec, req, fmt.Errorf("failed to list orders: %w", errors.New("dial tcp 10.0.0.1:3306: connection refused")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&services.NotFoundError{Entity: "cart", ID: "1"}, http.StatusNotFound},
		{&services.InvalidStateError{Reason: "cart is empty"}, http.StatusBadRequest},
		{&services.InsufficientStockError{Requested: 2, Available: 1}, http.StatusBadRequest},
		{&services.ValidationError{Field: "quantity", Message: "must be positive"}, http.StatusUnprocessableEntity},
		{&services.ConflictError{Reason: "user already exists"}, http.StatusConflict},
		{fmt.Errorf("wrapped: %w", services.ErrForbidden), http.StatusForbidden},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestPreflightReachesCORS(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/v1/carts/1/orders", "/api/v1/products", "/health"} {
		t.Run(path, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodOptions, ts.URL+path, nil)
			require.NoError(t, err)
			req.Header.Set("Origin", "https://shop.example.com")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", "authorization")

			resp, err := ts.Client().Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
			assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
		})
	}
}

func TestRecoveredPanicIsCounted(t *testing.T) {
	prom := metrics.NewServerMetrics("storefront")
	st := memory.New()
	app := NewApp(st, metrics.NewNoop("test"), prom, Services{}, testSecret, logger.Discard())
	r := app.Router()
	r.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}).Methods("GET")

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	scrape := httptest.NewRecorder()
	prom.Handler().ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, scrape.Body.String(), `storefront_http_requests_total{method="GET",route="/boom",status="500"} 1`)
}
