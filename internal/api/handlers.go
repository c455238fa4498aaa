package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/SigNoz/storefront-api/internal/metrics"
	"github.com/SigNoz/storefront-api/internal/middleware"
	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/services"
	"github.com/SigNoz/storefront-api/internal/store"
)

// Services groups the domain services the handlers call into
type Services struct {
	Products *services.ProductService
	Carts    *services.CartService
	Orders   *services.OrderService
	Users    *services.UserService
}

// App holds application dependencies
type App struct {
	store     store.Store
	metrics   *metrics.AppMetrics
	prom      *metrics.ServerMetrics
	svc       Services
	jwtSecret []byte
	log       *slog.Logger
}

// NewApp creates a new application instance. prom may be nil to disable /metrics.
func NewApp(st store.Store, m *metrics.AppMetrics, prom *metrics.ServerMetrics, svc Services, jwtSecret []byte, log *slog.Logger) *App {
	return &App{
		store:     st,
		metrics:   m,
		prom:      prom,
		svc:       svc,
		jwtSecret: jwtSecret,
		log:       log,
	}
}

// Router builds a router with every route registered
func (a *App) Router() *mux.Router {
	r := mux.NewRouter()
	a.SetupRoutes(r)
	return r
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	// Middleware. Metrics wraps recovery so a recovered panic is still counted as a 500.
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics, a.prom, a.log))
	r.Use(middleware.RecoverMiddleware(a.log))
	r.Use(middleware.Auth(a.jwtSecret))

	// mux only runs middleware on a matched route, so preflights need one
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// API Routes
	api := r.PathPrefix("/api/v1").Subrouter()

	// Products
	api.HandleFunc("/products", a.ListProductsHandler).Methods("GET")
	api.HandleFunc("/products", middleware.RequireAdmin(a.CreateProductHandler)).Methods("POST")
	api.HandleFunc("/products/low-stock/count", middleware.RequireAdmin(a.LowStockCountHandler)).Methods("GET")
	api.HandleFunc("/products/{id}", a.GetProductHandler).Methods("GET")
	api.HandleFunc("/products/{id}", middleware.RequireAdmin(a.UpdateProductHandler)).Methods("PATCH")

	// Carts
	api.HandleFunc("/carts", a.CreateCartHandler).Methods("POST")
	api.HandleFunc("/carts/{id:[0-9]+}", a.GetCartHandler).Methods("GET")
	api.HandleFunc("/carts/{id:[0-9]+}", a.UpdateCartHandler).Methods("PUT")
	api.HandleFunc("/carts/{id:[0-9]+}/items", a.AddCartItemHandler).Methods("POST")
	api.HandleFunc("/carts/{id:[0-9]+}/items/{productId}", a.SetCartItemHandler).Methods("PUT")
	api.HandleFunc("/carts/{id:[0-9]+}/items/{productId}", a.RemoveCartItemHandler).Methods("DELETE")
	api.HandleFunc("/carts/{id:[0-9]+}/orders", middleware.RequireUser(a.CreateOrderHandler)).Methods("POST")

	// Orders
	api.HandleFunc("/orders", middleware.RequireUser(a.ListOrdersHandler)).Methods("GET")
	api.HandleFunc("/orders/count", middleware.RequireUser(a.CountOrdersHandler)).Methods("GET")
	api.HandleFunc("/orders/total-sales", middleware.RequireAdmin(a.TotalSalesHandler)).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", middleware.RequireUser(a.GetOrderHandler)).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/status", middleware.RequireAdmin(a.UpdateOrderStatusHandler)).Methods("PUT")

	// Users
	api.HandleFunc("/users", a.CreateUserHandler).Methods("POST")
	api.HandleFunc("/users/{id:[0-9]+}", middleware.RequireUser(a.GetUserHandler)).Methods("GET")

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
	if a.prom != nil {
		r.Handle("/metrics", a.prom.Handler()).Methods("GET")
	}
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.Ping(ctx); err != nil {
		a.log.WarnContext(ctx, "health check failed", "error", err)
		a.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ListProductsHandler handles GET /api/v1/products
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", services.DefaultPageSize)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	products, err := a.svc.Products.ListProducts(r.Context(), limit, offset)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, products)
}

// GetProductHandler handles GET /api/v1/products/{id}
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathProductID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	product, err := a.svc.Products.GetProduct(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, product)
}

// CreateProductHandler handles POST /api/v1/products
func (a *App) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProductRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	product, err := a.svc.Products.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, product)
}

// UpdateProductHandler handles PATCH /api/v1/products/{id}
func (a *App) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathProductID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req models.UpdateProductRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	product, err := a.svc.Products.UpdateProduct(r.Context(), id, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, product)
}

// LowStockCountHandler handles GET /api/v1/products/low-stock/count
func (a *App) LowStockCountHandler(w http.ResponseWriter, r *http.Request) {
	threshold, err := queryInt(r, "threshold", services.LowStockThreshold)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	count, err := a.svc.Products.LowStockCount(r.Context(), threshold)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"threshold": threshold, "count": count})
}

// CreateCartHandler handles POST /api/v1/carts. An authenticated caller owns the new cart.
func (a *App) CreateCartHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCartRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, r, err)
			return
		}
	}

	var owner *int64
	if id, ok := middleware.IdentityFrom(r.Context()); ok {
		owner = &id.UserID
	}

	cart, err := a.svc.Carts.CreateCart(r.Context(), owner, req.Items)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, cart)
}

// GetCartHandler handles GET /api/v1/carts/{id}
func (a *App) GetCartHandler(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	cart, err := a.svc.Carts.GetCart(r.Context(), cartID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, cart)
}

// UpdateCartHandler handles PUT /api/v1/carts/{id}
func (a *App) UpdateCartHandler(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req models.UpdateCartRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	cart, err := a.svc.Carts.UpdateCart(r.Context(), cartID, req.Items)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, cart)
}

// AddCartItemHandler handles POST /api/v1/carts/{id}/items
func (a *App) AddCartItemHandler(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req models.AddToCartRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	cart, err := a.svc.Carts.AddItem(r.Context(), cartID, req.ProductID, req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, cart)
}

// SetCartItemHandler handles PUT /api/v1/carts/{id}/items/{productId}
func (a *App) SetCartItemHandler(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	productID, err := pathProductID(r, "productId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req models.SetCartItemRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	cart, err := a.svc.Carts.SetItemQuantity(r.Context(), cartID, productID, req.Quantity)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, cart)
}

// RemoveCartItemHandler handles DELETE /api/v1/carts/{id}/items/{productId}
func (a *App) RemoveCartItemHandler(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	productID, err := pathProductID(r, "productId")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	cart, err := a.svc.Carts.RemoveItem(r.Context(), cartID, productID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, cart)
}

// CreateOrderHandler handles POST /api/v1/carts/{id}/orders
func (a *App) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	cartID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req models.CreateOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	who, _ := middleware.IdentityFrom(r.Context())
	order, err := a.svc.Orders.CreateOrder(r.Context(), cartID, who.UserID, req.ShippingAddress)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, models.NewOrderView(order, nil))
}

// GetOrderHandler handles GET /api/v1/orders/{id}
func (a *App) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	who, _ := middleware.IdentityFrom(r.Context())
	order, err := a.svc.Orders.GetOrder(r.Context(), orderID, who)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, order)
}

// ListOrdersHandler handles GET /api/v1/orders
func (a *App) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	who, _ := middleware.IdentityFrom(r.Context())
	orders, err := a.svc.Orders.ListUserOrders(r.Context(), who.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, orders)
}

// CountOrdersHandler handles GET /api/v1/orders/count
func (a *App) CountOrdersHandler(w http.ResponseWriter, r *http.Request) {
	who, _ := middleware.IdentityFrom(r.Context())
	count, err := a.svc.Orders.CountUserOrders(r.Context(), who.UserID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// TotalSalesHandler handles GET /api/v1/orders/total-sales
func (a *App) TotalSalesHandler(w http.ResponseWriter, r *http.Request) {
	total, err := a.svc.Orders.TotalSales(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]models.Money{"total_sales": models.NewMoney(total)})
}

// UpdateOrderStatusHandler handles PUT /api/v1/orders/{id}/status
func (a *App) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req models.UpdateOrderStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	order, err := a.svc.Orders.UpdateOrderStatus(r.Context(), orderID, req.Status)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, order)
}

// CreateUserHandler handles POST /api/v1/users
func (a *App) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	user, err := a.svc.Users.CreateUser(r.Context(), req.Email, req.Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, user)
}

// GetUserHandler handles GET /api/v1/users/{id}. Users may only read themselves unless admin.
func (a *App) GetUserHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if who, _ := middleware.IdentityFrom(r.Context()); !who.Admin && who.UserID != userID {
		a.writeError(w, r, services.ErrForbidden)
		return
	}

	user, err := a.svc.Users.GetUser(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, user)
}
