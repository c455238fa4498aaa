// Package store defines the persistence boundary used by the services.
//
// A Store hands out Queries either directly, for single-statement reads and
// writes, or scoped to a transaction through WithTx. Implementations must
// guarantee that a transaction either commits as a whole or leaves no visible
// side effect, including when fn panics or the context is canceled.
package store

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/SigNoz/storefront-api/internal/models"
)

var (
	// ErrNotFound is returned by single-row lookups that match nothing
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a unique constraint rejects an insert
	ErrDuplicate = errors.New("store: duplicate")
	// ErrInsufficientStock is returned by DecrementStock when the guarded update matches no row
	ErrInsufficientStock = errors.New("store: insufficient stock")
)

// Store is a handle on durable storage, acquired at process start and closed at shutdown.
type Store interface {
	Queries() Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Queries is the set of storage primitives shared by transactional and
// non-transactional access.
type Queries interface {
	CatalogQueries
	UserQueries
	CartQueries
	OrderQueries
}

type CatalogQueries interface {
	GetProduct(ctx context.Context, id models.ProductID) (models.Product, error)
	// GetProducts returns the products that exist; missing ids are absent from the map.
	GetProducts(ctx context.Context, ids []models.ProductID) (map[models.ProductID]models.Product, error)
	// GetProductsForUpdate is GetProducts that also locks the rows until the transaction ends.
	GetProductsForUpdate(ctx context.Context, ids []models.ProductID) (map[models.ProductID]models.Product, error)
	ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error)
	CreateProduct(ctx context.Context, p *models.Product) error
	UpdateProduct(ctx context.Context, p *models.Product) error
	// DecrementStock subtracts amount only if the remaining stock stays non-negative.
	DecrementStock(ctx context.Context, id models.ProductID, amount int) error
	CountLowStock(ctx context.Context, threshold int) (int, error)
}

type UserQueries interface {
	GetUser(ctx context.Context, id int64) (models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
}

type CartQueries interface {
	// CreateCart inserts the cart row only; lines are written with UpsertCartItems.
	CreateCart(ctx context.Context, c *models.Cart) error
	GetCart(ctx context.Context, id int64) (models.Cart, error)
	// GetCartForUpdate is GetCart that also locks the cart row until the transaction ends.
	GetCartForUpdate(ctx context.Context, id int64) (models.Cart, error)
	// UpsertCartItems writes the given quantities and leaves other lines untouched.
	UpsertCartItems(ctx context.Context, cartID int64, items models.CartItems) error
	DeleteCartItem(ctx context.Context, cartID int64, productID models.ProductID) error
	DeactivateCart(ctx context.Context, cartID int64) error
	// CountActiveCarts counts active carts holding at least one positive quantity.
	CountActiveCarts(ctx context.Context) (int, error)
}

type OrderQueries interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	// CreateOrderItems inserts items under orderID and fills in their ids.
	CreateOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error
	GetOrder(ctx context.Context, id int64) (models.Order, error)
	ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error)
	CountUserOrders(ctx context.Context, userID int64) (int, error)
	UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error
	TotalSales(ctx context.Context) (decimal.Decimal, error)
}
