package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a product in the catalog
type Product struct {
	ID          ProductID       `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Category    string          `json:"category" db:"category"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Stock       int             `json:"stock" db:"stock"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// User represents a user account
type User struct {
	ID        int64     `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Identity is the already authenticated caller of a request
type Identity struct {
	UserID int64
	Admin  bool
}

// CartItems maps a product to the quantity held in a cart.
// A zero quantity is kept as an entry but counts as absent for IsEmpty.
type CartItems map[ProductID]int

// Clone returns an independent copy of the map
func (items CartItems) Clone() CartItems {
	out := make(CartItems, len(items))
	for id, qty := range items {
		out[id] = qty
	}
	return out
}

// ProductIDs returns the keys in ascending order
func (items CartItems) ProductIDs() []ProductID {
	ids := make([]ProductID, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	SortProductIDs(ids)
	return ids
}

// Cart represents a shopping cart
type Cart struct {
	ID        int64     `json:"id" db:"id"`
	UserID    *int64    `json:"user_id,omitempty" db:"user_id"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	Items     CartItems `json:"items"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Usable reports whether the cart exists and can still be read or mutated
func (c *Cart) Usable() bool {
	return c != nil && c.IsActive
}

// IsEmpty reports whether the cart holds no line with a positive quantity
func (c *Cart) IsEmpty() bool {
	for _, qty := range c.Items {
		if qty > 0 {
			return false
		}
	}
	return true
}

// OrderStatus is the lifecycle stamp of an order
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusShipped  OrderStatus = "shipped"
	OrderStatusCanceled OrderStatus = "canceled"
)

// Valid reports whether s is one of the known statuses
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusShipped, OrderStatusCanceled:
		return true
	}
	return false
}

// Order represents an order
type Order struct {
	ID              int64       `json:"id" db:"id"`
	UserID          int64       `json:"user_id" db:"user_id"`
	Status          OrderStatus `json:"status" db:"status"`
	ShippingAddress string      `json:"shipping_address" db:"shipping_address"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	Items           []OrderItem `json:"items"`
}

// TotalPrice sums captured price times quantity over the order items
func (o *Order) TotalPrice() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// OrderItem represents an item in an order. Price is the unit price captured
// when the order was created.
type OrderItem struct {
	ID        int64           `json:"id" db:"id"`
	OrderID   int64           `json:"order_id" db:"order_id"`
	ProductID ProductID       `json:"product_id" db:"product_id"`
	Quantity  int             `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"`
}

// LineTotal is the captured price times quantity
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CreateCartRequest represents a request to create a cart
type CreateCartRequest struct {
	Items CartItems `json:"items"`
}

// UpdateCartRequest represents a bulk update of cart quantities
type UpdateCartRequest struct {
	Items CartItems `json:"items"`
}

// AddToCartRequest represents a request to add item to cart
type AddToCartRequest struct {
	ProductID ProductID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// SetCartItemRequest overwrites the quantity of an item already in the cart
type SetCartItemRequest struct {
	Quantity int `json:"quantity"`
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	ShippingAddress string `json:"shipping_address"`
}

// UpdateOrderStatusRequest stamps a new status on an order
type UpdateOrderStatusRequest struct {
	Status OrderStatus `json:"status"`
}

// CreateProductRequest represents a request to add a catalog product
type CreateProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

// UpdateProductRequest is a partial product update; nil fields are left as is
type UpdateProductRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Stock       *int             `json:"stock,omitempty"`
}

// CreateUserRequest represents a request to create a user
type CreateUserRequest struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}
