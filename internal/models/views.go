package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Money is a decimal amount serialized with exactly two decimal places
type Money struct {
	decimal.Decimal
}

// NewMoney wraps d
func NewMoney(d decimal.Decimal) Money {
	return Money{Decimal: d}
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.StringFixed(2) + `"`), nil
}

func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Decimal.UnmarshalJSON(b)
}

// CartLine is one priced line of a cart view
type CartLine struct {
	ProductID ProductID `json:"product_id"`
	Name      string    `json:"name"`
	Quantity  int       `json:"quantity"`
	UnitPrice Money     `json:"unit_price"`
	LineTotal Money     `json:"line_total"`
	Stock     int       `json:"stock"`
}

// CartView is a cart joined against current catalog prices. It is computed
// on every read and never stored.
type CartView struct {
	ID         int64      `json:"id"`
	UserID     *int64     `json:"user_id,omitempty"`
	IsActive   bool       `json:"is_active"`
	Items      []CartLine `json:"items"`
	Subtotal   Money      `json:"subtotal"`
	GrandTotal Money      `json:"grand_total"`
	ItemCount  int        `json:"item_count"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// OrderItemView is an order line with its captured price
type OrderItemView struct {
	ID            int64     `json:"id"`
	ProductID     ProductID `json:"product_id"`
	Quantity      int       `json:"quantity"`
	CapturedPrice Money     `json:"captured_price"`
}

// OrderView is the response shape of an order
type OrderView struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress string          `json:"shipping_address"`
	CreatedAt       time.Time       `json:"created_at"`
	Items           []OrderItemView `json:"items"`
	TotalPrice      Money           `json:"total_price"`
	User            *User           `json:"user,omitempty"`
}

// NewOrderView builds the response for o; user is only embedded when non-nil
func NewOrderView(o *Order, user *User) *OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, OrderItemView{
			ID:            it.ID,
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			CapturedPrice: NewMoney(it.Price),
		})
	}
	return &OrderView{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          o.Status,
		ShippingAddress: o.ShippingAddress,
		CreatedAt:       o.CreatedAt,
		Items:           items,
		TotalPrice:      NewMoney(o.TotalPrice()),
		User:            user,
	}
}
