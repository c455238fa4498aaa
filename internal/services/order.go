package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SigNoz/storefront-api/internal/events"
	"github.com/SigNoz/storefront-api/internal/metrics"
	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/store"
)

// DefaultPublishTimeout bounds how long a checkout waits on the order event
const DefaultPublishTimeout = 2 * time.Second

// OrderService handles order-related operations
type OrderService struct {
	store          store.Store
	metrics        *metrics.AppMetrics
	publisher      events.Publisher
	publishTimeout time.Duration
	products       *ProductCache
	log            *slog.Logger
}

// NewOrderService creates a new order service. A nil publisher disables
// events. products, when set, is the catalog read cache whose entries are
// dropped once an order has changed their stock.
func NewOrderService(st store.Store, m *metrics.AppMetrics, pub events.Publisher, products *ProductCache, log *slog.Logger) *OrderService {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &OrderService{
		store:          st,
		metrics:        m,
		publisher:      pub,
		publishTimeout: DefaultPublishTimeout,
		products:       products,
		log:            log.With("component", "order"),
	}
}

// CreateOrder converts an active, non-empty cart into a pending order. Stock
// is decremented and prices are captured in the same transaction; on any
// failure nothing is written and the cart stays active.
func (s *OrderService) CreateOrder(ctx context.Context, cartID, userID int64, shippingAddress string) (*models.Order, error) {
	if err := validateShippingAddress(shippingAddress); err != nil {
		return nil, err
	}
	if userID <= 0 {
		return nil, &ValidationError{Field: "user_id", Message: "is required"}
	}

	var (
		order    models.Order
		products map[models.ProductID]models.Product
	)
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		cart, err := lockActiveCart(ctx, q, cartID)
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return &InvalidStateError{Reason: "cart is empty"}
		}

		// lock in ascending id order so concurrent checkouts cannot deadlock
		ids := make([]models.ProductID, 0, len(cart.Items))
		for _, id := range cart.Items.ProductIDs() {
			if cart.Items[id] > 0 {
				ids = append(ids, id)
			}
		}
		if products, err = q.GetProductsForUpdate(ctx, ids); err != nil {
			return fmt.Errorf("failed to lock products: %w", err)
		}

		order = models.Order{
			UserID:          userID,
			Status:          models.OrderStatusPending,
			ShippingAddress: shippingAddress,
		}
		if err := q.CreateOrder(ctx, &order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		items := make([]models.OrderItem, 0, len(ids))
		for _, id := range ids {
			qty := cart.Items[id]
			p, ok := products[id]
			if !ok {
				return productNotFound(id)
			}
			stockErr := &InsufficientStockError{ProductID: id, ProductName: p.Name, Requested: qty, Available: p.Stock}
			if qty > p.Stock {
				return stockErr
			}
			if err := q.DecrementStock(ctx, id, qty); err != nil {
				if errors.Is(err, store.ErrInsufficientStock) {
					return stockErr
				}
				return fmt.Errorf("failed to decrement stock: %w", err)
			}
			items = append(items, models.OrderItem{ProductID: id, Quantity: qty, Price: p.Price})
		}

		if err := q.CreateOrderItems(ctx, order.ID, items); err != nil {
			return fmt.Errorf("failed to create order items: %w", err)
		}
		order.Items = items

		if err := q.DeactivateCart(ctx, cartID); err != nil {
			return fmt.Errorf("failed to deactivate cart: %w", err)
		}
		return nil
	})
	if err != nil {
		s.observeFailure(ctx, cartID, err)
		return nil, err
	}

	s.recordOrder(ctx, &order, products)
	s.log.InfoContext(ctx, "order created",
		"order_id", order.ID,
		"cart_id", cartID,
		"user_id", userID,
		"items", len(order.Items),
		"total", order.TotalPrice().StringFixed(2),
	)

	s.products.invalidate(orderedProductIDs(&order)...)
	s.publish(ctx, &order, cartID)

	return &order, nil
}

// publish sends the order event with its own deadline. The order is already
// committed, so neither a slow broker nor a caller that went away may hold
// up or cancel the delivery attempt.
func (s *OrderService) publish(ctx context.Context, order *models.Order, cartID int64) {
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	if err := s.publisher.PublishOrderCreated(pubCtx, events.NewOrderCreated(order, cartID)); err != nil {
		s.log.WarnContext(ctx, "failed to publish order event", "order_id", order.ID, "error", err)
	}
}

func orderedProductIDs(o *models.Order) []models.ProductID {
	ids := make([]models.ProductID, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

// recordOrder records order and revenue metrics per product category, along
// with the inventory level left after the decrement.
func (s *OrderService) recordOrder(ctx context.Context, order *models.Order, products map[models.ProductID]models.Product) {
	categoryRevenue := make(map[string]decimal.Decimal)
	categoryLines := make(map[string]int)

	for _, item := range order.Items {
		p := products[item.ProductID]
		category := p.Category
		if category == "" {
			category = "unknown"
		}
		categoryRevenue[category] = categoryRevenue[category].Add(item.LineTotal())
		categoryLines[category]++

		s.metrics.InventoryLevel.Record(ctx, int64(p.Stock-item.Quantity), s.metrics.Attrs(
			attribute.String("product_id", item.ProductID.String()),
		))
	}

	for category, lines := range categoryLines {
		s.metrics.OrdersCreated.Add(ctx, int64(lines), s.metrics.Attrs(
			attribute.String("order_status", string(order.Status)),
			attribute.String("product_category", category),
		))
		s.metrics.RevenueTotal.Add(ctx, categoryRevenue[category].InexactFloat64(), s.metrics.Attrs(
			attribute.String("order_status", string(order.Status)),
			attribute.String("product_category", category),
		))
	}
}

func (s *OrderService) observeFailure(ctx context.Context, cartID int64, err error) {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		s.metrics.StockRejections.Add(ctx, 1, s.metrics.Attrs(attribute.String("operation", "order.create")))
		s.log.InfoContext(ctx, "order rejected", "cart_id", cartID,
			"product_id", stockErr.ProductID.String(), "requested", stockErr.Requested, "available", stockErr.Available)
	case isDomainError(err):
		s.log.DebugContext(ctx, "order rejected", "cart_id", cartID, "reason", err.Error())
	default:
		s.log.ErrorContext(ctx, "order transaction failed", "cart_id", cartID, "error", err)
	}
}

// GetOrder returns an order visible to who. Owners see their own orders,
// admins see every order with the owning user embedded.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64, who models.Identity) (*models.OrderView, error) {
	q := s.store.Queries()

	order, err := q.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, orderNotFound(orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if !who.Admin && order.UserID != who.UserID {
		return nil, orderNotFound(orderID)
	}
	if !who.Admin {
		return models.NewOrderView(&order, nil), nil
	}

	user, err := q.GetUser(ctx, order.UserID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return models.NewOrderView(&order, nil), nil
	case err != nil:
		return nil, fmt.Errorf("failed to get order user: %w", err)
	}
	return models.NewOrderView(&order, &user), nil
}

// ListUserOrders returns the orders of userID, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]*models.OrderView, error) {
	orders, err := s.store.Queries().ListUserOrders(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	views := make([]*models.OrderView, 0, len(orders))
	for i := range orders {
		views = append(views, models.NewOrderView(&orders[i], nil))
	}
	return views, nil
}

func (s *OrderService) CountUserOrders(ctx context.Context, userID int64) (int, error) {
	n, err := s.store.Queries().CountUserOrders(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return n, nil
}

// TotalSales sums captured price times quantity over every order item
func (s *OrderService) TotalSales(ctx context.Context) (decimal.Decimal, error) {
	total, err := s.store.Queries().TotalSales(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to compute total sales: %w", err)
	}
	return total, nil
}

// UpdateOrderStatus stamps a new status on an order. It does not touch stock.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.OrderView, error) {
	if !status.Valid() {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("must be one of %s, %s, %s",
			models.OrderStatusPending, models.OrderStatusShipped, models.OrderStatusCanceled)}
	}

	var order models.Order
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		err := q.UpdateOrderStatus(ctx, orderID, status)
		if errors.Is(err, store.ErrNotFound) {
			return orderNotFound(orderID)
		}
		if err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		if order, err = q.GetOrder(ctx, orderID); err != nil {
			return fmt.Errorf("failed to reload order: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.InfoContext(ctx, "order status updated", "order_id", orderID, "status", string(status))
	return models.NewOrderView(&order, nil), nil
}

func orderNotFound(id int64) error {
	return &NotFoundError{Entity: "order", ID: strconv.FormatInt(id, 10)}
}
