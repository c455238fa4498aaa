package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/SigNoz/storefront-api/internal/metrics"
	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/store"
)

// CartService handles cart-related operations
type CartService struct {
	store   store.Store
	metrics *metrics.AppMetrics
	log     *slog.Logger
}

// NewCartService creates a new cart service
func NewCartService(st store.Store, m *metrics.AppMetrics, log *slog.Logger) *CartService {
	return &CartService{
		store:   st,
		metrics: m,
		log:     log.With("component", "cart"),
	}
}

// DefaultCartMonitorInterval is used when MonitorActiveCarts gets a non-positive interval
const DefaultCartMonitorInterval = 30 * time.Second

// MonitorActiveCarts records the number of active carts holding items every
// interval until ctx is done.
func (s *CartService) MonitorActiveCarts(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultCartMonitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			count, err := s.store.Queries().CountActiveCarts(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn("failed to count active carts", "error", err)
				}
				continue
			}
			s.metrics.ActiveCartsCount.Record(ctx, int64(count), s.metrics.Attrs())
		}
	}
}

// CreateCart opens a new active cart. A non-empty initial item map is
// validated against stock like a bulk update.
func (s *CartService) CreateCart(ctx context.Context, userID *int64, items models.CartItems) (*models.CartView, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}

	var view *models.CartView
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		products := map[models.ProductID]models.Product{}
		if len(items) > 0 {
			var err error
			if products, err = checkStock(ctx, q, items); err != nil {
				return err
			}
		}

		cart := models.Cart{UserID: userID, IsActive: true, Items: models.CartItems{}}
		if err := q.CreateCart(ctx, &cart); err != nil {
			return fmt.Errorf("failed to create cart: %w", err)
		}
		if len(items) > 0 {
			if err := q.UpsertCartItems(ctx, cart.ID, items); err != nil {
				return fmt.Errorf("failed to write cart items: %w", err)
			}
			cart.Items = items.Clone()
		}

		view = PriceCart(cart, products)
		return nil
	})
	if err != nil {
		s.observeFailure(ctx, "create", 0, err)
		return nil, err
	}

	s.log.InfoContext(ctx, "cart created", "cart_id", view.ID, "items", len(view.Items))
	s.recordItemCount(ctx, view)
	return view, nil
}

// GetCart returns the priced view of an active cart
func (s *CartService) GetCart(ctx context.Context, cartID int64) (*models.CartView, error) {
	q := s.store.Queries()

	cart, err := q.GetCart(ctx, cartID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !cart.Usable()) {
		return nil, cartNotActive(cartID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	products, err := q.GetProducts(ctx, cart.Items.ProductIDs())
	if err != nil {
		return nil, fmt.Errorf("failed to load cart products: %w", err)
	}
	return PriceCart(cart, products), nil
}

// UpdateCart overwrites the quantities of the given products. Products not in
// items keep their current quantity.
func (s *CartService) UpdateCart(ctx context.Context, cartID int64, items models.CartItems) (*models.CartView, error) {
	if err := validateItems(items); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "update", cartID, func(ctx context.Context, q store.Queries, cart *models.Cart) error {
		if len(items) == 0 {
			return nil
		}
		if _, err := checkStock(ctx, q, items); err != nil {
			return err
		}
		if err := q.UpsertCartItems(ctx, cart.ID, items); err != nil {
			return fmt.Errorf("failed to write cart items: %w", err)
		}
		return nil
	})
}

// AddItem adds delta to the quantity held for productID. The resulting total
// must fit in the product's stock.
func (s *CartService) AddItem(ctx context.Context, cartID int64, productID models.ProductID, delta int) (*models.CartView, error) {
	if productID.IsZero() {
		return nil, &ValidationError{Field: "product_id", Message: "is required"}
	}
	if err := validateQuantity("quantity", delta); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "add", cartID, func(ctx context.Context, q store.Queries, cart *models.Cart) error {
		p, err := q.GetProduct(ctx, productID)
		if errors.Is(err, store.ErrNotFound) {
			return productNotFound(productID)
		}
		if err != nil {
			return fmt.Errorf("failed to get product: %w", err)
		}

		if delta > p.Stock {
			return &InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Requested: delta, Available: p.Stock}
		}
		total := cart.Items[productID] + delta
		if total > p.Stock {
			return &InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Requested: total, Available: p.Stock}
		}

		if err := q.UpsertCartItems(ctx, cart.ID, models.CartItems{productID: total}); err != nil {
			return fmt.Errorf("failed to write cart item: %w", err)
		}
		return nil
	})
}

// SetItemQuantity overwrites the quantity of a product already in the cart.
// It does not add new lines.
func (s *CartService) SetItemQuantity(ctx context.Context, cartID int64, productID models.ProductID, quantity int) (*models.CartView, error) {
	if err := validateQuantity("quantity", quantity); err != nil {
		return nil, err
	}

	return s.mutate(ctx, "set", cartID, func(ctx context.Context, q store.Queries, cart *models.Cart) error {
		if _, ok := cart.Items[productID]; !ok {
			return &NotFoundError{
				Entity: "cart item",
				ID:     productID.String(),
				Reason: fmt.Sprintf("product %s is not in the cart", productID),
			}
		}
		items := models.CartItems{productID: quantity}
		if _, err := checkStock(ctx, q, items); err != nil {
			return err
		}
		if err := q.UpsertCartItems(ctx, cart.ID, items); err != nil {
			return fmt.Errorf("failed to write cart item: %w", err)
		}
		return nil
	})
}

// RemoveItem drops productID from the cart. Removing an absent product is a no-op.
func (s *CartService) RemoveItem(ctx context.Context, cartID int64, productID models.ProductID) (*models.CartView, error) {
	return s.mutate(ctx, "remove", cartID, func(ctx context.Context, q store.Queries, cart *models.Cart) error {
		if _, ok := cart.Items[productID]; !ok {
			return nil
		}
		if err := q.DeleteCartItem(ctx, cart.ID, productID); err != nil {
			return fmt.Errorf("failed to delete cart item: %w", err)
		}
		return nil
	})
}

type cartMutation func(ctx context.Context, q store.Queries, cart *models.Cart) error

// mutate runs fn in a transaction holding the cart row lock and returns the
// priced view of the cart as committed.
func (s *CartService) mutate(ctx context.Context, op string, cartID int64, fn cartMutation) (*models.CartView, error) {
	var view *models.CartView
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		cart, err := lockActiveCart(ctx, q, cartID)
		if err != nil {
			return err
		}
		if err := fn(ctx, q, &cart); err != nil {
			return err
		}

		if cart, err = q.GetCart(ctx, cartID); err != nil {
			return fmt.Errorf("failed to reload cart: %w", err)
		}
		products, err := q.GetProducts(ctx, cart.Items.ProductIDs())
		if err != nil {
			return fmt.Errorf("failed to load cart products: %w", err)
		}
		view = PriceCart(cart, products)
		return nil
	})
	if err != nil {
		s.observeFailure(ctx, op, cartID, err)
		return nil, err
	}

	s.log.DebugContext(ctx, "cart mutated", "op", op, "cart_id", cartID, "item_count", view.ItemCount)
	s.recordItemCount(ctx, view)
	return view, nil
}

func (s *CartService) observeFailure(ctx context.Context, op string, cartID int64, err error) {
	var stockErr *InsufficientStockError
	if errors.As(err, &stockErr) {
		s.metrics.StockRejections.Add(ctx, 1, s.metrics.Attrs(
			attribute.String("operation", "cart."+op),
		))
		s.log.InfoContext(ctx, "cart mutation rejected", "op", op, "cart_id", cartID,
			"product_id", stockErr.ProductID.String(), "requested", stockErr.Requested, "available", stockErr.Available)
		return
	}
	if isDomainError(err) {
		return
	}
	s.log.ErrorContext(ctx, "cart mutation failed", "op", op, "cart_id", cartID, "error", err)
}

func (s *CartService) recordItemCount(ctx context.Context, view *models.CartView) {
	s.metrics.CartItemsCount.Record(ctx, int64(view.ItemCount), s.metrics.Attrs(
		attribute.Int64("cart_id", view.ID),
	))
}

// lockActiveCart loads the cart row with a write lock. Missing and inactive
// carts are both reported as not active.
func lockActiveCart(ctx context.Context, q store.Queries, cartID int64) (models.Cart, error) {
	cart, err := q.GetCartForUpdate(ctx, cartID)
	if errors.Is(err, store.ErrNotFound) {
		return models.Cart{}, cartNotActive(cartID)
	}
	if err != nil {
		return models.Cart{}, fmt.Errorf("failed to get cart: %w", err)
	}
	if !cart.Usable() {
		return models.Cart{}, cartNotActive(cartID)
	}
	return cart, nil
}

// checkStock validates every quantity in items against live stock, in
// product id order so the reported product is deterministic.
func checkStock(ctx context.Context, q store.Queries, items models.CartItems) (map[models.ProductID]models.Product, error) {
	ids := items.ProductIDs()
	products, err := q.GetProducts(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	for _, id := range ids {
		p, ok := products[id]
		if !ok {
			return nil, productNotFound(id)
		}
		if qty := items[id]; qty > p.Stock {
			return nil, &InsufficientStockError{ProductID: id, ProductName: p.Name, Requested: qty, Available: p.Stock}
		}
	}
	return products, nil
}

func isDomainError(err error) bool {
	for _, kind := range []error{ErrNotFound, ErrInvalidState, ErrInsufficientStock, ErrValidation, ErrConflict, ErrForbidden} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
