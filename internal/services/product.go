package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/SigNoz/storefront-api/internal/metrics"
	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/store"
)

const (
	// LowStockThreshold is the stock level under which a product counts as low
	LowStockThreshold = 30

	DefaultPageSize = 20
	maxPageSize     = 100
)

// ProductCache holds cached products for single-product reads. Cart and
// order paths always read stock from the store.
type ProductCache struct {
	mu    sync.RWMutex
	ttl   time.Duration
	items map[models.ProductID]cachedProduct
}

type cachedProduct struct {
	product models.Product
	expires time.Time
}

func NewProductCache(ttl time.Duration) *ProductCache {
	return &ProductCache{
		ttl:   ttl,
		items: make(map[models.ProductID]cachedProduct),
	}
}

func (c *ProductCache) get(id models.ProductID, now time.Time) (models.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cached, ok := c.items[id]
	if !ok || !now.Before(cached.expires) {
		return models.Product{}, false
	}
	return cached.product, true
}

func (c *ProductCache) put(p models.Product, now time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[p.ID] = cachedProduct{product: p, expires: now.Add(c.ttl)}
	c.mu.Unlock()
}

// invalidate drops the given products. Safe on a nil cache.
func (c *ProductCache) invalidate(ids ...models.ProductID) {
	if c == nil || len(ids) == 0 {
		return
	}
	c.mu.Lock()
	for _, id := range ids {
		delete(c.items, id)
	}
	c.mu.Unlock()
}

// ProductService handles product-related operations
type ProductService struct {
	store   store.Store
	metrics *metrics.AppMetrics
	cache   *ProductCache
	log     *slog.Logger
	now     func() time.Time
}

// NewProductService creates a new product service. A non-positive cacheTTL
// disables the read cache.
func NewProductService(st store.Store, m *metrics.AppMetrics, cacheTTL time.Duration, log *slog.Logger) *ProductService {
	return &ProductService{
		store:   st,
		metrics: m,
		cache:   NewProductCache(cacheTTL),
		log:     log.With("component", "product"),
		now:     time.Now,
	}
}

// Cache returns the read cache shared with services that change stock
func (s *ProductService) Cache() *ProductCache {
	return s.cache
}

// ListProducts returns a page of products. limit is clamped to [1, 100].
func (s *ProductService) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	products, err := s.store.Queries().ListProducts(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return products, nil
}

// GetProduct returns a product by ID
func (s *ProductService) GetProduct(ctx context.Context, id models.ProductID) (*models.Product, error) {
	if p, ok := s.cache.get(id, s.now()); ok {
		s.metrics.CacheHits.Add(ctx, 1, s.metrics.Attrs())
		s.recordView(ctx, p)
		return &p, nil
	}
	s.metrics.CacheMisses.Add(ctx, 1, s.metrics.Attrs())

	p, err := s.store.Queries().GetProduct(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, productNotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	s.cache.put(p, s.now())
	s.recordView(ctx, p)
	return &p, nil
}

func (s *ProductService) recordView(ctx context.Context, p models.Product) {
	s.metrics.ProductsViewed.Add(ctx, 1, s.metrics.Attrs(
		attribute.String("product_id", p.ID.String()),
		attribute.String("product_category", p.Category),
	))
	s.metrics.InventoryLevel.Record(ctx, int64(p.Stock), s.metrics.Attrs(
		attribute.String("product_id", p.ID.String()),
	))
}

// CreateProduct adds a product to the catalog
func (s *ProductService) CreateProduct(ctx context.Context, req models.CreateProductRequest) (*models.Product, error) {
	if err := validateName("name", req.Name); err != nil {
		return nil, err
	}
	if err := validatePrice(req.Price); err != nil {
		return nil, err
	}
	if err := validateStock(req.Stock); err != nil {
		return nil, err
	}

	p := models.Product{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Price:       req.Price,
		Stock:       req.Stock,
	}
	if err := s.store.Queries().CreateProduct(ctx, &p); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, &ConflictError{Reason: "product already exists"}
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	s.log.InfoContext(ctx, "product created", "product_id", p.ID.String(), "stock", p.Stock)
	return &p, nil
}

// UpdateProduct applies the non-nil fields of req. Price changes never affect
// existing orders, which keep their captured prices.
func (s *ProductService) UpdateProduct(ctx context.Context, id models.ProductID, req models.UpdateProductRequest) (*models.Product, error) {
	if req.Name != nil {
		if err := validateName("name", *req.Name); err != nil {
			return nil, err
		}
	}
	if req.Price != nil {
		if err := validatePrice(*req.Price); err != nil {
			return nil, err
		}
	}
	if req.Stock != nil {
		if err := validateStock(*req.Stock); err != nil {
			return nil, err
		}
	}

	var updated models.Product
	err := s.store.WithTx(ctx, func(q store.Queries) error {
		products, err := q.GetProductsForUpdate(ctx, []models.ProductID{id})
		if err != nil {
			return fmt.Errorf("failed to lock product: %w", err)
		}
		p, ok := products[id]
		if !ok {
			return productNotFound(id)
		}

		if req.Name != nil {
			p.Name = *req.Name
		}
		if req.Description != nil {
			p.Description = *req.Description
		}
		if req.Category != nil {
			p.Category = *req.Category
		}
		if req.Price != nil {
			p.Price = *req.Price
		}
		if req.Stock != nil {
			p.Stock = *req.Stock
		}

		if err := q.UpdateProduct(ctx, &p); err != nil {
			return fmt.Errorf("failed to update product: %w", err)
		}
		updated = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.invalidate(id)
	return &updated, nil
}

// LowStockCount counts products whose stock is below threshold
func (s *ProductService) LowStockCount(ctx context.Context, threshold int) (int, error) {
	if threshold <= 0 {
		threshold = LowStockThreshold
	}
	n, err := s.store.Queries().CountLowStock(ctx, threshold)
	if err != nil {
		return 0, fmt.Errorf("failed to count low stock products: %w", err)
	}
	return n, nil
}
