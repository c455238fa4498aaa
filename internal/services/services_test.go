package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/SigNoz/storefront-api/internal/events"
	"github.com/SigNoz/storefront-api/internal/metrics"
	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/store"
	"github.com/SigNoz/storefront-api/internal/store/memory"
	"github.com/SigNoz/storefront-api/pkg/logger"
)

type fixture struct {
	store     store.Store
	carts     *CartService
	orders    *OrderService
	products  *ProductService
	users     *UserService
	published *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New())
}

func newFixtureWithStore(t *testing.T, st store.Store) *fixture {
	t.Helper()
	m := metrics.NewNoop("test")
	log := logger.Discard()
	pub := &recordingPublisher{}
	products := NewProductService(st, m, 0, log)
	return &fixture{
		store:     st,
		carts:     NewCartService(st, m, log),
		orders:    NewOrderService(st, m, pub, products.Cache(), log),
		products:  products,
		users:     NewUserService(st, log),
		published: pub,
	}
}

// seedProduct inserts a product with a fixed id so product id ordering is known
func (f *fixture) seedProduct(t *testing.T, id, name, price string, stock int) models.Product {
	t.Helper()
	p := models.Product{
		ID:       models.MustParseProductID(id),
		Name:     name,
		Category: "books",
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
	}
	require.NoError(t, f.store.Queries().CreateProduct(context.Background(), &p))
	return p
}

func (f *fixture) stockOf(t *testing.T, id models.ProductID) int {
	t.Helper()
	p, err := f.store.Queries().GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func (f *fixture) rawCart(t *testing.T, id int64) models.Cart {
	t.Helper()
	c, err := f.store.Queries().GetCart(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) newCart(t *testing.T, items models.CartItems) int64 {
	t.Helper()
	view, err := f.carts.CreateCart(context.Background(), nil, items)
	require.NoError(t, err)
	return view.ID
}

const (
	idA = "00000000-0000-0000-0000-00000000000a"
	idB = "00000000-0000-0000-0000-00000000000b"
	idC = "00000000-0000-0000-0000-00000000000c"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.OrderCreated
	err    error
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, evt events.OrderCreated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// faultyStore fails DeactivateCart inside transactions, after stock has
// already been decremented and order rows written.
type faultyStore struct {
	store.Store
}

var errInjected = errors.New("injected storage failure")

func (s faultyStore) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	return s.Store.WithTx(ctx, func(q store.Queries) error {
		return fn(faultyQueries{q})
	})
}

type faultyQueries struct {
	store.Queries
}

func (faultyQueries) DeactivateCart(context.Context, int64) error {
	return errInjected
}
