package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/store"
)

func seedProduct(t *testing.T, s *Store, stock int) models.Product {
	t.Helper()
	p := models.Product{Name: "Widget", Price: decimal.RequireFromString("10.00"), Stock: stock}
	require.NoError(t, s.Queries().CreateProduct(context.Background(), &p))
	return p
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := seedProduct(t, s, 5)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(q store.Queries) error {
		require.NoError(t, q.DecrementStock(ctx, p.ID, 3))
		got, err := q.GetProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Stock, "transaction sees its own write")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Queries().GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := seedProduct(t, s, 5)

	assert.Panics(t, func() {
		_ = s.WithTx(ctx, func(q store.Queries) error {
			_ = q.DecrementStock(ctx, p.ID, 5)
			panic("kaboom")
		})
	})

	got, err := s.Queries().GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}

func TestWithTxCanceledContextDiscardsWrites(t *testing.T) {
	s := New()
	p := seedProduct(t, s, 5)

	ctx, cancel := context.WithCancel(context.Background())
	err := s.WithTx(ctx, func(q store.Queries) error {
		require.NoError(t, q.DecrementStock(ctx, p.ID, 1))
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	got, err := s.Queries().GetProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Stock)
}

func TestDecrementStockGuard(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := seedProduct(t, s, 2)

	require.ErrorIs(t, s.Queries().DecrementStock(ctx, p.ID, 3), store.ErrInsufficientStock)
	require.NoError(t, s.Queries().DecrementStock(ctx, p.ID, 2))
	require.ErrorIs(t, s.Queries().DecrementStock(ctx, models.NewProductID(), 1), store.ErrInsufficientStock)
}

func TestCartItemsAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New()
	p := seedProduct(t, s, 10)

	c := models.Cart{IsActive: true}
	require.NoError(t, s.Queries().CreateCart(ctx, &c))
	require.NoError(t, s.Queries().UpsertCartItems(ctx, c.ID, models.CartItems{p.ID: 2}))

	got, err := s.Queries().GetCart(ctx, c.ID)
	require.NoError(t, err)
	got.Items[p.ID] = 99

	again, err := s.Queries().GetCart(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Items[p.ID])
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	s := New()

	u := models.User{Email: "ann@example.com", Name: "Ann"}
	require.NoError(t, s.Queries().CreateUser(ctx, &u))
	assert.Equal(t, int64(1), u.ID)

	dup := models.User{Email: "ann@example.com", Name: "Other"}
	assert.ErrorIs(t, s.Queries().CreateUser(ctx, &dup), store.ErrDuplicate)
}

func TestListProductsPaging(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 5; i++ {
		seedProduct(t, s, i)
	}

	page, err := s.Queries().ListProducts(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	tail, err := s.Queries().ListProducts(ctx, 10, 4)
	require.NoError(t, err)
	assert.Len(t, tail, 1)

	empty, err := s.Queries().ListProducts(ctx, 10, 50)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
