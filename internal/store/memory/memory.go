// Package memory is an in-process store.Store used for local runs and tests.
//
// All access is serialized by one mutex. A transaction works on a deep copy
// of the state and replaces the live state only when fn returns nil.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/store"
)

type state struct {
	products   map[models.ProductID]models.Product
	users      map[int64]models.User
	emails     map[string]int64
	carts      map[int64]models.Cart
	orders     map[int64]models.Order
	nextUser   int64
	nextCart   int64
	nextOrder  int64
	nextItemID int64
}

func newState() *state {
	return &state{
		products: make(map[models.ProductID]models.Product),
		users:    make(map[int64]models.User),
		emails:   make(map[string]int64),
		carts:    make(map[int64]models.Cart),
		orders:   make(map[int64]models.Order),
	}
}

func (s *state) clone() *state {
	c := &state{
		products:   make(map[models.ProductID]models.Product, len(s.products)),
		users:      make(map[int64]models.User, len(s.users)),
		emails:     make(map[string]int64, len(s.emails)),
		carts:      make(map[int64]models.Cart, len(s.carts)),
		orders:     make(map[int64]models.Order, len(s.orders)),
		nextUser:   s.nextUser,
		nextCart:   s.nextCart,
		nextOrder:  s.nextOrder,
		nextItemID: s.nextItemID,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.emails {
		c.emails[k] = v
	}
	for k, v := range s.carts {
		c.carts[k] = copyCart(v)
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	return c
}

// Store is the in-memory store.Store
type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// New returns an empty store
func New() *Store {
	return &Store{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Queries returns queries that each take the store lock for one call
func (s *Store) Queries() store.Queries {
	return &queries{s: s}
}

// WithTx runs fn against a private copy of the state and publishes it on
// success. A panic in fn propagates with the live state untouched.
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &queries{s: s, tx: s.st.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = tx.tx
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}

// queries runs against the transaction copy when tx is set, otherwise
// against the live state under the store lock.
type queries struct {
	s  *Store
	tx *state
}

func (q *queries) acquire() (*state, func()) {
	if q.tx != nil {
		return q.tx, func() {}
	}
	q.s.mu.Lock()
	return q.s.st, q.s.mu.Unlock
}

// Catalog

func (q *queries) GetProduct(ctx context.Context, id models.ProductID) (models.Product, error) {
	st, done := q.acquire()
	defer done()
	p, ok := st.products[id]
	if !ok {
		return models.Product{}, store.ErrNotFound
	}
	return p, nil
}

func (q *queries) GetProducts(ctx context.Context, ids []models.ProductID) (map[models.ProductID]models.Product, error) {
	st, done := q.acquire()
	defer done()
	out := make(map[models.ProductID]models.Product, len(ids))
	for _, id := range ids {
		if p, ok := st.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// GetProductsForUpdate needs no row locks: transactions already hold the store lock
func (q *queries) GetProductsForUpdate(ctx context.Context, ids []models.ProductID) (map[models.ProductID]models.Product, error) {
	return q.GetProducts(ctx, ids)
}

func (q *queries) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	st, done := q.acquire()
	defer done()
	all := make([]models.Product, 0, len(st.products))
	for _, p := range st.products {
		all = append(all, p)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.Less(all[j].ID) })
	if offset >= len(all) {
		return []models.Product{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (q *queries) CreateProduct(ctx context.Context, p *models.Product) error {
	st, done := q.acquire()
	defer done()
	if p.ID.IsZero() {
		p.ID = models.NewProductID()
	}
	if _, exists := st.products[p.ID]; exists {
		return store.ErrDuplicate
	}
	now := q.s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	st.products[p.ID] = *p
	return nil
}

func (q *queries) UpdateProduct(ctx context.Context, p *models.Product) error {
	st, done := q.acquire()
	defer done()
	existing, ok := st.products[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = q.s.now()
	st.products[p.ID] = *p
	return nil
}

func (q *queries) DecrementStock(ctx context.Context, id models.ProductID, amount int) error {
	st, done := q.acquire()
	defer done()
	p, ok := st.products[id]
	if !ok || p.Stock < amount {
		return store.ErrInsufficientStock
	}
	p.Stock -= amount
	p.UpdatedAt = q.s.now()
	st.products[id] = p
	return nil
}

func (q *queries) CountLowStock(ctx context.Context, threshold int) (int, error) {
	st, done := q.acquire()
	defer done()
	n := 0
	for _, p := range st.products {
		if p.Stock < threshold {
			n++
		}
	}
	return n, nil
}

// Users

func (q *queries) GetUser(ctx context.Context, id int64) (models.User, error) {
	st, done := q.acquire()
	defer done()
	u, ok := st.users[id]
	if !ok {
		return models.User{}, store.ErrNotFound
	}
	return u, nil
}

func (q *queries) CreateUser(ctx context.Context, u *models.User) error {
	st, done := q.acquire()
	defer done()
	if _, taken := st.emails[u.Email]; taken {
		return store.ErrDuplicate
	}
	st.nextUser++
	u.ID = st.nextUser
	u.CreatedAt = q.s.now()
	st.users[u.ID] = *u
	st.emails[u.Email] = u.ID
	return nil
}

// Carts

func (q *queries) CreateCart(ctx context.Context, c *models.Cart) error {
	st, done := q.acquire()
	defer done()
	st.nextCart++
	now := q.s.now()
	c.ID = st.nextCart
	c.CreatedAt, c.UpdatedAt = now, now
	c.Items = models.CartItems{}
	st.carts[c.ID] = copyCart(*c)
	return nil
}

func (q *queries) GetCart(ctx context.Context, id int64) (models.Cart, error) {
	st, done := q.acquire()
	defer done()
	c, ok := st.carts[id]
	if !ok {
		return models.Cart{}, store.ErrNotFound
	}
	return copyCart(c), nil
}

func (q *queries) GetCartForUpdate(ctx context.Context, id int64) (models.Cart, error) {
	return q.GetCart(ctx, id)
}

func (q *queries) UpsertCartItems(ctx context.Context, cartID int64, items models.CartItems) error {
	st, done := q.acquire()
	defer done()
	c, ok := st.carts[cartID]
	if !ok {
		return store.ErrNotFound
	}
	for id, qty := range items {
		c.Items[id] = qty
	}
	c.UpdatedAt = q.s.now()
	st.carts[cartID] = c
	return nil
}

func (q *queries) DeleteCartItem(ctx context.Context, cartID int64, productID models.ProductID) error {
	st, done := q.acquire()
	defer done()
	c, ok := st.carts[cartID]
	if !ok {
		return store.ErrNotFound
	}
	delete(c.Items, productID)
	c.UpdatedAt = q.s.now()
	st.carts[cartID] = c
	return nil
}

func (q *queries) DeactivateCart(ctx context.Context, cartID int64) error {
	st, done := q.acquire()
	defer done()
	c, ok := st.carts[cartID]
	if !ok {
		return store.ErrNotFound
	}
	c.IsActive = false
	c.UpdatedAt = q.s.now()
	st.carts[cartID] = c
	return nil
}

func (q *queries) CountActiveCarts(ctx context.Context) (int, error) {
	st, done := q.acquire()
	defer done()
	n := 0
	for _, c := range st.carts {
		if c.IsActive && !c.IsEmpty() {
			n++
		}
	}
	return n, nil
}

// Orders

func (q *queries) CreateOrder(ctx context.Context, o *models.Order) error {
	st, done := q.acquire()
	defer done()
	st.nextOrder++
	o.ID = st.nextOrder
	o.CreatedAt = q.s.now()
	stored := *o
	stored.Items = nil
	st.orders[o.ID] = stored
	return nil
}

func (q *queries) CreateOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error {
	st, done := q.acquire()
	defer done()
	o, ok := st.orders[orderID]
	if !ok {
		return store.ErrNotFound
	}
	for i := range items {
		if _, ok := st.products[items[i].ProductID]; !ok {
			return fmt.Errorf("order item references unknown product %s", items[i].ProductID)
		}
		st.nextItemID++
		items[i].ID = st.nextItemID
		items[i].OrderID = orderID
		o.Items = append(o.Items, items[i])
	}
	st.orders[orderID] = o
	return nil
}

func (q *queries) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	st, done := q.acquire()
	defer done()
	o, ok := st.orders[id]
	if !ok {
		return models.Order{}, store.ErrNotFound
	}
	return copyOrder(o), nil
}

func (q *queries) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	st, done := q.acquire()
	defer done()
	var out []models.Order
	for _, o := range st.orders {
		if o.UserID == userID {
			out = append(out, copyOrder(o))
		}
	}
	// newest first, like the SQL store
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (q *queries) CountUserOrders(ctx context.Context, userID int64) (int, error) {
	st, done := q.acquire()
	defer done()
	n := 0
	for _, o := range st.orders {
		if o.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (q *queries) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	st, done := q.acquire()
	defer done()
	o, ok := st.orders[id]
	if !ok {
		return store.ErrNotFound
	}
	o.Status = status
	st.orders[id] = o
	return nil
}

func (q *queries) TotalSales(ctx context.Context) (decimal.Decimal, error) {
	st, done := q.acquire()
	defer done()
	total := decimal.Zero
	for _, o := range st.orders {
		total = total.Add(o.TotalPrice())
	}
	return total, nil
}

func copyCart(c models.Cart) models.Cart {
	c.Items = c.Items.Clone()
	if c.UserID != nil {
		uid := *c.UserID
		c.UserID = &uid
	}
	return c
}

func copyOrder(o models.Order) models.Order {
	o.Items = append([]models.OrderItem(nil), o.Items...)
	return o
}
