package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SigNoz/storefront-api/internal/models"
	"github.com/SigNoz/storefront-api/internal/store"
)

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	conn querier
	db   *DB
}

var _ store.Queries = (*queries)(nil)

const productColumns = "id, name, description, category, price, stock, created_at, updated_at"

func (q *queries) observe(ctx context.Context, op, table, stmt string, start time.Time, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	q.db.metrics.RecordDBQuery(ctx, q.db.dialect.System, op, table, stmt, start, err)
}

func (q *queries) exec(ctx context.Context, op, table, stmt string, args ...any) (int64, error) {
	start := time.Now()
	res, err := q.conn.ExecContext(ctx, q.db.dialect.Rebind(stmt), args...)
	q.observe(ctx, op, table, stmt, start, err)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (q *queries) insert(ctx context.Context, table, stmt string, args ...any) (int64, error) {
	start := time.Now()
	id, err := q.db.dialect.insertID(ctx, q.conn, stmt, args...)
	q.observe(ctx, "INSERT", table, stmt, start, err)
	return id, err
}

func now() time.Time {
	return time.Now().UTC()
}

// Catalog

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(r rowScanner) (models.Product, error) {
	var p models.Product
	err := r.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Price, &p.Stock, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (q *queries) GetProduct(ctx context.Context, id models.ProductID) (models.Product, error) {
	stmt := "SELECT " + productColumns + " FROM products WHERE id = ?"
	start := time.Now()
	p, err := scanProduct(q.conn.QueryRowContext(ctx, q.db.dialect.Rebind(stmt), id))
	q.observe(ctx, "SELECT", "products", stmt, start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Product{}, store.ErrNotFound
	}
	if err != nil {
		return models.Product{}, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

func (q *queries) GetProducts(ctx context.Context, ids []models.ProductID) (map[models.ProductID]models.Product, error) {
	return q.getProducts(ctx, ids, "")
}

func (q *queries) GetProductsForUpdate(ctx context.Context, ids []models.ProductID) (map[models.ProductID]models.Product, error) {
	return q.getProducts(ctx, ids, " FOR UPDATE")
}

func (q *queries) getProducts(ctx context.Context, ids []models.ProductID, lock string) (map[models.ProductID]models.Product, error) {
	out := make(map[models.ProductID]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	// ORDER BY id makes row locks be taken in a consistent order
	stmt := "SELECT " + productColumns + " FROM products WHERE id IN (" + placeholders(len(ids)) + ") ORDER BY id" + lock

	start := time.Now()
	rows, err := q.conn.QueryContext(ctx, q.db.dialect.Rebind(stmt), args...)
	q.observe(ctx, "SELECT", "products", stmt, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (q *queries) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	stmt := "SELECT " + productColumns + " FROM products ORDER BY id LIMIT ? OFFSET ?"
	start := time.Now()
	rows, err := q.conn.QueryContext(ctx, q.db.dialect.Rebind(stmt), limit, offset)
	q.observe(ctx, "SELECT", "products", stmt, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (q *queries) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.ID.IsZero() {
		p.ID = models.NewProductID()
	}
	p.CreatedAt = now()
	p.UpdatedAt = p.CreatedAt

	_, err := q.exec(ctx, "INSERT", "products",
		"INSERT INTO products ("+productColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Description, p.Category, p.Price, p.Stock, p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (q *queries) UpdateProduct(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = now()
	n, err := q.exec(ctx, "UPDATE", "products",
		"UPDATE products SET name = ?, description = ?, category = ?, price = ?, stock = ?, updated_at = ? WHERE id = ?",
		p.Name, p.Description, p.Category, p.Price, p.Stock, p.UpdatedAt, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DecrementStock is a guarded update: the WHERE clause refuses to take stock below zero
func (q *queries) DecrementStock(ctx context.Context, id models.ProductID, amount int) error {
	n, err := q.exec(ctx, "UPDATE", "products",
		"UPDATE products SET stock = stock - ?, updated_at = ? WHERE id = ? AND stock >= ?",
		amount, now(), id, amount)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if n == 0 {
		return store.ErrInsufficientStock
	}
	return nil
}

func (q *queries) CountLowStock(ctx context.Context, threshold int) (int, error) {
	return q.count(ctx, "products", "SELECT COUNT(*) FROM products WHERE stock < ?", threshold)
}

func (q *queries) count(ctx context.Context, table, stmt string, args ...any) (int, error) {
	var n int
	start := time.Now()
	err := q.conn.QueryRowContext(ctx, q.db.dialect.Rebind(stmt), args...).Scan(&n)
	q.observe(ctx, "SELECT", table, stmt, start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}

// Users

func (q *queries) GetUser(ctx context.Context, id int64) (models.User, error) {
	stmt := "SELECT id, email, name, created_at FROM users WHERE id = ?"
	var u models.User
	start := time.Now()
	err := q.conn.QueryRowContext(ctx, q.db.dialect.Rebind(stmt), id).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	q.observe(ctx, "SELECT", "users", stmt, start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, store.ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

func (q *queries) CreateUser(ctx context.Context, u *models.User) error {
	u.CreatedAt = now()
	id, err := q.insert(ctx, "users", "INSERT INTO users (email, name, created_at) VALUES (?, ?, ?)", u.Email, u.Name, u.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	u.ID = id
	return nil
}

// Carts

func (q *queries) CreateCart(ctx context.Context, c *models.Cart) error {
	c.CreatedAt = now()
	c.UpdatedAt = c.CreatedAt
	var userID sql.NullInt64
	if c.UserID != nil {
		userID = sql.NullInt64{Int64: *c.UserID, Valid: true}
	}

	id, err := q.insert(ctx, "carts",
		"INSERT INTO carts (user_id, is_active, created_at, updated_at) VALUES (?, ?, ?, ?)",
		userID, c.IsActive, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert cart: %w", err)
	}
	c.ID = id
	c.Items = models.CartItems{}
	return nil
}

func (q *queries) GetCart(ctx context.Context, id int64) (models.Cart, error) {
	return q.getCart(ctx, id, "")
}

func (q *queries) GetCartForUpdate(ctx context.Context, id int64) (models.Cart, error) {
	return q.getCart(ctx, id, " FOR UPDATE")
}

func (q *queries) getCart(ctx context.Context, id int64, lock string) (models.Cart, error) {
	stmt := "SELECT id, user_id, is_active, created_at, updated_at FROM carts WHERE id = ?" + lock
	var (
		c      models.Cart
		userID sql.NullInt64
	)
	start := time.Now()
	err := q.conn.QueryRowContext(ctx, q.db.dialect.Rebind(stmt), id).
		Scan(&c.ID, &userID, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	q.observe(ctx, "SELECT", "carts", stmt, start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Cart{}, store.ErrNotFound
	}
	if err != nil {
		return models.Cart{}, fmt.Errorf("failed to get cart: %w", err)
	}
	if userID.Valid {
		uid := userID.Int64
		c.UserID = &uid
	}

	itemsStmt := "SELECT product_id, quantity FROM cart_items WHERE cart_id = ?"
	start = time.Now()
	rows, err := q.conn.QueryContext(ctx, q.db.dialect.Rebind(itemsStmt), id)
	q.observe(ctx, "SELECT", "cart_items", itemsStmt, start, err)
	if err != nil {
		return models.Cart{}, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	c.Items = models.CartItems{}
	for rows.Next() {
		var (
			pid models.ProductID
			qty int
		)
		if err := rows.Scan(&pid, &qty); err != nil {
			return models.Cart{}, fmt.Errorf("failed to scan cart item: %w", err)
		}
		c.Items[pid] = qty
	}
	return c, rows.Err()
}

// touchCart bumps updated_at and reports ErrNotFound for a missing cart
func (q *queries) touchCart(ctx context.Context, cartID int64) error {
	n, err := q.exec(ctx, "UPDATE", "carts", "UPDATE carts SET updated_at = ? WHERE id = ?", now(), cartID)
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) UpsertCartItems(ctx context.Context, cartID int64, items models.CartItems) error {
	if err := q.touchCart(ctx, cartID); err != nil {
		return err
	}
	stmt := "INSERT INTO cart_items (cart_id, product_id, quantity) VALUES (?, ?, ?) " + q.db.dialect.upsert
	for _, id := range items.ProductIDs() {
		if _, err := q.exec(ctx, "INSERT", "cart_items", stmt, cartID, id, items[id]); err != nil {
			return fmt.Errorf("failed to upsert cart item: %w", err)
		}
	}
	return nil
}

func (q *queries) DeleteCartItem(ctx context.Context, cartID int64, productID models.ProductID) error {
	if err := q.touchCart(ctx, cartID); err != nil {
		return err
	}
	if _, err := q.exec(ctx, "DELETE", "cart_items",
		"DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?", cartID, productID); err != nil {
		return fmt.Errorf("failed to delete cart item: %w", err)
	}
	return nil
}

func (q *queries) DeactivateCart(ctx context.Context, cartID int64) error {
	n, err := q.exec(ctx, "UPDATE", "carts",
		"UPDATE carts SET is_active = ?, updated_at = ? WHERE id = ?", false, now(), cartID)
	if err != nil {
		return fmt.Errorf("failed to deactivate cart: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (q *queries) CountActiveCarts(ctx context.Context) (int, error) {
	return q.count(ctx, "carts",
		"SELECT COUNT(DISTINCT c.id) FROM carts c INNER JOIN cart_items ci ON c.id = ci.cart_id WHERE c.is_active = ? AND ci.quantity > 0",
		true)
}

// Orders

const orderColumns = "id, user_id, status, shipping_address, created_at"

func (q *queries) CreateOrder(ctx context.Context, o *models.Order) error {
	o.CreatedAt = now()
	id, err := q.insert(ctx, "orders",
		"INSERT INTO orders (user_id, status, shipping_address, created_at) VALUES (?, ?, ?, ?)",
		o.UserID, string(o.Status), o.ShippingAddress, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	o.ID = id
	return nil
}

func (q *queries) CreateOrderItems(ctx context.Context, orderID int64, items []models.OrderItem) error {
	stmt := "INSERT INTO order_items (order_id, product_id, quantity, price) VALUES (?, ?, ?, ?)"
	for i := range items {
		id, err := q.insert(ctx, "order_items", stmt, orderID, items[i].ProductID, items[i].Quantity, items[i].Price)
		if err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
		items[i].ID = id
		items[i].OrderID = orderID
	}
	return nil
}

func (q *queries) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	stmt := "SELECT " + orderColumns + " FROM orders WHERE id = ?"
	start := time.Now()
	o, err := scanOrder(q.conn.QueryRowContext(ctx, q.db.dialect.Rebind(stmt), id))
	q.observe(ctx, "SELECT", "orders", stmt, start, err)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, store.ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to get order: %w", err)
	}

	items, err := q.orderItems(ctx, []int64{id})
	if err != nil {
		return models.Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func scanOrder(r rowScanner) (models.Order, error) {
	var (
		o      models.Order
		status string
	)
	err := r.Scan(&o.ID, &o.UserID, &status, &o.ShippingAddress, &o.CreatedAt)
	o.Status = models.OrderStatus(status)
	return o, err
}

// orderItems loads the items of the given orders grouped by order id
func (q *queries) orderItems(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderItem, error) {
	out := make(map[int64][]models.OrderItem, len(orderIDs))
	if len(orderIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(orderIDs))
	for i, id := range orderIDs {
		args[i] = id
	}

	stmt := "SELECT id, order_id, product_id, quantity, price FROM order_items WHERE order_id IN (" + placeholders(len(orderIDs)) + ") ORDER BY id"
	start := time.Now()
	rows, err := q.conn.QueryContext(ctx, q.db.dialect.Rebind(stmt), args...)
	q.observe(ctx, "SELECT", "order_items", stmt, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &it.Price); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (q *queries) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	stmt := "SELECT " + orderColumns + " FROM orders WHERE user_id = ? ORDER BY id DESC"
	start := time.Now()
	rows, err := q.conn.QueryContext(ctx, q.db.dialect.Rebind(stmt), userID)
	q.observe(ctx, "SELECT", "orders", stmt, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	var (
		orders []models.Order
		ids    []int64
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}

	items, err := q.orderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (q *queries) CountUserOrders(ctx context.Context, userID int64) (int, error) {
	return q.count(ctx, "orders", "SELECT COUNT(*) FROM orders WHERE user_id = ?", userID)
}

func (q *queries) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	n, err := q.exec(ctx, "UPDATE", "orders", "UPDATE orders SET status = ? WHERE id = ?", string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// TotalSales sums captured prices; it never joins the live catalog
func (q *queries) TotalSales(ctx context.Context) (decimal.Decimal, error) {
	stmt := "SELECT COALESCE(SUM(price * quantity), 0) FROM order_items"
	var total decimal.Decimal
	start := time.Now()
	err := q.conn.QueryRowContext(ctx, stmt).Scan(&total)
	q.observe(ctx, "SELECT", "order_items", stmt, start, err)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum sales: %w", err)
	}
	return total, nil
}
