package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect captures the SQL differences between the supported databases.
// Queries are written with ? placeholders and rebound per dialect.
type Dialect struct {
	Name   string // schema file name and config value
	Driver string // database/sql driver name
	System string // db.system attribute

	numbered  bool // $1, $2 ... placeholders
	returning bool // INSERT ... RETURNING id instead of LastInsertId
	upsert    string
}

var (
	MySQL = Dialect{
		Name:   "mysql",
		Driver: "mysql",
		System: "mysql",
		upsert: "ON DUPLICATE KEY UPDATE quantity = VALUES(quantity)",
	}
	Postgres = Dialect{
		Name:      "postgres",
		Driver:    "pgx",
		System:    "postgresql",
		numbered:  true,
		returning: true,
		upsert:    "ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity",
	}
)

// DialectFor maps a configured driver name to its dialect
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case MySQL.Name:
		return MySQL, nil
	case Postgres.Name, "postgresql", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("unsupported database driver %q", driver)
}

// Rebind rewrites ? placeholders into the dialect's form
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// insertID runs an INSERT and returns the generated id column
func (d Dialect) insertID(ctx context.Context, conn querier, query string, args ...any) (int64, error) {
	if d.returning {
		var id int64
		err := conn.QueryRowContext(ctx, d.Rebind(query+" RETURNING id"), args...).Scan(&id)
		return id, err
	}
	res, err := conn.ExecContext(ctx, d.Rebind(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// placeholders returns "?, ?, ?" for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// isUniqueViolation reports whether err is a duplicate key error of either database
func isUniqueViolation(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
