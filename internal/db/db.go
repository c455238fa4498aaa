package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.opentelemetry.io/otel/attribute"

	"github.com/SigNoz/storefront-api/internal/metrics"
	"github.com/SigNoz/storefront-api/internal/store"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// DB wraps the database connection with metrics and implements store.Store
type DB struct {
	*sql.DB
	dialect Dialect
	metrics *metrics.AppMetrics
	log     *slog.Logger
}

var _ store.Store = (*DB)(nil)

// NewDB opens an instrumented connection pool for the dialect and checks it is reachable
func NewDB(ctx context.Context, dialect Dialect, dsn string, m *metrics.AppMetrics, serviceName string, log *slog.Logger) (*DB, error) {
	systemAttr := attribute.String("db.system", dialect.System)

	driverName, err := otelsql.Register(dialect.Driver, otelsql.WithAttributes(systemAttr))
	if err != nil {
		return nil, fmt.Errorf("failed to register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Register otelsql's built-in stats reporting
	if err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(
		systemAttr,
		attribute.String("service.name", serviceName),
	)); err != nil {
		log.Warn("failed to register otelsql stats metrics", "error", err)
	}

	return &DB{DB: db, dialect: dialect, metrics: m, log: log}, nil
}

func (db *DB) Queries() store.Queries {
	return &queries{conn: db.DB, db: db}
}

// WithTx runs fn in a transaction. It commits when fn returns nil and rolls
// back on error, on a panic (which is re-raised) and on context cancellation.
func (db *DB) WithTx(ctx context.Context, fn func(q store.Queries) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				db.log.Warn("failed to roll back transaction", "error", rbErr)
			}
		}
	}()

	if err = fn(&queries{conn: tx, db: db}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}

// Migrate applies the embedded schema of the connection's dialect
func (db *DB) Migrate(ctx context.Context) error {
	schemaSQL, err := schemaFS.ReadFile("schema/" + db.dialect.Name + ".sql")
	if err != nil {
		return fmt.Errorf("failed to read schema: %w", err)
	}
	return db.InitSchema(ctx, string(schemaSQL))
}

// InitSchema initializes the database schema
// It splits the SQL into individual statements and executes them one by one
func (db *DB) InitSchema(ctx context.Context, schemaSQL string) error {
	statements := splitSQLStatements(schemaSQL)

	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute statement %d: %w\nStatement: %s", i+1, err, stmt)
		}
	}

	db.log.Info("database schema initialized", "dialect", db.dialect.Name, "statements", len(statements))
	return nil
}

// splitSQLStatements splits a SQL string into individual statements
func splitSQLStatements(sql string) []string {
	// Remove comments (lines starting with --)
	lines := strings.Split(sql, "\n")
	var cleanedLines []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "--") {
			cleanedLines = append(cleanedLines, line)
		}
	}

	// Join and split by semicolon
	cleanedSQL := strings.Join(cleanedLines, "\n")
	statements := strings.Split(cleanedSQL, ";")

	var result []string
	for _, stmt := range statements {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			result = append(result, stmt)
		}
	}

	return result
}
