// Package sqlstore persists orders, shipments, the integration event log and
// idempotency records in a relational database. Postgres (lib/pq) is the
// production backend; SQLite (modernc.org/sqlite) serves local mode and tests.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps the connection pool with the dialect it talks to.
type DB struct {
	*sql.DB
	driver string
}

// Open connects to the database and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(on)", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if driver == DriverSQLite {
		// one writer at a time; transactions must not wait on a second connection
		sqlDB.SetMaxOpenConns(1)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &DB{DB: sqlDB, driver: driver}
	if err := db.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("Database connected and migrated", "driver", driver)
	return db, nil
}

// Driver returns the dialect name.
func (d *DB) Driver() string {
	return d.driver
}

func (d *DB) migrate(ctx context.Context) error {
	_, err := d.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			buyer_id TEXT NOT NULL,
			buyer_name TEXT NOT NULL DEFAULT '',
			street TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			zip_code TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS order_items (
			order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			product_id TEXT NOT NULL,
			product_name TEXT NOT NULL,
			unit_price TEXT NOT NULL,
			discount TEXT NOT NULL,
			units INTEGER NOT NULL,
			picture_url TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (order_id, product_id)
		);

		CREATE TABLE IF NOT EXISTS shipments (
			id TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			order_id TEXT NOT NULL UNIQUE,
			shipper_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			street TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT '',
			country TEXT NOT NULL DEFAULT '',
			zip_code TEXT NOT NULL DEFAULT '',
			return_warehouse_id TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			completed_at BIGINT
		);

		CREATE TABLE IF NOT EXISTS shipment_waypoints (
			id TEXT PRIMARY KEY,
			shipment_id TEXT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
			warehouse_id TEXT NOT NULL,
			warehouse_name TEXT NOT NULL DEFAULT '',
			sequence INTEGER NOT NULL,
			arrived_at BIGINT,
			departed_at BIGINT
		);

		CREATE TABLE IF NOT EXISTS shipment_status_history (
			id TEXT PRIMARY KEY,
			shipment_id TEXT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			status TEXT NOT NULL,
			occurred_at BIGINT NOT NULL,
			waypoint_id TEXT NOT NULL DEFAULT '',
			note TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS integration_event_log (
			event_id TEXT PRIMARY KEY,
			event_type_name TEXT NOT NULL,
			content TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			aggregate_version INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			state TEXT NOT NULL,
			times_sent INTEGER NOT NULL DEFAULT 0,
			transaction_id TEXT NOT NULL,
			creation_time BIGINT NOT NULL,
			next_attempt_at BIGINT NOT NULL,
			claimed_by TEXT NOT NULL DEFAULT '',
			claimed_at BIGINT,
			published_at BIGINT,
			last_error TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_integration_event_log_state
			ON integration_event_log (state, next_attempt_at);
		CREATE INDEX IF NOT EXISTS idx_integration_event_log_transaction
			ON integration_event_log (transaction_id);

		CREATE TABLE IF NOT EXISTS idempotency_records (
			request_id TEXT PRIMARY KEY,
			command_name TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			completed_at BIGINT,
			result TEXT
		);
	`)
	return err
}

// rebind rewrites ? placeholders into $n for postgres.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}
