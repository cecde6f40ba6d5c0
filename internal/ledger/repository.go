package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fjod/storefront/internal/outbox"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrDuplicateOrder = errors.New("order already recorded")

type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectPostgres, DialectSQLite:
		return Dialect(s), nil
	default:
		return "", fmt.Errorf("unknown ledger dialect %q", s)
	}
}

// Summary is the sales overview shown to administrators.
type Summary struct {
	Orders  int             `json:"orders"`
	Units   int             `json:"units"`
	Revenue decimal.Decimal `json:"revenue"`
}

type ProductSales struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Units     int             `json:"units"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// Repository is the SQL sales ledger fed by order.completed events.
type Repository struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to dsn, runs the embedded migrations and returns the repository.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Repository, error) {
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if dialect == DialectSQLite {
		// one writer at a time
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(20)
		db.SetMaxIdleConns(5)
	}

	r := &Repository{db: db, dialect: dialect}
	if err := r.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) RunMigrations() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("could not open embedded migrations: %w", err)
	}

	var driver database.Driver
	switch r.dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(r.db, &postgres.Config{MigrationsTable: "ledger_schema_migrations"})
	case DialectSQLite:
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{MigrationsTable: "ledger_schema_migrations"})
	default:
		return fmt.Errorf("unknown ledger dialect %q", r.dialect)
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(r.dialect), driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// rebind turns ? placeholders into $n for Postgres.
func (r *Repository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func cents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// Record stores a completed order. A second event for the same order returns ErrDuplicateOrder.
func (r *Repository) Record(ctx context.Context, oc outbox.OrderCompleted) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	units := 0
	for _, item := range oc.Items {
		units += item.Quantity
	}

	res, err := tx.ExecContext(ctx, r.rebind(`INSERT INTO ledger_orders
		(order_id, principal_id, principal_label, total_cents, units, points_earned, completed_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id) DO NOTHING`),
		oc.OrderID,
		oc.PrincipalID,
		oc.PrincipalLabel,
		cents(oc.Total),
		units,
		oc.PointsEarned,
		oc.CompletedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateOrder
	}

	for _, item := range oc.Items {
		_, err := tx.ExecContext(ctx, r.rebind(`INSERT INTO ledger_items
			(order_id, product_id, name, quantity, unit_price_cents)
			VALUES (?, ?, ?, ?, ?)`),
			oc.OrderID,
			item.ProductID,
			item.Name,
			item.Quantity,
			cents(item.UnitPrice),
		)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *Repository) Summary(ctx context.Context) (Summary, error) {
	var s Summary
	var revenue int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(units), 0), COALESCE(SUM(total_cents), 0) FROM ledger_orders`,
	).Scan(&s.Orders, &s.Units, &revenue)
	if err != nil {
		return Summary{}, fmt.Errorf("query summary: %w", err)
	}
	s.Revenue = fromCents(revenue)
	return s, nil
}

// TopProducts returns the best selling products by units, at most limit of them.
func (r *Repository) TopProducts(ctx context.Context, limit int) ([]ProductSales, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT product_id, MAX(name),
			SUM(quantity), SUM(quantity * unit_price_cents)
		FROM ledger_items
		GROUP BY product_id
		ORDER BY SUM(quantity) DESC, product_id
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query top products: %w", err)
	}
	defer rows.Close()

	var out []ProductSales
	for rows.Next() {
		var ps ProductSales
		var revenue int64
		if err := rows.Scan(&ps.ProductID, &ps.Name, &ps.Units, &revenue); err != nil {
			return nil, fmt.Errorf("scan product row: %w", err)
		}
		ps.Revenue = fromCents(revenue)
		out = append(out, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}
