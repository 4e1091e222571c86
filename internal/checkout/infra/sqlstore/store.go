// Package sqlstore implements the durable order and payment store on top of
// database/sql. Two dialects are supported: the pure-Go SQLite driver for
// local runs and tests, and PostgreSQL through lib/pq for deployments.
//
// SQLite runs with a single connection, so transactions are serialised.
// PostgreSQL takes a row lock on the order (SELECT ... FOR UPDATE) for every
// read-modify-write sequence. In both dialects the unique index on
// orders.session_token is the final guard against duplicate orders.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/domain"
	"github.com/jcmexdev/storefront-checkout/internal/checkout/core/ports"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	_ ports.Store   = (*Store)(nil)
	_ ports.Tx      = (*tx)(nil)
	_ ports.Catalog = (*Store)(nil)
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type dialect struct {
	name      string
	dollar    bool
	forUpdate string
	clock     func() time.Time
}

var (
	sqliteDialect   = dialect{name: DriverSQLite}
	postgresDialect = dialect{name: DriverPostgres, dollar: true, forUpdate: " FOR UPDATE"}
)

// now is the timestamp written to created_at, updated_at and processed_at.
func (d dialect) now() time.Time {
	if d.clock == nil {
		return time.Now().UTC()
	}
	return d.clock().UTC()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (d dialect) rebind(q string) string {
	if !d.dollar {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
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

// timeArg converts a timestamp to the representation stored by the dialect.
// SQLite has no native datetime type; times are stored as fixed-width UTC
// text so that lexical and chronological order agree.
func (d dialect) timeArg(t time.Time) any {
	if d.dollar {
		return t.UTC()
	}
	return formatTime(t)
}

type Store struct {
	db *sql.DB
	d  dialect
}

// Open connects to the database and applies the schema.
//
//	store, err := sqlstore.Open(ctx, sqlstore.DriverSQLite, "./data/checkout.db")
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		return openSQLite(ctx, dsn)
	case DriverPostgres:
		return openPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
}

func openSQLite(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %q: %w", path, err)
	}

	// One connection: SQLite has a single writer and transactions must not
	// interleave.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, d: sqliteDialect}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func openPostgres(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s := &Store{db: db, d: postgresDialect}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the DDL. Idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	ddl := sqliteSchema
	if s.d.dollar {
		ddl = postgresSchema
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("sqlstore: apply schema: %w", err)
	}
	return nil
}

// WithClock replaces the time source for the timestamps the store writes.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.d.clock = now
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Persistence("begin tx", err)
	}

	if err := fn(ctx, &tx{q: sqlTx, d: s.d}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, domain.Persistence("rollback", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return domain.Persistence("commit", err)
	}
	return nil
}

func (s *Store) Order(ctx context.Context, id string) (*domain.Order, error) {
	return loadOrder(ctx, s.db, s.d, id, false)
}

func (s *Store) OrderBySessionToken(ctx context.Context, token string) (*domain.Order, error) {
	return orderBySessionToken(ctx, s.db, s.d, token)
}

func (s *Store) Payments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return listPayments(ctx, s.db, s.d, orderID)
}

func (s *Store) Product(ctx context.Context, id int64) (*domain.Product, error) {
	return loadProduct(ctx, s.db, s.d, id)
}

// tx adapts *sql.Tx to ports.Tx.
type tx struct {
	q querier
	d dialect
}

func (t *tx) LockOrder(ctx context.Context, id string) (*domain.Order, error) {
	return loadOrder(ctx, t.q, t.d, id, true)
}

func (t *tx) OrderBySessionToken(ctx context.Context, token string) (*domain.Order, error) {
	return orderBySessionToken(ctx, t.q, t.d, token)
}

func (t *tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	return insertOrder(ctx, t.q, t.d, o)
}

func (t *tx) DeleteOrder(ctx context.Context, id string) error {
	return deleteOrder(ctx, t.q, t.d, id)
}

func (t *tx) SetSessionToken(ctx context.Context, orderID, token string) error {
	return setSessionToken(ctx, t.q, t.d, orderID, token)
}

func (t *tx) SetOrderState(ctx context.Context, orderID string, paid bool, status domain.OrderStatus) error {
	return setOrderState(ctx, t.q, t.d, orderID, paid, status)
}

func (t *tx) SetArtifacts(ctx context.Context, orderID, customizedFile string, itemRefs map[int64]string) error {
	return setArtifacts(ctx, t.q, t.d, orderID, customizedFile, itemRefs)
}

func (t *tx) Payments(ctx context.Context, orderID string) ([]domain.Payment, error) {
	return listPayments(ctx, t.q, t.d, orderID)
}

func (t *tx) Payment(ctx context.Context, id int64) (*domain.Payment, error) {
	return loadPayment(ctx, t.q, t.d, id)
}

func (t *tx) LatestPendingPayment(ctx context.Context, orderID string, method domain.PaymentMethod) (*domain.Payment, error) {
	return latestPendingPayment(ctx, t.q, t.d, orderID, method)
}

func (t *tx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	return insertPayment(ctx, t.q, t.d, p)
}

func (t *tx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	return updatePayment(ctx, t.q, t.d, p)
}

func (t *tx) DeletePayment(ctx context.Context, id int64) error {
	return deletePayment(ctx, t.q, t.d, id)
}

func (t *tx) RecordEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	return recordEvent(ctx, t.q, t.d, eventID, eventType)
}

func (t *tx) Product(ctx context.Context, id int64) (*domain.Product, error) {
	return loadProduct(ctx, t.q, t.d, id)
}

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure in either dialect.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// nullableString returns nil for empty strings so the column stores NULL.
// Unique indexes on optional columns rely on this.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
